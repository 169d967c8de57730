package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"dscengine/crypto"
)

var (
	errNilToken       = errors.New("token: not configured")
	errInvalidAmount  = errors.New("token: amount must not be negative")
	errAmountOverflow = errors.New("token: amount exceeds 256 bits")
	errBurnExceeds    = errors.New("token: burn amount exceeds balance")
)

type allowanceKey struct {
	owner   crypto.Address
	spender crypto.Address
}

// Holders are identified by address bytes; every spelling of an address maps
// to the same AccountPrefix key.
func holder(addr crypto.Address) crypto.Address {
	return addr.WithPrefix(crypto.AccountPrefix)
}

func newAllowanceKey(owner, spender crypto.Address) allowanceKey {
	return allowanceKey{owner: holder(owner), spender: holder(spender)}
}

type entryKind uint8

const (
	entryBalance entryKind = iota
	entryAllowance
	entrySupply
)

type journalEntry struct {
	kind      entryKind
	account   crypto.Address
	allowance allowanceKey
	prev      *uint256.Int
	existed   bool
}

// Token is an in-process fungible token with ERC-20 style transfer and
// allowance semantics. Refusals (insufficient balance or allowance, mint by a
// non-owner) are reported as a false result rather than an error. Mutations are
// journaled while a snapshot is open so a caller can unwind them.
type Token struct {
	mu          sync.Mutex
	symbol      string
	address     crypto.Address
	decimals    uint8
	owner       crypto.Address
	balances    map[crypto.Address]*uint256.Int
	allowances  map[allowanceKey]*uint256.Int
	totalSupply *uint256.Int
	journal     []journalEntry
	snapshots   int
}

// New constructs an empty token. Only owner may mint.
func New(symbol string, address crypto.Address, decimals uint8, owner crypto.Address) *Token {
	return &Token{
		symbol:      strings.ToUpper(strings.TrimSpace(symbol)),
		address:     address,
		decimals:    decimals,
		owner:       owner,
		balances:    make(map[crypto.Address]*uint256.Int),
		allowances:  make(map[allowanceKey]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Address() crypto.Address { return t.address }
func (t *Token) Decimals() uint8         { return t.decimals }
func (t *Token) Owner() crypto.Address   { return t.owner }

// SetOwner transfers mint authority.
func (t *Token) SetOwner(owner crypto.Address) {
	t.mu.Lock()
	t.owner = owner
	t.mu.Unlock()
}

// BalanceOf returns the balance held by account.
func (t *Token) BalanceOf(account crypto.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bal, ok := t.balances[holder(account)]; ok {
		return bal.ToBig()
	}
	return big.NewInt(0)
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(owner, spender crypto.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if allowance, ok := t.allowances[newAllowanceKey(owner, spender)]; ok {
		return allowance.ToBig()
	}
	return big.NewInt(0)
}

// TotalSupply returns the circulating supply.
func (t *Token) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSupply.ToBig()
}

// Approve sets the allowance spender may draw from owner.
func (t *Token) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if t == nil {
		return errNilToken
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(newAllowanceKey(owner, spender), value)
	return nil
}

// Transfer moves amount from caller to recipient.
func (t *Token) Transfer(caller, to crypto.Address, amount *big.Int) (bool, error) {
	if t == nil {
		return false, errNilToken
	}
	value, err := toUint256(amount)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(caller, to, value), nil
}

// TransferFrom moves amount from owner to recipient using spender's allowance.
func (t *Token) TransferFrom(spender, from, to crypto.Address, amount *big.Int) (bool, error) {
	if t == nil {
		return false, errNilToken
	}
	value, err := toUint256(amount)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := newAllowanceKey(from, spender)
	allowance := t.allowanceOf(key)
	if allowance.Lt(value) {
		return false, nil
	}
	if t.balanceOf(from).Lt(value) {
		return false, nil
	}
	t.setAllowance(key, new(uint256.Int).Sub(allowance, value))
	return t.move(from, to, value), nil
}

// Mint creates amount for recipient. Only the owner may mint.
func (t *Token) Mint(caller, to crypto.Address, amount *big.Int) (bool, error) {
	if t == nil {
		return false, errNilToken
	}
	value, err := toUint256(amount)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if holder(caller) != holder(t.owner) {
		return false, nil
	}
	supply, overflow := new(uint256.Int).AddOverflow(t.totalSupply, value)
	if overflow {
		return false, errAmountOverflow
	}
	t.setSupply(supply)
	balance := new(uint256.Int).Add(t.balanceOf(to), value)
	t.setBalance(to, balance)
	return true, nil
}

// Burn destroys amount from the caller's own balance.
func (t *Token) Burn(caller crypto.Address, amount *big.Int) error {
	if t == nil {
		return errNilToken
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	balance := t.balanceOf(caller)
	if balance.Lt(value) {
		return fmt.Errorf("%w: have %s, burn %s", errBurnExceeds, balance.Dec(), value.Dec())
	}
	t.setBalance(caller, new(uint256.Int).Sub(balance, value))
	t.setSupply(new(uint256.Int).Sub(t.totalSupply, value))
	return nil
}

// Snapshot opens a journal scope and returns its identifier.
func (t *Token) Snapshot() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshots++
	return len(t.journal)
}

// RevertToSnapshot undoes every mutation recorded since the snapshot and
// closes its scope.
func (t *Token) RevertToSnapshot(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 {
		id = 0
	}
	for i := len(t.journal) - 1; i >= id; i-- {
		t.undo(t.journal[i])
	}
	if id < len(t.journal) {
		t.journal = t.journal[:id]
	}
	t.closeScope()
}

// Commit closes the snapshot scope keeping its mutations.
func (t *Token) Commit(int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeScope()
}

func (t *Token) closeScope() {
	if t.snapshots > 0 {
		t.snapshots--
	}
	if t.snapshots == 0 {
		t.journal = nil
	}
}

func (t *Token) move(from, to crypto.Address, value *uint256.Int) bool {
	fromBal := t.balanceOf(from)
	if fromBal.Lt(value) {
		return false
	}
	t.setBalance(from, new(uint256.Int).Sub(fromBal, value))
	t.setBalance(to, new(uint256.Int).Add(t.balanceOf(to), value))
	return true
}

func (t *Token) balanceOf(account crypto.Address) *uint256.Int {
	if bal, ok := t.balances[holder(account)]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (t *Token) allowanceOf(key allowanceKey) *uint256.Int {
	if allowance, ok := t.allowances[key]; ok {
		return allowance
	}
	return new(uint256.Int)
}

func (t *Token) setBalance(account crypto.Address, value *uint256.Int) {
	account = holder(account)
	if t.snapshots > 0 {
		prev, existed := t.balances[account]
		t.journal = append(t.journal, journalEntry{kind: entryBalance, account: account, prev: prev, existed: existed})
	}
	t.balances[account] = value
}

func (t *Token) setAllowance(key allowanceKey, value *uint256.Int) {
	if t.snapshots > 0 {
		prev, existed := t.allowances[key]
		t.journal = append(t.journal, journalEntry{kind: entryAllowance, allowance: key, prev: prev, existed: existed})
	}
	t.allowances[key] = value
}

func (t *Token) setSupply(value *uint256.Int) {
	if t.snapshots > 0 {
		t.journal = append(t.journal, journalEntry{kind: entrySupply, prev: t.totalSupply, existed: true})
	}
	t.totalSupply = value
}

func (t *Token) undo(entry journalEntry) {
	switch entry.kind {
	case entryBalance:
		if entry.existed {
			t.balances[entry.account] = entry.prev
		} else {
			delete(t.balances, entry.account)
		}
	case entryAllowance:
		if entry.existed {
			t.allowances[entry.allowance] = entry.prev
		} else {
			delete(t.allowances, entry.allowance)
		}
	case entrySupply:
		t.totalSupply = entry.prev
	}
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, errInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errAmountOverflow
	}
	return value, nil
}
