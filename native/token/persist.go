package token

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/storage"
)

var errOpenSnapshot = errors.New("token: cannot persist with an open snapshot")

var statePrefix = []byte("token/state/")

type storedAccount struct {
	Prefix  string
	Address []byte
}

type storedBalance struct {
	Account storedAccount
	Amount  *big.Int
}

type storedAllowance struct {
	Owner   storedAccount
	Spender storedAccount
	Amount  *big.Int
}

type storedToken struct {
	Supply     *big.Int
	Balances   []storedBalance
	Allowances []storedAllowance
}

func stateKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), statePrefix...), addr.Bytes()...)
}

func encodeAccount(addr crypto.Address) storedAccount {
	return storedAccount{Prefix: string(addr.Prefix()), Address: addr.Bytes()}
}

func (s storedAccount) decode() (crypto.Address, error) {
	addr, err := crypto.NewAddress(crypto.AddressPrefix(s.Prefix), s.Address)
	if err != nil {
		return crypto.Address{}, err
	}
	return holder(addr), nil
}

// compareAccounts orders by address bytes, then prefix, so the encoding is
// deterministic.
func compareAccounts(a, b storedAccount) int {
	if c := bytes.Compare(a.Address, b.Address); c != 0 {
		return c
	}
	return strings.Compare(a.Prefix, b.Prefix)
}

// Save writes balances, allowances and supply to db under the token address.
func (t *Token) Save(db storage.Database) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshots > 0 {
		return errOpenSnapshot
	}
	rec := storedToken{Supply: t.totalSupply.ToBig()}
	for account, bal := range t.balances {
		rec.Balances = append(rec.Balances, storedBalance{Account: encodeAccount(account), Amount: bal.ToBig()})
	}
	for key, amount := range t.allowances {
		rec.Allowances = append(rec.Allowances, storedAllowance{
			Owner:   encodeAccount(key.owner),
			Spender: encodeAccount(key.spender),
			Amount:  amount.ToBig(),
		})
	}
	sort.Slice(rec.Balances, func(i, j int) bool {
		return compareAccounts(rec.Balances[i].Account, rec.Balances[j].Account) < 0
	})
	sort.Slice(rec.Allowances, func(i, j int) bool {
		a, b := rec.Allowances[i], rec.Allowances[j]
		if c := compareAccounts(a.Owner, b.Owner); c != 0 {
			return c < 0
		}
		return compareAccounts(a.Spender, b.Spender) < 0
	})
	enc, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("token %s: encode: %w", t.symbol, err)
	}
	return db.Put(stateKey(t.address), enc)
}

// Load replaces the token state with the copy stored in db. It reports false
// when nothing was stored for this token.
func (t *Token) Load(db storage.Database) (bool, error) {
	data, err := db.Get(stateKey(t.address))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var rec storedToken
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return false, fmt.Errorf("token %s: decode: %w", t.symbol, err)
	}
	supply, err := toUint256(rec.Supply)
	if err != nil {
		return false, err
	}
	balances := make(map[crypto.Address]*uint256.Int, len(rec.Balances))
	for _, b := range rec.Balances {
		account, err := b.Account.decode()
		if err != nil {
			return false, err
		}
		if balances[account], err = toUint256(b.Amount); err != nil {
			return false, err
		}
	}
	allowances := make(map[allowanceKey]*uint256.Int, len(rec.Allowances))
	for _, a := range rec.Allowances {
		owner, err := a.Owner.decode()
		if err != nil {
			return false, err
		}
		spender, err := a.Spender.decode()
		if err != nil {
			return false, err
		}
		if allowances[allowanceKey{owner: owner, spender: spender}], err = toUint256(a.Amount); err != nil {
			return false, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshots > 0 {
		return false, errOpenSnapshot
	}
	t.totalSupply = supply
	t.balances = balances
	t.allowances = allowances
	return true, nil
}
