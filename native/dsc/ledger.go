package dsc

import (
	"github.com/holiman/uint256"

	"dscengine/crypto"
)

// Ledger exposes the collateral and debt positions. Missing positions read as
// zero.
type Ledger interface {
	Collateral(account, asset crypto.Address) (*uint256.Int, error)
	Debt(account crypto.Address) (*uint256.Int, error)
}

// Store is the committed ledger. Apply must write every change or none.
type Store interface {
	Ledger
	Accounts() ([]crypto.Address, error)
	Apply(changes *ChangeSet) error
}

type positionKey struct {
	account crypto.Address
	asset   crypto.Address
}

// Positions are identified by address bytes alone; the bech32 prefix only
// changes how an address renders. Every ledger keys on the canonical form so
// MemStore, KVStore and the staged overlay agree on identity.
func canonicalAccount(addr crypto.Address) crypto.Address {
	return addr.WithPrefix(crypto.AccountPrefix)
}

func newPositionKey(account, asset crypto.Address) positionKey {
	return positionKey{account: canonicalAccount(account), asset: asset.WithPrefix(crypto.AssetPrefix)}
}

// CollateralWrite is a staged collateral position update.
type CollateralWrite struct {
	Account crypto.Address
	Asset   crypto.Address
	Amount  *uint256.Int
}

// DebtWrite is a staged debt position update.
type DebtWrite struct {
	Account crypto.Address
	Amount  *uint256.Int
}

// ChangeSet accumulates the final value of every position touched by one
// operation, in first-write order.
type ChangeSet struct {
	collateral    []CollateralWrite
	collateralIdx map[positionKey]int
	debt          []DebtWrite
	debtIdx       map[crypto.Address]int
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		collateralIdx: make(map[positionKey]int),
		debtIdx:       make(map[crypto.Address]int),
	}
}

func (c *ChangeSet) setCollateral(account, asset crypto.Address, amount *uint256.Int) {
	account = canonicalAccount(account)
	key := newPositionKey(account, asset)
	if idx, ok := c.collateralIdx[key]; ok {
		c.collateral[idx].Amount = amount.Clone()
		return
	}
	c.collateralIdx[key] = len(c.collateral)
	c.collateral = append(c.collateral, CollateralWrite{Account: account, Asset: asset, Amount: amount.Clone()})
}

func (c *ChangeSet) setDebt(account crypto.Address, amount *uint256.Int) {
	account = canonicalAccount(account)
	if idx, ok := c.debtIdx[account]; ok {
		c.debt[idx].Amount = amount.Clone()
		return
	}
	c.debtIdx[account] = len(c.debt)
	c.debt = append(c.debt, DebtWrite{Account: account, Amount: amount.Clone()})
}

func (c *ChangeSet) collateralOf(account, asset crypto.Address) (*uint256.Int, bool) {
	idx, ok := c.collateralIdx[newPositionKey(account, asset)]
	if !ok {
		return nil, false
	}
	return c.collateral[idx].Amount.Clone(), true
}

func (c *ChangeSet) debtOf(account crypto.Address) (*uint256.Int, bool) {
	idx, ok := c.debtIdx[canonicalAccount(account)]
	if !ok {
		return nil, false
	}
	return c.debt[idx].Amount.Clone(), true
}

// CollateralWrites lists the staged collateral updates.
func (c *ChangeSet) CollateralWrites() []CollateralWrite {
	if c == nil {
		return nil
	}
	return append([]CollateralWrite(nil), c.collateral...)
}

// DebtWrites lists the staged debt updates.
func (c *ChangeSet) DebtWrites() []DebtWrite {
	if c == nil {
		return nil
	}
	return append([]DebtWrite(nil), c.debt...)
}

// Accounts lists every account touched by the change set.
func (c *ChangeSet) Accounts() []crypto.Address {
	if c == nil {
		return nil
	}
	seen := make(map[crypto.Address]struct{})
	out := make([]crypto.Address, 0, len(c.collateral)+len(c.debt))
	add := func(addr crypto.Address) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	for _, w := range c.collateral {
		add(w.Account)
	}
	for _, w := range c.debt {
		add(w.Account)
	}
	return out
}

// Empty reports whether nothing was staged.
func (c *ChangeSet) Empty() bool {
	return c == nil || (len(c.collateral) == 0 && len(c.debt) == 0)
}

// stagedLedger overlays uncommitted writes on top of the committed store so
// an operation observes its own effects before they are applied.
type stagedLedger struct {
	base    Ledger
	changes *ChangeSet
}

func newStagedLedger(base Ledger) *stagedLedger {
	return &stagedLedger{base: base, changes: newChangeSet()}
}

func (s *stagedLedger) Collateral(account, asset crypto.Address) (*uint256.Int, error) {
	if v, ok := s.changes.collateralOf(account, asset); ok {
		return v, nil
	}
	v, err := s.base.Collateral(account, asset)
	if err != nil {
		return nil, err
	}
	return zeroIfNil(v).Clone(), nil
}

func (s *stagedLedger) Debt(account crypto.Address) (*uint256.Int, error) {
	if v, ok := s.changes.debtOf(account); ok {
		return v, nil
	}
	v, err := s.base.Debt(account)
	if err != nil {
		return nil, err
	}
	return zeroIfNil(v).Clone(), nil
}

func (s *stagedLedger) setCollateral(account, asset crypto.Address, amount *uint256.Int) {
	s.changes.setCollateral(account, asset, amount)
}

func (s *stagedLedger) setDebt(account crypto.Address, amount *uint256.Int) {
	s.changes.setDebt(account, amount)
}
