package dsc

import (
	"math/big"

	"dscengine/crypto"
)

// Asset is the fungible-asset capability of a collateral token as seen by the
// engine. A false result is a refusal, not necessarily a hard failure.
type Asset interface {
	TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error)
	Transfer(to crypto.Address, amount *big.Int) (bool, error)
}

// DebtToken is the capability the engine holds over the synthetic dollar.
// Burn acts on the engine's own balance.
type DebtToken interface {
	Mint(to crypto.Address, amount *big.Int) (bool, error)
	Burn(amount *big.Int) error
	TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error)
}

// Journaled collaborators can unwind their own effects when an operation
// fails after calling them.
type Journaled interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int)
}
