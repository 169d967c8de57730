package token

import (
	"math/big"

	"dscengine/crypto"
)

// Caller is a token handle bound to the identity invoking it, mirroring how a
// contract sees msg.sender. It satisfies the engine's asset and debt token
// capabilities.
type Caller struct {
	token  *Token
	caller crypto.Address
}

// Bind returns the token as seen by caller.
func Bind(t *Token, caller crypto.Address) Caller {
	return Caller{token: t, caller: caller}
}

// Token exposes the underlying token.
func (c Caller) Token() *Token { return c.token }

func (c Caller) Transfer(to crypto.Address, amount *big.Int) (bool, error) {
	return c.token.Transfer(c.caller, to, amount)
}

func (c Caller) TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error) {
	return c.token.TransferFrom(c.caller, from, to, amount)
}

func (c Caller) Mint(to crypto.Address, amount *big.Int) (bool, error) {
	return c.token.Mint(c.caller, to, amount)
}

func (c Caller) Burn(amount *big.Int) error {
	return c.token.Burn(c.caller, amount)
}

func (c Caller) Snapshot() int           { return c.token.Snapshot() }
func (c Caller) RevertToSnapshot(id int) { c.token.RevertToSnapshot(id) }
func (c Caller) Commit(id int)           { c.token.Commit(id) }
