package dsc

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"dscengine/core/events"
	"dscengine/crypto"
)

// DebtLedger books minted debt and drives the debt token.
type DebtLedger struct {
	engine crypto.Address
	token  DebtToken
}

// increase records new debt without touching the token so the caller can
// check solvency before anything is issued.
func (d *DebtLedger) increase(tx *txn, account crypto.Address, amount *big.Int) (*uint256.Int, error) {
	value, err := positiveAmount(amount)
	if err != nil {
		return nil, err
	}
	current, err := tx.ledger.Debt(account)
	if err != nil {
		return nil, err
	}
	next, err := checkedAdd(current, value)
	if err != nil {
		return nil, err
	}
	tx.ledger.setDebt(account, next)
	return value, nil
}

// issue mints previously recorded debt to account.
func (d *DebtLedger) issue(tx *txn, account crypto.Address, value *uint256.Int) error {
	tx.emit(events.DscMinted{Account: account, Amount: value.ToBig()})
	ok, err := d.token.Mint(account, value.ToBig())
	if err != nil {
		return fmt.Errorf("dsc engine: mint to %s: %w", account, err)
	}
	if !ok {
		return ErrMintFailed
	}
	return nil
}

// burn reduces onBehalfOf's debt using payer's tokens, then destroys them.
func (d *DebtLedger) burn(tx *txn, amount *big.Int, onBehalfOf, payer crypto.Address) error {
	value, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	current, err := tx.ledger.Debt(onBehalfOf)
	if err != nil {
		return err
	}
	next, err := checkedSub(current, value)
	if err != nil {
		return err
	}
	tx.ledger.setDebt(onBehalfOf, next)
	tx.emit(events.DscBurned{OnBehalfOf: onBehalfOf, Payer: payer, Amount: value.ToBig()})

	ok, err := d.token.TransferFrom(payer, d.engine, value.ToBig())
	if err != nil {
		return fmt.Errorf("dsc engine: pull debt from %s: %w", payer, err)
	}
	if !ok {
		return ErrTransferFailed
	}
	if err := d.token.Burn(value.ToBig()); err != nil {
		return fmt.Errorf("dsc engine: burn: %w", err)
	}
	return nil
}
