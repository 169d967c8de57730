package dsc

import (
	"fmt"
	"math/big"

	"dscengine/core/events"
	"dscengine/crypto"
)

// CollateralVault books deposits and redemptions and moves the underlying
// assets between accounts and the engine.
type CollateralVault struct {
	engine   crypto.Address
	registry *Registry
	tokens   map[crypto.Address]Asset
}

func (v *CollateralVault) asset(asset crypto.Address) (Asset, error) {
	if !v.registry.Contains(asset) {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotAllowed, asset)
	}
	return v.tokens[asset], nil
}

// deposit credits the position first and pulls the tokens afterwards.
func (v *CollateralVault) deposit(tx *txn, depositor, asset crypto.Address, amount *big.Int) error {
	value, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	token, err := v.asset(asset)
	if err != nil {
		return err
	}
	current, err := tx.ledger.Collateral(depositor, asset)
	if err != nil {
		return err
	}
	next, err := checkedAdd(current, value)
	if err != nil {
		return err
	}
	tx.ledger.setCollateral(depositor, asset, next)
	tx.emit(events.CollateralDeposited{Account: depositor, Asset: asset, Amount: value.ToBig()})

	ok, err := token.TransferFrom(depositor, v.engine, value.ToBig())
	if err != nil {
		return fmt.Errorf("dsc engine: pull %s from %s: %w", asset, depositor, err)
	}
	if !ok {
		return ErrTransferFailed
	}
	return nil
}

// redeem debits from's position and pushes the tokens to to. It never checks
// solvency; callers enforce the health factor once the whole operation is done.
func (v *CollateralVault) redeem(tx *txn, from, to, asset crypto.Address, amount *big.Int) error {
	value, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	token, err := v.asset(asset)
	if err != nil {
		return err
	}
	current, err := tx.ledger.Collateral(from, asset)
	if err != nil {
		return err
	}
	next, err := checkedSub(current, value)
	if err != nil {
		return err
	}
	tx.ledger.setCollateral(from, asset, next)
	tx.emit(events.CollateralRedeemed{From: from, To: to, Asset: asset, Amount: value.ToBig()})

	ok, err := token.Transfer(to, value.ToBig())
	if err != nil {
		return fmt.Errorf("dsc engine: push %s to %s: %w", asset, to, err)
	}
	if !ok {
		return ErrTransferFailed
	}
	return nil
}
