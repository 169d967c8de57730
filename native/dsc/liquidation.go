package dsc

import (
	"fmt"
	"math/big"

	"dscengine/core/events"
	"dscengine/crypto"
)

// LiquidationResult summarises a successful liquidation.
type LiquidationResult struct {
	DebtCovered          *big.Int
	CollateralSeized     *big.Int
	Bonus                *big.Int
	StartingHealthFactor *big.Int
	EndingHealthFactor   *big.Int
}

// LiquidationEngine lets a third party repay an insolvent account's debt in
// exchange for its collateral plus a bonus.
type LiquidationEngine struct {
	registry *Registry
	oracle   *PriceOracleAdapter
	vault    *CollateralVault
	debt     *DebtLedger
	health   *HealthFactorEngine
}

// liquidate covers debtToCover of target's debt with the liquidator's tokens
// and pays the liquidator the equivalent collateral plus 10%. When the target
// holds less collateral than that, the redemption underflows and the whole
// call fails; positions at or below 100% collateralization cannot be cleared.
func (l *LiquidationEngine) liquidate(tx *txn, liquidator, asset, target crypto.Address, debtToCover *big.Int) (*LiquidationResult, error) {
	if _, err := positiveAmount(debtToCover); err != nil {
		return nil, err
	}
	if !l.registry.Contains(asset) {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotAllowed, asset)
	}
	starting, err := l.health.healthFactor(tx.ledger, target)
	if err != nil {
		return nil, err
	}
	if starting.Cmp(minHealthFactor) >= 0 {
		return nil, ErrHealthFactorOk
	}

	base, err := l.oracle.TokenAmountForUSD(asset, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Mul(base, bigBonus)
	bonus.Quo(bonus, bigLiqPrec)
	seized := new(big.Int).Add(base, bonus)

	if err := l.vault.redeem(tx, target, liquidator, asset, seized); err != nil {
		return nil, err
	}
	if err := l.debt.burn(tx, debtToCover, target, liquidator); err != nil {
		return nil, err
	}

	ending, err := l.health.healthFactor(tx.ledger, target)
	if err != nil {
		return nil, err
	}
	if ending.Cmp(starting) <= 0 {
		return nil, ErrHealthFactorNotImproved
	}
	if err := l.health.enforce(tx.ledger, liquidator); err != nil {
		return nil, err
	}

	result := &LiquidationResult{
		DebtCovered:          new(big.Int).Set(debtToCover),
		CollateralSeized:     seized,
		Bonus:                bonus,
		StartingHealthFactor: starting,
		EndingHealthFactor:   ending,
	}
	tx.emit(events.Liquidated{
		Liquidator:           liquidator,
		Target:               target,
		Asset:                asset,
		DebtCovered:          result.DebtCovered,
		CollateralSeized:     seized,
		Bonus:                bonus,
		StartingHealthFactor: starting,
		EndingHealthFactor:   ending,
	})
	return result, nil
}
