package dsc

import (
	"math/big"

	"dscengine/crypto"
)

// CollateralBalance is one asset held by an account.
type CollateralBalance struct {
	Asset  crypto.Address
	Amount *big.Int
	USD    *big.Int
}

// Position is the full view of an account.
type Position struct {
	Account       crypto.Address
	Debt          *big.Int
	CollateralUSD *big.Int
	HealthFactor  *big.Int
	Collateral    []CollateralBalance
}

// Address returns the engine's own account.
func (e *Engine) Address() crypto.Address { return e.address }

// USDValue prices amount of asset in 18 decimal USD.
func (e *Engine) USDValue(asset crypto.Address, amount *big.Int) (*big.Int, error) {
	return e.oracle.USDValue(asset, amount)
}

// TokenAmountForUSD converts an 18 decimal USD value to a quantity of asset.
func (e *Engine) TokenAmountForUSD(asset crypto.Address, usd *big.Int) (*big.Int, error) {
	return e.oracle.TokenAmountForUSD(asset, usd)
}

// AccountInfo returns the debt minted by account and its collateral value.
func (e *Engine) AccountInfo(account crypto.Address) (debt *big.Int, collateralUSD *big.Int, err error) {
	return e.health.accountInfo(e.store, account)
}

// AccountCollateralValue returns the USD value of everything account deposited.
func (e *Engine) AccountCollateralValue(account crypto.Address) (*big.Int, error) {
	return e.health.collateralValue(e.store, account)
}

// HealthFactor returns account's current health factor.
func (e *Engine) HealthFactor(account crypto.Address) (*big.Int, error) {
	return e.health.healthFactor(e.store, account)
}

// CalculateHealthFactor is the pure ratio helper.
func (e *Engine) CalculateHealthFactor(debt, collateralUSD *big.Int) *big.Int {
	return CalculateHealthFactor(debt, collateralUSD)
}

// CollateralBalance returns how much of asset account has deposited.
func (e *Engine) CollateralBalance(account, asset crypto.Address) (*big.Int, error) {
	if _, err := e.registry.Feed(asset); err != nil {
		return nil, err
	}
	amount, err := e.store.Collateral(account, asset)
	if err != nil {
		return nil, err
	}
	return amount.ToBig(), nil
}

// CollateralTokens lists the registered collateral assets.
func (e *Engine) CollateralTokens() []crypto.Address { return e.registry.Assets() }

// PriceFeed returns the feed paired with asset.
func (e *Engine) PriceFeed(asset crypto.Address) (PriceFeed, error) {
	return e.registry.Feed(asset)
}

// Positions returns the per-asset breakdown for account.
func (e *Engine) Positions(account crypto.Address) (*Position, error) {
	debt, err := e.store.Debt(account)
	if err != nil {
		return nil, err
	}
	pos := &Position{
		Account:       canonicalAccount(account),
		Debt:          debt.ToBig(),
		CollateralUSD: new(big.Int),
		Collateral:    make([]CollateralBalance, 0, e.registry.Len()),
	}
	for _, asset := range e.registry.assets {
		amount, err := e.store.Collateral(account, asset)
		if err != nil {
			return nil, err
		}
		usd, err := e.oracle.USDValue(asset, amount.ToBig())
		if err != nil {
			return nil, err
		}
		pos.CollateralUSD.Add(pos.CollateralUSD, usd)
		pos.Collateral = append(pos.Collateral, CollateralBalance{Asset: asset, Amount: amount.ToBig(), USD: usd})
	}
	pos.HealthFactor = CalculateHealthFactor(pos.Debt, pos.CollateralUSD)
	return pos, nil
}

// SystemTotals sums collateral value and outstanding debt across every account.
func (e *Engine) SystemTotals() (collateralUSD *big.Int, debt *big.Int, err error) {
	accounts, err := e.store.Accounts()
	if err != nil {
		return nil, nil, err
	}
	collateralUSD, debt = new(big.Int), new(big.Int)
	for _, account := range accounts {
		d, usd, err := e.health.accountInfo(e.store, account)
		if err != nil {
			return nil, nil, err
		}
		collateralUSD.Add(collateralUSD, usd)
		debt.Add(debt, d)
	}
	return collateralUSD, debt, nil
}

func (e *Engine) LiquidationThreshold() *big.Int { return big.NewInt(liquidationThreshold) }
func (e *Engine) LiquidationBonus() *big.Int     { return big.NewInt(liquidationBonus) }
func (e *Engine) LiquidationPrecision() *big.Int { return big.NewInt(liquidationPrecision) }
func (e *Engine) Precision() *big.Int            { return new(big.Int).Set(precision) }
func (e *Engine) MinHealthFactor() *big.Int      { return MinHealthFactor() }

func (e *Engine) AdditionalFeedPrecision() *big.Int {
	return new(big.Int).Set(additionalFeedPrecision)
}
