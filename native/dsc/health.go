package dsc

import (
	"math/big"

	"dscengine/crypto"
)

// CalculateHealthFactor returns (collateralUSD * 50 / 100) * 1e18 / debt. An
// account without debt reports MaxHealthFactor, and results are capped there.
func CalculateHealthFactor(debt, collateralUSD *big.Int) *big.Int {
	if debt == nil || debt.Sign() <= 0 {
		return MaxHealthFactor()
	}
	if collateralUSD == nil || collateralUSD.Sign() <= 0 {
		return new(big.Int)
	}
	adjusted := new(big.Int).Mul(collateralUSD, bigThreshold)
	adjusted.Quo(adjusted, bigLiqPrec)
	hf := adjusted.Mul(adjusted, precision)
	hf.Quo(hf, debt)
	if hf.Cmp(maxHealthFactor) > 0 {
		return MaxHealthFactor()
	}
	return hf
}

// HealthFactorEngine derives solvency from the ledgers and current prices.
type HealthFactorEngine struct {
	registry *Registry
	oracle   *PriceOracleAdapter
}

// collateralValue sums the USD value of every registered asset the account
// holds. Each asset's feed is read even when the balance is zero.
func (h *HealthFactorEngine) collateralValue(ledger Ledger, account crypto.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range h.registry.assets {
		amount, err := ledger.Collateral(account, asset)
		if err != nil {
			return nil, err
		}
		usd, err := h.oracle.USDValue(asset, amount.ToBig())
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

func (h *HealthFactorEngine) accountInfo(ledger Ledger, account crypto.Address) (*big.Int, *big.Int, error) {
	debt, err := ledger.Debt(account)
	if err != nil {
		return nil, nil, err
	}
	collateralUSD, err := h.collateralValue(ledger, account)
	if err != nil {
		return nil, nil, err
	}
	return debt.ToBig(), collateralUSD, nil
}

func (h *HealthFactorEngine) healthFactor(ledger Ledger, account crypto.Address) (*big.Int, error) {
	debt, collateralUSD, err := h.accountInfo(ledger, account)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(debt, collateralUSD), nil
}

// enforce fails with a *HealthFactorError when account is below the minimum.
func (h *HealthFactorEngine) enforce(ledger Ledger, account crypto.Address) error {
	hf, err := h.healthFactor(ledger, account)
	if err != nil {
		return err
	}
	if hf.Cmp(minHealthFactor) < 0 {
		return &HealthFactorError{Account: account, HealthFactor: hf}
	}
	return nil
}
