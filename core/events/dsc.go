package events

import (
	"math/big"

	"dscengine/core/types"
	"dscengine/crypto"
)

const (
	// TypeCollateralDeposited is emitted when collateral enters the vault.
	TypeCollateralDeposited = "dsc.collateral.deposited"
	// TypeCollateralRedeemed is emitted when collateral leaves the vault.
	TypeCollateralRedeemed = "dsc.collateral.redeemed"
	// TypeDscMinted is emitted when debt is minted against collateral.
	TypeDscMinted = "dsc.minted"
	// TypeDscBurned is emitted when debt is repaid and destroyed.
	TypeDscBurned = "dsc.burned"
	// TypeLiquidated is emitted after a successful liquidation.
	TypeLiquidated = "dsc.liquidated"
)

// CollateralDeposited records a deposit into the collateral vault.
type CollateralDeposited struct {
	Account crypto.Address
	Asset   crypto.Address
	Amount  *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"account": addressString(e.Account),
			"asset":   addressString(e.Asset),
			"amount":  amountString(e.Amount),
		},
	}
}

// CollateralRedeemed records collateral released from one account to a
// recipient, which differs from the owner during liquidations.
type CollateralRedeemed struct {
	From   crypto.Address
	To     crypto.Address
	Asset  crypto.Address
	Amount *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"from":   addressString(e.From),
			"to":     addressString(e.To),
			"asset":  addressString(e.Asset),
			"amount": amountString(e.Amount),
		},
	}
}

// DscMinted records newly minted debt.
type DscMinted struct {
	Account crypto.Address
	Amount  *big.Int
}

func (DscMinted) EventType() string { return TypeDscMinted }

func (e DscMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeDscMinted,
		Attributes: map[string]string{
			"account": addressString(e.Account),
			"amount":  amountString(e.Amount),
		},
	}
}

// DscBurned records debt repaid by Payer on behalf of another account.
type DscBurned struct {
	OnBehalfOf crypto.Address
	Payer      crypto.Address
	Amount     *big.Int
}

func (DscBurned) EventType() string { return TypeDscBurned }

func (e DscBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeDscBurned,
		Attributes: map[string]string{
			"onBehalfOf": addressString(e.OnBehalfOf),
			"payer":      addressString(e.Payer),
			"amount":     amountString(e.Amount),
		},
	}
}

// Liquidated summarises a completed liquidation.
type Liquidated struct {
	Liquidator           crypto.Address
	Target               crypto.Address
	Asset                crypto.Address
	DebtCovered          *big.Int
	CollateralSeized     *big.Int
	Bonus                *big.Int
	StartingHealthFactor *big.Int
	EndingHealthFactor   *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator":           addressString(e.Liquidator),
			"target":               addressString(e.Target),
			"asset":                addressString(e.Asset),
			"debtCovered":          amountString(e.DebtCovered),
			"collateralSeized":     amountString(e.CollateralSeized),
			"bonus":                amountString(e.Bonus),
			"startingHealthFactor": amountString(e.StartingHealthFactor),
			"endingHealthFactor":   amountString(e.EndingHealthFactor),
		},
	}
}
