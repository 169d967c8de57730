package dsc

import (
	"math/big"
	"time"
)

// ModuleName is the pause key guarding every mutating operation.
const ModuleName = "dsc"

// StalenessTimeout bounds how old a feed answer may be before every price
// dependent operation fails closed.
const StalenessTimeout = 3 * time.Hour

const (
	liquidationThreshold = 50
	liquidationBonus     = 10
	liquidationPrecision = 100
)

var (
	additionalFeedPrecision = big.NewInt(10_000_000_000)
	precision               = big.NewInt(1_000_000_000_000_000_000)
	minHealthFactor         = big.NewInt(1_000_000_000_000_000_000)
	maxHealthFactor         = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	bigThreshold = big.NewInt(liquidationThreshold)
	bigBonus     = big.NewInt(liquidationBonus)
	bigLiqPrec   = big.NewInt(liquidationPrecision)
)

// MaxHealthFactor is reported for accounts without debt.
func MaxHealthFactor() *big.Int { return new(big.Int).Set(maxHealthFactor) }

// MinHealthFactor is the solvency floor every indebted account must respect.
func MinHealthFactor() *big.Int { return new(big.Int).Set(minHealthFactor) }
