package dsc

import (
	"fmt"
	"math/big"
	"time"

	"dscengine/crypto"
)

// PriceFeed reports the latest 8 decimal USD answer for an asset and when it
// was last updated.
type PriceFeed interface {
	LatestPrice() (*big.Int, time.Time, error)
}

// PriceOracleAdapter converts between token quantities and 18 decimal USD
// values. Every conversion re-reads the feed and fails closed on stale data.
type PriceOracleAdapter struct {
	registry *Registry
	timeout  time.Duration
	now      func() time.Time
	onStale  func(asset crypto.Address, age time.Duration)
}

func newPriceOracleAdapter(registry *Registry) *PriceOracleAdapter {
	return &PriceOracleAdapter{
		registry: registry,
		timeout:  StalenessTimeout,
		now:      time.Now,
	}
}

// price returns the asset's answer scaled to 18 decimals.
func (o *PriceOracleAdapter) price(asset crypto.Address) (*big.Int, error) {
	feed, err := o.registry.Feed(asset)
	if err != nil {
		return nil, err
	}
	answer, updatedAt, err := feed.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("dsc engine: read price for %s: %w", asset, err)
	}
	if answer == nil || answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s answered %v", ErrInvalidPrice, asset, answer)
	}
	now := o.now()
	age := now.Sub(updatedAt)
	// A timestamp from the future cannot be trusted either.
	if updatedAt.After(now) || age > o.timeout {
		if o.onStale != nil {
			o.onStale(asset, age)
		}
		return nil, fmt.Errorf("%w: %s last updated %s", ErrStalePrice, asset, updatedAt.UTC().Format(time.RFC3339))
	}
	return new(big.Int).Mul(answer, additionalFeedPrecision), nil
}

// USDValue returns price * amount / 1e18.
func (o *PriceOracleAdapter) USDValue(asset crypto.Address, amount *big.Int) (*big.Int, error) {
	amount, err := queryAmount(amount)
	if err != nil {
		return nil, err
	}
	price, err := o.price(asset)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(price, amount)
	value.Quo(value, precision)
	if err := fitsUint256(value); err != nil {
		return nil, err
	}
	return value, nil
}

// TokenAmountForUSD returns usd * 1e18 / price.
func (o *PriceOracleAdapter) TokenAmountForUSD(asset crypto.Address, usd *big.Int) (*big.Int, error) {
	usd, err := queryAmount(usd)
	if err != nil {
		return nil, err
	}
	price, err := o.price(asset)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(usd, precision)
	amount.Quo(amount, price)
	if err := fitsUint256(amount); err != nil {
		return nil, err
	}
	return amount, nil
}
