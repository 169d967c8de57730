package dsc

import (
	"fmt"

	"dscengine/crypto"
)

// Registry is the immutable ordered list of collateral assets and the price
// feed paired with each of them.
type Registry struct {
	assets []crypto.Address
	feeds  map[crypto.Address]PriceFeed
}

// NewRegistry pairs assets[i] with feeds[i]. Both lists must have the same
// length and every asset may appear only once.
func NewRegistry(assets []crypto.Address, feeds []PriceFeed) (*Registry, error) {
	if len(assets) != len(feeds) {
		return nil, ErrRegistryLengthMismatch
	}
	reg := &Registry{
		assets: make([]crypto.Address, 0, len(assets)),
		feeds:  make(map[crypto.Address]PriceFeed, len(assets)),
	}
	for i, asset := range assets {
		if _, exists := reg.feeds[asset]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, asset)
		}
		if feeds[i] == nil {
			return nil, fmt.Errorf("dsc engine: price feed for %s not configured", asset)
		}
		reg.assets = append(reg.assets, asset)
		reg.feeds[asset] = feeds[i]
	}
	return reg, nil
}

// Assets returns the registered collateral assets in registration order.
func (r *Registry) Assets() []crypto.Address {
	return append([]crypto.Address(nil), r.assets...)
}

// Contains reports whether asset is accepted as collateral.
func (r *Registry) Contains(asset crypto.Address) bool {
	_, ok := r.feeds[asset]
	return ok
}

// Feed returns the price feed paired with asset.
func (r *Registry) Feed(asset crypto.Address) (PriceFeed, error) {
	feed, ok := r.feeds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotAllowed, asset)
	}
	return feed, nil
}

// Len returns the number of registered assets.
func (r *Registry) Len() int { return len(r.assets) }
