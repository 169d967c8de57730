package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Decimals is the fixed-point precision of every feed answer.
const Decimals = 8

var (
	// ErrNoAnswer is returned when a feed has never been updated.
	ErrNoAnswer = errors.New("oracle: feed has no answer")

	errInvalidPrice = errors.New("oracle: invalid price")

	plainDecimal = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// Feed holds the latest answer for a single pair, scaled to 8 decimals.
type Feed struct {
	mu        sync.RWMutex
	pair      string
	answer    *big.Int
	updatedAt time.Time
	now       func() time.Time
}

// NewFeed constructs an empty feed for the provided pair label.
func NewFeed(pair string) *Feed {
	return &Feed{pair: strings.ToUpper(strings.TrimSpace(pair)), now: time.Now}
}

// WithClock overrides the time source used by Update.
func (f *Feed) WithClock(now func() time.Time) *Feed {
	if now != nil {
		f.now = now
	}
	return f
}

// Pair returns the feed label, for example ETH/USD.
func (f *Feed) Pair() string { return f.pair }

// Update records answer as observed now.
func (f *Feed) Update(answer *big.Int) {
	f.Set(answer, f.now())
}

// Set records answer with an explicit update time.
func (f *Feed) Set(answer *big.Int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if answer == nil {
		f.answer = nil
	} else {
		f.answer = new(big.Int).Set(answer)
	}
	f.updatedAt = at.UTC()
}

// LatestPrice returns the last recorded answer and when it was written.
func (f *Feed) LatestPrice() (*big.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.answer == nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrNoAnswer, f.pair)
	}
	return new(big.Int).Set(f.answer), f.updatedAt, nil
}

// ParsePrice converts a plain non-negative decimal string such as "2000.5"
// into an 8 decimal fixed-point integer. Signs, exponents and fractions are
// rejected. Digits beyond the eighth decimal are truncated.
func ParsePrice(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", errInvalidPrice)
	}
	if !plainDecimal.MatchString(trimmed) {
		return nil, fmt.Errorf("%w: %q", errInvalidPrice, value)
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errInvalidPrice, value)
	}
	return PriceFromRat(rat)
}

// PriceFromRat scales a non-negative rational price to 8 decimals.
func PriceFromRat(rat *big.Rat) (*big.Int, error) {
	if rat == nil || rat.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative", errInvalidPrice)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// FormatPrice renders an 8 decimal answer as a decimal string.
func FormatPrice(answer *big.Int) string {
	if answer == nil {
		return "0"
	}
	rat := new(big.Rat).SetFrac(answer, new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil))
	out := rat.FloatString(Decimals)
	out = strings.TrimRight(out, "0")
	return strings.TrimSuffix(out, ".")
}
