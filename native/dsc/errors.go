package dsc

import (
	"errors"
	"fmt"
	"math/big"

	"dscengine/crypto"
)

var (
	ErrNilState                = errors.New("dsc engine: state not configured")
	ErrZeroAmount              = errors.New("dsc engine: amount must be more than zero")
	ErrTokenNotAllowed         = errors.New("dsc engine: token not allowed")
	ErrRegistryLengthMismatch  = errors.New("dsc engine: token addresses and price feed addresses must be the same length")
	ErrDuplicateAsset          = errors.New("dsc engine: collateral asset registered twice")
	ErrTransferFailed          = errors.New("dsc engine: transfer failed")
	ErrMintFailed              = errors.New("dsc engine: mint failed")
	ErrBreaksHealthFactor      = errors.New("dsc engine: breaks health factor")
	ErrHealthFactorOk          = errors.New("dsc engine: health factor ok")
	ErrHealthFactorNotImproved = errors.New("dsc engine: health factor not improved")
	ErrStalePrice              = errors.New("dsc engine: stale price")
	ErrInvalidPrice            = errors.New("dsc engine: price must be positive")
	ErrArithmeticUnderflow     = errors.New("dsc engine: arithmetic underflow")
	ErrArithmeticOverflow      = errors.New("dsc engine: arithmetic overflow")
)

// HealthFactorError reports the ratio that failed the solvency check. It
// matches ErrBreaksHealthFactor under errors.Is.
type HealthFactorError struct {
	Account      crypto.Address
	HealthFactor *big.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("%s: account %s health factor %s", ErrBreaksHealthFactor, e.Account, e.HealthFactor)
}

func (e *HealthFactorError) Unwrap() error { return ErrBreaksHealthFactor }

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrZeroAmount, "zero_amount"},
	{ErrTokenNotAllowed, "token_not_allowed"},
	{ErrRegistryLengthMismatch, "registry_length_mismatch"},
	{ErrDuplicateAsset, "duplicate_asset"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrMintFailed, "mint_failed"},
	{ErrBreaksHealthFactor, "breaks_health_factor"},
	{ErrHealthFactorOk, "health_factor_ok"},
	{ErrHealthFactorNotImproved, "health_factor_not_improved"},
	{ErrStalePrice, "stale_price"},
	{ErrInvalidPrice, "invalid_price"},
	{ErrArithmeticUnderflow, "arithmetic_underflow"},
	{ErrArithmeticOverflow, "arithmetic_overflow"},
	{ErrNilState, "not_configured"},
}

// Code returns a stable snake_case identifier for err, "ok" for nil and
// "internal" for errors the engine does not define.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
