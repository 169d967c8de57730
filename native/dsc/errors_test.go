package dsc

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	cases := map[string]error{
		"ok":                   nil,
		"zero_amount":          ErrZeroAmount,
		"stale_price":          fmt.Errorf("wrapped: %w", ErrStalePrice),
		"breaks_health_factor": &HealthFactorError{HealthFactor: MinHealthFactor()},
		"internal":             errors.New("boom"),
	}
	for want, err := range cases {
		if got := Code(err); got != want {
			t.Fatalf("Code(%v) = %q, want %q", err, got, want)
		}
	}
}
