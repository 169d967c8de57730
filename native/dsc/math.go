package dsc

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// positiveAmount validates an operation amount and narrows it to 256 bits.
func positiveAmount(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: amount %s", ErrArithmeticOverflow, amount)
	}
	return value, nil
}

// queryAmount accepts zero for read-only conversions.
func queryAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return new(big.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrZeroAmount
	}
	return amount, nil
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrArithmeticUnderflow, a.Dec(), b.Dec())
	}
	return diff, nil
}

// fitsUint256 rejects intermediate results the ledger could never hold.
func fitsUint256(v *big.Int) error {
	if v.Sign() < 0 || v.BitLen() > 256 {
		return ErrArithmeticOverflow
	}
	return nil
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
