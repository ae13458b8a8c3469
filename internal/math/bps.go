// Package math holds the overflow-checked integer arithmetic used for on-chain amounts.
// Amounts are stored as uint64 in the token's smallest unit; intermediates are
// widened to 256 bits so a product can never wrap silently.
package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// BasisPointsScale is 1.0 expressed in basis points.
const BasisPointsScale uint64 = 10_000

// ErrOverflow is returned when a result does not fit in uint64 or would go negative.
var ErrOverflow = errors.New("arithmetic overflow")

// Payout returns floor(fill * askPrice / 10_000).
func Payout(fill, askPrice uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(fill), uint256.NewInt(askPrice))
	if overflow {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, fill, askPrice)
	}

	quotient := new(uint256.Int).Div(product, uint256.NewInt(BasisPointsScale))
	if !quotient.IsUint64() {
		return 0, fmt.Errorf("%w: payout %s exceeds uint64", ErrOverflow, quotient.Dec())
	}
	return quotient.Uint64(), nil
}

// Add returns a + b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum.Uint64(), nil
}

// Sub returns a - b or ErrOverflow when b > a.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d underflows", ErrOverflow, a, b)
	}
	return a - b, nil
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// ToBig converts a smallest-unit amount for use in transaction encoding.
func ToBig(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
