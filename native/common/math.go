package common

import (
	"fmt"
	"math/big"
	"time"
)

// MaxPercentage is 100% expressed in basis points.
const MaxPercentage = 10_000

// BasisPoints is MaxPercentage as a big integer.
var BasisPoints = big.NewInt(MaxPercentage)

// ValidatePercentage returns ErrInvalidPercentage when bps exceeds 100%.
func ValidatePercentage(bps uint64, field string) error {
	if bps > MaxPercentage {
		return fmt.Errorf("%w: %s=%d", ErrInvalidPercentage, field, bps)
	}
	return nil
}

// RequirePositive returns ErrInvalidAmount unless amount > 0.
func RequirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Copy returns an independent copy of v, mapping nil to zero.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// MulDiv computes floor(a*b/d). A zero divisor yields zero.
func MulDiv(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, d)
}

// MulDivUp computes ceil(a*b/d). A zero divisor yields zero.
func MulDivUp(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(product, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// ApplyBps returns floor(amount*bps/10_000).
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	return MulDiv(amount, new(big.Int).SetUint64(bps), BasisPoints)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Pow10 returns 10^n.
func Pow10(n uint64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(n), nil)
}

// MustBigInt parses a base-10 constant.
func MustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Unix converts the clock reading into unix seconds, clamping pre-epoch times.
func Unix(clock func() time.Time) uint64 {
	if clock == nil {
		clock = time.Now
	}
	ts := clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
