// Package checked provides overflow-checked unsigned arithmetic for every
// money and quantity computation in the engine.
//
// All failures are reported as errors, never panics: a failed computation
// must reject the enclosing operation without partial effect. Products are
// carried in a 128-bit intermediate (math/bits) so quantity*price never
// wraps before the fee/division step.
package checked

import (
	"errors"
	"math/bits"
)

// ErrOverflow is returned whenever a checked computation would wrap,
// underflow, or divide by zero.
var ErrOverflow = errors.New("checked: arithmetic overflow")

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrOverflow if b > a.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// Mul returns a*b or ErrOverflow if the product exceeds 64 bits.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// U128 is an unsigned 128-bit intermediate. It exists so gross proceeds can
// be formed before any fee multiplication or division narrows them back to
// 64 bits.
type U128 struct {
	Hi, Lo uint64
}

// Mul128 returns the full 128-bit product of a and b.
func Mul128(a, b uint64) U128 {
	hi, lo := bits.Mul64(a, b)
	return U128{Hi: hi, Lo: lo}
}

// MulScalar multiplies a 128-bit value by a 64-bit scalar, failing if the
// result no longer fits in 128 bits.
func (u U128) MulScalar(m uint64) (U128, error) {
	hi1, lo := bits.Mul64(u.Lo, m)
	hi2, overflow := bits.Mul64(u.Hi, m)
	if overflow != 0 {
		return U128{}, ErrOverflow
	}
	hi, carry := bits.Add64(hi1, hi2, 0)
	if carry != 0 {
		return U128{}, ErrOverflow
	}
	return U128{Hi: hi, Lo: lo}, nil
}

// DivScalar divides a 128-bit value by a 64-bit divisor, failing on divide
// by zero or if the quotient exceeds 64 bits.
func (u U128) DivScalar(d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrOverflow
	}
	if u.Hi >= d {
		// Quotient would need more than 64 bits.
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(u.Hi, u.Lo, d)
	return q, nil
}

// Uint64 narrows the value back to 64 bits, failing if the high word is set.
func (u U128) Uint64() (uint64, error) {
	if u.Hi != 0 {
		return 0, ErrOverflow
	}
	return u.Lo, nil
}

// MulDiv returns floor(a*b/d) with a 128-bit intermediate.
func MulDiv(a, b, d uint64) (uint64, error) {
	return Mul128(a, b).DivScalar(d)
}
