package safe

import (
	"errors"
	"math/bits"
)

var (
	ErrOverflow  = errors.New("CORE_SAFE_OVERFLOW")
	ErrUnderflow = errors.New("CORE_SAFE_UNDERFLOW")
	ErrDivByZero = errors.New("CORE_SAFE_DIV_BY_ZERO")
)

// Add performs uint64 addition and fails on overflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub performs uint64 subtraction and fails on underflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// Mul performs uint64 multiplication and fails on overflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// MulDiv returns floor(a*b/d). The product is kept in 128 bits, so the only
// overflow is a quotient that does not fit in uint64.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}
