package quant

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Lamports is the smallest indivisible unit of the payment currency.
// E.g., 1.5 SOL = 1,500,000,000 Lamports.
type Lamports uint64

// BasisPoints expresses a fee rate where 10,000 = 100%.
type BasisPoints uint16

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	Decimals       = 9
	LamportsPerSOL = 1_000_000_000

	MaxBasisPoints BasisPoints = 10000
)

var (
	ErrNegativeAmount   = errors.New("amount cannot be negative")
	ErrAmountPrecision  = errors.New("amount has more than 9 decimal places")
	ErrAmountOutOfRange = errors.New("amount does not fit in 64 bits")
)

// Now returns the current wall clock as a TimeStamp.
func Now() TimeStamp {
	return TimeStamp(time.Now().UnixMicro())
}

// Time converts the timestamp back to time.Time (UTC).
func (ts TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

// Decimal returns the amount in whole currency units.
func (l Lamports) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(l)), -Decimals)
}

func (l Lamports) String() string {
	return l.Decimal().String()
}

// ParseLamports converts a decimal string in whole units ("1.5") to Lamports
// without going through float64.
func ParseLamports(s string) (Lamports, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}

	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrAmountPrecision
	}

	n := shifted.BigInt()
	if !n.IsUint64() {
		return 0, ErrAmountOutOfRange
	}
	return Lamports(n.Uint64()), nil
}

// Valid reports whether the rate lies within [0, 10000].
func (b BasisPoints) Valid() bool {
	return b <= MaxBasisPoints
}

// Percent renders the rate as a percentage, e.g. 250 -> "2.5%".
func (b BasisPoints) Percent() string {
	return decimal.New(int64(b), -2).String() + "%"
}
