package market

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"

	"marketplace_go/pkg/quant"
)

// FeeRate is a requested fee in basis points as submitted by a client. It is
// wider than quant.BasisPoints so that out-of-range requests still decode and
// reach Init, which rejects them with InvalidFeeRate.
type FeeRate int64

var (
	maxFeeRate = decimal.NewFromInt(math.MaxInt64)
	minFeeRate = decimal.NewFromInt(math.MinInt64)
)

// UnmarshalJSON accepts any JSON number. Numbers beyond int64 saturate and
// fractional numbers decode as -1; both fail validation.
func (r *FeeRate) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return err
	}
	switch {
	case !d.IsInteger():
		*r = -1
	case d.GreaterThan(maxFeeRate):
		*r = math.MaxInt64
	case d.LessThan(minFeeRate):
		*r = math.MinInt64
	default:
		*r = FeeRate(d.IntPart())
	}
	return nil
}

// BasisPoints narrows the rate, reporting false when it is outside 0..10000.
func (r FeeRate) BasisPoints() (quant.BasisPoints, bool) {
	if r < 0 || r > FeeRate(quant.MaxBasisPoints) {
		return 0, false
	}
	return quant.BasisPoints(r), true
}
