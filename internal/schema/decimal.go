package schema

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrScaleOverflow reports a decimal that does not fit int64 at the requested scale.
var ErrScaleOverflow = errors.New("schema: scaled value overflows int64")

// ParseScaled parses a decimal string into an integer scaled by 10^scale,
// truncating toward zero.
func ParseScaled(s string, scale Scale) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return ToScaled(d, scale)
}

// ToScaled converts d into an integer scaled by 10^scale, truncating toward
// zero.
func ToScaled(d decimal.Decimal, scale Scale) (int64, error) {
	scaled := d.Shift(int32(scale)).Truncate(0)
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s overflows scale %d", ErrScaleOverflow, d.String(), scale)
	}
	return bi.Int64(), nil
}

// FromScaled renders a scaled integer as a decimal.
func FromScaled(v int64, scale Scale) decimal.Decimal {
	return decimal.New(v, -int32(scale))
}
