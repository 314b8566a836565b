package schema

import (
	"math"
	"math/big"
)

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// USDScale is the fixed scale of every monetary value (cents).
const USDScale Scale = 2

// BPSDenominator converts basis points into a ratio.
const BPSDenominator = 10_000

const (
	maxInt64 = int64(math.MaxInt64)
	minInt64 = int64(math.MinInt64)
	maxScale = 18
)

var pow10 = func() [maxScale + 1]int64 {
	var table [maxScale + 1]int64
	table[0] = 1
	for i := 1; i <= maxScale; i++ {
		table[i] = table[i-1] * 10
	}
	return table
}()

// Pow10 returns 10^scale. Scales outside [0, 18] return 0.
func Pow10(scale Scale) int64 {
	if scale < 0 || scale > maxScale {
		return 0
	}
	return pow10[scale]
}

// Rescale converts value expressed in the from scale into the to scale.
// Downscaling truncates toward zero. Upscaling that would overflow int64
// saturates at the int64 bounds. Rescale never panics.
func Rescale(value int64, from, to Scale) int64 {
	if from == to || value == 0 {
		return value
	}
	if to < from {
		factor := Pow10(from - to)
		if factor == 0 {
			return 0
		}
		return value / factor
	}
	factor := Pow10(to - from)
	if factor == 0 {
		return saturate(value)
	}
	if value > maxInt64/factor || value < minInt64/factor {
		return saturate(value)
	}
	return value * factor
}

// MulDiv returns a*b/c truncated toward zero. The product is computed without
// overflow; a result outside int64 saturates. c == 0 returns 0.
func MulDiv(a, b, c int64) int64 {
	if c == 0 || a == 0 || b == 0 {
		return 0
	}
	if p, ok := mulExact(a, b); ok {
		return p / c
	}
	q := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	q.Quo(q, big.NewInt(c))
	if !q.IsInt64() {
		return saturate(int64(q.Sign()))
	}
	return q.Int64()
}

func mulExact(a, b int64) (int64, bool) {
	if a == minInt64 || b == minInt64 {
		return 0, false
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

func saturate(sign int64) int64 {
	if sign < 0 {
		return minInt64
	}
	return maxInt64
}

// Direction is the side of the book an execution takes.
type Direction uint8

const (
	DirectionBuy Direction = iota + 1
	DirectionSell
)

// ApplySlippage moves price against the trader by bps basis points:
// buys execute at price + price*bps/10000, sells at price - price*bps/10000.
// price and the result share the same (instrument) scale; bps is unscaled.
func ApplySlippage(price Price, bps BPS, direction Direction) Price {
	amount := Price(MulDiv(int64(price), int64(bps), BPSDenominator))
	switch direction {
	case DirectionBuy:
		return price + amount
	case DirectionSell:
		return price - amount
	default:
		return price
	}
}
