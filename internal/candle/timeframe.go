package candle

import (
	"fmt"
	"time"

	"tradesim/pkg/exception"
)

// DefaultTimeframes are the buckets charted by viewers.
var DefaultTimeframes = []string{"30s", "1m", "5m", "10m", "30m"}

// Timeframe is a named bucket width such as "1m".
type Timeframe struct {
	Name string
	Ms   int64
}

// ParseTimeframe parses a Go duration string into a whole-millisecond bucket.
func ParseTimeframe(name string) (Timeframe, error) {
	d, err := time.ParseDuration(name)
	if err != nil {
		return Timeframe{}, fmt.Errorf("%w: %s", exception.ErrUnknownTimeframe, name)
	}
	if d < time.Millisecond || d%time.Millisecond != 0 {
		return Timeframe{}, fmt.Errorf("%w: %s", exception.ErrUnknownTimeframe, name)
	}
	return Timeframe{Name: name, Ms: d.Milliseconds()}, nil
}

// ParseTimeframes parses every name and rejects duplicates.
func ParseTimeframes(names []string) ([]Timeframe, error) {
	out := make([]Timeframe, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate timeframe: %s", name)
		}
		seen[name] = struct{}{}
		tf, err := ParseTimeframe(name)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// BucketStart returns floor(ts / Ms) * Ms, flooring toward negative infinity.
func (tf Timeframe) BucketStart(ts int64) int64 {
	q := ts / tf.Ms
	if ts%tf.Ms != 0 && ts < 0 {
		q--
	}
	return q * tf.Ms
}
