// Package candle folds ticks into rolling OHLCV buckets per
// (instrument, timeframe).
//
// Only the live bucket is kept. A bucket that receives no ticks is never
// emitted; charting consumers see a gap rather than a synthetic flat candle.
//
// An Aggregator is not safe for concurrent use; it is owned by the core worker.
package candle

import "tradesim/internal/schema"

type key struct {
	instrument string
	timeframe  string
}

// Aggregator keeps one live candle per (instrument, timeframe).
type Aggregator struct {
	timeframes []Timeframe
	live       map[key]*schema.Candle
}

// NewAggregator creates an aggregator for the given timeframes.
func NewAggregator(timeframes []Timeframe) *Aggregator {
	tfs := make([]Timeframe, len(timeframes))
	copy(tfs, timeframes)
	return &Aggregator{
		timeframes: tfs,
		live:       make(map[key]*schema.Candle, len(tfs)*4),
	}
}

// Timeframes returns the configured timeframes.
func (a *Aggregator) Timeframes() []Timeframe {
	out := make([]Timeframe, len(a.timeframes))
	copy(out, a.timeframes)
	return out
}

// Update applies the tick to every timeframe and returns one candle copy per
// timeframe in configuration order. Calling Update twice with the same tick
// counts its quantity twice.
func (a *Aggregator) Update(t schema.Tick) []schema.Candle {
	out := make([]schema.Candle, 0, len(a.timeframes))
	for _, tf := range a.timeframes {
		out = append(out, a.apply(t, tf))
	}
	return out
}

func (a *Aggregator) apply(t schema.Tick, tf Timeframe) schema.Candle {
	k := key{instrument: t.Instrument, timeframe: tf.Name}
	bucket := tf.BucketStart(t.Timestamp)

	c, ok := a.live[k]
	if !ok || c.BucketStart != bucket {
		c = &schema.Candle{
			Instrument:    t.Instrument,
			Timeframe:     tf.Name,
			BucketStart:   bucket,
			Open:          t.Price,
			High:          t.Price,
			Low:           t.Price,
			Close:         t.Price,
			Volume:        t.Quantity,
			PriceScale:    t.PriceScale,
			QuantityScale: t.QuantityScale,
		}
		a.live[k] = c
		return *c
	}

	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Quantity
	return *c
}

// Current returns the live candle for an instrument and timeframe.
func (a *Aggregator) Current(instrument, timeframe string) (schema.Candle, bool) {
	c, ok := a.live[key{instrument: instrument, timeframe: timeframe}]
	if !ok {
		return schema.Candle{}, false
	}
	return *c, true
}
