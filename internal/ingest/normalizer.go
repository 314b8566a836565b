// Package ingest turns upstream exchange trades into normalized ticks.
package ingest

import (
	"fmt"
	"sync/atomic"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// DefaultSpreadBps puts the synthetic bid and ask 0.5% either side of the
// trade price.
const DefaultSpreadBps schema.BPS = 50

// Normalizer converts Binance trades into ticks. It is safe for concurrent
// use.
type Normalizer struct {
	registry *schema.Registry
	spread   schema.BPS
	seq      atomic.Uint64
}

// NewNormalizer creates a normalizer quoting spreadBps either side of price.
func NewNormalizer(registry *schema.Registry, spreadBps schema.BPS) *Normalizer {
	return &Normalizer{registry: registry, spread: spreadBps}
}

// Normalize maps the feed symbol to an instrument and converts the decimal
// strings into scaled integers, truncating extra digits.
func (n *Normalizer) Normalize(tr Trade) (schema.Tick, error) {
	inst, ok := n.registry.ByFeedSymbol(tr.Symbol)
	if !ok {
		return schema.Tick{}, fmt.Errorf("%w: %s", exception.ErrUnknownFeedSymbol, tr.Symbol)
	}

	price, err := schema.ParseScaled(tr.Price, inst.PriceScale)
	if err != nil || price <= 0 {
		return schema.Tick{}, fmt.Errorf("%w: price %q", exception.ErrMalformedTrade, tr.Price)
	}
	qty, err := schema.ParseScaled(tr.Quantity, inst.QuantityScale)
	if err != nil || qty < 0 {
		return schema.Tick{}, fmt.Errorf("%w: quantity %q", exception.ErrMalformedTrade, tr.Quantity)
	}

	p := schema.Price(price)
	side := schema.TakerBuy
	if tr.BuyerIsMaker {
		side = schema.TakerSell
	}

	return schema.Tick{
		Instrument:    inst.Symbol,
		TradeID:       tr.TradeID,
		Sequence:      n.seq.Add(1),
		Price:         p,
		Quantity:      schema.Quantity(qty),
		Bid:           schema.ApplySlippage(p, n.spread, schema.DirectionSell),
		Ask:           schema.ApplySlippage(p, n.spread, schema.DirectionBuy),
		PriceScale:    inst.PriceScale,
		QuantityScale: inst.QuantityScale,
		Timestamp:     tr.TradeTime,
		Side:          side,
	}, nil
}
