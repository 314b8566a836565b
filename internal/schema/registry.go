package schema

import (
	"fmt"

	"tradesim/pkg/exception"
)

// Instrument describes a tradable symbol and its fixed scales.
type Instrument struct {
	Symbol        string
	Name          string
	FeedSymbol    string
	PriceScale    Scale
	QuantityScale Scale
}

// Registry stores instruments in registration order with name lookups.
type Registry struct {
	instruments []Instrument
	bySymbol    map[string]int
	byFeed      map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bySymbol: make(map[string]int),
		byFeed:   make(map[string]int),
	}
}

// Add registers a new instrument.
func (r *Registry) Add(inst Instrument) error {
	if inst.Symbol == "" {
		return fmt.Errorf("instrument symbol is empty")
	}
	if inst.PriceScale < USDScale || inst.PriceScale > maxScale {
		return fmt.Errorf("instrument %s: price scale must be in [%d, %d]", inst.Symbol, USDScale, maxScale)
	}
	if inst.QuantityScale < 0 || inst.QuantityScale > maxScale {
		return fmt.Errorf("instrument %s: quantity scale must be in [0, %d]", inst.Symbol, maxScale)
	}
	if _, ok := r.bySymbol[inst.Symbol]; ok {
		return fmt.Errorf("instrument already exists: %s", inst.Symbol)
	}
	if inst.FeedSymbol == "" {
		inst.FeedSymbol = inst.Symbol
	}
	if _, ok := r.byFeed[inst.FeedSymbol]; ok {
		return fmt.Errorf("feed symbol already mapped: %s", inst.FeedSymbol)
	}
	if inst.Name == "" {
		inst.Name = inst.Symbol
	}
	r.instruments = append(r.instruments, inst)
	r.bySymbol[inst.Symbol] = len(r.instruments) - 1
	r.byFeed[inst.FeedSymbol] = len(r.instruments) - 1
	return nil
}

// Conform returns the tick's instrument after checking the tick is priced
// and sized at the registered scales.
func (r *Registry) Conform(t Tick) (Instrument, error) {
	inst, ok := r.Instrument(t.Instrument)
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", exception.ErrUnknownInstrument, t.Instrument)
	}
	if t.PriceScale != inst.PriceScale || t.QuantityScale != inst.QuantityScale {
		return Instrument{}, fmt.Errorf("%w: %s tick scales %d/%d, registered %d/%d", exception.ErrScaleMismatch,
			t.Instrument, t.PriceScale, t.QuantityScale, inst.PriceScale, inst.QuantityScale)
	}
	return inst, nil
}

// Instrument returns the instrument by symbol.
func (r *Registry) Instrument(symbol string) (Instrument, bool) {
	idx, ok := r.bySymbol[symbol]
	if !ok {
		return Instrument{}, false
	}
	return r.instruments[idx], true
}

// ByFeedSymbol returns the instrument mapped to an upstream feed symbol.
func (r *Registry) ByFeedSymbol(feedSymbol string) (Instrument, bool) {
	idx, ok := r.byFeed[feedSymbol]
	if !ok {
		return Instrument{}, false
	}
	return r.instruments[idx], true
}

// Instruments returns a copy of all instruments in registration order.
func (r *Registry) Instruments() []Instrument {
	out := make([]Instrument, len(r.instruments))
	copy(out, r.instruments)
	return out
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int {
	return len(r.instruments)
}
