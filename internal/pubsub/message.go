// Package pubsub carries normalized ticks between the ingest process and the
// server over a Redis channel.
package pubsub

import (
	"fmt"

	"github.com/bytedance/sonic"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// DefaultChannel is the Redis channel trades are published on.
const DefaultChannel = "trades"

// Message is the wire form of a tick. Scaled integers travel as strings.
type Message struct {
	TradeID          int64  `json:"tradeId"`
	Sequence         uint64 `json:"sequence"`
	Symbol           string `json:"symbol"`
	Price            int64  `json:"price,string"`
	PriceDecimals    int32  `json:"priceDecimals"`
	Quantity         int64  `json:"quantity,string"`
	QuantityDecimals int32  `json:"quantityDecimals"`
	Bid              int64  `json:"bid,string"`
	Ask              int64  `json:"ask,string"`
	Side             string `json:"side"`
	TradeTime        int64  `json:"tradeTime"`
}

// FromTick converts a tick into its wire form.
func FromTick(t schema.Tick) Message {
	return Message{
		TradeID:          t.TradeID,
		Sequence:         t.Sequence,
		Symbol:           t.Instrument,
		Price:            int64(t.Price),
		PriceDecimals:    int32(t.PriceScale),
		Quantity:         int64(t.Quantity),
		QuantityDecimals: int32(t.QuantityScale),
		Bid:              int64(t.Bid),
		Ask:              int64(t.Ask),
		Side:             t.Side.String(),
		TradeTime:        t.Timestamp,
	}
}

// Tick converts the message back into a tick.
func (m Message) Tick() schema.Tick {
	return schema.Tick{
		Instrument:    m.Symbol,
		TradeID:       m.TradeID,
		Sequence:      m.Sequence,
		Price:         schema.Price(m.Price),
		Quantity:      schema.Quantity(m.Quantity),
		Bid:           schema.Price(m.Bid),
		Ask:           schema.Price(m.Ask),
		PriceScale:    schema.Scale(m.PriceDecimals),
		QuantityScale: schema.Scale(m.QuantityDecimals),
		Timestamp:     m.TradeTime,
		Side:          schema.ParseTakerSide(m.Side),
	}
}

// Encode marshals a tick.
func Encode(t schema.Tick) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(FromTick(t))
}

// Decode unmarshals a payload and checks it carries a usable quote.
func Decode(payload []byte) (schema.Tick, error) {
	var m Message
	if err := sonic.ConfigFastest.Unmarshal(payload, &m); err != nil {
		return schema.Tick{}, fmt.Errorf("%w: %v", exception.ErrMalformedTrade, err)
	}
	if m.Symbol == "" || m.Price <= 0 || m.Bid <= 0 || m.Ask < m.Bid {
		return schema.Tick{}, fmt.Errorf("%w: %s #%d", exception.ErrMalformedTrade, m.Symbol, m.TradeID)
	}
	return m.Tick(), nil
}
