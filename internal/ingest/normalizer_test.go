package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Add(schema.Instrument{Symbol: "BTC", FeedSymbol: "BTCUSDT", PriceScale: 8, QuantityScale: 8}))
	require.NoError(t, reg.Add(schema.Instrument{Symbol: "SOL", FeedSymbol: "SOLUSDT", PriceScale: 6, QuantityScale: 6}))
	return reg
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(testRegistry(t), DefaultSpreadBps)

	tick, err := n.Normalize(Trade{
		EventType:    "trade",
		Symbol:       "BTCUSDT",
		TradeID:      42,
		Price:        "50000.123456789",
		Quantity:     "0.00100000",
		TradeTime:    1_700_000_000_000,
		BuyerIsMaker: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "BTC", tick.Instrument)
	assert.Equal(t, int64(42), tick.TradeID)
	assert.Equal(t, uint64(1), tick.Sequence)
	assert.Equal(t, schema.Price(5_000_012_345_678), tick.Price)
	assert.Equal(t, schema.Quantity(100_000), tick.Quantity)
	assert.Equal(t, schema.Price(4_975_012_283_950), tick.Bid)
	assert.Equal(t, schema.Price(5_025_012_407_406), tick.Ask)
	assert.Equal(t, schema.Scale(8), tick.PriceScale)
	assert.Equal(t, int64(1_700_000_000_000), tick.Timestamp)
	assert.Equal(t, schema.TakerSell, tick.Side)

	sol, err := n.Normalize(Trade{Symbol: "SOLUSDT", Price: "150.123456", Quantity: "2", BuyerIsMaker: false})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sol.Sequence)
	assert.Equal(t, schema.Price(150_123_456), sol.Price)
	assert.Equal(t, schema.Price(149_372_839), sol.Bid)
	assert.Equal(t, schema.Price(150_874_073), sol.Ask)
	assert.Equal(t, schema.TakerBuy, sol.Side)
}

func TestNormalizeRejects(t *testing.T) {
	n := NewNormalizer(testRegistry(t), DefaultSpreadBps)

	_, err := n.Normalize(Trade{Symbol: "DOGEUSDT", Price: "1", Quantity: "1"})
	assert.ErrorIs(t, err, exception.ErrUnknownFeedSymbol)

	_, err = n.Normalize(Trade{Symbol: "BTCUSDT", Price: "abc", Quantity: "1"})
	assert.ErrorIs(t, err, exception.ErrMalformedTrade)

	_, err = n.Normalize(Trade{Symbol: "BTCUSDT", Price: "0", Quantity: "1"})
	assert.ErrorIs(t, err, exception.ErrMalformedTrade)

	_, err = n.Normalize(Trade{Symbol: "BTCUSDT", Price: "1", Quantity: "-1"})
	assert.ErrorIs(t, err, exception.ErrMalformedTrade)
}

func TestTradeStreams(t *testing.T) {
	assert.Equal(t, []string{"btcusdt@trade", "solusdt@trade"}, TradeStreams([]string{"BTCUSDT", "SOLUSDT"}))
}
