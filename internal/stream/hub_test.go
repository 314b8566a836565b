package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/schema"
)

type received struct {
	Type       string         `json:"type"`
	Msg        string         `json:"msg"`
	Instrument string         `json:"instrument"`
	Timeframe  string         `json:"timeframe"`
	Data       map[string]any `json:"data"`
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(server.URL, "http://", "ws://", 1), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var r received
	require.NoError(t, sonic.Unmarshal(data, &r))
	return r
}

func TestHubWelcomeSubscribeAndFanOut(t *testing.T) {
	hub := NewHub(16, nil)
	conn := dial(t, hub)

	welcome := read(t, conn)
	assert.Equal(t, "welcome", welcome.Type)
	assert.Equal(t, "connected", welcome.Msg)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "instrument": "BTC", "timeframe": "1m"}))
	ack := read(t, conn)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "BTC", ack.Instrument)
	assert.Equal(t, "1m", ack.Timeframe)
	assert.Equal(t, 1, hub.Len())

	hub.PublishCandle(schema.Candle{Instrument: "BTC", Timeframe: "5m", PriceScale: 8})
	hub.PublishCandle(schema.Candle{Instrument: "ETH", Timeframe: "1m", PriceScale: 8})
	hub.PublishQuote(schema.Quote{Instrument: "SOL", Bid: 149_250_000, Ask: 150_750_000, Scale: 6})
	hub.PublishCandle(schema.Candle{
		Instrument:    "BTC",
		Timeframe:     "1m",
		BucketStart:   60_000,
		Open:          5_000_000_000_000,
		High:          5_100_000_000_000,
		Low:           4_900_000_000_000,
		Close:         5_050_000_000_000,
		Volume:        150_000_000,
		PriceScale:    8,
		QuantityScale: 8,
	})

	price := read(t, conn)
	assert.Equal(t, "price_update", price.Type)
	assert.Equal(t, "SOL", price.Data["instrument"])
	assert.Equal(t, float64(150_750_000), price.Data["buyPrice"])
	assert.Equal(t, float64(149_250_000), price.Data["sellPrice"])
	assert.Equal(t, float64(6), price.Data["decimals"])

	batch := read(t, conn)
	assert.Equal(t, "candles", batch.Type)
	assert.Equal(t, "BTC", batch.Data["instrument"])
	assert.Equal(t, "1m", batch.Data["timeframe"])
	candles, ok := batch.Data["candles"].([]any)
	require.True(t, ok)
	require.Len(t, candles, 1)
	candle, ok := candles[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(60_000), candle["timestamp"])
	assert.Equal(t, float64(5_000_000_000_000), candle["openValue"])
	assert.Equal(t, float64(5_100_000_000_000), candle["highValue"])
	assert.Equal(t, float64(4_900_000_000_000), candle["lowValue"])
	assert.Equal(t, float64(5_050_000_000_000), candle["closeValue"])
	assert.Equal(t, float64(150_000_000), candle["volumeValue"])
	assert.Equal(t, float64(8), candle["decimals"])
}

func TestFrameWireKeys(t *testing.T) {
	b, err := encode(quoteFrame(schema.Quote{Instrument: "BTC", Bid: 4_975_000_000_000, Ask: 5_025_000_000_000, Scale: 8}, 1_700_000_000_000))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"price_update","data":{"instrument":"BTC","buyPrice":5025000000000,"sellPrice":4975000000000,"decimals":8,"timestamp":1700000000000}}`, string(b))

	b, err = encode(candleFrame(schema.Candle{
		Instrument:    "ETH",
		Timeframe:     "5m",
		BucketStart:   300_000,
		Open:          300_000_000_000,
		High:          310_000_000_000,
		Low:           290_000_000_000,
		Close:         305_000_000_000,
		Volume:        200_000_000,
		PriceScale:    8,
		QuantityScale: 8,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"candles","data":{"instrument":"ETH","timeframe":"5m","candles":[{"timestamp":300000,"openValue":300000000000,"highValue":310000000000,"lowValue":290000000000,"closeValue":305000000000,"volumeValue":200000000,"decimals":8,"volumeDecimals":8}]}}`, string(b))
}

func TestHubRejectsUnknownMessages(t *testing.T) {
	hub := NewHub(16, nil)
	conn := dial(t, hub)
	read(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	assert.Equal(t, "error", read(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	assert.Equal(t, "error", read(t, conn).Type)
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	hub := NewHub(16, nil)
	conn := dial(t, hub)
	read(t, conn)
	require.Equal(t, 1, hub.Len())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsWhenClientBufferIsFull(t *testing.T) {
	hub := NewHub(1, nil)
	slow := &client{send: make(chan []byte, 1), done: make(chan struct{})}
	hub.register(slow)

	hub.PublishQuote(schema.Quote{Instrument: "BTC", Bid: 1, Ask: 2, Scale: 8})
	hub.PublishQuote(schema.Quote{Instrument: "BTC", Bid: 3, Ask: 4, Scale: 8})
	hub.PublishQuote(schema.Quote{Instrument: "BTC", Bid: 5, Ask: 6, Scale: 8})

	assert.Len(t, slow.send, 1)
	assert.Equal(t, uint64(2), hub.Dropped())

	hub.unregister(slow)
	assert.False(t, slow.offer([]byte("x")))
}
