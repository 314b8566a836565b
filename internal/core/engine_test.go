package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/candle"
	"tradesim/internal/ledger"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

type recorder struct {
	mu      sync.Mutex
	events  []string
	candles []schema.Candle
	closed  []ledger.Position
	ticks   []schema.Tick
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) PublishQuote(q schema.Quote) {
	r.add("quote %s %d/%d", q.Instrument, q.Bid, q.Ask)
}

func (r *recorder) PublishCandle(c schema.Candle) {
	r.add("candle %s %s", c.Instrument, c.Timeframe)
	r.mu.Lock()
	r.candles = append(r.candles, c)
	r.mu.Unlock()
}

func (r *recorder) Enqueue(t schema.Tick) error {
	r.add("sink %s", t.Instrument)
	r.mu.Lock()
	r.ticks = append(r.ticks, t)
	r.mu.Unlock()
	return nil
}

func (r *recorder) PositionOpened(p ledger.Position) error {
	r.add("opened %s", p.Instrument)
	return nil
}

func (r *recorder) PositionClosed(p ledger.Position) error {
	r.add("closed %s %s", p.Instrument, p.Status)
	r.mu.Lock()
	r.closed = append(r.closed, p)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.candles = nil
	r.closed = nil
	r.ticks = nil
}

func startEngine(t *testing.T, rec *recorder, timeframes ...string) *Engine {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Add(schema.Instrument{Symbol: "BTC", FeedSymbol: "BTCUSDT", PriceScale: 8, QuantityScale: 8}))
	require.NoError(t, reg.Add(schema.Instrument{Symbol: "ETH", FeedSymbol: "ETHUSDT", PriceScale: 8, QuantityScale: 8}))

	tfs, err := candle.ParseTimeframes(timeframes)
	require.NoError(t, err)

	e := New(Config{QueueSize: 64, Timeframes: tfs, InitialBalance: 500_000}, reg, risk.NewEngine(risk.DefaultConfig()), Deps{
		Broadcaster: rec,
		Sink:        rec,
		Notifier:    rec,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func btcTick(bid, ask int64, ts int64) schema.Tick {
	return schema.Tick{
		Instrument:    "BTC",
		TradeID:       ts,
		Price:         schema.Price((bid + ask) / 2),
		Quantity:      100_000_000,
		Bid:           schema.Price(bid),
		Ask:           schema.Price(ask),
		PriceScale:    8,
		QuantityScale: 8,
		Timestamp:     ts,
	}
}

// submit queues a tick and waits until the worker has processed it.
func submit(t *testing.T, e *Engine, tk schema.Tick) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.SubmitTick(ctx, tk))
	_, err := e.Quotes(ctx)
	require.NoError(t, err)
}

func openLong(t *testing.T, e *Engine, stopLoss schema.Price) ledger.Position {
	t.Helper()
	p, err := e.Open(context.Background(), ledger.OpenRequest{
		Owner:       "alice",
		Instrument:  "BTC",
		Side:        schema.SideLong,
		Margin:      10_000,
		Leverage:    10,
		SlippageBps: 5,
		StopLoss:    stopLoss,
	})
	require.NoError(t, err)
	return p
}

func TestOpenRequiresQuote(t *testing.T) {
	e := startEngine(t, &recorder{}, "1m")
	_, err := e.Open(context.Background(), ledger.OpenRequest{
		Owner: "alice", Instrument: "BTC", Side: schema.SideLong, Margin: 100, Leverage: 1, SlippageBps: 5,
	})
	assert.ErrorIs(t, err, exception.ErrQuoteUnavailable)
}

func TestTickDistributionOrder(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "30s", "1m")

	submit(t, e, btcTick(5_000_000_000_000, 5_000_000_000_000, 1_000))
	openLong(t, e, 4_900_000_000_000)
	rec.reset()

	submit(t, e, btcTick(4_800_000_000_000, 4_810_000_000_000, 2_000))

	assert.Equal(t, []string{
		"quote BTC 4800000000000/4810000000000",
		"closed BTC stopped",
		"candle BTC 30s",
		"candle BTC 1m",
		"sink BTC",
	}, rec.snapshot())
}

func TestAggregatorRunsOncePerTick(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "30s", "1m", "5m")

	submit(t, e, btcTick(100, 100, 1_000))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.candles, 3)
	for _, c := range rec.candles {
		assert.Equal(t, schema.Quantity(100_000_000), c.Volume)
	}
	assert.Len(t, rec.ticks, 1)
}

func TestMonitorLiquidationBeatsStopLoss(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "1m")

	submit(t, e, btcTick(5_000_000_000_000, 5_000_000_000_000, 1_000))
	p := openLong(t, e, 4_900_000_000_000)
	require.Equal(t, schema.Price(5_002_500_000_000), p.OpenPrice)

	// Below both the stop and the liquidation price.
	submit(t, e, btcTick(4_000_000_000_000, 4_010_000_000_000, 2_000))

	rec.mu.Lock()
	require.Len(t, rec.closed, 1)
	closed := rec.closed[0]
	rec.mu.Unlock()
	assert.Equal(t, schema.StatusLiquidated, closed.Status)
	assert.Equal(t, p.ID, closed.ID)

	open, err := e.OpenPositions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMonitorIgnoresOtherInstruments(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "1m")

	submit(t, e, btcTick(5_000_000_000_000, 5_000_000_000_000, 1_000))
	openLong(t, e, 4_900_000_000_000)

	eth := btcTick(1, 1, 2_000)
	eth.Instrument = "ETH"
	submit(t, e, eth)

	open, err := e.OpenPositions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestUnknownInstrumentTickIsDropped(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "1m")

	tk := btcTick(1, 1, 1_000)
	tk.Instrument = "DOGE"
	submit(t, e, tk)

	assert.Empty(t, rec.snapshot())
	quotes, err := e.Quotes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestTickAtForeignScaleIsDropped(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "1m")
	ctx := context.Background()

	submit(t, e, btcTick(5_000_000_000_000, 5_000_000_000_000, 1_000))
	openLong(t, e, 0)
	rec.reset()

	// Same $50000, priced at cents instead of the registered 8 decimals.
	cents := btcTick(5_000_000, 5_000_000, 2_000)
	cents.PriceScale = 2
	submit(t, e, cents)

	assert.Empty(t, rec.snapshot())
	open, err := e.OpenPositions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	quotes, err := e.Quotes(ctx)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, schema.Price(5_000_000_000_000), quotes[0].Bid)
	assert.Equal(t, schema.Scale(8), quotes[0].Scale)

	qty := btcTick(5_000_000_000_000, 5_000_000_000_000, 3_000)
	qty.QuantityScale = 4
	submit(t, e, qty)
	assert.Empty(t, rec.snapshot())
}

func TestMonitorStopLossCreditsBalance(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "1m")
	ctx := context.Background()

	submit(t, e, btcTick(5_000_000_000_000, 5_000_000_000_000, 1_000))
	p := openLong(t, e, 4_900_000_000_000)

	submit(t, e, btcTick(4_800_000_000_000, 4_810_000_000_000, 2_000))

	rec.mu.Lock()
	require.Len(t, rec.closed, 1)
	closed := rec.closed[0]
	rec.mu.Unlock()
	assert.Equal(t, p.ID, closed.ID)
	assert.Equal(t, schema.StatusStopped, closed.Status)
	// Bid less 5 bps.
	assert.Equal(t, schema.Price(4_797_600_000_000), closed.ClosePrice)
	// (4797600 - 5002500) * 100000 / 5002500
	assert.Equal(t, schema.USD(-4_095), closed.RealizedPnL)

	acct, err := e.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, schema.USD(495_905), acct.Balance)
	assert.Equal(t, schema.USD(0), acct.LockedMargin)
}

func TestMonitorTakeProfitCreditsBalance(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "1m")
	ctx := context.Background()

	submit(t, e, btcTick(5_000_000_000_000, 5_000_000_000_000, 1_000))
	p, err := e.Open(ctx, ledger.OpenRequest{
		Owner:       "alice",
		Instrument:  "BTC",
		Side:        schema.SideLong,
		Margin:      10_000,
		Leverage:    10,
		SlippageBps: 5,
		TakeProfit:  5_100_000_000_000,
	})
	require.NoError(t, err)

	submit(t, e, btcTick(5_050_000_000_000, 5_060_000_000_000, 2_000))
	open, err := e.OpenPositions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, open, 1)

	submit(t, e, btcTick(5_200_000_000_000, 5_210_000_000_000, 3_000))

	history, err := e.ClosedPositions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	closed := history[0]
	assert.Equal(t, p.ID, closed.ID)
	assert.Equal(t, schema.StatusClosed, closed.Status)
	assert.Equal(t, schema.Price(5_197_400_000_000), closed.ClosePrice)
	// (5197400 - 5002500) * 100000 / 5002500
	assert.Equal(t, schema.USD(3_896), closed.RealizedPnL)

	acct, err := e.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, schema.USD(503_896), acct.Balance)
	assert.Equal(t, schema.USD(0), acct.UnrealizedPnL)
}

func TestManualCloseAndAccount(t *testing.T) {
	rec := &recorder{}
	e := startEngine(t, rec, "1m")
	ctx := context.Background()

	submit(t, e, btcTick(5_000_000_000_000, 5_000_000_000_000, 1_000))
	p := openLong(t, e, 0)

	submit(t, e, btcTick(5_100_000_000_000, 5_110_000_000_000, 2_000))

	acct, err := e.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, schema.USD(490_000), acct.Balance)
	assert.Equal(t, schema.USD(10_000), acct.LockedMargin)
	// (5100000 - 5002500) * 100000 / 5002500
	assert.Equal(t, schema.USD(1_949), acct.UnrealizedPnL)
	assert.Equal(t, acct.Balance+acct.UnrealizedPnL, acct.Equity)

	views, err := e.OpenPositions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Marked)
	assert.Equal(t, schema.USD(1_949), views[0].UnrealizedPnL)

	_, err = e.Close(ctx, "bob", p.ID)
	assert.ErrorIs(t, err, exception.ErrPositionNotFound)

	closed, err := e.Close(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusClosed, closed.Status)
	assert.Equal(t, schema.Price(5_097_450_000_000), closed.ClosePrice)
	assert.Equal(t, schema.USD(1_898), closed.RealizedPnL)

	_, err = e.Close(ctx, "alice", p.ID)
	assert.ErrorIs(t, err, exception.ErrPositionNotOpen)

	_, err = e.Close(ctx, "alice", uuid.New())
	assert.ErrorIs(t, err, exception.ErrPositionNotFound)

	history, err := e.ClosedPositions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)

	acct, err = e.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, schema.USD(501_898), acct.Balance)
	assert.Equal(t, schema.USD(0), acct.UnrealizedPnL)
}

func TestRequestsFailAfterStop(t *testing.T) {
	e := startEngine(t, &recorder{}, "1m")
	e.Stop()
	_, err := e.Quotes(context.Background())
	assert.ErrorIs(t, err, exception.ErrQueueClosed)
}

func TestCallHonorsContext(t *testing.T) {
	reg := schema.NewRegistry()
	e := New(Config{QueueSize: 1}, reg, risk.NewEngine(risk.DefaultConfig()), Deps{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Quotes(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
