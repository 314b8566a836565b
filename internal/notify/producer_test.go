package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/ledger"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func closedPosition() ledger.Position {
	return ledger.Position{
		ID:          uuid.MustParse("6f1c2a9e-6a8a-4c55-9d43-2f0d8e2f3b11"),
		Owner:       "alice",
		Instrument:  "BTC",
		Side:        schema.SideLong,
		Margin:      10_000,
		Leverage:    10,
		OpenPrice:   5_002_500_000_000,
		StopLoss:    4_900_000_000_000,
		PriceScale:  8,
		Status:      schema.StatusStopped,
		OpenedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ClosedAt:    time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC),
		ClosePrice:  4_897_550_000_000,
		RealizedPnL: -2_097,
	}
}

func TestOpenedEvent(t *testing.T) {
	e := OpenedEvent(closedPosition())
	assert.Equal(t, EventPositionOpened, e.Type)
	assert.Equal(t, "Trade opened: BUY BTC", e.Subject)
	assert.Equal(t, "100.00", e.Margin)
	assert.Equal(t, "50025", e.OpenPrice)
	assert.Equal(t, "49000", e.StopLoss)
	assert.Empty(t, e.TakeProfit)
	assert.Contains(t, e.Body, "Leverage: 10x")
	assert.Contains(t, e.Body, "Stop loss: 49000")
	assert.NotContains(t, e.Body, "Take profit")
}

func TestClosedEvent(t *testing.T) {
	e := ClosedEvent(closedPosition())
	assert.Equal(t, EventPositionClosed, e.Type)
	assert.Equal(t, "Trade stopped: BUY BTC", e.Subject)
	assert.Equal(t, "48975.5", e.ClosePrice)
	assert.Equal(t, "-20.97", e.PnL)
	assert.Equal(t, "stopped", e.Reason)
	assert.Contains(t, e.Body, "PnL: $-20.97")
}

func TestProducerWritesQueuedEvents(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, 8, nil)

	require.NoError(t, p.PositionOpened(closedPosition()))
	require.NoError(t, p.PositionClosed(closedPosition()))
	p.Close()
	p.Run(context.Background())

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, []byte("alice"), w.msgs[0].Key)
	assert.Equal(t, "type", w.msgs[1].Headers[0].Key)
	assert.Equal(t, []byte(EventPositionClosed), w.msgs[1].Headers[0].Value)

	var decoded Event
	require.NoError(t, sonic.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, "stopped", decoded.Reason)
}

func TestProducerDropsOnFullQueueAndWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducer(w, 1, nil)

	require.NoError(t, p.PositionOpened(closedPosition()))
	assert.ErrorIs(t, p.PositionOpened(closedPosition()), exception.ErrQueueFull)

	p.Close()
	p.Run(context.Background())
	assert.Empty(t, w.msgs)
}
