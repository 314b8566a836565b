// Package persist batches raw ticks into the trades table.
//
// Delivery is at-most-once: a batch that fails to commit is logged and
// dropped, and ticks that arrive while the queue is full are dropped too.
package persist

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/yanun0323/logs"

	"tradesim/internal/bus"
	"tradesim/internal/obs"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = time.Second
	DefaultQueueSize     = 4096

	writeTimeout = 5 * time.Second
)

// Config holds the batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	// BreakerFailures is the number of consecutive failed batches that opens
	// the breaker. BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Sink accepts ticks without blocking and writes them in batches.
type Sink struct {
	cfg     Config
	store   Store
	queue   *bus.Queue[schema.Tick]
	breaker *gobreaker.CircuitBreaker
	metrics *obs.Metrics
}

// NewSink creates a sink writing to store.
func NewSink(cfg Config, store Store, metrics *obs.Metrics) *Sink {
	cfg = cfg.withDefaults()
	return &Sink{
		cfg:     cfg,
		store:   store,
		queue:   bus.NewQueue[schema.Tick](cfg.QueueSize),
		metrics: metrics,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "persist",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logs.Infof("circuit breaker %s: %s -> %s", name, from, to)
			},
		}),
	}
}

// Enqueue queues a tick. It never blocks.
func (s *Sink) Enqueue(t schema.Tick) error {
	if err := s.queue.TryPublish(t); err != nil {
		if err == exception.ErrQueueClosed {
			return exception.ErrSinkClosed
		}
		return err
	}
	return nil
}

// Close stops accepting ticks. Run flushes what is queued and returns.
func (s *Sink) Close() {
	s.queue.Close()
}

// Run batches ticks until ctx is done or Close is called, then flushes the
// remainder.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]TradeRecord, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.write(batch)
		batch = make([]TradeRecord, 0, s.cfg.BatchSize)
	}
	defer flush()

	in := s.queue.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			batch = append(batch, RecordFromTick(t))
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) write(batch []TradeRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.store.InsertBatch(ctx, batch)
	})
	s.metrics.ObserveBatch(len(batch), err)
	if err != nil {
		logs.Errorf("drop batch of %d trades, err: %+v", len(batch), err)
		return
	}
	logs.Infof("inserted %d trades", len(batch))
}
