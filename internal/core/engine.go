package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"tradesim/internal/bus"
	"tradesim/internal/candle"
	"tradesim/internal/ledger"
	"tradesim/internal/obs"
	"tradesim/internal/quote"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// Broadcaster fans quotes and candles out to streaming viewers. It must not
// block the worker.
type Broadcaster interface {
	PublishQuote(q schema.Quote)
	PublishCandle(c schema.Candle)
}

// TickSink receives every processed tick for durable storage.
type TickSink interface {
	Enqueue(t schema.Tick) error
}

// Notifier receives position lifecycle events. Errors are logged and never
// undo the ledger change.
type Notifier interface {
	PositionOpened(p ledger.Position) error
	PositionClosed(p ledger.Position) error
}

// Config holds the engine settings.
type Config struct {
	QueueSize      int
	Timeframes     []candle.Timeframe
	InitialBalance schema.USD
}

// Deps are the optional collaborators. Nil fields are skipped.
type Deps struct {
	Broadcaster Broadcaster
	Sink        TickSink
	Notifier    Notifier
	Metrics     *obs.Metrics
	Clock       func() time.Time
}

// Engine owns the quote book, ledger and aggregator. All state is touched only
// by the goroutine running Run.
type Engine struct {
	registry *schema.Registry
	risk     *risk.Engine
	book     *quote.Book
	ledger   *ledger.Ledger
	candles  *candle.Aggregator
	queue    *bus.Queue[command]

	broadcaster Broadcaster
	sink        TickSink
	notifier    Notifier
	metrics     *obs.Metrics
	now         func() time.Time
}

type command func()

// New creates an engine. Run must be started before any request returns.
func New(cfg Config, registry *schema.Registry, riskEngine *risk.Engine, deps Deps) *Engine {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		registry:    registry,
		risk:        riskEngine,
		candles:     candle.NewAggregator(cfg.Timeframes),
		queue:       bus.NewQueue[command](cfg.QueueSize),
		broadcaster: deps.Broadcaster,
		sink:        deps.Sink,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		now:         now,
	}
	var publisher quote.Publisher
	if deps.Broadcaster != nil {
		publisher = deps.Broadcaster
	}
	e.book = quote.NewBook(publisher)
	e.ledger = ledger.New(registry, e.book, riskEngine, cfg.InitialBalance, ledger.WithClock(now))
	return e
}

// Run processes commands until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	logs.Infof("core engine started, queue capacity %d", e.queue.Cap())
	e.queue.Run(ctx, func(c command) { c() })
	logs.Info("core engine stopped")
}

// Stop rejects new commands. Queued commands are still processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

// SubmitTick queues a tick, waiting for room until ctx is done.
func (e *Engine) SubmitTick(ctx context.Context, t schema.Tick) error {
	return e.queue.Publish(ctx, func() { e.handleTick(t) })
}

type result[T any] struct {
	value T
	err   error
}

// call runs fn on the worker and waits for its result. The command still
// runs if ctx ends after it was queued.
func call[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	var zero T
	reply := make(chan result[T], 1)
	err := e.queue.Publish(ctx, func() {
		v, err := fn()
		reply <- result[T]{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Open places a market order for a new position.
func (e *Engine) Open(ctx context.Context, req ledger.OpenRequest) (ledger.Position, error) {
	return call(ctx, e, func() (ledger.Position, error) {
		p, err := e.ledger.Open(req)
		if err != nil {
			e.metrics.IncReject(err)
			return ledger.Position{}, err
		}
		logs.Infof("position opened %s owner %s %s %s margin %d leverage %d at %d",
			p.ID, p.Owner, p.Instrument, p.Side, p.Margin, p.Leverage, p.OpenPrice)
		e.metrics.IncOpened(p.Instrument, p.Side.String())
		e.metrics.SetOpenPositions(e.ledger.OpenCount())
		if e.notifier != nil {
			if err := e.notifier.PositionOpened(p); err != nil {
				logs.Errorf("notify position opened %s, err: %+v", p.ID, err)
			}
		}
		return p, nil
	})
}

// Close unwinds the owner's open position at the current quote.
func (e *Engine) Close(ctx context.Context, owner string, id uuid.UUID) (ledger.Position, error) {
	return call(ctx, e, func() (ledger.Position, error) {
		p, ok := e.ledger.Position(id)
		if !ok || p.Owner != owner {
			return ledger.Position{}, exception.ErrPositionNotFound
		}
		if !p.IsOpen() {
			return ledger.Position{}, exception.ErrPositionNotOpen
		}
		q, ok := e.book.Get(p.Instrument)
		if !ok {
			return ledger.Position{}, exception.ErrQuoteUnavailable
		}
		return e.closePosition(p.ID, risk.MarkPrice(p.Side, q), schema.StatusClosed)
	})
}

// PositionView is a position valued at the current quote.
type PositionView struct {
	ledger.Position
	UnrealizedPnL schema.USD
	Marked        bool
}

// OpenPositions returns the owner's open positions with current PnL.
func (e *Engine) OpenPositions(ctx context.Context, owner string) ([]PositionView, error) {
	return call(ctx, e, func() ([]PositionView, error) {
		open := e.ledger.OpenPositions(owner)
		out := make([]PositionView, 0, len(open))
		for _, p := range open {
			view := PositionView{Position: p}
			if q, ok := e.book.Get(p.Instrument); ok {
				view.UnrealizedPnL = risk.PnL(p.Terms(), risk.MarkPrice(p.Side, q))
				view.Marked = true
			}
			out = append(out, view)
		}
		return out, nil
	})
}

// ClosedPositions returns the owner's closed, liquidated and stopped positions.
func (e *Engine) ClosedPositions(ctx context.Context, owner string) ([]ledger.Position, error) {
	return call(ctx, e, func() ([]ledger.Position, error) {
		return e.ledger.ClosedPositions(owner), nil
	})
}

// Account summarizes an owner's money.
type Account struct {
	Balance       schema.USD
	LockedMargin  schema.USD
	UnrealizedPnL schema.USD
	Equity        schema.USD
}

// Account returns the owner's balance and unrealized PnL.
func (e *Engine) Account(ctx context.Context, owner string) (Account, error) {
	return call(ctx, e, func() (Account, error) {
		open := e.ledger.OpenPositions(owner)
		terms := make([]risk.Terms, 0, len(open))
		for _, p := range open {
			terms = append(terms, p.Terms())
		}
		balance := e.ledger.Balance(owner)
		unrealized := risk.UnrealizedPnL(terms, e.book)
		return Account{
			Balance:       balance,
			LockedMargin:  e.ledger.LockedMargin(owner),
			UnrealizedPnL: unrealized,
			Equity:        balance + unrealized,
		}, nil
	})
}

// Quotes returns every current quote.
func (e *Engine) Quotes(ctx context.Context) ([]schema.Quote, error) {
	return call(ctx, e, func() ([]schema.Quote, error) {
		return e.book.All(), nil
	})
}

func (e *Engine) handleTick(t schema.Tick) {
	if _, err := e.registry.Conform(t); err != nil {
		e.metrics.IncQueueDrop("core")
		logs.Errorf("drop tick #%d, err: %+v", t.TradeID, err)
		return
	}

	q := schema.QuoteFromTick(t)
	e.book.Update(q)

	e.sweep(q)

	for _, c := range e.candles.Update(t) {
		if e.broadcaster != nil {
			e.broadcaster.PublishCandle(c)
		}
	}

	if e.sink != nil {
		if err := e.sink.Enqueue(t); err != nil {
			e.metrics.IncQueueDrop("persist")
			logs.Errorf("drop tick %s #%d for persistence, err: %+v", t.Instrument, t.TradeID, err)
		}
	}

	if t.Timestamp > 0 {
		e.metrics.ObserveTick(t.Instrument, e.now().Sub(time.UnixMilli(t.Timestamp)))
	}
}
