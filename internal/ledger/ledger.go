// Package ledger is the authoritative store of positions and account
// balances.
//
// Balances change only in Open (debit margin) and Close (credit margin plus
// realized PnL). Accounts are created lazily with the initial balance the
// first time an owner opens a position.
//
// A Ledger is not safe for concurrent use; it is owned by the core worker.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"tradesim/internal/risk"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// Ledger holds every position and balance in memory.
type Ledger struct {
	registry       *schema.Registry
	quotes         risk.QuoteSource
	risk           *risk.Engine
	initialBalance schema.USD
	now            func() time.Time

	accounts  map[string]schema.USD
	positions map[uuid.UUID]*Position
	byOwner   map[string][]*Position
	open      map[string][]*Position
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger. quotes supplies the entry price at open.
func New(registry *schema.Registry, quotes risk.QuoteSource, engine *risk.Engine, initialBalance schema.USD, opts ...Option) *Ledger {
	l := &Ledger{
		registry:       registry,
		quotes:         quotes,
		risk:           engine,
		initialBalance: initialBalance,
		now:            time.Now,
		accounts:       make(map[string]schema.USD),
		positions:      make(map[uuid.UUID]*Position),
		byOwner:        make(map[string][]*Position),
		open:           make(map[string][]*Position),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open validates req, debits the margin and creates the position. On error
// nothing is changed.
func (l *Ledger) Open(req OpenRequest) (Position, error) {
	if err := l.risk.CheckOpen(req.Side, req.Margin, req.Leverage, req.SlippageBps); err != nil {
		return Position{}, err
	}
	if req.StopLoss < 0 || req.TakeProfit < 0 {
		return Position{}, exception.ErrInvalidPrice
	}
	inst, ok := l.registry.Instrument(req.Instrument)
	if !ok {
		return Position{}, exception.ErrUnknownInstrument
	}
	balance := l.Balance(req.Owner)
	if req.Margin > balance {
		return Position{}, exception.ErrInsufficientBalance
	}
	q, ok := l.quotes.Get(inst.Symbol)
	if !ok {
		return Position{}, exception.ErrQuoteUnavailable
	}

	base := risk.EntryPrice(req.Side, q)
	exec := schema.ApplySlippage(base, req.SlippageBps, req.Side.OpenDirection())

	p := &Position{
		ID:              uuid.New(),
		Owner:           req.Owner,
		Instrument:      inst.Symbol,
		Side:            req.Side,
		Margin:          req.Margin,
		Leverage:        req.Leverage,
		OpenPrice:       exec,
		SlippageBps:     req.SlippageBps,
		SlippageApplied: exec - base,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		PriceScale:      inst.PriceScale,
		Status:          schema.StatusOpen,
		OpenedAt:        l.now(),
	}
	p.LiquidationPrice = l.risk.LiquidationPrice(p.Terms())

	l.accounts[req.Owner] = balance - req.Margin
	l.positions[p.ID] = p
	l.byOwner[req.Owner] = append(l.byOwner[req.Owner], p)
	l.open[p.Instrument] = append(l.open[p.Instrument], p)

	return *p, nil
}

// Close unwinds an open position at price, moved against the trader by the
// position's slippage, and credits margin plus realized PnL. price is in the
// instrument's scale. reason must be a terminal status.
func (l *Ledger) Close(id uuid.UUID, price schema.Price, reason schema.Status) (Position, error) {
	if !reason.Terminal() {
		return Position{}, exception.ErrInvalidArgument
	}
	p, ok := l.positions[id]
	if !ok {
		return Position{}, exception.ErrPositionNotFound
	}
	if !p.IsOpen() {
		return *p, exception.ErrPositionNotOpen
	}

	exec := schema.ApplySlippage(price, p.SlippageBps, p.Side.CloseDirection())
	pnl := risk.PnL(p.Terms(), exec)

	p.ClosePrice = exec
	p.RealizedPnL = pnl
	p.Status = reason
	p.ClosedAt = l.now()

	l.accounts[p.Owner] = l.Balance(p.Owner) + p.Margin + pnl
	l.removeOpen(p)

	return *p, nil
}

func (l *Ledger) removeOpen(p *Position) {
	list := l.open[p.Instrument]
	for i, candidate := range list {
		if candidate == p {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(l.open, p.Instrument)
		return
	}
	l.open[p.Instrument] = list
}

// Balance returns the owner's available balance. Unknown owners report the
// initial balance.
func (l *Ledger) Balance(owner string) schema.USD {
	if b, ok := l.accounts[owner]; ok {
		return b
	}
	return l.initialBalance
}

// LockedMargin returns the margin held by the owner's open positions.
func (l *Ledger) LockedMargin(owner string) schema.USD {
	var total schema.USD
	for _, p := range l.byOwner[owner] {
		if p.IsOpen() {
			total += p.Margin
		}
	}
	return total
}

// Position returns a copy of the position.
func (l *Ledger) Position(id uuid.UUID) (Position, bool) {
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// OpenPositions returns the owner's open positions in open order.
func (l *Ledger) OpenPositions(owner string) []Position {
	return l.filterOwner(owner, func(p *Position) bool { return p.IsOpen() })
}

// ClosedPositions returns the owner's closed, liquidated and stopped positions.
func (l *Ledger) ClosedPositions(owner string) []Position {
	return l.filterOwner(owner, func(p *Position) bool { return !p.IsOpen() })
}

func (l *Ledger) filterOwner(owner string, keep func(*Position) bool) []Position {
	list := l.byOwner[owner]
	out := make([]Position, 0, len(list))
	for _, p := range list {
		if keep(p) {
			out = append(out, *p)
		}
	}
	return out
}

// OpenByInstrument returns the open positions on an instrument in open order.
// The result is a snapshot; closing positions does not modify it.
func (l *Ledger) OpenByInstrument(instrument string) []Position {
	list := l.open[instrument]
	out := make([]Position, len(list))
	for i, p := range list {
		out[i] = *p
	}
	return out
}

// OpenCount returns the number of open positions across all owners.
func (l *Ledger) OpenCount() int {
	n := 0
	for _, list := range l.open {
		n += len(list)
	}
	return n
}
