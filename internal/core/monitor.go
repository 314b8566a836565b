package core

import (
	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"tradesim/internal/ledger"
	"tradesim/internal/risk"
	"tradesim/internal/schema"
)

// sweep evaluates every open position on the quote's instrument and closes
// those whose liquidation, stop-loss or take-profit level was reached.
func (e *Engine) sweep(q schema.Quote) {
	for _, p := range e.ledger.OpenByInstrument(q.Instrument) {
		price := risk.MarkPrice(p.Side, q)
		reason := e.risk.Evaluate(p.Terms(), p.Triggers(), price)
		if reason == schema.StatusOpen {
			continue
		}
		if _, err := e.closePosition(p.ID, price, reason); err != nil {
			logs.Errorf("monitor close %s as %s, err: %+v", p.ID, reason, err)
		}
	}
}

// closePosition is the only path that moves a position out of open.
func (e *Engine) closePosition(id uuid.UUID, price schema.Price, reason schema.Status) (ledger.Position, error) {
	p, err := e.ledger.Close(id, price, reason)
	if err != nil {
		e.metrics.IncReject(err)
		return ledger.Position{}, err
	}
	logs.Infof("position %s %s owner %s %s at %d pnl %d",
		p.ID, p.Status, p.Owner, p.Instrument, p.ClosePrice, p.RealizedPnL)
	e.metrics.IncClosed(p.Instrument, p.Status.String())
	e.metrics.SetOpenPositions(e.ledger.OpenCount())
	if e.notifier != nil {
		if err := e.notifier.PositionClosed(p); err != nil {
			logs.Errorf("notify position closed %s, err: %+v", p.ID, err)
		}
	}
	return p, nil
}
