package ledger

import (
	"time"

	"github.com/google/uuid"

	"tradesim/internal/risk"
	"tradesim/internal/schema"
)

// Position is a margined bet on one instrument. Prices share the
// instrument's PriceScale; money is in USD scale.
type Position struct {
	ID               uuid.UUID
	Owner            string
	Instrument       string
	Side             schema.Side
	Margin           schema.USD
	Leverage         int64
	OpenPrice        schema.Price
	SlippageBps      schema.BPS
	SlippageApplied  schema.Price
	StopLoss         schema.Price
	TakeProfit       schema.Price
	LiquidationPrice schema.Price
	PriceScale       schema.Scale
	Status           schema.Status
	OpenedAt         time.Time
	ClosedAt         time.Time
	ClosePrice       schema.Price
	RealizedPnL      schema.USD
}

// Terms returns the inputs of the PnL formulas.
func (p Position) Terms() risk.Terms {
	return risk.Terms{
		Instrument: p.Instrument,
		Side:       p.Side,
		Margin:     p.Margin,
		Leverage:   p.Leverage,
		OpenPrice:  p.OpenPrice,
		Scale:      p.PriceScale,
	}
}

// Triggers returns the optional stop-loss and take-profit levels.
func (p Position) Triggers() risk.Triggers {
	return risk.Triggers{StopLoss: p.StopLoss, TakeProfit: p.TakeProfit}
}

// IsOpen reports whether the position can still be closed.
func (p Position) IsOpen() bool {
	return p.Status == schema.StatusOpen
}

// OpenRequest carries a validated-at-the-edge order. StopLoss and TakeProfit
// are in the instrument's price scale; zero means unset.
type OpenRequest struct {
	Owner       string
	Instrument  string
	Side        schema.Side
	Margin      schema.USD
	Leverage    int64
	SlippageBps schema.BPS
	StopLoss    schema.Price
	TakeProfit  schema.Price
}
