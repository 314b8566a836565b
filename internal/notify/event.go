package notify

import (
	"fmt"
	"strings"
	"time"

	"tradesim/internal/ledger"
	"tradesim/internal/schema"
)

const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
)

// Event is the payload a mail worker renders into a message. Money and prices
// are decimal strings.
type Event struct {
	Type       string    `json:"type"`
	PositionID string    `json:"positionId"`
	Owner      string    `json:"owner"`
	Instrument string    `json:"instrument"`
	Side       string    `json:"side"`
	Margin     string    `json:"margin"`
	Leverage   int64     `json:"leverage"`
	OpenPrice  string    `json:"openPrice"`
	StopLoss   string    `json:"stopLoss,omitempty"`
	TakeProfit string    `json:"takeProfit,omitempty"`
	ClosePrice string    `json:"closePrice,omitempty"`
	PnL        string    `json:"pnl,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	OccurredAt time.Time `json:"occurredAt"`
}

func usd(v schema.USD) string {
	return schema.FromScaled(int64(v), schema.USDScale).StringFixed(int32(schema.USDScale))
}

func price(v schema.Price, scale schema.Scale) string {
	if v == 0 {
		return ""
	}
	return schema.FromScaled(int64(v), scale).String()
}

func base(p ledger.Position) Event {
	return Event{
		PositionID: p.ID.String(),
		Owner:      p.Owner,
		Instrument: p.Instrument,
		Side:       p.Side.String(),
		Margin:     usd(p.Margin),
		Leverage:   p.Leverage,
		OpenPrice:  price(p.OpenPrice, p.PriceScale),
		StopLoss:   price(p.StopLoss, p.PriceScale),
		TakeProfit: price(p.TakeProfit, p.PriceScale),
	}
}

// OpenedEvent describes a newly opened position.
func OpenedEvent(p ledger.Position) Event {
	e := base(p)
	e.Type = EventPositionOpened
	e.OccurredAt = p.OpenedAt
	e.Subject = fmt.Sprintf("Trade opened: %s %s", strings.ToUpper(e.Side), e.Instrument)

	var b strings.Builder
	fmt.Fprintf(&b, "Order %s\n", e.PositionID)
	fmt.Fprintf(&b, "Asset: %s\nType: %s\n", e.Instrument, e.Side)
	fmt.Fprintf(&b, "Margin: $%s\nLeverage: %dx\n", e.Margin, e.Leverage)
	fmt.Fprintf(&b, "Open price: %s\n", e.OpenPrice)
	if e.StopLoss != "" {
		fmt.Fprintf(&b, "Stop loss: %s\n", e.StopLoss)
	}
	if e.TakeProfit != "" {
		fmt.Fprintf(&b, "Take profit: %s\n", e.TakeProfit)
	}
	e.Body = b.String()
	return e
}

// ClosedEvent describes a position that left the open state.
func ClosedEvent(p ledger.Position) Event {
	e := base(p)
	e.Type = EventPositionClosed
	e.OccurredAt = p.ClosedAt
	e.ClosePrice = price(p.ClosePrice, p.PriceScale)
	e.PnL = usd(p.RealizedPnL)
	e.Reason = p.Status.String()
	e.Subject = fmt.Sprintf("Trade %s: %s %s", e.Reason, strings.ToUpper(e.Side), e.Instrument)

	var b strings.Builder
	fmt.Fprintf(&b, "Order %s\n", e.PositionID)
	fmt.Fprintf(&b, "Asset: %s\nType: %s\n", e.Instrument, e.Side)
	fmt.Fprintf(&b, "Margin: $%s\nLeverage: %dx\n", e.Margin, e.Leverage)
	fmt.Fprintf(&b, "Open price: %s\nClose price: %s\n", e.OpenPrice, e.ClosePrice)
	fmt.Fprintf(&b, "PnL: $%s\nReason: %s\n", e.PnL, e.Reason)
	e.Body = b.String()
	return e
}
