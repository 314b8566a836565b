package risk

import (
	"fmt"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// Config defines the margin rules shared by order placement and the monitor.
type Config struct {
	LiquidationThresholdPercent int64        `json:"liquidationThresholdPercent"`
	AllowedLeverage             []int64      `json:"allowedLeverage"`
	AllowedSlippageBps          []schema.BPS `json:"allowedSlippageBps"`
	DefaultSlippageBps          schema.BPS   `json:"defaultSlippageBps"`
}

// DefaultConfig returns the stock allow-lists and a 90% threshold.
func DefaultConfig() Config {
	return Config{
		LiquidationThresholdPercent: 90,
		AllowedLeverage:             []int64{1, 5, 10, 20, 100},
		AllowedSlippageBps:          []schema.BPS{5, 10, 50, 100},
		DefaultSlippageBps:          5,
	}
}

// Validate checks that the config is internally consistent.
func (c Config) Validate() error {
	if c.LiquidationThresholdPercent <= 0 || c.LiquidationThresholdPercent > 100 {
		return fmt.Errorf("%w: liquidation threshold %d", exception.ErrInvalidArgument, c.LiquidationThresholdPercent)
	}
	if len(c.AllowedLeverage) == 0 {
		return fmt.Errorf("%w: empty leverage allow-list", exception.ErrInvalidArgument)
	}
	for _, l := range c.AllowedLeverage {
		if l <= 0 {
			return fmt.Errorf("%w: leverage %d", exception.ErrInvalidArgument, l)
		}
	}
	if len(c.AllowedSlippageBps) == 0 {
		return fmt.Errorf("%w: empty slippage allow-list", exception.ErrInvalidArgument)
	}
	for _, b := range c.AllowedSlippageBps {
		if b < 0 || b >= schema.BPSDenominator {
			return fmt.Errorf("%w: slippage %d", exception.ErrInvalidArgument, b)
		}
	}
	if !c.SlippageAllowed(c.DefaultSlippageBps) {
		return fmt.Errorf("%w: default slippage %d not allowed", exception.ErrInvalidArgument, c.DefaultSlippageBps)
	}
	return nil
}

// LeverageAllowed reports whether leverage is in the allow-list.
func (c Config) LeverageAllowed(leverage int64) bool {
	for _, l := range c.AllowedLeverage {
		if l == leverage {
			return true
		}
	}
	return false
}

// SlippageAllowed reports whether bps is in the allow-list.
func (c Config) SlippageAllowed(bps schema.BPS) bool {
	for _, b := range c.AllowedSlippageBps {
		if b == bps {
			return true
		}
	}
	return false
}

// Terms are the immutable inputs of a position that the formulas need.
type Terms struct {
	Instrument string
	Side       schema.Side
	Margin     schema.USD
	Leverage   int64
	OpenPrice  schema.Price
	Scale      schema.Scale
}

// Triggers are the levels checked by the monitor. Zero StopLoss or
// TakeProfit means the level is unset.
type Triggers struct {
	StopLoss   schema.Price
	TakeProfit schema.Price
}

// Engine evaluates margin rules.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static rules.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the rules in use.
func (e *Engine) Config() Config {
	return e.cfg
}

// CheckOpen validates the order terms that do not depend on balance or quotes.
func (e *Engine) CheckOpen(side schema.Side, margin schema.USD, leverage int64, slippage schema.BPS) error {
	if side != schema.SideLong && side != schema.SideShort {
		return exception.ErrInvalidSide
	}
	if !e.cfg.LeverageAllowed(leverage) {
		return exception.ErrInvalidLeverage
	}
	if !e.cfg.SlippageAllowed(slippage) {
		return exception.ErrInvalidSlippage
	}
	if margin <= 0 {
		return exception.ErrInvalidMargin
	}
	return nil
}

// MaxLoss is margin * threshold / 100 in USD scale.
func (e *Engine) MaxLoss(margin schema.USD) schema.USD {
	return schema.USD(schema.MulDiv(int64(margin), e.cfg.LiquidationThresholdPercent, 100))
}

// Exposure is margin * leverage in USD scale.
func Exposure(margin schema.USD, leverage int64) schema.USD {
	return schema.USD(schema.MulDiv(int64(margin), leverage, 1))
}

// PnL returns the profit of the position at price, in USD scale. price and
// t.OpenPrice are in t.Scale; both are truncated to USD scale before the
// ratio is taken. An open price below one cent yields 0.
func PnL(t Terms, price schema.Price) schema.USD {
	openUSD := schema.Rescale(int64(t.OpenPrice), t.Scale, schema.USDScale)
	if openUSD == 0 {
		return 0
	}
	curUSD := schema.Rescale(int64(price), t.Scale, schema.USDScale)

	change := curUSD - openUSD
	if t.Side == schema.SideShort {
		change = openUSD - curUSD
	}
	return schema.USD(schema.MulDiv(change, int64(Exposure(t.Margin, t.Leverage)), openUSD))
}

// LiquidationPrice is the price in t.Scale at which the loss reaches the
// threshold. It is computed once at open.
func (e *Engine) LiquidationPrice(t Terms) schema.Price {
	exposure := int64(Exposure(t.Margin, t.Leverage))
	if exposure == 0 {
		return t.OpenPrice
	}
	delta := schema.Price(schema.MulDiv(int64(e.MaxLoss(t.Margin)), int64(t.OpenPrice), exposure))
	if t.Side == schema.SideShort {
		return t.OpenPrice + delta
	}
	return t.OpenPrice - delta
}

// Evaluate returns the close reason triggered at price, or StatusOpen when
// nothing fires. price is the bid for longs and the ask for shorts.
// Liquidation wins over stop-loss, which wins over take-profit.
func (e *Engine) Evaluate(t Terms, tr Triggers, price schema.Price) schema.Status {
	if PnL(t, price) <= -e.MaxLoss(t.Margin) {
		return schema.StatusLiquidated
	}

	if tr.StopLoss != 0 {
		if t.Side == schema.SideLong && price <= tr.StopLoss {
			return schema.StatusStopped
		}
		if t.Side == schema.SideShort && price >= tr.StopLoss {
			return schema.StatusStopped
		}
	}

	if tr.TakeProfit != 0 {
		if t.Side == schema.SideLong && price >= tr.TakeProfit {
			return schema.StatusClosed
		}
		if t.Side == schema.SideShort && price <= tr.TakeProfit {
			return schema.StatusClosed
		}
	}

	return schema.StatusOpen
}

// MarkPrice picks the side of the quote a position unwinds against.
func MarkPrice(side schema.Side, q schema.Quote) schema.Price {
	if side == schema.SideShort {
		return q.Ask
	}
	return q.Bid
}

// EntryPrice picks the side of the quote a position opens against.
func EntryPrice(side schema.Side, q schema.Quote) schema.Price {
	if side == schema.SideShort {
		return q.Bid
	}
	return q.Ask
}

// QuoteSource looks up the current quote of an instrument.
type QuoteSource interface {
	Get(instrument string) (schema.Quote, bool)
}

// UnrealizedPnL sums PnL over positions marked at their unwind price.
// Positions without a quote contribute 0.
func UnrealizedPnL(positions []Terms, quotes QuoteSource) schema.USD {
	var total schema.USD
	for _, t := range positions {
		q, ok := quotes.Get(t.Instrument)
		if !ok {
			continue
		}
		total += PnL(t, MarkPrice(t.Side, q))
	}
	return total
}
