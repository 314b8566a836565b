package schema

// Price is a scaled integer in its instrument's price scale.
type Price int64

// Quantity is a scaled integer in its instrument's quantity scale.
type Quantity int64

// USD is a monetary amount in USDScale (cents).
type USD int64

// BPS is an unscaled basis-point count.
type BPS int64

// Side is the direction of a position.
type Side uint8

const (
	SideUnknown Side = iota
	SideLong
	SideShort
)

// ParseSide accepts "buy"/"long" and "sell"/"short".
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "long":
		return SideLong, true
	case "sell", "short":
		return SideShort, true
	default:
		return SideUnknown, false
	}
}

func (s Side) String() string {
	switch s {
	case SideLong:
		return "buy"
	case SideShort:
		return "sell"
	default:
		return "unknown"
	}
}

// OpenDirection is the book side a position takes when opening.
func (s Side) OpenDirection() Direction {
	if s == SideShort {
		return DirectionSell
	}
	return DirectionBuy
}

// CloseDirection is the book side a position takes when unwinding.
func (s Side) CloseDirection() Direction {
	if s == SideShort {
		return DirectionBuy
	}
	return DirectionSell
}

// TakerSide is the aggressor side reported by the upstream feed.
type TakerSide uint8

const (
	TakerUnknown TakerSide = iota
	TakerBuy
	TakerSell
)

func (s TakerSide) String() string {
	switch s {
	case TakerBuy:
		return "BUY"
	case TakerSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseTakerSide is the inverse of TakerSide.String.
func ParseTakerSide(s string) TakerSide {
	switch s {
	case "BUY":
		return TakerBuy
	case "SELL":
		return TakerSell
	default:
		return TakerUnknown
	}
}

// Tick is one normalized trade. Price, Bid and Ask share PriceScale;
// Quantity uses QuantityScale. Timestamp is the trade time in unix millis.
type Tick struct {
	Instrument    string
	TradeID       int64
	Sequence      uint64
	Price         Price
	Quantity      Quantity
	Bid           Price
	Ask           Price
	PriceScale    Scale
	QuantityScale Scale
	Timestamp     int64
	Side          TakerSide
}

// Quote is the synthetic top of book for one instrument.
type Quote struct {
	Instrument string
	Bid        Price
	Ask        Price
	Scale      Scale
}

// QuoteFromTick builds the quote carried by a tick.
func QuoteFromTick(t Tick) Quote {
	return Quote{
		Instrument: t.Instrument,
		Bid:        t.Bid,
		Ask:        t.Ask,
		Scale:      t.PriceScale,
	}
}

// Spread is Ask - Bid in the quote's scale.
func (q Quote) Spread() Price {
	return q.Ask - q.Bid
}

// Candle is an OHLCV bucket. Prices use PriceScale, Volume uses
// QuantityScale. BucketStart is in unix millis.
type Candle struct {
	Instrument    string
	Timeframe     string
	BucketStart   int64
	Open          Price
	High          Price
	Low           Price
	Close         Price
	Volume        Quantity
	PriceScale    Scale
	QuantityScale Scale
}

// Status is a position's lifecycle state. Every non-open status is terminal
// and doubles as the close reason.
type Status uint8

const (
	StatusOpen Status = iota
	StatusClosed
	StatusLiquidated
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusLiquidated:
		return "liquidated"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a close reason.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusLiquidated || s == StatusStopped
}
