package exception

import "errors"

var (
	ErrUnknownFeedSymbol = errors.New("market data: unknown feed symbol")
	ErrMalformedTrade    = errors.New("market data: malformed trade")
	ErrUnknownTimeframe  = errors.New("market data: unknown timeframe")
	ErrScaleMismatch     = errors.New("market data: scale does not match instrument")
)
