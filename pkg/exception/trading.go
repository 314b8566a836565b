package exception

import "errors"

// Order validation errors. The ledger is untouched when one is returned.
var (
	ErrInvalidSide         = errors.New("trading: invalid side")
	ErrInvalidLeverage     = errors.New("trading: invalid leverage")
	ErrInvalidSlippage     = errors.New("trading: invalid slippage")
	ErrInvalidMargin       = errors.New("trading: margin must be positive")
	ErrInvalidPrice        = errors.New("trading: invalid price")
	ErrInsufficientBalance = errors.New("trading: insufficient balance")
	ErrUnknownInstrument   = errors.New("trading: unknown instrument")
)

// Precondition errors.
var (
	ErrQuoteUnavailable = errors.New("trading: quote unavailable")
)

// Consistency errors.
var (
	ErrPositionNotFound = errors.New("trading: position not found")
	ErrPositionNotOpen  = errors.New("trading: position is not open")
)
