package money

import "errors"

// Domain-level error values returned by the money package.
var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidFeeType          = errors.New("invalid fee type")
	ErrInvalidCalculatorConfig = errors.New("invalid calculator config")
	ErrFeeScheduleUnavailable  = errors.New("fee schedule unavailable")
	ErrFeeExceedsAmount        = errors.New("fees exceed amount")
)
