package money

import (
	"context"
	"fmt"
)

// FeeType selects which leg of the provider fee schedule applies.
type FeeType string

const (
	FeeTypeWithdrawal FeeType = "withdrawal"
	FeeTypeTopUp      FeeType = "top_up"
)

const basisPointsDenominator = 10000

// ParseFeeType validates a raw fee type string.
func ParseFeeType(raw string) (FeeType, error) {
	switch FeeType(raw) {
	case FeeTypeWithdrawal, FeeTypeTopUp:
		return FeeType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFeeType, raw)
	}
}

// ScheduleSource supplies the provider's current fee for an amount. It is a
// network call and may fail; callers must never substitute a stale or default
// fee for a live quote.
type ScheduleSource interface {
	ProviderFee(ctx context.Context, amount PositiveKobo, feeType FeeType) (Kobo, error)
}

// FeeQuote is the breakdown of a fee computation.
// Net + ProviderFee + AppFee always equals the quoted amount.
type FeeQuote struct {
	Amount      Kobo
	ProviderFee Kobo
	AppFee      Kobo
	Net         Kobo
}

// Calculator computes provider and app fees for wallet movements.
type Calculator struct {
	schedule       ScheduleSource
	appFeeBasisPts int64
}

// NewCalculator wires a Calculator. appFeeBasisPts is the app's cut of the
// post-provider-fee amount, in basis points (100 = 1%).
func NewCalculator(schedule ScheduleSource, appFeeBasisPts int64) (*Calculator, error) {
	if schedule == nil {
		return nil, fmt.Errorf("%w: schedule source is nil", ErrInvalidCalculatorConfig)
	}
	if appFeeBasisPts < 0 || appFeeBasisPts >= basisPointsDenominator {
		return nil, fmt.Errorf("%w: app fee basis points out of range", ErrInvalidCalculatorConfig)
	}
	return &Calculator{schedule: schedule, appFeeBasisPts: appFeeBasisPts}, nil
}

// Quote fetches the provider fee and derives the app fee and net amount.
// The app fee is a percentage of (amount - providerFee), floored to the
// nearest kobo. Fails with ErrFeeScheduleUnavailable when the provider call
// errors and with ErrFeeExceedsAmount when the schedule would drive the net
// amount negative.
func (calculator *Calculator) Quote(ctx context.Context, amount PositiveKobo, feeType FeeType) (FeeQuote, error) {
	providerFee, err := calculator.schedule.ProviderFee(ctx, amount, feeType)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("%w: %v", ErrFeeScheduleUnavailable, err)
	}
	if providerFee > amount.ToKobo() {
		return FeeQuote{}, fmt.Errorf("%w: provider fee %d on amount %d", ErrFeeExceedsAmount, providerFee, amount.Int64())
	}
	afterProvider := amount.ToKobo() - providerFee
	appFee := Kobo(afterProvider.Int64() * calculator.appFeeBasisPts / basisPointsDenominator)
	net := afterProvider - appFee
	if net < 0 {
		return FeeQuote{}, fmt.Errorf("%w: app fee %d on residual %d", ErrFeeExceedsAmount, appFee, afterProvider)
	}
	return FeeQuote{
		Amount:      amount.ToKobo(),
		ProviderFee: providerFee,
		AppFee:      appFee,
		Net:         net,
	}, nil
}
