package recon

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const advancerBatchSize = 100

// PendingOrderAdvancer polls the exchange for unresolved orders whose
// completion webhook never arrived and settles the ones the provider reports
// as confirmed. Orders still in flight stay pending for the next pass.
type PendingOrderAdvancer struct {
	ledger  Ledger
	source  ExchangeSource
	nowFn   func() int64
	logger  *zap.Logger
	metrics *Metrics
}

// NewPendingOrderAdvancer wires the advancer.
func NewPendingOrderAdvancer(ledger Ledger, source ExchangeSource, now func() int64, logger *zap.Logger, metrics *Metrics) *PendingOrderAdvancer {
	return &PendingOrderAdvancer{
		ledger:  ledger,
		source:  source,
		nowFn:   now,
		logger:  logger,
		metrics: metrics,
	}
}

// Name implements Job.
func (advancer *PendingOrderAdvancer) Name() string { return "pending_advancer" }

// Run implements Job.
func (advancer *PendingOrderAdvancer) Run(ctx context.Context) error {
	open, err := advancer.ledger.ListUnresolvedPendingTransfers(ctx, advancerBatchSize)
	if err != nil {
		return fmt.Errorf("list pending transfers: %w", err)
	}
	for _, transfer := range open {
		order, err := advancer.source.OrderStatus(ctx, transfer.ExternalOrderID)
		if err != nil {
			// Provider hiccups leave the order pending; the next pass retries.
			advancer.logger.Warn("order status unavailable",
				zap.String("order_id", transfer.ExternalOrderID),
				zap.Error(err),
			)
			continue
		}
		if !order.Confirmed {
			continue
		}
		applied, err := settlePendingTransfer(ctx, advancer.ledger, transfer, advancer.nowFn())
		if err != nil {
			return err
		}
		if applied {
			advancer.metrics.recordGap("pending_orders")
		}
		advancer.logger.Info("advanced pending order",
			zap.String("order_id", transfer.ExternalOrderID),
			zap.Bool("entry_applied", applied),
		)
	}
	return nil
}
