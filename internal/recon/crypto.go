package recon

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/internal/gateway"
	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

// ExchangeSource is the crypto provider feed the exchange jobs read.
type ExchangeSource interface {
	RecentActivity(ctx context.Context, stream gateway.ExchangeStream, sinceUnixUTC int64) ([]gateway.ProviderTransaction, error)
	OrderStatus(ctx context.Context, orderID string) (gateway.Order, error)
}

// CryptoStreamJob replays one exchange activity stream. Exchange records are
// keyed by order id, so each one is matched to its PendingTransfer and the
// missed settlement is applied the same way the webhook would have.
type CryptoStreamJob struct {
	ledger   Ledger
	source   ExchangeSource
	stream   gateway.ExchangeStream
	lookback int64
	nowFn    func() int64
	logger   *zap.Logger
	metrics  *Metrics
}

// NewCryptoStreamJob wires one stream's job; register one per stream.
func NewCryptoStreamJob(ledger Ledger, source ExchangeSource, stream gateway.ExchangeStream, lookbackSeconds int64, now func() int64, logger *zap.Logger, metrics *Metrics) *CryptoStreamJob {
	return &CryptoStreamJob{
		ledger:   ledger,
		source:   source,
		stream:   stream,
		lookback: lookbackSeconds,
		nowFn:    now,
		logger:   logger,
		metrics:  metrics,
	}
}

// Name implements Job.
func (job *CryptoStreamJob) Name() string { return "crypto_" + string(job.stream) }

// Run implements Job.
func (job *CryptoStreamJob) Run(ctx context.Context) error {
	since := job.nowFn() - job.lookback
	activity, err := job.source.RecentActivity(ctx, job.stream, since)
	if err != nil {
		return fmt.Errorf("crypto stream %s window: %w", job.stream, err)
	}
	for _, record := range activity {
		transfer, err := job.ledger.FindPendingTransferByOrderID(ctx, record.Reference)
		if err != nil {
			if errors.Is(err, wallet.ErrPendingTransferNotFound) {
				continue
			}
			return err
		}
		if transfer.Resolved() {
			continue
		}
		applied, err := settlePendingTransfer(ctx, job.ledger, transfer, job.nowFn())
		if err != nil {
			return err
		}
		if applied {
			job.metrics.recordGap(string(job.stream))
			job.logger.Info("reconciliation settled missed order",
				zap.String("stream", string(job.stream)),
				zap.String("order_id", transfer.ExternalOrderID),
			)
		}
	}
	return nil
}

// settlePendingTransfer applies the naira leg a confirmed order owes the
// wallet and resolves the transfer. Withdrawals settled at initiation resolve
// without a new entry. Returns whether a ledger entry was applied.
func settlePendingTransfer(ctx context.Context, ledger Ledger, transfer wallet.PendingTransfer, occurredAtUnixUTC int64) (bool, error) {
	applied := false
	if transfer.Purpose == wallet.PurposeCreditWallet || transfer.Purpose == wallet.PurposeCryptoToNairaSwap {
		amount, err := money.NewPositiveKobo(transfer.AmountKobo.Int64())
		if err != nil {
			return false, err
		}
		reference, err := wallet.NewReference("order:" + transfer.ExternalOrderID)
		if err != nil {
			return false, err
		}
		metadata, err := wallet.NewMetadataJSON(fmt.Sprintf(`{"order_id":%q,"purpose":%q}`, transfer.ExternalOrderID, transfer.Purpose))
		if err != nil {
			return false, err
		}
		input, err := wallet.NewApplyInput(transfer.AccountID, wallet.DirectionCredit, amount, reference, "order settlement", occurredAtUnixUTC, wallet.SourceReconciliation, metadata)
		if err != nil {
			return false, err
		}
		_, applied, err = ledger.Apply(ctx, input)
		if err != nil {
			return false, err
		}
	}
	if err := ledger.ResolvePendingTransfer(ctx, transfer.TransferID); err != nil {
		if errors.Is(err, wallet.ErrPendingTransferResolved) {
			return applied, nil
		}
		return applied, err
	}
	return applied, nil
}
