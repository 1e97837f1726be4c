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

// Ledger is the slice of the wallet service the reconciliation jobs need.
type Ledger interface {
	FindAccountByExternalNumber(ctx context.Context, accountNumber string) (wallet.Account, error)
	Apply(ctx context.Context, input wallet.ApplyInput) (wallet.Entry, bool, error)
	FindPendingTransferByOrderID(ctx context.Context, externalOrderID string) (wallet.PendingTransfer, error)
	ListUnresolvedPendingTransfers(ctx context.Context, limit int) ([]wallet.PendingTransfer, error)
	ResolvePendingTransfer(ctx context.Context, transferID string) error
}

// BankSource is the provider feed the bank stream job replays.
type BankSource interface {
	RecentTransactions(ctx context.Context, sinceUnixUTC int64) ([]gateway.ProviderTransaction, error)
}

const bankStreamName = "bank"

// BankStreamJob replays the bank rail's recent activity into the ledger.
// Records the ledger already holds are skipped by idempotent Apply; the rest
// are the reconciliation gap.
type BankStreamJob struct {
	ledger   Ledger
	source   BankSource
	lookback int64
	nowFn    func() int64
	logger   *zap.Logger
	metrics  *Metrics
}

// NewBankStreamJob wires the bank job. lookbackSeconds sizes the replay
// window; it should comfortably exceed the scheduler interval so windows
// overlap rather than leave seams.
func NewBankStreamJob(ledger Ledger, source BankSource, lookbackSeconds int64, now func() int64, logger *zap.Logger, metrics *Metrics) *BankStreamJob {
	return &BankStreamJob{
		ledger:   ledger,
		source:   source,
		lookback: lookbackSeconds,
		nowFn:    now,
		logger:   logger,
		metrics:  metrics,
	}
}

// Name implements Job.
func (job *BankStreamJob) Name() string { return "bank_stream" }

// Run implements Job.
func (job *BankStreamJob) Run(ctx context.Context) error {
	since := job.nowFn() - job.lookback
	transactions, err := job.source.RecentTransactions(ctx, since)
	if err != nil {
		return fmt.Errorf("bank stream window: %w", err)
	}
	for _, transaction := range transactions {
		if err := job.replay(ctx, transaction); err != nil {
			return err
		}
	}
	return nil
}

func (job *BankStreamJob) replay(ctx context.Context, transaction gateway.ProviderTransaction) error {
	account, err := job.ledger.FindAccountByExternalNumber(ctx, transaction.AccountNumber)
	if err != nil {
		if errors.Is(err, wallet.ErrAccountNotFound) {
			job.logger.Warn("bank stream record for unknown account",
				zap.String("reference", transaction.Reference),
				zap.String("account_number", transaction.AccountNumber),
			)
			return nil
		}
		return err
	}
	direction, err := wallet.ParseDirection(transaction.Direction)
	if err != nil {
		job.logger.Warn("bank stream record with unknown direction",
			zap.String("reference", transaction.Reference),
			zap.String("direction", transaction.Direction),
		)
		return nil
	}
	amount, err := money.NewPositiveKobo(transaction.AmountKobo)
	if err != nil {
		job.logger.Warn("bank stream record with invalid amount",
			zap.String("reference", transaction.Reference),
			zap.Int64("amount", transaction.AmountKobo),
		)
		return nil
	}
	reference, err := wallet.NewReference(transaction.Reference)
	if err != nil {
		return nil
	}
	narration := transaction.Narration
	if narration == "" {
		narration = "reconciled bank transfer"
	}
	metadata, err := wallet.NewMetadataJSON(fmt.Sprintf(`{"stream":%q,"account_number":%q}`, bankStreamName, transaction.AccountNumber))
	if err != nil {
		return err
	}
	input, err := wallet.NewApplyInput(account.AccountID, direction, amount, reference, narration, transaction.OccurredAtUnixUTC, wallet.SourceReconciliation, metadata)
	if err != nil {
		return err
	}
	entry, applied, err := job.ledger.Apply(ctx, input)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			job.logger.Warn("bank stream debit exceeds balance",
				zap.String("reference", transaction.Reference),
				zap.String("account_id", account.AccountID.String()),
			)
			return nil
		}
		return err
	}
	if applied {
		job.metrics.recordGap(bankStreamName)
		job.logger.Info("reconciliation filled ledger gap",
			zap.String("stream", bankStreamName),
			zap.String("reference", transaction.Reference),
			zap.String("entry_id", entry.EntryID),
		)
	}
	return nil
}
