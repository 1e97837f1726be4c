package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

// State is the terminal state of one ingested webhook delivery.
type State string

const (
	StateApplied   State = "applied"
	StateDuplicate State = "duplicate"
	StateRejected  State = "rejected"
	StateIgnored   State = "ignored"
)

// IngestResult reports what the pipeline did with a delivery. Rejections are
// normal outcomes; only an error return means the provider should redeliver.
type IngestResult struct {
	State   State
	Kind    Kind
	EntryID string
	Reason  string
}

// Ledger is the slice of the wallet service the pipeline needs.
type Ledger interface {
	FindAccountByExternalNumber(ctx context.Context, accountNumber string) (wallet.Account, error)
	Apply(ctx context.Context, input wallet.ApplyInput) (wallet.Entry, bool, error)
	FindPendingTransferByOrderID(ctx context.Context, externalOrderID string) (wallet.PendingTransfer, error)
	ResolvePendingTransfer(ctx context.Context, transferID string) error
}

// Pipeline turns raw provider deliveries into ledger entries. Every delivery
// walks received, validated, then exactly one of applied, duplicate, rejected
// or ignored.
type Pipeline struct {
	ledger     Ledger
	signingKey []byte
	nowFn      func() int64
	logger     *zap.Logger
	events     *prometheus.CounterVec
}

// NewPipeline wires a Pipeline. The signing key authenticates deliveries via
// HMAC-SHA256 over the raw body.
func NewPipeline(ledger Ledger, signingKey []byte, now func() int64, logger *zap.Logger, registerer prometheus.Registerer) *Pipeline {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	return &Pipeline{
		ledger:     ledger,
		signingKey: signingKey,
		nowFn:      now,
		logger:     logger,
		events: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "walletcore_webhook_events_total",
			Help: "Webhook deliveries by event kind and terminal state.",
		}, []string{"kind", "state"}),
	}
}

// Signature computes the hex HMAC-SHA256 of a body under a key. Exported so
// tests and provider simulators can sign deliveries.
func Signature(key []byte, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (pipeline *Pipeline) verifySignature(body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, pipeline.signingKey)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Ingest processes one delivery. A non-nil error means the ledger write failed
// transiently and the handler should ask the provider to redeliver; every
// other outcome, including rejection, is final.
func (pipeline *Pipeline) Ingest(ctx context.Context, body []byte, signature string) (IngestResult, error) {
	if !pipeline.verifySignature(body, signature) {
		return pipeline.finish(IngestResult{State: StateRejected, Reason: "invalid signature"}), nil
	}
	var delivery envelope
	if err := json.Unmarshal(body, &delivery); err != nil {
		return pipeline.finish(IngestResult{State: StateRejected, Reason: "malformed payload"}), nil
	}
	switch delivery.Event {
	case KindBankCredit, KindBankDebit:
		return pipeline.ingestBankTransfer(ctx, delivery)
	case KindOrderCompleted, KindOrderFailed:
		return pipeline.ingestOrderEvent(ctx, delivery)
	default:
		return pipeline.finish(IngestResult{State: StateIgnored, Kind: delivery.Event, Reason: "unknown event kind"}), nil
	}
}

func (pipeline *Pipeline) ingestBankTransfer(ctx context.Context, delivery envelope) (IngestResult, error) {
	var payload bankTransferPayload
	if err := json.Unmarshal(delivery.Data, &payload); err != nil {
		return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: "malformed payload"}), nil
	}
	if err := payload.validate(); err != nil {
		return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: err.Error()}), nil
	}
	account, err := pipeline.ledger.FindAccountByExternalNumber(ctx, payload.AccountNumber)
	if err != nil {
		if errors.Is(err, wallet.ErrAccountNotFound) {
			return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: "unknown account number"}), nil
		}
		return IngestResult{}, err
	}
	direction := wallet.DirectionCredit
	if delivery.Event == KindBankDebit {
		direction = wallet.DirectionDebit
	}
	amount, err := money.NewPositiveKobo(payload.AmountKobo)
	if err != nil {
		return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: "invalid amount"}), nil
	}
	reference, err := wallet.NewReference(payload.TransactionReference)
	if err != nil {
		return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: "invalid reference"}), nil
	}
	narration := payload.Narration
	if narration == "" {
		narration = "bank transfer"
	}
	occurredAt := payload.OccurredAtUnixUTC
	if occurredAt == 0 {
		occurredAt = pipeline.nowFn()
	}
	metadata, err := wallet.NewMetadataJSON(fmt.Sprintf(`{"event":%q,"account_number":%q}`, delivery.Event, payload.AccountNumber))
	if err != nil {
		return IngestResult{}, err
	}
	input, err := wallet.NewApplyInput(account.AccountID, direction, amount, reference, narration, occurredAt, wallet.SourceWebhook, metadata)
	if err != nil {
		return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: err.Error()}), nil
	}
	entry, applied, err := pipeline.ledger.Apply(ctx, input)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: "insufficient balance"}), nil
		}
		return IngestResult{}, err
	}
	if !applied {
		return pipeline.finish(IngestResult{State: StateDuplicate, Kind: delivery.Event, EntryID: entry.EntryID}), nil
	}
	return pipeline.finish(IngestResult{State: StateApplied, Kind: delivery.Event, EntryID: entry.EntryID}), nil
}

func (pipeline *Pipeline) ingestOrderEvent(ctx context.Context, delivery envelope) (IngestResult, error) {
	var payload orderPayload
	if err := json.Unmarshal(delivery.Data, &payload); err != nil {
		return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: "malformed payload"}), nil
	}
	if err := payload.validate(); err != nil {
		return pipeline.finish(IngestResult{State: StateRejected, Kind: delivery.Event, Reason: err.Error()}), nil
	}
	transfer, err := pipeline.ledger.FindPendingTransferByOrderID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, wallet.ErrPendingTransferNotFound) {
			return pipeline.finish(IngestResult{State: StateIgnored, Kind: delivery.Event, Reason: "no pending order"}), nil
		}
		return IngestResult{}, err
	}
	if transfer.Resolved() {
		return pipeline.finish(IngestResult{State: StateDuplicate, Kind: delivery.Event}), nil
	}

	entryID := ""
	if needsSettlementEntry(delivery.Event, transfer.Purpose) {
		entry, err := pipeline.applyOrderSettlement(ctx, delivery.Event, transfer)
		if err != nil {
			return IngestResult{}, err
		}
		entryID = entry.EntryID
	}
	if err := pipeline.ledger.ResolvePendingTransfer(ctx, transfer.TransferID); err != nil {
		if errors.Is(err, wallet.ErrPendingTransferResolved) {
			return pipeline.finish(IngestResult{State: StateDuplicate, Kind: delivery.Event, EntryID: entryID}), nil
		}
		return IngestResult{}, err
	}
	return pipeline.finish(IngestResult{State: StateApplied, Kind: delivery.Event, EntryID: entryID}), nil
}

// needsSettlementEntry decides whether a terminal order event moves naira.
// Completed buys and swaps credit the wallet. A failed withdrawal refunds the
// debit taken at initiation; a completed withdrawal already settled then.
func needsSettlementEntry(event Kind, purpose wallet.TransferPurpose) bool {
	if event == KindOrderCompleted {
		return purpose == wallet.PurposeCreditWallet || purpose == wallet.PurposeCryptoToNairaSwap
	}
	return purpose == wallet.PurposeCryptoWithdrawal
}

func (pipeline *Pipeline) applyOrderSettlement(ctx context.Context, event Kind, transfer wallet.PendingTransfer) (wallet.Entry, error) {
	amount, err := money.NewPositiveKobo(transfer.AmountKobo.Int64())
	if err != nil {
		return wallet.Entry{}, err
	}
	base, err := wallet.NewReference("order:" + transfer.ExternalOrderID)
	if err != nil {
		return wallet.Entry{}, err
	}
	reference := base
	narration := "order settlement"
	if event == KindOrderFailed {
		reference, err = base.Derive("refund")
		if err != nil {
			return wallet.Entry{}, err
		}
		narration = "order refund"
	}
	metadata, err := wallet.NewMetadataJSON(fmt.Sprintf(`{"event":%q,"order_id":%q,"purpose":%q}`, event, transfer.ExternalOrderID, transfer.Purpose))
	if err != nil {
		return wallet.Entry{}, err
	}
	input, err := wallet.NewApplyInput(transfer.AccountID, wallet.DirectionCredit, amount, reference, narration, pipeline.nowFn(), wallet.SourceWebhook, metadata)
	if err != nil {
		return wallet.Entry{}, err
	}
	entry, _, err := pipeline.ledger.Apply(ctx, input)
	return entry, err
}

func (pipeline *Pipeline) finish(result IngestResult) IngestResult {
	kind := string(result.Kind)
	if kind == "" {
		kind = "unknown"
	}
	pipeline.events.WithLabelValues(kind, string(result.State)).Inc()
	if pipeline.logger != nil {
		pipeline.logger.Info("webhook delivery processed",
			zap.String("kind", kind),
			zap.String("state", string(result.State)),
			zap.String("entry_id", result.EntryID),
			zap.String("reason", result.Reason),
		)
	}
	return result
}
