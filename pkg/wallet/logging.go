package wallet

import (
	"context"

	"github.com/spraayhq/walletcore/pkg/money"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
// Every ledger-mutating failure passes through here with enough context
// (account, reference, amount) to replay manually.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation string
	AccountID AccountID
	Direction Direction
	Amount    money.Kobo
	Reference Reference
	Source    Source
	Status    string
	Error     error
}

// BalanceEvent is published after every applied entry for notification
// fan-out. Delivery is fire-and-forget; a failed publish never rolls back
// the ledger entry.
type BalanceEvent struct {
	AccountID      AccountID
	Direction      Direction
	AmountKobo     money.Kobo
	NewBalanceKobo money.Kobo
	Reference      Reference
	EntryID        string
	Source         Source
}

// BalanceListener receives balance events outside the transaction boundary.
type BalanceListener interface {
	BalanceChanged(ctx context.Context, event BalanceEvent)
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithBalanceListener wires the post-apply event listener.
func WithBalanceListener(listener BalanceListener) ServiceOption {
	return func(service *Service) {
		service.listener = listener
	}
}
