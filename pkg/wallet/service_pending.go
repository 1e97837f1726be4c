package wallet

import (
	"context"

	"github.com/google/uuid"

	"github.com/spraayhq/walletcore/pkg/money"
)

// CreatePendingTransfer records an outbound order before the external call
// returns, so a confirmation webhook always finds something to resolve.
func (service *Service) CreatePendingTransfer(ctx context.Context, accountID AccountID, externalOrderID string, purpose TransferPurpose, amount money.PositiveKobo) (PendingTransfer, error) {
	transfer := PendingTransfer{
		TransferID:      uuid.NewString(),
		AccountID:       accountID,
		ExternalOrderID: externalOrderID,
		Purpose:         purpose,
		AmountKobo:      amount.ToKobo(),
		CreatedUnixUTC:  service.nowFn(),
	}
	operationError := service.store.CreatePendingTransfer(ctx, transfer)
	service.logOperation(ctx, OperationLog{
		Operation: operationPendingCreate,
		AccountID: accountID,
		Amount:    amount.ToKobo(),
		Error:     operationError,
	})
	if operationError != nil {
		return PendingTransfer{}, operationError
	}
	return transfer, nil
}

// FindPendingTransferByOrderID looks up an open or resolved order.
func (service *Service) FindPendingTransferByOrderID(ctx context.Context, externalOrderID string) (PendingTransfer, error) {
	return service.store.FindPendingTransferByOrderID(ctx, externalOrderID)
}

// ResolvePendingTransfer archives a pending transfer once its ledger entry
// is applied. Resolving twice fails with ErrPendingTransferResolved.
func (service *Service) ResolvePendingTransfer(ctx context.Context, transferID string) error {
	operationError := service.store.ResolvePendingTransfer(ctx, transferID, service.nowFn())
	service.logOperation(ctx, OperationLog{
		Operation: operationPendingResolve,
		Error:     operationError,
	})
	return operationError
}

// ListUnresolvedPendingTransfers returns open orders for the advancer job.
func (service *Service) ListUnresolvedPendingTransfers(ctx context.Context, limit int) ([]PendingTransfer, error) {
	return service.store.ListUnresolvedPendingTransfers(ctx, limit)
}
