package wallet

import (
	"context"

	"github.com/spraayhq/walletcore/pkg/money"
)

// Store is the persistence contract used by Service.
//
// InsertEntry must be backed by a uniqueness constraint on the entry
// reference and return ErrDuplicateReference (wrapped) when it trips; that
// constraint, not the in-process account lock, is the correctness mechanism
// for concurrent retries. GetAccountForUpdate must acquire a row-level lock
// when called inside WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error)
	FindAccountByExternalNumber(ctx context.Context, accountNumber string) (Account, error)
	UpdateAccountBalance(ctx context.Context, accountID AccountID, balance money.Kobo) error
	InsertEntry(ctx context.Context, entry Entry) error
	GetEntry(ctx context.Context, entryID string) (Entry, error)
	FindEntryByReference(ctx context.Context, reference Reference) (Entry, error)
	MarkEntryReversed(ctx context.Context, entryID string) error
	ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error)
	CreatePendingTransfer(ctx context.Context, transfer PendingTransfer) error
	FindPendingTransferByOrderID(ctx context.Context, externalOrderID string) (PendingTransfer, error)
	ResolvePendingTransfer(ctx context.Context, transferID string, resolvedUnixUTC int64) error
	ListUnresolvedPendingTransfers(ctx context.Context, limit int) ([]PendingTransfer, error)
}
