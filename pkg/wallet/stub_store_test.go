package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/spraayhq/walletcore/pkg/money"
)

// stubStore is an in-memory Store used by the service tests. It mirrors the
// real stores' contract: reference uniqueness on InsertEntry, order-id
// uniqueness on CreatePendingTransfer, not-found sentinels everywhere else.
type stubStore struct {
	mu                 sync.Mutex
	failWith           error
	accounts           map[string]Account
	entriesByID        map[string]Entry
	entryIDByReference map[string]string
	entryOrder         []string
	pendingByID        map[string]PendingTransfer
	pendingIDByOrder   map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts:           make(map[string]Account),
		entriesByID:        make(map[string]Entry),
		entryIDByReference: make(map[string]string),
		pendingByID:        make(map[string]PendingTransfer),
		pendingIDByOrder:   make(map[string]string),
	}
}

func newFailingStore(err error) *stubStore {
	store := newStubStore()
	store.failWith = err
	return store
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.failWith != nil {
		return store.failWith
	}
	return fn(ctx, store)
}

func (store *stubStore) CreateAccount(_ context.Context, account Account) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return store.failWith
	}
	if _, exists := store.accounts[account.AccountID.String()]; exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, account.AccountID.String())
	}
	store.accounts[account.AccountID.String()] = account
	return nil
}

func (store *stubStore) GetAccount(_ context.Context, accountID AccountID) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return Account{}, store.failWith
	}
	account, exists := store.accounts[accountID.String()]
	if !exists {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID.String())
	}
	return account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *stubStore) FindAccountByExternalNumber(_ context.Context, accountNumber string) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return Account{}, store.failWith
	}
	for _, account := range store.accounts {
		if account.ExternalAccountNumber == accountNumber {
			return account, nil
		}
	}
	return Account{}, fmt.Errorf("%w: external number %s", ErrAccountNotFound, accountNumber)
}

func (store *stubStore) UpdateAccountBalance(_ context.Context, accountID AccountID, balance money.Kobo) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return store.failWith
	}
	account, exists := store.accounts[accountID.String()]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID.String())
	}
	account.BalanceKobo = balance
	store.accounts[accountID.String()] = account
	return nil
}

func (store *stubStore) InsertEntry(_ context.Context, entry Entry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return store.failWith
	}
	if _, exists := store.entryIDByReference[entry.Reference.String()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, entry.Reference.String())
	}
	store.entriesByID[entry.EntryID] = entry
	store.entryIDByReference[entry.Reference.String()] = entry.EntryID
	store.entryOrder = append(store.entryOrder, entry.EntryID)
	return nil
}

func (store *stubStore) GetEntry(_ context.Context, entryID string) (Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return Entry{}, store.failWith
	}
	entry, exists := store.entriesByID[entryID]
	if !exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return entry, nil
}

func (store *stubStore) FindEntryByReference(_ context.Context, reference Reference) (Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return Entry{}, store.failWith
	}
	entryID, exists := store.entryIDByReference[reference.String()]
	if !exists {
		return Entry{}, fmt.Errorf("%w: reference %s", ErrEntryNotFound, reference.String())
	}
	return store.entriesByID[entryID], nil
}

func (store *stubStore) MarkEntryReversed(_ context.Context, entryID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return store.failWith
	}
	entry, exists := store.entriesByID[entryID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	entry.Status = EntryStatusReversed
	store.entriesByID[entryID] = entry
	return nil
}

func (store *stubStore) ListEntries(_ context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return nil, store.failWith
	}
	entries := make([]Entry, 0, limit)
	for index := len(store.entryOrder) - 1; index >= 0 && len(entries) < limit; index-- {
		entry := store.entriesByID[store.entryOrder[index]]
		if entry.AccountID == accountID && entry.RecordedAtUnixUTC < beforeUnixUTC {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (store *stubStore) CreatePendingTransfer(_ context.Context, transfer PendingTransfer) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return store.failWith
	}
	if _, exists := store.pendingIDByOrder[transfer.ExternalOrderID]; exists {
		return fmt.Errorf("%w: order %s", ErrPendingTransferExists, transfer.ExternalOrderID)
	}
	store.pendingByID[transfer.TransferID] = transfer
	store.pendingIDByOrder[transfer.ExternalOrderID] = transfer.TransferID
	return nil
}

func (store *stubStore) FindPendingTransferByOrderID(_ context.Context, externalOrderID string) (PendingTransfer, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return PendingTransfer{}, store.failWith
	}
	transferID, exists := store.pendingIDByOrder[externalOrderID]
	if !exists {
		return PendingTransfer{}, fmt.Errorf("%w: order %s", ErrPendingTransferNotFound, externalOrderID)
	}
	return store.pendingByID[transferID], nil
}

func (store *stubStore) ResolvePendingTransfer(_ context.Context, transferID string, resolvedUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return store.failWith
	}
	transfer, exists := store.pendingByID[transferID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrPendingTransferNotFound, transferID)
	}
	if transfer.Resolved() {
		return fmt.Errorf("%w: %s", ErrPendingTransferResolved, transferID)
	}
	transfer.ResolvedUnixUTC = resolvedUnixUTC
	store.pendingByID[transferID] = transfer
	return nil
}

func (store *stubStore) ListUnresolvedPendingTransfers(_ context.Context, limit int) ([]PendingTransfer, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failWith != nil {
		return nil, store.failWith
	}
	transfers := make([]PendingTransfer, 0, limit)
	for _, transfer := range store.pendingByID {
		if !transfer.Resolved() && len(transfers) < limit {
			transfers = append(transfers, transfer)
		}
	}
	return transfers, nil
}

func (store *stubStore) appliedSum(test *testing.T, accountID AccountID) int64 {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	var sum int64
	for _, entry := range store.entriesByID {
		if entry.AccountID == accountID {
			sum += entry.SignedKobo()
		}
	}
	return sum
}
