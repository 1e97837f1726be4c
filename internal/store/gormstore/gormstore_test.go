package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	return store
}

func newTestService(test *testing.T, store *Store) *wallet.Service {
	test.Helper()
	service, err := wallet.NewService(store, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	return service
}

func mustAccountID(test *testing.T, raw string) wallet.AccountID {
	test.Helper()
	accountID, err := wallet.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id %q: %v", raw, err)
	}
	return accountID
}

func mustPositiveKobo(test *testing.T, value int64) money.PositiveKobo {
	test.Helper()
	amount, err := money.NewPositiveKobo(value)
	if err != nil {
		test.Fatalf("positive kobo %d: %v", value, err)
	}
	return amount
}

func mustApplyInput(test *testing.T, accountID wallet.AccountID, direction wallet.Direction, amount int64, reference string) wallet.ApplyInput {
	test.Helper()
	walletReference, err := wallet.NewReference(reference)
	if err != nil {
		test.Fatalf("reference %q: %v", reference, err)
	}
	metadata, err := wallet.NewMetadataJSON("{}")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	input, err := wallet.NewApplyInput(accountID, direction, mustPositiveKobo(test, amount), walletReference, "store test", 1700000000, wallet.SourceTransfer, metadata)
	if err != nil {
		test.Fatalf("apply input: %v", err)
	}
	return input
}

func TestApplyRoundTripThroughSQLite(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service := newTestService(test, store)
	accountID := mustAccountID(test, "acct-sql-1")

	if _, err := service.OpenAccount(context.Background(), accountID, "0123456789", "058"); err != nil {
		test.Fatalf("open account: %v", err)
	}

	entry, applied, err := service.Apply(context.Background(), mustApplyInput(test, accountID, wallet.DirectionCredit, 10000, "sql-ref-1"))
	if err != nil {
		test.Fatalf("apply: %v", err)
	}
	if !applied {
		test.Fatalf("first apply must report applied")
	}

	replay, applied, err := service.Apply(context.Background(), mustApplyInput(test, accountID, wallet.DirectionCredit, 10000, "sql-ref-1"))
	if err != nil {
		test.Fatalf("replay: %v", err)
	}
	if applied || replay.EntryID != entry.EntryID {
		test.Fatalf("replay must return the original entry, got %+v applied=%v", replay, applied)
	}

	balance, err := service.CurrentBalance(context.Background(), accountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 10000 {
		test.Fatalf("expected 10000, got %d", balance)
	}

	entries, err := service.ListEntries(context.Background(), accountID, 1700000001, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference.String() != "sql-ref-1" {
		test.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Metadata.String() != "{}" {
		test.Fatalf("metadata must round-trip, got %q", entries[0].Metadata.String())
	}
}

func TestInsertEntryEnforcesReferenceUniqueness(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service := newTestService(test, store)
	accountID := mustAccountID(test, "acct-sql-2")
	if _, err := service.OpenAccount(context.Background(), accountID, "1111111111", "058"); err != nil {
		test.Fatalf("open account: %v", err)
	}

	reference, err := wallet.NewReference("sql-dup")
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	metadata, err := wallet.NewMetadataJSON("{}")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	entry := wallet.Entry{
		EntryID:           "entry-dup-1",
		AccountID:         accountID,
		Direction:         wallet.DirectionCredit,
		AmountKobo:        100,
		Reference:         reference,
		Narration:         "first",
		RecordedAtUnixUTC: 1700000000,
		Status:            wallet.EntryStatusApplied,
		Source:            wallet.SourceTransfer,
		Metadata:          metadata,
	}
	if err := store.InsertEntry(context.Background(), entry); err != nil {
		test.Fatalf("insert: %v", err)
	}
	entry.EntryID = "entry-dup-2"
	err = store.InsertEntry(context.Background(), entry)
	if !errors.Is(err, wallet.ErrDuplicateReference) {
		test.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestReverseRoundTripThroughSQLite(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service := newTestService(test, store)
	accountID := mustAccountID(test, "acct-sql-3")
	if _, err := service.OpenAccount(context.Background(), accountID, "2222222222", "058"); err != nil {
		test.Fatalf("open account: %v", err)
	}

	entry, _, err := service.Apply(context.Background(), mustApplyInput(test, accountID, wallet.DirectionCredit, 5000, "sql-rev"))
	if err != nil {
		test.Fatalf("apply: %v", err)
	}
	adjustment, err := service.Reverse(context.Background(), entry.EntryID, "provider chargeback")
	if err != nil {
		test.Fatalf("reverse: %v", err)
	}
	if adjustment.Direction != wallet.DirectionDebit || adjustment.AmountKobo != 5000 {
		test.Fatalf("unexpected adjustment %+v", adjustment)
	}

	balance, err := service.CurrentBalance(context.Background(), accountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		test.Fatalf("expected 0 after reversal, got %d", balance)
	}

	original, err := store.GetEntry(context.Background(), entry.EntryID)
	if err != nil {
		test.Fatalf("get entry: %v", err)
	}
	if original.Status != wallet.EntryStatusReversed {
		test.Fatalf("expected reversed status, got %s", original.Status)
	}

	if _, err := service.Reverse(context.Background(), entry.EntryID, "again"); !errors.Is(err, wallet.ErrEntryReversed) {
		test.Fatalf("expected ErrEntryReversed, got %v", err)
	}
}

func TestMarkEntryReversedDistinguishesMissingFromReversed(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service := newTestService(test, store)
	accountID := mustAccountID(test, "acct-sql-6")
	if _, err := service.OpenAccount(context.Background(), accountID, "6666666666", "058"); err != nil {
		test.Fatalf("open account: %v", err)
	}

	if err := store.MarkEntryReversed(context.Background(), "entry-nowhere"); !errors.Is(err, wallet.ErrEntryNotFound) {
		test.Fatalf("expected ErrEntryNotFound for unknown entry, got %v", err)
	}

	entry, _, err := service.Apply(context.Background(), mustApplyInput(test, accountID, wallet.DirectionCredit, 700, "sql-mark"))
	if err != nil {
		test.Fatalf("apply: %v", err)
	}
	if err := store.MarkEntryReversed(context.Background(), entry.EntryID); err != nil {
		test.Fatalf("mark reversed: %v", err)
	}
	if err := store.MarkEntryReversed(context.Background(), entry.EntryID); !errors.Is(err, wallet.ErrEntryReversed) {
		test.Fatalf("expected ErrEntryReversed for reversed entry, got %v", err)
	}
}

func TestPendingTransferRoundTripThroughSQLite(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service := newTestService(test, store)
	accountID := mustAccountID(test, "acct-sql-4")
	if _, err := service.OpenAccount(context.Background(), accountID, "3333333333", "058"); err != nil {
		test.Fatalf("open account: %v", err)
	}

	transfer, err := service.CreatePendingTransfer(context.Background(), accountID, "ord-sql-1", wallet.PurposeCryptoToNairaSwap, mustPositiveKobo(test, 80000))
	if err != nil {
		test.Fatalf("create pending: %v", err)
	}
	if _, err := service.CreatePendingTransfer(context.Background(), accountID, "ord-sql-1", wallet.PurposeCryptoToNairaSwap, mustPositiveKobo(test, 80000)); !errors.Is(err, wallet.ErrPendingTransferExists) {
		test.Fatalf("expected ErrPendingTransferExists, got %v", err)
	}

	open, err := service.ListUnresolvedPendingTransfers(context.Background(), 5)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ExternalOrderID != "ord-sql-1" {
		test.Fatalf("unexpected open transfers %+v", open)
	}

	if err := service.ResolvePendingTransfer(context.Background(), transfer.TransferID); err != nil {
		test.Fatalf("resolve: %v", err)
	}
	found, err := service.FindPendingTransferByOrderID(context.Background(), "ord-sql-1")
	if err != nil {
		test.Fatalf("find: %v", err)
	}
	if !found.Resolved() {
		test.Fatalf("transfer must be resolved")
	}
	if err := service.ResolvePendingTransfer(context.Background(), transfer.TransferID); !errors.Is(err, wallet.ErrPendingTransferResolved) {
		test.Fatalf("expected ErrPendingTransferResolved, got %v", err)
	}
}

func TestAccountLookupsThroughSQLite(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service := newTestService(test, store)
	accountID := mustAccountID(test, "acct-sql-5")
	if _, err := service.OpenAccount(context.Background(), accountID, "4444444444", "033"); err != nil {
		test.Fatalf("open account: %v", err)
	}

	account, err := store.FindAccountByExternalNumber(context.Background(), "4444444444")
	if err != nil {
		test.Fatalf("find by number: %v", err)
	}
	if account.AccountID.String() != "acct-sql-5" || account.BankCode != "033" {
		test.Fatalf("unexpected account %+v", account)
	}

	if _, err := store.FindAccountByExternalNumber(context.Background(), "0000000000"); !errors.Is(err, wallet.ErrAccountNotFound) {
		test.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := service.OpenAccount(context.Background(), accountID, "5555555555", "058"); !errors.Is(err, wallet.ErrAccountExists) {
		test.Fatalf("expected ErrAccountExists, got %v", err)
	}
}
