package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

const (
	constraintEntryReference  = "wallet_entries_external_reference_key"
	constraintAccountPrimary  = "wallet_accounts_pkey"
	constraintPendingOrderKey = "pending_transfers_external_order_id_key"
	pgUniqueViolationCode     = "23505"

	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectEntry       = "entry"
	errorSubjectPending     = "pending_transfer"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeMigrate        = "migrate"
	errorCodeResolve        = "resolve"
	errorCodeReverse        = "reverse"
	errorCodeUpdate         = "update"

	sqlSchema = `
		create table if not exists wallet_accounts(
			account_id text primary key,
			balance_kobo bigint not null default 0,
			external_account_number text not null unique,
			bank_code text not null,
			created_at bigint not null
		);
		create table if not exists wallet_entries(
			entry_id text primary key,
			account_id text not null references wallet_accounts(account_id),
			direction text not null,
			amount_kobo bigint not null,
			balance_before_kobo bigint not null,
			external_reference text not null unique,
			narration text not null,
			occurred_at bigint not null,
			recorded_at bigint not null,
			status text not null,
			source text not null,
			metadata jsonb not null default '{}'::jsonb
		);
		create index if not exists wallet_entries_account_recorded_idx
			on wallet_entries(account_id, recorded_at desc);
		create table if not exists pending_transfers(
			transfer_id text primary key,
			account_id text not null references wallet_accounts(account_id),
			external_order_id text not null unique,
			purpose text not null,
			amount_kobo bigint not null,
			created_at bigint not null,
			resolved_at bigint not null default 0
		);
	`

	sqlInsertAccount = `
		insert into wallet_accounts(account_id, balance_kobo, external_account_number, bank_code, created_at)
		values($1, $2, $3, $4, $5)
	`

	sqlSelectAccount = `
		select account_id, balance_kobo, external_account_number, bank_code, created_at
		from wallet_accounts
		where account_id = $1
	`

	sqlSelectAccountForUpdate = sqlSelectAccount + `
		for update
	`

	sqlSelectAccountByNumber = `
		select account_id, balance_kobo, external_account_number, bank_code, created_at
		from wallet_accounts
		where external_account_number = $1
	`

	sqlUpdateAccountBalance = `
		update wallet_accounts set balance_kobo = $2 where account_id = $1
	`

	sqlInsertEntry = `
		insert into wallet_entries(
			entry_id, account_id, direction, amount_kobo, balance_before_kobo,
			external_reference, narration, occurred_at, recorded_at, status, source, metadata
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, coalesce(nullif($12,''),'{}')::jsonb)
	`

	sqlSelectEntryColumns = `
		select
			entry_id, account_id, direction, amount_kobo, balance_before_kobo,
			external_reference, narration, occurred_at, recorded_at, status, source,
			coalesce(metadata::text,'{}')
		from wallet_entries
	`

	sqlSelectEntryByID = sqlSelectEntryColumns + `
		where entry_id = $1
	`

	sqlSelectEntryByReference = sqlSelectEntryColumns + `
		where external_reference = $1
	`

	sqlMarkEntryReversed = `
		update wallet_entries set status = 'reversed'
		where entry_id = $1 and status = 'applied'
	`

	sqlListEntriesBefore = sqlSelectEntryColumns + `
		where account_id = $1 and recorded_at < $2
		order by recorded_at desc
		limit $3
	`

	sqlInsertPendingTransfer = `
		insert into pending_transfers(transfer_id, account_id, external_order_id, purpose, amount_kobo, created_at, resolved_at)
		values($1, $2, $3, $4, $5, $6, 0)
	`

	sqlSelectPendingByOrderID = `
		select transfer_id, account_id, external_order_id, purpose, amount_kobo, created_at, resolved_at
		from pending_transfers
		where external_order_id = $1
	`

	sqlResolvePendingTransfer = `
		update pending_transfers set resolved_at = $2
		where transfer_id = $1 and resolved_at = 0
	`

	sqlListUnresolvedPending = `
		select transfer_id, account_id, external_order_id, purpose, amount_kobo, created_at, resolved_at
		from pending_transfers
		where resolved_at = 0
		order by created_at asc
		limit $1
	`
)

// querier is the shared surface of a pgx pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements wallet.Store over a pgx connection pool. The unique
// constraint on external_reference is what makes Apply safe under concurrent
// retries; everything else here is plumbing.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Migrate applies the schema idempotently.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.db.Exec(ctx, sqlSchema); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	if store.pool == nil {
		// Already inside a transaction; reuse it.
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateAccount(ctx context.Context, account wallet.Account) error {
	_, err := store.db.Exec(ctx, sqlInsertAccount,
		account.AccountID.String(),
		account.BalanceKobo.Int64(),
		account.ExternalAccountNumber,
		account.BankCode,
		account.CreatedUnixUTC,
	)
	if isUniqueViolation(err, constraintAccountPrimary) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, wallet.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, accountID wallet.AccountID) (wallet.Account, error) {
	return store.scanAccount(store.db.QueryRow(ctx, sqlSelectAccount, accountID.String()))
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID wallet.AccountID) (wallet.Account, error) {
	return store.scanAccount(store.db.QueryRow(ctx, sqlSelectAccountForUpdate, accountID.String()))
}

func (store *Store) FindAccountByExternalNumber(ctx context.Context, accountNumber string) (wallet.Account, error) {
	return store.scanAccount(store.db.QueryRow(ctx, sqlSelectAccountByNumber, accountNumber))
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID wallet.AccountID, balance money.Kobo) error {
	tag, err := store.db.Exec(ctx, sqlUpdateAccountBalance, accountID.String(), balance.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, wallet.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry wallet.Entry) error {
	_, err := store.db.Exec(ctx, sqlInsertEntry,
		entry.EntryID,
		entry.AccountID.String(),
		string(entry.Direction),
		entry.AmountKobo.Int64(),
		entry.BalanceBeforeKobo.Int64(),
		entry.Reference.String(),
		entry.Narration,
		entry.OccurredAtUnixUTC,
		entry.RecordedAtUnixUTC,
		string(entry.Status),
		string(entry.Source),
		entry.Metadata.String(),
	)
	if isUniqueViolation(err, constraintEntryReference) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEntry(ctx context.Context, entryID string) (wallet.Entry, error) {
	return store.scanEntry(store.db.QueryRow(ctx, sqlSelectEntryByID, entryID))
}

func (store *Store) FindEntryByReference(ctx context.Context, reference wallet.Reference) (wallet.Entry, error) {
	return store.scanEntry(store.db.QueryRow(ctx, sqlSelectEntryByReference, reference.String()))
}

func (store *Store) MarkEntryReversed(ctx context.Context, entryID string) error {
	tag, err := store.db.Exec(ctx, sqlMarkEntryReversed, entryID)
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeReverse, err)
	}
	if tag.RowsAffected() == 0 {
		// The update matched nothing: either the entry does not exist or its
		// status already left applied.
		if _, lookupErr := store.GetEntry(ctx, entryID); lookupErr != nil {
			return lookupErr
		}
		return wrapStoreError(errorSubjectEntry, errorCodeReverse, wallet.ErrEntryReversed)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	rows, err := store.db.Query(ctx, sqlListEntriesBefore, accountID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]wallet.Entry, 0, 32)
	for rows.Next() {
		entry, err := store.scanEntryFromRow(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func (store *Store) CreatePendingTransfer(ctx context.Context, transfer wallet.PendingTransfer) error {
	_, err := store.db.Exec(ctx, sqlInsertPendingTransfer,
		transfer.TransferID,
		transfer.AccountID.String(),
		transfer.ExternalOrderID,
		string(transfer.Purpose),
		transfer.AmountKobo.Int64(),
		transfer.CreatedUnixUTC,
	)
	if isUniqueViolation(err, constraintPendingOrderKey) {
		return wrapStoreError(errorSubjectPending, errorCodeDuplicate, wallet.ErrPendingTransferExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) FindPendingTransferByOrderID(ctx context.Context, externalOrderID string) (wallet.PendingTransfer, error) {
	return store.scanPendingTransfer(store.db.QueryRow(ctx, sqlSelectPendingByOrderID, externalOrderID))
}

func (store *Store) ResolvePendingTransfer(ctx context.Context, transferID string, resolvedUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlResolvePendingTransfer, transferID, resolvedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeResolve, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPending, errorCodeResolve, wallet.ErrPendingTransferResolved)
	}
	return nil
}

func (store *Store) ListUnresolvedPendingTransfers(ctx context.Context, limit int) ([]wallet.PendingTransfer, error) {
	rows, err := store.db.Query(ctx, sqlListUnresolvedPending, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPending, errorCodeList, err)
	}
	defer rows.Close()
	transfers := make([]wallet.PendingTransfer, 0, 16)
	for rows.Next() {
		transfer, err := store.scanPendingTransferFromRow(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPending, errorCodeInvalid, err)
		}
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPending, errorCodeList, err)
	}
	return transfers, nil
}

func (store *Store) scanAccount(row pgx.Row) (wallet.Account, error) {
	var (
		accountIDValue string
		balanceValue   int64
		numberValue    string
		bankCodeValue  string
		createdValue   int64
	)
	err := row.Scan(&accountIDValue, &balanceValue, &numberValue, &bankCodeValue, &createdValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, wallet.ErrAccountNotFound)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	accountID, err := wallet.NewAccountID(accountIDValue)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	balance, err := money.NewKobo(balanceValue)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return wallet.Account{
		AccountID:             accountID,
		BalanceKobo:           balance,
		ExternalAccountNumber: numberValue,
		BankCode:              bankCodeValue,
		CreatedUnixUTC:        createdValue,
	}, nil
}

func (store *Store) scanEntry(row pgx.Row) (wallet.Entry, error) {
	entry, err := store.scanEntryFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrEntryNotFound)
		}
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return entry, nil
}

func (store *Store) scanEntryFromRow(row pgx.Row) (wallet.Entry, error) {
	var (
		entryIDValue       string
		accountIDValue     string
		directionValue     string
		amountValue        int64
		balanceBeforeValue int64
		referenceValue     string
		narrationValue     string
		occurredValue      int64
		recordedValue      int64
		statusValue        string
		sourceValue        string
		metadataValue      string
	)
	if err := row.Scan(
		&entryIDValue,
		&accountIDValue,
		&directionValue,
		&amountValue,
		&balanceBeforeValue,
		&referenceValue,
		&narrationValue,
		&occurredValue,
		&recordedValue,
		&statusValue,
		&sourceValue,
		&metadataValue,
	); err != nil {
		return wallet.Entry{}, err
	}
	accountID, err := wallet.NewAccountID(accountIDValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	direction, err := wallet.ParseDirection(directionValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	amount, err := money.NewKobo(amountValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	balanceBefore, err := money.NewKobo(balanceBeforeValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	reference, err := wallet.NewReference(referenceValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	status, err := wallet.ParseEntryStatus(statusValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	source, err := wallet.ParseSource(sourceValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	metadata, err := wallet.NewMetadataJSON(metadataValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	return wallet.Entry{
		EntryID:           entryIDValue,
		AccountID:         accountID,
		Direction:         direction,
		AmountKobo:        amount,
		BalanceBeforeKobo: balanceBefore,
		Reference:         reference,
		Narration:         narrationValue,
		OccurredAtUnixUTC: occurredValue,
		RecordedAtUnixUTC: recordedValue,
		Status:            status,
		Source:            source,
		Metadata:          metadata,
	}, nil
}

func (store *Store) scanPendingTransfer(row pgx.Row) (wallet.PendingTransfer, error) {
	transfer, err := store.scanPendingTransferFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.PendingTransfer{}, wrapStoreError(errorSubjectPending, errorCodeGet, wallet.ErrPendingTransferNotFound)
		}
		return wallet.PendingTransfer{}, wrapStoreError(errorSubjectPending, errorCodeGet, err)
	}
	return transfer, nil
}

func (store *Store) scanPendingTransferFromRow(row pgx.Row) (wallet.PendingTransfer, error) {
	var (
		transferIDValue string
		accountIDValue  string
		orderIDValue    string
		purposeValue    string
		amountValue     int64
		createdValue    int64
		resolvedValue   int64
	)
	if err := row.Scan(
		&transferIDValue,
		&accountIDValue,
		&orderIDValue,
		&purposeValue,
		&amountValue,
		&createdValue,
		&resolvedValue,
	); err != nil {
		return wallet.PendingTransfer{}, err
	}
	accountID, err := wallet.NewAccountID(accountIDValue)
	if err != nil {
		return wallet.PendingTransfer{}, err
	}
	purpose, err := wallet.ParsePurpose(purposeValue)
	if err != nil {
		return wallet.PendingTransfer{}, err
	}
	amount, err := money.NewKobo(amountValue)
	if err != nil {
		return wallet.PendingTransfer{}, err
	}
	return wallet.PendingTransfer{
		TransferID:      transferIDValue,
		AccountID:       accountID,
		ExternalOrderID: orderIDValue,
		Purpose:         purpose,
		AmountKobo:      amount,
		CreatedUnixUTC:  createdValue,
		ResolvedUnixUTC: resolvedValue,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
