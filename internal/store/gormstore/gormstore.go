package gormstore

import (
	"context"
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	sqlite "github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore = "store"
	errorSubjectAccount = "account"
	errorSubjectEntry   = "entry"
	errorSubjectPending = "pending_transfer"
	errorCodeCreate     = "create"
	errorCodeDuplicate  = "duplicate"
	errorCodeGet        = "get"
	errorCodeInsert     = "insert"
	errorCodeInvalid    = "invalid"
	errorCodeList       = "list"
	errorCodeMigrate    = "migrate"
	errorCodeResolve    = "resolve"
	errorCodeReverse    = "reverse"
	errorCodeUpdate     = "update"
)

// Store implements wallet.Store using GORM. It serves the sqlite development
// path and doubles as the store exercised by the persistence tests; pgstore
// is the production path.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OpenSQLite opens (and migrates) a sqlite database at path. ":memory:" is
// valid for tests.
func OpenSQLite(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	store := New(db)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// OpenPostgres opens a gorm store over postgres.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Migrate applies the schema.
func (store *Store) Migrate() error {
	err := store.db.AutoMigrate(&Account{}, &WalletEntry{}, &PendingTransfer{})
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account wallet.Account) error {
	model := Account{
		AccountID:             account.AccountID.String(),
		BalanceKobo:           account.BalanceKobo.Int64(),
		ExternalAccountNumber: account.ExternalAccountNumber,
		BankCode:              account.BankCode,
		CreatedAtUnix:         account.CreatedUnixUTC,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, wallet.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, accountID wallet.AccountID) (wallet.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	return store.mapAccount(model, err)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID wallet.AccountID) (wallet.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	return store.mapAccount(model, err)
}

func (store *Store) FindAccountByExternalNumber(ctx context.Context, accountNumber string) (wallet.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("external_account_number = ?", accountNumber).
		Take(&model).Error
	return store.mapAccount(model, err)
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID wallet.AccountID, balance money.Kobo) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Update("balance_kobo", balance.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, wallet.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry wallet.Entry) error {
	model := WalletEntry{
		EntryID:           entry.EntryID,
		AccountID:         entry.AccountID.String(),
		Direction:         string(entry.Direction),
		AmountKobo:        entry.AmountKobo.Int64(),
		BalanceBeforeKobo: entry.BalanceBeforeKobo.Int64(),
		ExternalReference: entry.Reference.String(),
		Narration:         entry.Narration,
		OccurredAtUnix:    entry.OccurredAtUnixUTC,
		RecordedAtUnix:    entry.RecordedAtUnixUTC,
		Status:            string(entry.Status),
		Source:            string(entry.Source),
		Metadata:          datatypesJSON(entry.Metadata.String()),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEntry(ctx context.Context, entryID string) (wallet.Entry, error) {
	var model WalletEntry
	err := store.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Take(&model).Error
	return store.mapEntryResult(model, err)
}

func (store *Store) FindEntryByReference(ctx context.Context, reference wallet.Reference) (wallet.Entry, error) {
	var model WalletEntry
	err := store.db.WithContext(ctx).
		Where("external_reference = ?", reference.String()).
		Take(&model).Error
	return store.mapEntryResult(model, err)
}

func (store *Store) MarkEntryReversed(ctx context.Context, entryID string) error {
	result := store.db.WithContext(ctx).
		Model(&WalletEntry{}).
		Where("entry_id = ? AND status = ?", entryID, string(wallet.EntryStatusApplied)).
		Update("status", string(wallet.EntryStatusReversed))
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeReverse, result.Error)
	}
	if result.RowsAffected == 0 {
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
	var rows []WalletEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND recorded_at_unix < ?", accountID.String(), beforeUnixUTC).
		Order("recorded_at_unix DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapWalletEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) CreatePendingTransfer(ctx context.Context, transfer wallet.PendingTransfer) error {
	model := PendingTransfer{
		TransferID:      transfer.TransferID,
		AccountID:       transfer.AccountID.String(),
		ExternalOrderID: transfer.ExternalOrderID,
		Purpose:         string(transfer.Purpose),
		AmountKobo:      transfer.AmountKobo.Int64(),
		CreatedAtUnix:   transfer.CreatedUnixUTC,
		ResolvedAtUnix:  transfer.ResolvedUnixUTC,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPending, errorCodeDuplicate, wallet.ErrPendingTransferExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) FindPendingTransferByOrderID(ctx context.Context, externalOrderID string) (wallet.PendingTransfer, error) {
	var model PendingTransfer
	err := store.db.WithContext(ctx).
		Where("external_order_id = ?", externalOrderID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.PendingTransfer{}, wrapStoreError(errorSubjectPending, errorCodeGet, wallet.ErrPendingTransferNotFound)
		}
		return wallet.PendingTransfer{}, wrapStoreError(errorSubjectPending, errorCodeGet, err)
	}
	transfer, err := mapPendingTransfer(model)
	if err != nil {
		return wallet.PendingTransfer{}, wrapStoreError(errorSubjectPending, errorCodeInvalid, err)
	}
	return transfer, nil
}

func (store *Store) ResolvePendingTransfer(ctx context.Context, transferID string, resolvedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&PendingTransfer{}).
		Where("transfer_id = ? AND resolved_at_unix = 0", transferID).
		Update("resolved_at_unix", resolvedUnixUTC)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPending, errorCodeResolve, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPending, errorCodeResolve, wallet.ErrPendingTransferResolved)
	}
	return nil
}

func (store *Store) ListUnresolvedPendingTransfers(ctx context.Context, limit int) ([]wallet.PendingTransfer, error) {
	var rows []PendingTransfer
	err := store.db.WithContext(ctx).
		Where("resolved_at_unix = 0").
		Order("created_at_unix ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPending, errorCodeList, err)
	}
	transfers := make([]wallet.PendingTransfer, 0, len(rows))
	for _, row := range rows {
		transfer, err := mapPendingTransfer(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPending, errorCodeInvalid, err)
		}
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}

func (store *Store) mapAccount(model Account, err error) (wallet.Account, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, wallet.ErrAccountNotFound)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	accountID, err := wallet.NewAccountID(model.AccountID)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	balance, err := money.NewKobo(model.BalanceKobo)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return wallet.Account{
		AccountID:             accountID,
		BalanceKobo:           balance,
		ExternalAccountNumber: model.ExternalAccountNumber,
		BankCode:              model.BankCode,
		CreatedUnixUTC:        model.CreatedAtUnix,
	}, nil
}

func (store *Store) mapEntryResult(model WalletEntry, err error) (wallet.Entry, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrEntryNotFound)
		}
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapWalletEntry(model)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func mapWalletEntry(row WalletEntry) (wallet.Entry, error) {
	accountID, err := wallet.NewAccountID(row.AccountID)
	if err != nil {
		return wallet.Entry{}, err
	}
	direction, err := wallet.ParseDirection(row.Direction)
	if err != nil {
		return wallet.Entry{}, err
	}
	amount, err := money.NewKobo(row.AmountKobo)
	if err != nil {
		return wallet.Entry{}, err
	}
	balanceBefore, err := money.NewKobo(row.BalanceBeforeKobo)
	if err != nil {
		return wallet.Entry{}, err
	}
	reference, err := wallet.NewReference(row.ExternalReference)
	if err != nil {
		return wallet.Entry{}, err
	}
	status, err := wallet.ParseEntryStatus(row.Status)
	if err != nil {
		return wallet.Entry{}, err
	}
	source, err := wallet.ParseSource(row.Source)
	if err != nil {
		return wallet.Entry{}, err
	}
	metadata, err := wallet.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return wallet.Entry{}, err
	}
	return wallet.Entry{
		EntryID:           row.EntryID,
		AccountID:         accountID,
		Direction:         direction,
		AmountKobo:        amount,
		BalanceBeforeKobo: balanceBefore,
		Reference:         reference,
		Narration:         row.Narration,
		OccurredAtUnixUTC: row.OccurredAtUnix,
		RecordedAtUnixUTC: row.RecordedAtUnix,
		Status:            status,
		Source:            source,
		Metadata:          metadata,
	}, nil
}

func mapPendingTransfer(row PendingTransfer) (wallet.PendingTransfer, error) {
	accountID, err := wallet.NewAccountID(row.AccountID)
	if err != nil {
		return wallet.PendingTransfer{}, err
	}
	purpose, err := wallet.ParsePurpose(row.Purpose)
	if err != nil {
		return wallet.PendingTransfer{}, err
	}
	amount, err := money.NewKobo(row.AmountKobo)
	if err != nil {
		return wallet.PendingTransfer{}, err
	}
	return wallet.PendingTransfer{
		TransferID:      row.TransferID,
		AccountID:       accountID,
		ExternalOrderID: row.ExternalOrderID,
		Purpose:         purpose,
		AmountKobo:      amount,
		CreatedUnixUTC:  row.CreatedAtUnix,
		ResolvedUnixUTC: row.ResolvedAtUnix,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
