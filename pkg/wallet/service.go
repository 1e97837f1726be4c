package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spraayhq/walletcore/pkg/money"
)

// Service contains the ledger domain logic over a Store.
//
// Apply is the only balance-mutating operation. It serializes per account
// through an in-process sharded lock and re-checks the balance under the
// store's row lock, so Authorize stays advisory-only.
type Service struct {
	store    Store
	nowFn    func() int64
	logger   OperationLogger
	listener BalanceListener
	locks    accountLocks
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// OpenAccount provisions a wallet account with its partner-bank coordinates.
func (service *Service) OpenAccount(ctx context.Context, accountID AccountID, externalAccountNumber string, bankCode string) (Account, error) {
	account := Account{
		AccountID:             accountID,
		BalanceKobo:           0,
		ExternalAccountNumber: externalAccountNumber,
		BankCode:              bankCode,
		CreatedUnixUTC:        service.nowFn(),
	}
	operationError := service.store.CreateAccount(ctx, account)
	service.logOperation(ctx, OperationLog{
		Operation: operationOpenAccount,
		AccountID: accountID,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// GetAccount returns the stored account.
func (service *Service) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// CurrentBalance returns the derived balance for an account.
func (service *Service) CurrentBalance(ctx context.Context, accountID AccountID) (money.Kobo, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.BalanceKobo, nil
}

// FindAccountByExternalNumber maps a partner-bank virtual account number back
// to the wallet account it funds.
func (service *Service) FindAccountByExternalNumber(ctx context.Context, accountNumber string) (Account, error) {
	return service.store.FindAccountByExternalNumber(ctx, accountNumber)
}

// Authorize is the read-only pre-check used by every spend path. It never
// mutates state; the caller must still move money through Apply, which
// re-checks under the account lock.
func (service *Service) Authorize(ctx context.Context, accountID AccountID, amount money.PositiveKobo) (Authorization, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{
		OK:          amount.ToKobo() <= account.BalanceKobo,
		BalanceKobo: account.BalanceKobo,
	}, nil
}

// CheckAndReserve is Authorize with fast-fail semantics: it returns
// ErrInsufficientBalance instead of OK=false and mints an opaque token for
// request correlation. No funds are held.
func (service *Service) CheckAndReserve(ctx context.Context, accountID AccountID, amount money.PositiveKobo) (Authorization, error) {
	authorization, err := service.Authorize(ctx, accountID, amount)
	if err != nil {
		return Authorization{}, err
	}
	if !authorization.OK {
		return Authorization{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, authorization.BalanceKobo.Int64(), amount.Int64())
	}
	authorization.Token = uuid.NewString()
	return authorization, nil
}

// ReserveReference mints a fresh reference when candidate is empty, otherwise
// validates that the candidate has not already been consumed by an entry.
func (service *Service) ReserveReference(ctx context.Context, candidate string) (Reference, error) {
	if candidate == "" {
		return GenerateReference(), nil
	}
	reference, err := NewReference(candidate)
	if err != nil {
		return Reference{}, err
	}
	_, err = service.store.FindEntryByReference(ctx, reference)
	if err == nil {
		return Reference{}, fmt.Errorf("%w: %s", ErrDuplicateReference, reference.String())
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return Reference{}, err
	}
	return reference, nil
}

// Apply appends one ledger entry and updates the account balance in a single
// transaction. It is idempotent on the entry reference: a replay returns the
// previously applied entry with applied=false and no balance change. A debit
// that would drive the balance negative fails with ErrInsufficientBalance.
func (service *Service) Apply(ctx context.Context, input ApplyInput) (Entry, bool, error) {
	unlock := service.locks.acquire(input.accountID)
	defer unlock()

	var (
		entry   Entry
		applied bool
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		existing, err := transactionStore.FindEntryByReference(ctx, input.reference)
		if err == nil {
			entry = existing
			return nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return err
		}
		account, err := transactionStore.GetAccountForUpdate(ctx, input.accountID)
		if err != nil {
			return err
		}
		newBalance := account.BalanceKobo + input.amount.ToKobo()
		if input.direction == DirectionDebit {
			if input.amount.ToKobo() > account.BalanceKobo {
				return fmt.Errorf("%w: balance %d, debit %d", ErrInsufficientBalance, account.BalanceKobo.Int64(), input.amount.Int64())
			}
			newBalance = account.BalanceKobo - input.amount.ToKobo()
		}
		entry = Entry{
			EntryID:           uuid.NewString(),
			AccountID:         input.accountID,
			Direction:         input.direction,
			AmountKobo:        input.amount.ToKobo(),
			BalanceBeforeKobo: account.BalanceKobo,
			Reference:         input.reference,
			Narration:         input.narration,
			OccurredAtUnixUTC: input.occurredAt,
			RecordedAtUnixUTC: service.nowFn(),
			Status:            EntryStatusApplied,
			Source:            input.source,
			Metadata:          input.metadata,
		}
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		applied = true
		return transactionStore.UpdateAccountBalance(ctx, input.accountID, newBalance)
	})
	if errors.Is(operationError, ErrDuplicateReference) {
		// Lost an insert race to a concurrent retry of the same reference.
		// The winner's entry is the authoritative result.
		existing, lookupErr := service.store.FindEntryByReference(ctx, input.reference)
		if lookupErr == nil {
			entry = existing
			applied = false
			operationError = nil
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationApply,
		AccountID: input.accountID,
		Direction: input.direction,
		Amount:    input.amount.ToKobo(),
		Reference: input.reference,
		Source:    input.source,
		Error:     operationError,
	})
	if operationError != nil {
		return Entry{}, false, operationError
	}
	if applied {
		service.emitBalanceEvent(ctx, entry)
	}
	return entry, applied, nil
}

// Reverse marks an entry reversed and applies the equal-and-opposite
// adjustment entry. History is never deleted; the adjustment carries a
// reference derived from the original so the pair stays linked.
func (service *Service) Reverse(ctx context.Context, entryID string, reason string) (Entry, error) {
	original, err := service.store.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}

	unlock := service.locks.acquire(original.AccountID)
	defer unlock()

	var adjustment Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status == EntryStatusReversed {
			return fmt.Errorf("%w: %s", ErrEntryReversed, entryID)
		}
		account, err := transactionStore.GetAccountForUpdate(ctx, current.AccountID)
		if err != nil {
			return err
		}
		adjustmentDirection := current.Direction.Opposite()
		newBalance := account.BalanceKobo + current.AmountKobo
		if adjustmentDirection == DirectionDebit {
			if current.AmountKobo > account.BalanceKobo {
				return fmt.Errorf("%w: balance %d, reversal debit %d", ErrInsufficientBalance, account.BalanceKobo.Int64(), current.AmountKobo.Int64())
			}
			newBalance = account.BalanceKobo - current.AmountKobo
		}
		adjustmentReference, err := current.Reference.Derive(suffixReversal)
		if err != nil {
			return err
		}
		metadata, err := NewMetadataJSON(fmt.Sprintf(`{"reversed_entry_id":%q,"reason":%q}`, entryID, reason))
		if err != nil {
			return err
		}
		if err := transactionStore.MarkEntryReversed(ctx, entryID); err != nil {
			return err
		}
		adjustment = Entry{
			EntryID:           uuid.NewString(),
			AccountID:         current.AccountID,
			Direction:         adjustmentDirection,
			AmountKobo:        current.AmountKobo,
			BalanceBeforeKobo: account.BalanceKobo,
			Reference:         adjustmentReference,
			Narration:         reason,
			OccurredAtUnixUTC: service.nowFn(),
			RecordedAtUnixUTC: service.nowFn(),
			Status:            EntryStatusApplied,
			Source:            SourceAdjustment,
			Metadata:          metadata,
		}
		if err := transactionStore.InsertEntry(ctx, adjustment); err != nil {
			return err
		}
		return transactionStore.UpdateAccountBalance(ctx, current.AccountID, newBalance)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReverse,
		AccountID: original.AccountID,
		Amount:    original.AmountKobo,
		Reference: original.Reference,
		Source:    SourceAdjustment,
		Error:     operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	service.emitBalanceEvent(ctx, adjustment)
	return adjustment, nil
}

// ListEntries lists ledger entries for an account before a cutoff time.
func (service *Service) ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, accountID, beforeUnixUTC, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) emitBalanceEvent(ctx context.Context, entry Entry) {
	if service.listener == nil {
		return
	}
	newBalance := entry.BalanceBeforeKobo + entry.AmountKobo
	if entry.Direction == DirectionDebit {
		newBalance = entry.BalanceBeforeKobo - entry.AmountKobo
	}
	service.listener.BalanceChanged(ctx, BalanceEvent{
		AccountID:      entry.AccountID,
		Direction:      entry.Direction,
		AmountKobo:     entry.AmountKobo,
		NewBalanceKobo: newBalance,
		Reference:      entry.Reference,
		EntryID:        entry.EntryID,
		Source:         entry.Source,
	})
}
