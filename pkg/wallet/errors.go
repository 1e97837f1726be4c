package wallet

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet service.
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrDuplicateReference      = errors.New("duplicate reference")
	ErrProviderUnavailable     = errors.New("provider unavailable")
	ErrAccountNotFound         = errors.New("account not found")
	ErrAccountExists           = errors.New("account already exists")
	ErrEntryNotFound           = errors.New("entry not found")
	ErrEntryReversed           = errors.New("entry already reversed")
	ErrPendingTransferNotFound = errors.New("pending transfer not found")
	ErrPendingTransferExists   = errors.New("pending transfer already exists")
	ErrPendingTransferResolved = errors.New("pending transfer already resolved")
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidReference        = errors.New("invalid reference")
	ErrInvalidDirection        = errors.New("invalid direction")
	ErrInvalidEntryStatus      = errors.New("invalid entry status")
	ErrInvalidSource           = errors.New("invalid source event")
	ErrInvalidPurpose          = errors.New("invalid transfer purpose")
	ErrInvalidNarration        = errors.New("invalid narration")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// OperationError tags a failure with where it happened: which ledger
// operation, which subject (account, entry, pending transfer) and a short
// stable code. Callers branch on the wrapped sentinel via errors.Is; the
// segments exist for logs and support tooling.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation names the failing ledger operation.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject names the record kind the operation was acting on.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code is the short machine-stable failure code.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError attaches operation, subject and code segments to err, passing a
// nil err through untouched so stores can wrap unconditionally.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
