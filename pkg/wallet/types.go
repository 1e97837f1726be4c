package wallet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/spraayhq/walletcore/pkg/money"
)

// AccountID identifies a wallet account.
type AccountID struct {
	value string
}

// Reference uniquely identifies one real-world transfer. It doubles as the
// idempotency key: the ledger never holds more than one entry per reference.
type Reference struct {
	value string
}

// MetadataJSON stores arbitrary request metadata alongside an entry.
type MetadataJSON struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewReference validates and normalizes an external reference.
func NewReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("%w: empty value", ErrInvalidReference)
	}
	return Reference{value: trimmed}, nil
}

// GenerateReference mints a fresh globally unique reference.
func GenerateReference() Reference {
	return Reference{value: referencePrefix + uuid.NewString()}
}

// String returns the normalized reference.
func (reference Reference) String() string {
	return reference.value
}

// Derive appends a suffix, producing a distinct reference tied to this one.
// Reversal adjustments use it so the audit trail links back to the original.
func (reference Reference) Derive(suffix string) (Reference, error) {
	return NewReference(reference.value + referenceDelimiter + suffix)
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// Direction distinguishes money entering from money leaving an account.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// ParseDirection validates a raw direction string.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionCredit, DirectionDebit:
		return Direction(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// Opposite returns the reversing direction.
func (direction Direction) Opposite() Direction {
	if direction == DirectionCredit {
		return DirectionDebit
	}
	return DirectionCredit
}

// EntryStatus defines the entry lifecycle. Entries are persisted applied;
// reversal is the only later transition and is audit-only.
type EntryStatus string

const (
	EntryStatusApplied  EntryStatus = "applied"
	EntryStatusReversed EntryStatus = "reversed"
)

// ParseEntryStatus validates a raw status string.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	switch EntryStatus(raw) {
	case EntryStatusApplied, EntryStatusReversed:
		return EntryStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryStatus, raw)
	}
}

// Source records which component detected the transaction behind an entry.
type Source string

const (
	SourceTransfer       Source = "transfer"
	SourceWebhook        Source = "webhook"
	SourceReconciliation Source = "reconciliation"
	SourceAdjustment     Source = "adjustment"
)

// ParseSource validates a raw source string.
func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceTransfer, SourceWebhook, SourceReconciliation, SourceAdjustment:
		return Source(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
}

// Account is one user wallet. BalanceKobo is derived state: the sum of
// applied credits minus applied debits, maintained only inside Apply.
type Account struct {
	AccountID             AccountID
	BalanceKobo           money.Kobo
	ExternalAccountNumber string
	BankCode              string
	CreatedUnixUTC        int64
}

// Entry is a single immutable line in the ledger.
type Entry struct {
	EntryID           string
	AccountID         AccountID
	Direction         Direction
	AmountKobo        money.Kobo
	BalanceBeforeKobo money.Kobo
	Reference         Reference
	Narration         string
	OccurredAtUnixUTC int64
	RecordedAtUnixUTC int64
	Status            EntryStatus
	Source            Source
	Metadata          MetadataJSON
}

// SignedKobo returns the entry's effect on the balance.
func (entry Entry) SignedKobo() int64 {
	if entry.Direction == DirectionDebit {
		return -entry.AmountKobo.Int64()
	}
	return entry.AmountKobo.Int64()
}

// ApplyInput carries everything Apply needs to append one entry.
type ApplyInput struct {
	accountID  AccountID
	direction  Direction
	amount     money.PositiveKobo
	reference  Reference
	narration  string
	occurredAt int64
	source     Source
	metadata   MetadataJSON
}

// NewApplyInput validates an apply request.
func NewApplyInput(
	accountID AccountID,
	direction Direction,
	amount money.PositiveKobo,
	reference Reference,
	narration string,
	occurredAtUnixUTC int64,
	source Source,
	metadata MetadataJSON,
) (ApplyInput, error) {
	if _, err := ParseDirection(string(direction)); err != nil {
		return ApplyInput{}, err
	}
	if _, err := ParseSource(string(source)); err != nil {
		return ApplyInput{}, err
	}
	if strings.TrimSpace(narration) == "" {
		return ApplyInput{}, fmt.Errorf("%w: empty value", ErrInvalidNarration)
	}
	return ApplyInput{
		accountID:  accountID,
		direction:  direction,
		amount:     amount,
		reference:  reference,
		narration:  narration,
		occurredAt: occurredAtUnixUTC,
		source:     source,
		metadata:   metadata,
	}, nil
}

// AccountID returns the target account.
func (input ApplyInput) AccountID() AccountID { return input.accountID }

// Direction returns the entry direction.
func (input ApplyInput) Direction() Direction { return input.direction }

// Amount returns the entry amount.
func (input ApplyInput) Amount() money.PositiveKobo { return input.amount }

// Reference returns the idempotency reference.
func (input ApplyInput) Reference() Reference { return input.reference }

// TransferPurpose describes what a pending transfer will do once confirmed.
type TransferPurpose string

const (
	PurposeCreditWallet      TransferPurpose = "credit_wallet"
	PurposeCryptoToNairaSwap TransferPurpose = "crypto_to_naira_swap"
	PurposeCryptoWithdrawal  TransferPurpose = "crypto_withdrawal"
)

// ParsePurpose validates a raw purpose string.
func ParsePurpose(raw string) (TransferPurpose, error) {
	switch TransferPurpose(raw) {
	case PurposeCreditWallet, PurposeCryptoToNairaSwap, PurposeCryptoWithdrawal:
		return TransferPurpose(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPurpose, raw)
	}
}

// PendingTransfer tracks an outbound order awaiting provider confirmation.
// It is resolved, never deleted, once the matching entry is applied.
type PendingTransfer struct {
	TransferID      string
	AccountID       AccountID
	ExternalOrderID string
	Purpose         TransferPurpose
	AmountKobo      money.Kobo
	CreatedUnixUTC  int64
	ResolvedUnixUTC int64
}

// Resolved reports whether the transfer reached a terminal state.
func (transfer PendingTransfer) Resolved() bool {
	return transfer.ResolvedUnixUTC != 0
}

// Authorization is the advisory result of a balance pre-check. It does not
// hold funds; Apply re-checks under the account lock.
type Authorization struct {
	OK          bool
	BalanceKobo money.Kobo
	Token       string
}
