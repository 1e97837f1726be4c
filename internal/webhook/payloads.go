package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names a webhook event family. The bank rail and the exchange each
// deliver their own kinds; anything else is ignored, never rejected.
type Kind string

const (
	KindBankCredit     Kind = "bank.transfer.credit"
	KindBankDebit      Kind = "bank.transfer.debit"
	KindOrderCompleted Kind = "exchange.order.completed"
	KindOrderFailed    Kind = "exchange.order.failed"
)

type envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// bankTransferPayload is the bank rail's settlement notification. The
// provider addresses wallets by virtual account number, not account id.
type bankTransferPayload struct {
	TransactionReference string `json:"transaction_reference"`
	AccountNumber        string `json:"account_number"`
	AmountKobo           int64  `json:"amount"`
	Narration            string `json:"narration"`
	OccurredAtUnixUTC    int64  `json:"occurred_at"`
}

func (payload bankTransferPayload) validate() error {
	if strings.TrimSpace(payload.TransactionReference) == "" {
		return fmt.Errorf("missing transaction_reference")
	}
	if strings.TrimSpace(payload.AccountNumber) == "" {
		return fmt.Errorf("missing account_number")
	}
	if payload.AmountKobo <= 0 {
		return fmt.Errorf("non-positive amount %d", payload.AmountKobo)
	}
	return nil
}

// orderPayload is the exchange's terminal-state notification for an
// instant order, swap or withdrawal.
type orderPayload struct {
	OrderID           string `json:"order_id"`
	Status            string `json:"status"`
	AmountKobo        int64  `json:"amount"`
	FailureReason     string `json:"failure_reason"`
	OccurredAtUnixUTC int64  `json:"occurred_at"`
}

func (payload orderPayload) validate() error {
	if strings.TrimSpace(payload.OrderID) == "" {
		return fmt.Errorf("missing order_id")
	}
	return nil
}
