package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

const (
	pathNameEnquiry  = "/v1/accounts/enquiry"
	pathTransfers    = "/v1/transfers"
	pathFeeSchedule  = "/v1/fees"
	pathTransactions = "/v1/transactions"

	failureReasonMalformed = "malformed provider response"
)

// TransferRequest describes one outbound debit over the bank rail.
type TransferRequest struct {
	SourceAccountNumber      string
	DestinationAccountNumber string
	DestinationBankCode      string
	Amount                   money.PositiveKobo
	Narration                string
	Reference                wallet.Reference
}

// TransferResult is the normalized outcome of a bank transfer call. Business
// rejections (invalid destination, limits) arrive as Success=false with a
// reason code and are never surfaced as Go errors.
type TransferResult struct {
	Success           bool
	ProviderReference string
	FailureReason     string
	OccurredAtUnixUTC int64
}

// ProviderTransaction is one normalized record from a provider's transaction
// history, consumed by the reconciliation jobs.
type ProviderTransaction struct {
	Reference         string
	AccountNumber     string
	Direction         string
	AmountKobo        int64
	Narration         string
	OccurredAtUnixUTC int64
}

// BankClient talks to the partner bank rail.
type BankClient struct {
	api *apiClient
}

// NewBankClient wires a BankClient from injected configuration.
func NewBankClient(config Config) *BankClient {
	return &BankClient{api: newAPIClient(config)}
}

type nameEnquiryResponse struct {
	AccountName string `json:"account_name"`
}

// ResolveAccountName performs the bank's account-name enquiry.
func (client *BankClient) ResolveAccountName(ctx context.Context, accountNumber string, bankCode string) (string, error) {
	query := url.Values{}
	query.Set("account_number", accountNumber)
	query.Set("bank_code", bankCode)
	response, err := client.api.do(ctx, http.MethodGet, pathNameEnquiry+"?"+query.Encode(), "", nil)
	if err != nil {
		return "", err
	}
	if !response.ok() {
		return "", fmt.Errorf("name enquiry rejected: status %d", response.statusCode)
	}
	var decoded nameEnquiryResponse
	if err := decodeBody(response, &decoded); err != nil {
		return "", fmt.Errorf("name enquiry: %s", failureReasonMalformed)
	}
	return decoded.AccountName, nil
}

type transferRequestBody struct {
	SourceAccountNumber      string `json:"source_account_number"`
	DestinationAccountNumber string `json:"destination_account_number"`
	DestinationBankCode      string `json:"destination_bank_code"`
	AmountKobo               int64  `json:"amount"`
	Narration                string `json:"narration"`
	Reference                string `json:"reference"`
}

type transferResponseBody struct {
	Status            string `json:"status"`
	ProviderReference string `json:"provider_reference"`
	FailureReason     string `json:"failure_reason"`
	OccurredAtUnixUTC int64  `json:"occurred_at"`
}

// Transfer debits the source wallet account toward the destination. The
// reference rides the Idempotency-Key header so provider-side retries after
// a client timeout cannot double-debit.
func (client *BankClient) Transfer(ctx context.Context, request TransferRequest) (TransferResult, error) {
	body := transferRequestBody{
		SourceAccountNumber:      request.SourceAccountNumber,
		DestinationAccountNumber: request.DestinationAccountNumber,
		DestinationBankCode:      request.DestinationBankCode,
		AmountKobo:               request.Amount.Int64(),
		Narration:                request.Narration,
		Reference:                request.Reference.String(),
	}
	response, err := client.api.do(ctx, http.MethodPost, pathTransfers, request.Reference.String(), body)
	if err != nil {
		return TransferResult{}, err
	}
	var decoded transferResponseBody
	if err := decodeBody(response, &decoded); err != nil {
		return TransferResult{Success: false, FailureReason: failureReasonMalformed}, nil
	}
	if !response.ok() || decoded.Status != "success" {
		reason := decoded.FailureReason
		if reason == "" {
			reason = fmt.Sprintf("provider status %d", response.statusCode)
		}
		return TransferResult{Success: false, FailureReason: reason}, nil
	}
	return TransferResult{
		Success:           true,
		ProviderReference: decoded.ProviderReference,
		OccurredAtUnixUTC: decoded.OccurredAtUnixUTC,
	}, nil
}

type feeScheduleResponse struct {
	FeeKobo int64 `json:"fee"`
}

// ProviderFee fetches the bank's live fee for an amount. It implements
// money.ScheduleSource; failures propagate so callers never debit against a
// stale fee.
func (client *BankClient) ProviderFee(ctx context.Context, amount money.PositiveKobo, feeType money.FeeType) (money.Kobo, error) {
	query := url.Values{}
	query.Set("type", string(feeType))
	query.Set("amount", strconv.FormatInt(amount.Int64(), 10))
	response, err := client.api.do(ctx, http.MethodGet, pathFeeSchedule+"?"+query.Encode(), "", nil)
	if err != nil {
		return 0, err
	}
	if !response.ok() {
		return 0, fmt.Errorf("fee schedule rejected: status %d", response.statusCode)
	}
	var decoded feeScheduleResponse
	if err := decodeBody(response, &decoded); err != nil {
		return 0, fmt.Errorf("fee schedule: %s", failureReasonMalformed)
	}
	return money.NewKobo(decoded.FeeKobo)
}

type transactionHistoryResponse struct {
	Transactions []providerTransactionBody `json:"transactions"`
}

type providerTransactionBody struct {
	Reference         string `json:"reference"`
	AccountNumber     string `json:"account_number"`
	Direction         string `json:"direction"`
	AmountKobo        int64  `json:"amount"`
	Narration         string `json:"narration"`
	OccurredAtUnixUTC int64  `json:"occurred_at"`
}

// RecentTransactions returns the provider's activity window starting at
// sinceUnixUTC, the reconciliation job's source of truth.
func (client *BankClient) RecentTransactions(ctx context.Context, sinceUnixUTC int64) ([]ProviderTransaction, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatInt(sinceUnixUTC, 10))
	response, err := client.api.do(ctx, http.MethodGet, pathTransactions+"?"+query.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	if !response.ok() {
		return nil, fmt.Errorf("transaction history rejected: status %d", response.statusCode)
	}
	var decoded transactionHistoryResponse
	if err := decodeBody(response, &decoded); err != nil {
		return nil, fmt.Errorf("transaction history: %s", failureReasonMalformed)
	}
	transactions := make([]ProviderTransaction, 0, len(decoded.Transactions))
	for _, raw := range decoded.Transactions {
		transactions = append(transactions, ProviderTransaction(raw))
	}
	return transactions, nil
}
