package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	pathExchangeBalance   = "/v1/wallets/balance"
	pathInstantOrders     = "/v1/instant-orders"
	pathSwapQuotations    = "/v1/swap-quotations"
	pathExchangeWithdraw  = "/v1/withdrawals"
	pathExchangeActivity  = "/v1/activity"
	pathOrderStatusFormat = "/v1/instant-orders/%s"
)

// OrderKind selects the side of an instant order.
type OrderKind string

const (
	OrderKindBuy  OrderKind = "buy"
	OrderKindSell OrderKind = "sell"
)

// ExchangeStream names one crypto activity stream the reconciliation job reads.
type ExchangeStream string

const (
	StreamDeposits    ExchangeStream = "deposits"
	StreamWithdrawals ExchangeStream = "withdrawals"
	StreamSwaps       ExchangeStream = "swaps"
)

// InstantOrderRequest creates a buy or sell order on the exchange.
type InstantOrderRequest struct {
	Kind       OrderKind
	Currency   string
	AmountKobo int64
	Reference  string
}

// Order is a provider-side order awaiting confirmation.
type Order struct {
	OrderID   string
	Status    string
	Confirmed bool
}

// SwapQuote is a priced swap offer valid until ExpiresAtUnixUTC.
type SwapQuote struct {
	QuoteID          string
	FromCurrency     string
	ToCurrency       string
	ReceiveAmount    string
	ExpiresAtUnixUTC int64
}

// WithdrawRequest moves crypto off the exchange.
type WithdrawRequest struct {
	Currency    string
	Amount      string
	Destination string
	Reference   string
}

// ExchangeClient talks to the crypto exchange.
type ExchangeClient struct {
	api *apiClient
}

// NewExchangeClient wires an ExchangeClient from injected configuration.
func NewExchangeClient(config Config) *ExchangeClient {
	return &ExchangeClient{api: newAPIClient(config)}
}

type exchangeBalanceResponse struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

// WalletBalance returns the exchange-side balance for a currency as a
// decimal string; crypto precision never enters ledger arithmetic.
func (client *ExchangeClient) WalletBalance(ctx context.Context, currency string) (string, error) {
	query := url.Values{}
	query.Set("currency", currency)
	response, err := client.api.do(ctx, http.MethodGet, pathExchangeBalance+"?"+query.Encode(), "", nil)
	if err != nil {
		return "", err
	}
	if !response.ok() {
		return "", fmt.Errorf("balance rejected: status %d", response.statusCode)
	}
	var decoded exchangeBalanceResponse
	if err := decodeBody(response, &decoded); err != nil {
		return "", fmt.Errorf("balance: %s", failureReasonMalformed)
	}
	return decoded.Balance, nil
}

type orderResponseBody struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Confirmed bool   `json:"confirmed"`
}

// CreateInstantOrder places a buy/sell order. Callers must record a
// PendingTransfer before invoking this; confirmation arrives via webhook.
func (client *ExchangeClient) CreateInstantOrder(ctx context.Context, request InstantOrderRequest) (Order, error) {
	payload := map[string]any{
		"kind":      string(request.Kind),
		"currency":  request.Currency,
		"amount":    strconv.FormatInt(request.AmountKobo, 10),
		"reference": request.Reference,
	}
	response, err := client.api.do(ctx, http.MethodPost, pathInstantOrders, request.Reference, payload)
	if err != nil {
		return Order{}, err
	}
	if !response.ok() {
		return Order{}, fmt.Errorf("instant order rejected: status %d", response.statusCode)
	}
	var decoded orderResponseBody
	if err := decodeBody(response, &decoded); err != nil {
		return Order{}, fmt.Errorf("instant order: %s", failureReasonMalformed)
	}
	return Order(decoded), nil
}

// ConfirmInstantOrder confirms a previously created order.
func (client *ExchangeClient) ConfirmInstantOrder(ctx context.Context, orderID string) (Order, error) {
	response, err := client.api.do(ctx, http.MethodPost, fmt.Sprintf(pathOrderStatusFormat, orderID)+"/confirm", orderID, nil)
	if err != nil {
		return Order{}, err
	}
	if !response.ok() {
		return Order{}, fmt.Errorf("order confirm rejected: status %d", response.statusCode)
	}
	var decoded orderResponseBody
	if err := decodeBody(response, &decoded); err != nil {
		return Order{}, fmt.Errorf("order confirm: %s", failureReasonMalformed)
	}
	return Order(decoded), nil
}

// OrderStatus polls an order, used by the pending-order advancer when the
// completion webhook never arrived.
func (client *ExchangeClient) OrderStatus(ctx context.Context, orderID string) (Order, error) {
	response, err := client.api.do(ctx, http.MethodGet, fmt.Sprintf(pathOrderStatusFormat, orderID), "", nil)
	if err != nil {
		return Order{}, err
	}
	if !response.ok() {
		return Order{}, fmt.Errorf("order status rejected: status %d", response.statusCode)
	}
	var decoded orderResponseBody
	if err := decodeBody(response, &decoded); err != nil {
		return Order{}, fmt.Errorf("order status: %s", failureReasonMalformed)
	}
	return Order(decoded), nil
}

type swapQuoteResponse struct {
	QuoteID          string `json:"quote_id"`
	FromCurrency     string `json:"from_currency"`
	ToCurrency       string `json:"to_currency"`
	ReceiveAmount    string `json:"receive_amount"`
	ExpiresAtUnixUTC int64  `json:"expires_at"`
}

// SwapQuotation prices a currency swap.
func (client *ExchangeClient) SwapQuotation(ctx context.Context, fromCurrency string, toCurrency string, amount string) (SwapQuote, error) {
	payload := map[string]any{
		"from_currency": fromCurrency,
		"to_currency":   toCurrency,
		"amount":        amount,
	}
	response, err := client.api.do(ctx, http.MethodPost, pathSwapQuotations, "", payload)
	if err != nil {
		return SwapQuote{}, err
	}
	if !response.ok() {
		return SwapQuote{}, fmt.Errorf("swap quotation rejected: status %d", response.statusCode)
	}
	var decoded swapQuoteResponse
	if err := decodeBody(response, &decoded); err != nil {
		return SwapQuote{}, fmt.Errorf("swap quotation: %s", failureReasonMalformed)
	}
	return SwapQuote(decoded), nil
}

// ConfirmSwap executes a quoted swap.
func (client *ExchangeClient) ConfirmSwap(ctx context.Context, quoteID string) (Order, error) {
	response, err := client.api.do(ctx, http.MethodPost, pathSwapQuotations+"/"+quoteID+"/confirm", quoteID, nil)
	if err != nil {
		return Order{}, err
	}
	if !response.ok() {
		return Order{}, fmt.Errorf("swap confirm rejected: status %d", response.statusCode)
	}
	var decoded orderResponseBody
	if err := decodeBody(response, &decoded); err != nil {
		return Order{}, fmt.Errorf("swap confirm: %s", failureReasonMalformed)
	}
	return Order(decoded), nil
}

// Withdraw moves crypto to an external address. The reference rides the
// idempotency header, mirroring the bank rail.
func (client *ExchangeClient) Withdraw(ctx context.Context, request WithdrawRequest) (Order, error) {
	payload := map[string]any{
		"currency":    request.Currency,
		"amount":      request.Amount,
		"destination": request.Destination,
		"reference":   request.Reference,
	}
	response, err := client.api.do(ctx, http.MethodPost, pathExchangeWithdraw, request.Reference, payload)
	if err != nil {
		return Order{}, err
	}
	if !response.ok() {
		return Order{}, fmt.Errorf("withdrawal rejected: status %d", response.statusCode)
	}
	var decoded orderResponseBody
	if err := decodeBody(response, &decoded); err != nil {
		return Order{}, fmt.Errorf("withdrawal: %s", failureReasonMalformed)
	}
	return Order(decoded), nil
}

// RecentActivity returns one crypto stream's normalized window for the
// reconciliation job.
func (client *ExchangeClient) RecentActivity(ctx context.Context, stream ExchangeStream, sinceUnixUTC int64) ([]ProviderTransaction, error) {
	query := url.Values{}
	query.Set("stream", string(stream))
	query.Set("since", strconv.FormatInt(sinceUnixUTC, 10))
	response, err := client.api.do(ctx, http.MethodGet, pathExchangeActivity+"?"+query.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	if !response.ok() {
		return nil, fmt.Errorf("activity rejected: status %d", response.statusCode)
	}
	var decoded transactionHistoryResponse
	if err := decodeBody(response, &decoded); err != nil {
		return nil, fmt.Errorf("activity: %s", failureReasonMalformed)
	}
	transactions := make([]ProviderTransaction, 0, len(decoded.Transactions))
	for _, raw := range decoded.Transactions {
		transactions = append(transactions, ProviderTransaction(raw))
	}
	return transactions, nil
}
