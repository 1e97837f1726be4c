package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/internal/gateway"
	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

const nairaCurrency = "NGN"

type createOrderRequest struct {
	AccountID    string `json:"account_id" binding:"required"`
	Purpose      string `json:"purpose" binding:"required"`
	Currency     string `json:"currency" binding:"required"`
	AmountKobo   int64  `json:"amount_kobo"`
	CryptoAmount string `json:"crypto_amount"`
	Destination  string `json:"destination"`
}

// handleCreateOrder initiates an exchange order and records the pending
// transfer that the completion webhook, the activity streams and the order
// advancer all settle against. Settlement is always asynchronous: the wallet
// credit for a sell or swap lands when the order reaches a terminal state,
// never here.
func (server *Server) handleCreateOrder(ctx *gin.Context) {
	var request createOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	accountID, err := wallet.NewAccountID(request.AccountID)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	purpose, err := wallet.ParsePurpose(request.Purpose)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	if _, err := server.ledger.GetAccount(ctx.Request.Context(), accountID); err != nil {
		server.respondMapped(ctx, err)
		return
	}

	switch purpose {
	case wallet.PurposeCreditWallet:
		server.createSellOrder(ctx, accountID, request)
	case wallet.PurposeCryptoToNairaSwap:
		server.createSwapOrder(ctx, accountID, request)
	case wallet.PurposeCryptoWithdrawal:
		server.createWithdrawalOrder(ctx, accountID, request)
	}
}

// createSellOrder sells exchange-held crypto for naira. The pending transfer
// is recorded between order creation and confirmation, so a confirmed order
// can never exist without a row for its webhook to resolve.
func (server *Server) createSellOrder(ctx *gin.Context, accountID wallet.AccountID, request createOrderRequest) {
	requestCtx := ctx.Request.Context()
	amount, err := money.NewPositiveKobo(request.AmountKobo)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	reference, err := server.ledger.ReserveReference(requestCtx, "")
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	order, err := server.exchange.CreateInstantOrder(requestCtx, gateway.InstantOrderRequest{
		Kind:       gateway.OrderKindSell,
		Currency:   request.Currency,
		AmountKobo: amount.Int64(),
		Reference:  reference.String(),
	})
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	if _, err := server.ledger.CreatePendingTransfer(requestCtx, accountID, order.OrderID, wallet.PurposeCreditWallet, amount); err != nil {
		// The unconfirmed order expires on the exchange side.
		server.respondMapped(ctx, err)
		return
	}
	confirmed, err := server.exchange.ConfirmInstantOrder(requestCtx, order.OrderID)
	if err != nil {
		// The pending row is already recorded; the order advancer settles
		// this order whichever way the exchange landed it.
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{
		"order_id":    confirmed.OrderID,
		"status":      confirmed.Status,
		"purpose":     string(wallet.PurposeCreditWallet),
		"amount_kobo": amount.Int64(),
	})
}

// createSwapOrder swaps a crypto balance into naira at a quoted rate. The
// wallet credit amount comes from the quote, converted to kobo at the
// boundary.
func (server *Server) createSwapOrder(ctx *gin.Context, accountID wallet.AccountID, request createOrderRequest) {
	requestCtx := ctx.Request.Context()
	if request.CryptoAmount == "" {
		respondError(ctx, http.StatusBadRequest, "validation", "crypto_amount is required for a swap")
		return
	}
	quote, err := server.exchange.SwapQuotation(requestCtx, request.Currency, nairaCurrency, request.CryptoAmount)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	receiveKobo, err := money.ParseDecimalString(quote.ReceiveAmount)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	receive, err := money.NewPositiveKobo(receiveKobo.Int64())
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	order, err := server.exchange.ConfirmSwap(requestCtx, quote.QuoteID)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	if _, err := server.ledger.CreatePendingTransfer(requestCtx, accountID, order.OrderID, wallet.PurposeCryptoToNairaSwap, receive); err != nil {
		server.logger.Error("swap confirmed but pending transfer not recorded",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{
		"order_id":    order.OrderID,
		"status":      order.Status,
		"purpose":     string(wallet.PurposeCryptoToNairaSwap),
		"amount_kobo": receive.Int64(),
	})
}

// createWithdrawalOrder spends wallet naira to push crypto to an external
// address. The debit is taken once the exchange accepts the withdrawal; a
// failure webhook refunds it through the pending transfer.
func (server *Server) createWithdrawalOrder(ctx *gin.Context, accountID wallet.AccountID, request createOrderRequest) {
	requestCtx := ctx.Request.Context()
	if request.CryptoAmount == "" || request.Destination == "" {
		respondError(ctx, http.StatusBadRequest, "validation", "crypto_amount and destination are required for a withdrawal")
		return
	}
	amount, err := money.NewPositiveKobo(request.AmountKobo)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	if _, err := server.ledger.CheckAndReserve(requestCtx, accountID, amount); err != nil {
		server.respondMapped(ctx, err)
		return
	}
	reference, err := server.ledger.ReserveReference(requestCtx, "")
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	order, err := server.exchange.Withdraw(requestCtx, gateway.WithdrawRequest{
		Currency:    request.Currency,
		Amount:      request.CryptoAmount,
		Destination: request.Destination,
		Reference:   reference.String(),
	})
	if err != nil {
		// Unknown outcome: no debit is taken.
		server.respondMapped(ctx, err)
		return
	}

	debitReference, err := wallet.NewReference("order:" + order.OrderID)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	metadata, err := wallet.NewMetadataJSON(fmt.Sprintf(
		`{"order_id":%q,"currency":%q,"crypto_amount":%q,"destination":%q}`,
		order.OrderID, request.Currency, request.CryptoAmount, request.Destination,
	))
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	input, err := wallet.NewApplyInput(accountID, wallet.DirectionDebit, amount, debitReference, "crypto withdrawal", server.nowFn(), wallet.SourceTransfer, metadata)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	entry, _, err := server.ledger.Apply(requestCtx, input)
	if err != nil {
		server.logger.Error("withdrawal accepted by exchange but ledger debit failed",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		server.respondMapped(ctx, err)
		return
	}
	if _, err := server.ledger.CreatePendingTransfer(requestCtx, accountID, order.OrderID, wallet.PurposeCryptoWithdrawal, amount); err != nil {
		// The debit stands either way; without the row a failure webhook
		// cannot refund automatically, so this needs eyes.
		server.logger.Error("withdrawal debited but pending transfer not recorded",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{
		"order_id":    order.OrderID,
		"status":      order.Status,
		"purpose":     string(wallet.PurposeCryptoWithdrawal),
		"amount_kobo": amount.Int64(),
		"entry":       toEntryResponse(entry),
	})
}
