package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/internal/gateway"
	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 500
)

type openAccountRequest struct {
	AccountID             string `json:"account_id" binding:"required"`
	ExternalAccountNumber string `json:"external_account_number" binding:"required"`
	BankCode              string `json:"bank_code" binding:"required"`
}

type authorizeRequest struct {
	AmountKobo int64 `json:"amount_kobo" binding:"required"`
}

type transferRequest struct {
	AccountID                string `json:"account_id" binding:"required"`
	DestinationAccountNumber string `json:"destination_account_number" binding:"required"`
	DestinationBankCode      string `json:"destination_bank_code" binding:"required"`
	AmountKobo               int64  `json:"amount_kobo" binding:"required"`
	Narration                string `json:"narration"`
	Reference                string `json:"reference"`
}

type feeQuoteRequest struct {
	AmountKobo int64  `json:"amount_kobo" binding:"required"`
	FeeType    string `json:"fee_type" binding:"required"`
}

type reverseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type feeQuoteResponse struct {
	AmountKobo      int64 `json:"amount_kobo"`
	ProviderFeeKobo int64 `json:"provider_fee_kobo"`
	AppFeeKobo      int64 `json:"app_fee_kobo"`
	NetKobo         int64 `json:"net_kobo"`
}

type entryResponse struct {
	EntryID        string `json:"entry_id"`
	AccountID      string `json:"account_id"`
	Direction      string `json:"direction"`
	AmountKobo     int64  `json:"amount_kobo"`
	Amount         string `json:"amount"`
	Reference      string `json:"reference"`
	Narration      string `json:"narration"`
	OccurredAtUnix int64  `json:"occurred_at"`
	RecordedAtUnix int64  `json:"recorded_at"`
	Status         string `json:"status"`
	Source         string `json:"source"`
}

func toEntryResponse(entry wallet.Entry) entryResponse {
	return entryResponse{
		EntryID:        entry.EntryID,
		AccountID:      entry.AccountID.String(),
		Direction:      string(entry.Direction),
		AmountKobo:     entry.AmountKobo.Int64(),
		Amount:         entry.AmountKobo.DecimalString(),
		Reference:      entry.Reference.String(),
		Narration:      entry.Narration,
		OccurredAtUnix: entry.OccurredAtUnixUTC,
		RecordedAtUnix: entry.RecordedAtUnixUTC,
		Status:         string(entry.Status),
		Source:         string(entry.Source),
	}
}

func toFeeQuoteResponse(quote money.FeeQuote) feeQuoteResponse {
	return feeQuoteResponse{
		AmountKobo:      quote.Amount.Int64(),
		ProviderFeeKobo: quote.ProviderFee.Int64(),
		AppFeeKobo:      quote.AppFee.Int64(),
		NetKobo:         quote.Net.Int64(),
	}
}

func (server *Server) handleOpenAccount(ctx *gin.Context) {
	var request openAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	accountID, err := wallet.NewAccountID(request.AccountID)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	account, err := server.ledger.OpenAccount(ctx.Request.Context(), accountID, request.ExternalAccountNumber, request.BankCode)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"account_id":              account.AccountID.String(),
		"external_account_number": account.ExternalAccountNumber,
		"bank_code":               account.BankCode,
		"balance_kobo":            account.BalanceKobo.Int64(),
	})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	accountID, err := wallet.NewAccountID(ctx.Param("id"))
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	balance, err := server.ledger.CurrentBalance(ctx.Request.Context(), accountID)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"account_id":   accountID.String(),
		"balance_kobo": balance.Int64(),
		"balance":      balance.DecimalString(),
	})
}

func (server *Server) handleListEntries(ctx *gin.Context) {
	accountID, err := wallet.NewAccountID(ctx.Param("id"))
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	before, err := queryInt64(ctx, "before", server.nowFn()+1)
	if err != nil {
		respondError(ctx, http.StatusBadRequest, "validation", "invalid before parameter")
		return
	}
	limit, err := queryInt64(ctx, "limit", defaultEntriesLimit)
	if err != nil || limit <= 0 || limit > maxEntriesLimit {
		respondError(ctx, http.StatusBadRequest, "validation", "invalid limit parameter")
		return
	}
	entries, err := server.ledger.ListEntries(ctx.Request.Context(), accountID, before, int(limit))
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	responses := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, toEntryResponse(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": responses})
}

func (server *Server) handleAuthorize(ctx *gin.Context) {
	accountID, err := wallet.NewAccountID(ctx.Param("id"))
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	var request authorizeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	amount, err := money.NewPositiveKobo(request.AmountKobo)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	authorization, err := server.ledger.Authorize(ctx.Request.Context(), accountID, amount)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":           authorization.OK,
		"balance_kobo": authorization.BalanceKobo.Int64(),
	})
}

// handleTransfer is the outbound debit flow: balance guard, live fee quote,
// provider call with the reserved reference as idempotency key, then the
// ledger debit for the full amount once the provider accepts.
func (server *Server) handleTransfer(ctx *gin.Context) {
	var request transferRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	accountID, err := wallet.NewAccountID(request.AccountID)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	amount, err := money.NewPositiveKobo(request.AmountKobo)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	requestCtx := ctx.Request.Context()

	if _, err := server.ledger.CheckAndReserve(requestCtx, accountID, amount); err != nil {
		server.respondMapped(ctx, err)
		return
	}
	account, err := server.ledger.GetAccount(requestCtx, accountID)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	quote, err := server.calculator.Quote(requestCtx, amount, money.FeeTypeWithdrawal)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	net, err := money.NewPositiveKobo(quote.Net.Int64())
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	reference, err := server.ledger.ReserveReference(requestCtx, request.Reference)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	narration := request.Narration
	if narration == "" {
		narration = "wallet transfer"
	}

	result, err := server.bank.Transfer(requestCtx, gateway.TransferRequest{
		SourceAccountNumber:      account.ExternalAccountNumber,
		DestinationAccountNumber: request.DestinationAccountNumber,
		DestinationBankCode:      request.DestinationBankCode,
		Amount:                   net,
		Narration:                narration,
		Reference:                reference,
	})
	if err != nil {
		// Unknown outcome: no debit is taken here. If the provider did move
		// the money, the bank stream reconciliation applies it under the same
		// reference.
		server.respondMapped(ctx, err)
		return
	}
	if !result.Success {
		respondError(ctx, http.StatusUnprocessableEntity, "transfer_rejected", result.FailureReason)
		return
	}

	metadata, err := wallet.NewMetadataJSON(fmt.Sprintf(
		`{"provider_reference":%q,"destination":%q,"provider_fee_kobo":%d,"app_fee_kobo":%d,"net_kobo":%d}`,
		result.ProviderReference, request.DestinationAccountNumber, quote.ProviderFee.Int64(), quote.AppFee.Int64(), quote.Net.Int64(),
	))
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	occurredAt := result.OccurredAtUnixUTC
	if occurredAt == 0 {
		occurredAt = server.nowFn()
	}
	input, err := wallet.NewApplyInput(accountID, wallet.DirectionDebit, amount, reference, narration, occurredAt, wallet.SourceTransfer, metadata)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	entry, _, err := server.ledger.Apply(requestCtx, input)
	if err != nil {
		server.logger.Error("transfer accepted by provider but ledger debit failed",
			zap.String("reference", reference.String()),
			zap.Error(err),
		)
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"entry":              toEntryResponse(entry),
		"fees":               toFeeQuoteResponse(quote),
		"provider_reference": result.ProviderReference,
	})
}

func (server *Server) handleFeeQuote(ctx *gin.Context) {
	var request feeQuoteRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	amount, err := money.NewPositiveKobo(request.AmountKobo)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	feeType, err := money.ParseFeeType(request.FeeType)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	quote, err := server.calculator.Quote(ctx.Request.Context(), amount, feeType)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toFeeQuoteResponse(quote))
}

func (server *Server) handleReverse(ctx *gin.Context) {
	var request reverseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	adjustment, err := server.ledger.Reverse(ctx.Request.Context(), ctx.Param("id"), request.Reason)
	if err != nil {
		server.respondMapped(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"adjustment": toEntryResponse(adjustment)})
}

func queryInt64(ctx *gin.Context, name string, fallback int64) (int64, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func respondError(ctx *gin.Context, status int, code string, message string) {
	ctx.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondMapped translates the domain error taxonomy to HTTP. Provider
// internals never leak past the stable codes.
func (server *Server) respondMapped(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientBalance):
		respondError(ctx, http.StatusUnprocessableEntity, "insufficient_balance", "balance too low for requested amount")
	case errors.Is(err, wallet.ErrDuplicateReference):
		respondError(ctx, http.StatusConflict, "duplicate_reference", "reference already consumed")
	case errors.Is(err, wallet.ErrAccountNotFound):
		respondError(ctx, http.StatusNotFound, "account_not_found", "unknown account")
	case errors.Is(err, wallet.ErrAccountExists):
		respondError(ctx, http.StatusConflict, "account_exists", "account already exists")
	case errors.Is(err, wallet.ErrEntryNotFound):
		respondError(ctx, http.StatusNotFound, "entry_not_found", "unknown entry")
	case errors.Is(err, wallet.ErrEntryReversed):
		respondError(ctx, http.StatusConflict, "entry_reversed", "entry already reversed")
	case errors.Is(err, wallet.ErrPendingTransferExists):
		respondError(ctx, http.StatusConflict, "duplicate_order", "order already tracked")
	case errors.Is(err, wallet.ErrPendingTransferNotFound):
		respondError(ctx, http.StatusNotFound, "order_not_found", "unknown order")
	case errors.Is(err, wallet.ErrProviderUnavailable):
		respondError(ctx, http.StatusServiceUnavailable, "provider_unavailable", "transfer outcome unknown, reconciliation will settle")
	case errors.Is(err, money.ErrFeeScheduleUnavailable):
		respondError(ctx, http.StatusServiceUnavailable, "fee_schedule_unavailable", "live fee schedule unavailable")
	case errors.Is(err, money.ErrFeeExceedsAmount):
		respondError(ctx, http.StatusUnprocessableEntity, "fee_exceeds_amount", "fees exceed the requested amount")
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalidFeeType),
		errors.Is(err, wallet.ErrInvalidAccountID),
		errors.Is(err, wallet.ErrInvalidReference),
		errors.Is(err, wallet.ErrInvalidDirection),
		errors.Is(err, wallet.ErrInvalidSource),
		errors.Is(err, wallet.ErrInvalidPurpose),
		errors.Is(err, wallet.ErrInvalidNarration),
		errors.Is(err, wallet.ErrInvalidMetadataJSON):
		respondError(ctx, http.StatusBadRequest, "validation", err.Error())
	default:
		server.logger.Error("unhandled request error", zap.Error(err))
		respondError(ctx, http.StatusInternalServerError, "internal", "internal error")
	}
}
