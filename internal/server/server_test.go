package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/internal/gateway"
	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

type fakeLedger struct {
	accounts map[string]wallet.Account
	entries  map[string]wallet.Entry
	pending  map[string]wallet.PendingTransfer
	applyErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[string]wallet.Account{},
		entries:  map[string]wallet.Entry{},
		pending:  map[string]wallet.PendingTransfer{},
	}
}

func (fake *fakeLedger) OpenAccount(_ context.Context, accountID wallet.AccountID, externalAccountNumber string, bankCode string) (wallet.Account, error) {
	if _, found := fake.accounts[accountID.String()]; found {
		return wallet.Account{}, wallet.ErrAccountExists
	}
	account := wallet.Account{
		AccountID:             accountID,
		ExternalAccountNumber: externalAccountNumber,
		BankCode:              bankCode,
		CreatedUnixUTC:        1700000000,
	}
	fake.accounts[accountID.String()] = account
	return account, nil
}

func (fake *fakeLedger) GetAccount(_ context.Context, accountID wallet.AccountID) (wallet.Account, error) {
	account, found := fake.accounts[accountID.String()]
	if !found {
		return wallet.Account{}, wallet.ErrAccountNotFound
	}
	return account, nil
}

func (fake *fakeLedger) CurrentBalance(ctx context.Context, accountID wallet.AccountID) (money.Kobo, error) {
	account, err := fake.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.BalanceKobo, nil
}

func (fake *fakeLedger) Authorize(ctx context.Context, accountID wallet.AccountID, amount money.PositiveKobo) (wallet.Authorization, error) {
	account, err := fake.GetAccount(ctx, accountID)
	if err != nil {
		return wallet.Authorization{}, err
	}
	return wallet.Authorization{
		OK:          amount.ToKobo() <= account.BalanceKobo,
		BalanceKobo: account.BalanceKobo,
	}, nil
}

func (fake *fakeLedger) CheckAndReserve(ctx context.Context, accountID wallet.AccountID, amount money.PositiveKobo) (wallet.Authorization, error) {
	authorization, err := fake.Authorize(ctx, accountID, amount)
	if err != nil {
		return wallet.Authorization{}, err
	}
	if !authorization.OK {
		return wallet.Authorization{}, wallet.ErrInsufficientBalance
	}
	authorization.Token = "token-test"
	return authorization, nil
}

func (fake *fakeLedger) ReserveReference(_ context.Context, candidate string) (wallet.Reference, error) {
	if candidate == "" {
		candidate = fmt.Sprintf("generated-%d", len(fake.entries)+1)
	}
	if _, found := fake.entries[candidate]; found {
		return wallet.Reference{}, wallet.ErrDuplicateReference
	}
	return wallet.NewReference(candidate)
}

func (fake *fakeLedger) Apply(_ context.Context, input wallet.ApplyInput) (wallet.Entry, bool, error) {
	if fake.applyErr != nil {
		return wallet.Entry{}, false, fake.applyErr
	}
	if existing, found := fake.entries[input.Reference().String()]; found {
		return existing, false, nil
	}
	account := fake.accounts[input.AccountID().String()]
	entry := wallet.Entry{
		EntryID:           fmt.Sprintf("entry-%d", len(fake.entries)+1),
		AccountID:         input.AccountID(),
		Direction:         input.Direction(),
		AmountKobo:        input.Amount().ToKobo(),
		BalanceBeforeKobo: account.BalanceKobo,
		Reference:         input.Reference(),
		Status:            wallet.EntryStatusApplied,
		Source:            wallet.SourceTransfer,
	}
	if input.Direction() == wallet.DirectionDebit {
		account.BalanceKobo -= entry.AmountKobo
	} else {
		account.BalanceKobo += entry.AmountKobo
	}
	fake.accounts[input.AccountID().String()] = account
	fake.entries[input.Reference().String()] = entry
	return entry, true, nil
}

func (fake *fakeLedger) Reverse(_ context.Context, entryID string, reason string) (wallet.Entry, error) {
	for _, entry := range fake.entries {
		if entry.EntryID == entryID {
			adjustment := entry
			adjustment.EntryID = entryID + "-adj"
			adjustment.Direction = entry.Direction.Opposite()
			adjustment.Narration = reason
			return adjustment, nil
		}
	}
	return wallet.Entry{}, wallet.ErrEntryNotFound
}

func (fake *fakeLedger) ListEntries(context.Context, wallet.AccountID, int64, int) ([]wallet.Entry, error) {
	entries := make([]wallet.Entry, 0, len(fake.entries))
	for _, entry := range fake.entries {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (fake *fakeLedger) CreatePendingTransfer(_ context.Context, accountID wallet.AccountID, externalOrderID string, purpose wallet.TransferPurpose, amount money.PositiveKobo) (wallet.PendingTransfer, error) {
	if _, found := fake.pending[externalOrderID]; found {
		return wallet.PendingTransfer{}, wallet.ErrPendingTransferExists
	}
	transfer := wallet.PendingTransfer{
		TransferID:      "pt-" + externalOrderID,
		AccountID:       accountID,
		ExternalOrderID: externalOrderID,
		Purpose:         purpose,
		AmountKobo:      amount.ToKobo(),
		CreatedUnixUTC:  1700000000,
	}
	fake.pending[externalOrderID] = transfer
	return transfer, nil
}

func (fake *fakeLedger) FindAccountByExternalNumber(_ context.Context, accountNumber string) (wallet.Account, error) {
	for _, account := range fake.accounts {
		if account.ExternalAccountNumber == accountNumber {
			return account, nil
		}
	}
	return wallet.Account{}, wallet.ErrAccountNotFound
}

func (fake *fakeLedger) FindPendingTransferByOrderID(_ context.Context, externalOrderID string) (wallet.PendingTransfer, error) {
	transfer, found := fake.pending[externalOrderID]
	if !found {
		return wallet.PendingTransfer{}, wallet.ErrPendingTransferNotFound
	}
	return transfer, nil
}

func (fake *fakeLedger) ResolvePendingTransfer(_ context.Context, transferID string) error {
	for orderID, transfer := range fake.pending {
		if transfer.TransferID != transferID {
			continue
		}
		if transfer.ResolvedUnixUTC != 0 {
			return wallet.ErrPendingTransferResolved
		}
		transfer.ResolvedUnixUTC = 1700000100
		fake.pending[orderID] = transfer
		return nil
	}
	return wallet.ErrPendingTransferNotFound
}

type fakeBank struct {
	result      gateway.TransferResult
	err         error
	gotRequests []gateway.TransferRequest
}

func (fake *fakeBank) Transfer(_ context.Context, request gateway.TransferRequest) (gateway.TransferResult, error) {
	fake.gotRequests = append(fake.gotRequests, request)
	if fake.err != nil {
		return gateway.TransferResult{}, fake.err
	}
	return fake.result, nil
}

func (fake *fakeBank) ResolveAccountName(context.Context, string, string) (string, error) {
	return "ADA OBI", nil
}

type stubSchedule struct {
	fee money.Kobo
	err error
}

func (stub stubSchedule) ProviderFee(context.Context, money.PositiveKobo, money.FeeType) (money.Kobo, error) {
	return stub.fee, stub.err
}

func newTestServer(test *testing.T, ledger Ledger, bank BankRail, schedule money.ScheduleSource) *Server {
	test.Helper()
	calculator, err := money.NewCalculator(schedule, 100)
	if err != nil {
		test.Fatalf("calculator: %v", err)
	}
	return New(Config{ListenAddr: ":0"}, ledger, calculator, bank, &fakeExchange{}, nil, func() int64 { return 1700000000 }, zap.NewNop(), nil, nil)
}

func seedFunded(test *testing.T, ledger *fakeLedger, accountID string, balance int64) wallet.AccountID {
	test.Helper()
	walletAccountID, err := wallet.NewAccountID(accountID)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	balanceKobo, err := money.NewKobo(balance)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	ledger.accounts[accountID] = wallet.Account{
		AccountID:             walletAccountID,
		BalanceKobo:           balanceKobo,
		ExternalAccountNumber: "0123456789",
		BankCode:              "058",
	}
	return walletAccountID
}

func doJSON(router *gin.Engine, method string, path string, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestBalanceEndpoint(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger()
	seedFunded(test, ledger, "acct-b", 12345)
	router := newTestServer(test, ledger, &fakeBank{}, stubSchedule{}).Router()

	recorder := doJSON(router, http.MethodGet, "/v1/accounts/acct-b/balance", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if decoded["balance_kobo"].(float64) != 12345 || decoded["balance"].(string) != "123.45" {
		test.Fatalf("unexpected body %v", decoded)
	}

	missing := doJSON(router, http.MethodGet, "/v1/accounts/acct-missing/balance", "")
	if missing.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestTransferHappyPath(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger()
	seedFunded(test, ledger, "acct-t", 20000)
	bank := &fakeBank{result: gateway.TransferResult{Success: true, ProviderReference: "prv-ok", OccurredAtUnixUTC: 1700000100}}
	router := newTestServer(test, ledger, bank, stubSchedule{fee: 50}).Router()

	body := `{"account_id":"acct-t","destination_account_number":"9876543210","destination_bank_code":"058","amount_kobo":10000,"narration":"rent","reference":"tx-7"}`
	recorder := doJSON(router, http.MethodPost, "/v1/transfers", body)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(bank.gotRequests) != 1 {
		test.Fatalf("expected one provider call, got %d", len(bank.gotRequests))
	}
	// Provider receives the net amount; the wallet debit is the full amount.
	if bank.gotRequests[0].Amount.Int64() != 9851 {
		test.Fatalf("expected net 9851 to provider, got %d", bank.gotRequests[0].Amount.Int64())
	}
	entry := ledger.entries["tx-7"]
	if entry.Direction != wallet.DirectionDebit || entry.AmountKobo != 10000 {
		test.Fatalf("unexpected ledger entry %+v", entry)
	}
	if ledger.accounts["acct-t"].BalanceKobo != 10000 {
		test.Fatalf("expected balance 10000, got %d", ledger.accounts["acct-t"].BalanceKobo)
	}
}

func TestTransferInsufficientBalanceFailsFast(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger()
	seedFunded(test, ledger, "acct-low", 100)
	bank := &fakeBank{result: gateway.TransferResult{Success: true}}
	router := newTestServer(test, ledger, bank, stubSchedule{fee: 50}).Router()

	body := `{"account_id":"acct-low","destination_account_number":"9876543210","destination_bank_code":"058","amount_kobo":10000}`
	recorder := doJSON(router, http.MethodPost, "/v1/transfers", body)
	if recorder.Code != http.StatusUnprocessableEntity {
		test.Fatalf("expected 422, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "insufficient_balance") {
		test.Fatalf("unexpected body %s", recorder.Body.String())
	}
	if len(bank.gotRequests) != 0 {
		test.Fatalf("provider must not be called on a failed guard")
	}
}

func TestTransferBusinessRejectionTakesNoDebit(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger()
	seedFunded(test, ledger, "acct-rej", 20000)
	bank := &fakeBank{result: gateway.TransferResult{Success: false, FailureReason: "invalid destination account"}}
	router := newTestServer(test, ledger, bank, stubSchedule{fee: 50}).Router()

	body := `{"account_id":"acct-rej","destination_account_number":"0000000000","destination_bank_code":"058","amount_kobo":10000}`
	recorder := doJSON(router, http.MethodPost, "/v1/transfers", body)
	if recorder.Code != http.StatusUnprocessableEntity {
		test.Fatalf("expected 422, got %d", recorder.Code)
	}
	if len(ledger.entries) != 0 {
		test.Fatalf("rejected transfer must not debit the wallet")
	}
	if ledger.accounts["acct-rej"].BalanceKobo != 20000 {
		test.Fatalf("balance changed on rejection")
	}
}

func TestTransferUnknownOutcomeTakesNoDebit(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger()
	seedFunded(test, ledger, "acct-unk", 20000)
	bank := &fakeBank{err: fmt.Errorf("%w: timeout", wallet.ErrProviderUnavailable)}
	router := newTestServer(test, ledger, bank, stubSchedule{fee: 50}).Router()

	body := `{"account_id":"acct-unk","destination_account_number":"9876543210","destination_bank_code":"058","amount_kobo":10000}`
	recorder := doJSON(router, http.MethodPost, "/v1/transfers", body)
	if recorder.Code != http.StatusServiceUnavailable {
		test.Fatalf("expected 503, got %d", recorder.Code)
	}
	if len(ledger.entries) != 0 {
		test.Fatalf("unknown outcome must not debit the wallet")
	}
}

func TestFeeQuoteEndpoint(test *testing.T) {
	test.Parallel()
	router := newTestServer(test, newFakeLedger(), &fakeBank{}, stubSchedule{fee: 50}).Router()

	recorder := doJSON(router, http.MethodPost, "/v1/fees/quote", `{"amount_kobo":10000,"fee_type":"withdrawal"}`)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var decoded feeQuoteResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if decoded.ProviderFeeKobo != 50 || decoded.AppFeeKobo != 99 || decoded.NetKobo != 9851 {
		test.Fatalf("unexpected quote %+v", decoded)
	}
}

func TestFeeQuoteUnavailableSchedule(test *testing.T) {
	test.Parallel()
	router := newTestServer(test, newFakeLedger(), &fakeBank{}, stubSchedule{err: wallet.ErrProviderUnavailable}).Router()

	recorder := doJSON(router, http.MethodPost, "/v1/fees/quote", `{"amount_kobo":10000,"fee_type":"withdrawal"}`)
	if recorder.Code != http.StatusServiceUnavailable {
		test.Fatalf("expected 503, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "fee_schedule_unavailable") {
		test.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestAuthorizeEndpointIsAdvisory(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger()
	seedFunded(test, ledger, "acct-auth", 5000)
	router := newTestServer(test, ledger, &fakeBank{}, stubSchedule{}).Router()

	ok := doJSON(router, http.MethodPost, "/v1/accounts/acct-auth/authorize", `{"amount_kobo":5000}`)
	if ok.Code != http.StatusOK || !strings.Contains(ok.Body.String(), `"ok":true`) {
		test.Fatalf("unexpected response %d %s", ok.Code, ok.Body.String())
	}
	tooMuch := doJSON(router, http.MethodPost, "/v1/accounts/acct-auth/authorize", `{"amount_kobo":5001}`)
	if tooMuch.Code != http.StatusOK || !strings.Contains(tooMuch.Body.String(), `"ok":false`) {
		test.Fatalf("unexpected response %d %s", tooMuch.Code, tooMuch.Body.String())
	}
	if ledger.accounts["acct-auth"].BalanceKobo != 5000 {
		test.Fatalf("authorize must not move money")
	}
}

func TestOpenAccountEndpoint(test *testing.T) {
	test.Parallel()
	router := newTestServer(test, newFakeLedger(), &fakeBank{}, stubSchedule{}).Router()

	created := doJSON(router, http.MethodPost, "/v1/accounts", `{"account_id":"acct-new","external_account_number":"1112223334","bank_code":"058"}`)
	if created.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	duplicate := doJSON(router, http.MethodPost, "/v1/accounts", `{"account_id":"acct-new","external_account_number":"1112223334","bank_code":"058"}`)
	if duplicate.Code != http.StatusConflict {
		test.Fatalf("expected 409, got %d", duplicate.Code)
	}
}
