package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/pkg/wallet"
)

func newTestRouter(ledger Ledger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(newTestPipeline(ledger), zap.NewNop()).Register(router)
	return router
}

func postWebhook(router *gin.Engine, path string, body string, signature string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	request.Header.Set(headerSignature, signature)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestHandlerAnswers200OnRejection(test *testing.T) {
	test.Parallel()
	router := newTestRouter(newFakeLedger())
	body := `{"event":"bank.transfer.credit","data":{}}`
	recorder := postWebhook(router, "/webhooks/bank", body, "not-a-signature")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200 on rejection, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"rejected"`) {
		test.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestHandlerAnswers500OnTransientFailure(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger()
	ledger.accounts["0123456789"] = wallet.Account{AccountID: mustAccountID(test, "acct-h"), ExternalAccountNumber: "0123456789"}
	ledger.applyErr = wallet.ErrProviderUnavailable
	router := newTestRouter(ledger)

	body := `{"event":"bank.transfer.credit","data":{"transaction_reference":"prv-500","account_number":"0123456789","amount":100}}`
	recorder := postWebhook(router, "/webhooks/bank", body, Signature(signingKey, []byte(body)))
	if recorder.Code != http.StatusInternalServerError {
		test.Fatalf("expected 500 for redelivery, got %d", recorder.Code)
	}
}

func TestHandlerAppliesSignedDelivery(test *testing.T) {
	test.Parallel()
	ledger := newFakeLedger()
	ledger.accounts["0123456789"] = wallet.Account{AccountID: mustAccountID(test, "acct-h2"), ExternalAccountNumber: "0123456789"}
	router := newTestRouter(ledger)

	body := `{"event":"bank.transfer.credit","data":{"transaction_reference":"prv-600","account_number":"0123456789","amount":4200}}`
	recorder := postWebhook(router, "/webhooks/exchange", body, Signature(signingKey, []byte(body)))
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"applied"`) {
		test.Fatalf("unexpected body %s", recorder.Body.String())
	}
}
