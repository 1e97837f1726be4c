package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/internal/gateway"
	"github.com/spraayhq/walletcore/internal/webhook"
	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

// Config carries the HTTP surface settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Ledger is the slice of the wallet service the handlers call.
type Ledger interface {
	OpenAccount(ctx context.Context, accountID wallet.AccountID, externalAccountNumber string, bankCode string) (wallet.Account, error)
	GetAccount(ctx context.Context, accountID wallet.AccountID) (wallet.Account, error)
	CurrentBalance(ctx context.Context, accountID wallet.AccountID) (money.Kobo, error)
	Authorize(ctx context.Context, accountID wallet.AccountID, amount money.PositiveKobo) (wallet.Authorization, error)
	CheckAndReserve(ctx context.Context, accountID wallet.AccountID, amount money.PositiveKobo) (wallet.Authorization, error)
	ReserveReference(ctx context.Context, candidate string) (wallet.Reference, error)
	Apply(ctx context.Context, input wallet.ApplyInput) (wallet.Entry, bool, error)
	Reverse(ctx context.Context, entryID string, reason string) (wallet.Entry, error)
	ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error)
	CreatePendingTransfer(ctx context.Context, accountID wallet.AccountID, externalOrderID string, purpose wallet.TransferPurpose, amount money.PositiveKobo) (wallet.PendingTransfer, error)
}

// BankRail is the outbound transfer surface the handlers call.
type BankRail interface {
	Transfer(ctx context.Context, request gateway.TransferRequest) (gateway.TransferResult, error)
	ResolveAccountName(ctx context.Context, accountNumber string, bankCode string) (string, error)
}

// ExchangeRail is the outbound crypto-order surface the handlers call.
type ExchangeRail interface {
	CreateInstantOrder(ctx context.Context, request gateway.InstantOrderRequest) (gateway.Order, error)
	ConfirmInstantOrder(ctx context.Context, orderID string) (gateway.Order, error)
	SwapQuotation(ctx context.Context, fromCurrency string, toCurrency string, amount string) (gateway.SwapQuote, error)
	ConfirmSwap(ctx context.Context, quoteID string) (gateway.Order, error)
	Withdraw(ctx context.Context, request gateway.WithdrawRequest) (gateway.Order, error)
}

// Server is the collaborator-facing HTTP surface.
type Server struct {
	config     Config
	ledger     Ledger
	calculator *money.Calculator
	bank       BankRail
	exchange   ExchangeRail
	webhooks   *webhook.Handler
	logger     *zap.Logger
	gatherer   prometheus.Gatherer
	requests   *prometheus.CounterVec
	nowFn      func() int64
}

// New wires a Server. The webhook handler may be nil when the daemon mounts
// webhooks elsewhere.
func New(
	config Config,
	ledger Ledger,
	calculator *money.Calculator,
	bank BankRail,
	exchange ExchangeRail,
	webhooks *webhook.Handler,
	now func() int64,
	logger *zap.Logger,
	registerer prometheus.Registerer,
	gatherer prometheus.Gatherer,
) *Server {
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer = registry
		gatherer = registry
	}
	return &Server{
		config:     config,
		ledger:     ledger,
		calculator: calculator,
		bank:       bank,
		exchange:   exchange,
		webhooks:   webhooks,
		logger:     logger,
		gatherer:   gatherer,
		requests: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "walletcore_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		nowFn: now,
	}
}

// Router builds the gin engine with all routes mounted.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.countRequests())
	if len(server.config.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: server.config.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	v1.POST("/accounts", server.handleOpenAccount)
	v1.GET("/accounts/:id/balance", server.handleBalance)
	v1.GET("/accounts/:id/entries", server.handleListEntries)
	v1.POST("/accounts/:id/authorize", server.handleAuthorize)
	v1.POST("/transfers", server.handleTransfer)
	v1.POST("/orders", server.handleCreateOrder)
	v1.POST("/fees/quote", server.handleFeeQuote)
	v1.POST("/entries/:id/reverse", server.handleReverse)

	if server.webhooks != nil {
		server.webhooks.Register(router)
	}
	return router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.config.ListenAddr,
		Handler: server.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http server listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("http shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) countRequests() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		server.requests.WithLabelValues(route, ctx.Request.Method, strconv.Itoa(ctx.Writer.Status())).Inc()
	}
}
