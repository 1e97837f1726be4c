package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spraayhq/walletcore/internal/events"
	"github.com/spraayhq/walletcore/internal/gateway"
	"github.com/spraayhq/walletcore/internal/recon"
	"github.com/spraayhq/walletcore/internal/server"
	"github.com/spraayhq/walletcore/internal/store/gormstore"
	"github.com/spraayhq/walletcore/internal/store/pgstore"
	"github.com/spraayhq/walletcore/internal/webhook"
	"github.com/spraayhq/walletcore/pkg/money"
	"github.com/spraayhq/walletcore/pkg/wallet"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagBankBaseURL       = "bank-base-url"
	flagBankToken         = "bank-token"
	flagExchangeBaseURL   = "exchange-base-url"
	flagExchangeToken     = "exchange-token"
	flagWebhookSigningKey = "webhook-signing-key"
	flagReconInterval     = "recon-interval"
	flagReconLookback     = "recon-lookback"
	flagAppFeeBasisPts    = "app-fee-bps"
	flagKafkaBrokers      = "kafka-brokers"
	flagKafkaTopic        = "kafka-topic"
	flagAllowedOrigins    = "allowed-origins"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyBankBaseURL       = "bank_base_url"
	configKeyBankToken         = "bank_token"
	configKeyExchangeBaseURL   = "exchange_base_url"
	configKeyExchangeToken     = "exchange_token"
	configKeyWebhookSigningKey = "webhook_signing_key"
	configKeyReconInterval     = "recon_interval"
	configKeyReconLookback     = "recon_lookback"
	configKeyAppFeeBasisPts    = "app_fee_bps"
	configKeyKafkaBrokers      = "kafka_brokers"
	configKeyKafkaTopic        = "kafka_topic"
	configKeyAllowedOrigins    = "allowed_origins"

	defaultDatabaseURL    = "sqlite:///tmp/walletcore.db"
	defaultListenAddr     = ":8080"
	defaultReconInterval  = 5 * time.Minute
	defaultReconLookback  = 6 * time.Hour
	defaultAppFeeBasisPts = 100
	defaultKafkaTopic     = "wallet-balance-events"
	eventBufferSize       = 1024
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	BankBaseURL       string
	BankToken         string
	ExchangeBaseURL   string
	ExchangeToken     string
	WebhookSigningKey string
	ReconInterval     time.Duration
	ReconLookback     time.Duration
	AppFeeBasisPts    int64
	KafkaBrokers      []string
	KafkaTopic        string
	AllowedOrigins    []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Wallet ledger and reconciliation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagBankBaseURL, "", "Partner bank API base URL")
	cmd.Flags().String(flagBankToken, "", "Partner bank API bearer token")
	cmd.Flags().String(flagExchangeBaseURL, "", "Crypto exchange API base URL")
	cmd.Flags().String(flagExchangeToken, "", "Crypto exchange API bearer token")
	cmd.Flags().String(flagWebhookSigningKey, "", "HMAC key for inbound webhook signatures")
	cmd.Flags().Duration(flagReconInterval, defaultReconInterval, "Reconciliation pass interval")
	cmd.Flags().Duration(flagReconLookback, defaultReconLookback, "Reconciliation replay window")
	cmd.Flags().Int64(flagAppFeeBasisPts, defaultAppFeeBasisPts, "App fee in basis points")
	cmd.Flags().StringSlice(flagKafkaBrokers, nil, "Kafka brokers for balance events (empty disables the sink)")
	cmd.Flags().String(flagKafkaTopic, defaultKafkaTopic, "Kafka topic for balance events")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins (empty disables CORS)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := []struct {
		configKey string
		envVar    string
		flagName  string
	}{
		{configKeyDatabaseURL, "DATABASE_URL", flagDatabaseURL},
		{configKeyListenAddr, "LISTEN_ADDR", flagListenAddr},
		{configKeyBankBaseURL, "BANK_BASE_URL", flagBankBaseURL},
		{configKeyBankToken, "BANK_TOKEN", flagBankToken},
		{configKeyExchangeBaseURL, "EXCHANGE_BASE_URL", flagExchangeBaseURL},
		{configKeyExchangeToken, "EXCHANGE_TOKEN", flagExchangeToken},
		{configKeyWebhookSigningKey, "WEBHOOK_SIGNING_KEY", flagWebhookSigningKey},
		{configKeyReconInterval, "RECON_INTERVAL", flagReconInterval},
		{configKeyReconLookback, "RECON_LOOKBACK", flagReconLookback},
		{configKeyAppFeeBasisPts, "APP_FEE_BPS", flagAppFeeBasisPts},
		{configKeyKafkaBrokers, "KAFKA_BROKERS", flagKafkaBrokers},
		{configKeyKafkaTopic, "KAFKA_TOPIC", flagKafkaTopic},
		{configKeyAllowedOrigins, "ALLOWED_ORIGINS", flagAllowedOrigins},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.configKey, binding.envVar); err != nil {
			return err
		}
		if err := viper.BindPFlag(binding.configKey, cmd.Flags().Lookup(binding.flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.BankBaseURL = viper.GetString(configKeyBankBaseURL)
	cfg.BankToken = viper.GetString(configKeyBankToken)
	cfg.ExchangeBaseURL = viper.GetString(configKeyExchangeBaseURL)
	cfg.ExchangeToken = viper.GetString(configKeyExchangeToken)
	cfg.WebhookSigningKey = viper.GetString(configKeyWebhookSigningKey)
	cfg.ReconInterval = viper.GetDuration(configKeyReconInterval)
	cfg.ReconLookback = viper.GetDuration(configKeyReconLookback)
	cfg.AppFeeBasisPts = viper.GetInt64(configKeyAppFeeBasisPts)
	cfg.KafkaBrokers = viper.GetStringSlice(configKeyKafkaBrokers)
	cfg.KafkaTopic = viper.GetString(configKeyKafkaTopic)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen addr is required")
	}
	if cfg.BankBaseURL == "" {
		return fmt.Errorf("bank base url is required")
	}
	if cfg.ExchangeBaseURL == "" {
		return fmt.Errorf("exchange base url is required")
	}
	if cfg.WebhookSigningKey == "" {
		return fmt.Errorf("webhook signing key is required")
	}
	if cfg.ReconInterval <= 0 {
		cfg.ReconInterval = defaultReconInterval
	}
	if cfg.ReconLookback <= 0 {
		cfg.ReconLookback = defaultReconLookback
	}
	return nil
}

func runDaemon(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	clock := func() int64 { return time.Now().UTC().Unix() }

	var sinks []events.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = kafkaSink.Close() }()
		sinks = append(sinks, kafkaSink)
	}
	dispatcher := events.NewDispatcher(eventBufferSize, logger, registry, sinks...)

	walletService, err := wallet.NewService(store, clock,
		wallet.WithOperationLogger(&zapOperationLogger{logger: logger}),
		wallet.WithBalanceListener(dispatcher),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	bank := gateway.NewBankClient(gateway.Config{
		BaseURL:     cfg.BankBaseURL,
		BearerToken: cfg.BankToken,
	})
	exchange := gateway.NewExchangeClient(gateway.Config{
		BaseURL:     cfg.ExchangeBaseURL,
		BearerToken: cfg.ExchangeToken,
	})
	calculator, err := money.NewCalculator(bank, cfg.AppFeeBasisPts)
	if err != nil {
		return fmt.Errorf("fee calculator init: %w", err)
	}

	pipeline := webhook.NewPipeline(walletService, []byte(cfg.WebhookSigningKey), clock, logger, registry)
	webhooks := webhook.NewHandler(pipeline, logger)

	reconMetrics := recon.NewMetrics(registry)
	lookbackSeconds := int64(cfg.ReconLookback / time.Second)
	jobs := []recon.Job{
		recon.NewBankStreamJob(walletService, bank, lookbackSeconds, clock, logger, reconMetrics),
		recon.NewCryptoStreamJob(walletService, exchange, gateway.StreamDeposits, lookbackSeconds, clock, logger, reconMetrics),
		recon.NewCryptoStreamJob(walletService, exchange, gateway.StreamWithdrawals, lookbackSeconds, clock, logger, reconMetrics),
		recon.NewCryptoStreamJob(walletService, exchange, gateway.StreamSwaps, lookbackSeconds, clock, logger, reconMetrics),
		recon.NewPendingOrderAdvancer(walletService, exchange, clock, logger, reconMetrics),
	}
	scheduler := recon.NewScheduler(cfg.ReconInterval, jobs, clock, logger, reconMetrics)

	httpServer := server.New(
		server.Config{ListenAddr: cfg.ListenAddr, AllowedOrigins: cfg.AllowedOrigins},
		walletService,
		calculator,
		bank,
		exchange,
		webhooks,
		clock,
		logger,
		registry,
		registry,
	)

	go dispatcher.Run(ctx)
	go scheduler.Run(ctx)
	return httpServer.Run(ctx)
}

// openStore picks pgx for postgres DSNs and the gorm sqlite store otherwise.
func openStore(ctx context.Context, dsn string) (wallet.Store, func(), error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}
	path, err := resolveSQLitePath(dsn)
	if err != nil {
		return nil, nil, err
	}
	store, err := gormstore.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func resolveSQLitePath(dsn string) (string, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	if path == "" || path == "/" {
		path = "walletcore.db"
	}
	if path == ":memory:" {
		return path, nil
	}
	if !strings.HasPrefix(path, "/") {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// zapOperationLogger adapts zap to the wallet operation log callback.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (adapter *zapOperationLogger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.AccountID.String() != "" {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if entry.Reference.String() != "" {
		fields = append(fields, zap.String("reference", entry.Reference.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_kobo", entry.Amount.Int64()))
	}
	if entry.Direction != "" {
		fields = append(fields, zap.String("direction", string(entry.Direction)))
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", string(entry.Source)))
	}
	if entry.Error != nil {
		adapter.logger.Warn("wallet operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	adapter.logger.Info("wallet operation", fields...)
}
