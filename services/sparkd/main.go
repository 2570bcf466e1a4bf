package sparkd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"monspark/internal/passphrase"
	"monspark/gateway/middleware"
	"monspark/observability"
	"monspark/observability/logging"
	telemetry "monspark/observability/otel"
	"monspark/services/sparkd/activity"
	"monspark/services/sparkd/chain"
	"monspark/services/sparkd/config"
	"monspark/services/sparkd/core"
	"monspark/services/sparkd/ledger"
	"monspark/services/sparkd/server"
	"monspark/storage"
)

// Main initialises and runs the ledger daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/sparkd/config.yaml", "path to sparkd configuration (yaml or toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup("sparkd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	db, err := openDatabase(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	store := ledger.New(db)
	defer func() { _ = store.Close() }()
	logger.Info("ledger ready", "driver", cfg.Ledger.Driver, "path", cfg.Ledger.Path)

	metrics := observability.Sparkd()
	recorder := activity.NewRecorder(store)

	signerKey := resolveSignerKey(cfg.Chain, logger)
	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	gateway, err := chain.Dial(dialCtx, chain.Config{
		RPCURL:        cfg.Chain.RPCURL,
		SignerKey:     signerKey,
		GasManager:    cfg.Chain.Contracts.GasManager,
		QuestHub:      cfg.Chain.Contracts.QuestHub,
		BridgeManager: cfg.Chain.Contracts.BridgeManager,
		Confirmations: cfg.Chain.Confirmations,
		PollInterval:  cfg.Chain.PollInterval.Duration,
		CallTimeout:   cfg.Chain.CallTimeout.Duration,
		WriteTimeout:  cfg.Chain.WriteTimeout.Duration,
	}, chain.WithLogger(logger), chain.WithMetrics(metrics))
	cancel()
	if err != nil {
		return fmt.Errorf("init chain gateway: %w", err)
	}
	defer gateway.Close()
	logger.Info("chain gateway ready",
		logging.MaskURL("rpc_url", cfg.Chain.RPCURL),
		"signer", gateway.Signer().Hex(),
		"gas_manager", cfg.Chain.Contracts.GasManager,
		"quest_hub", cfg.Chain.Contracts.QuestHub,
		"bridge_manager", cfg.Chain.Contracts.BridgeManager,
	)

	tel, err := telemetry.Init(context.Background(), telemetryConfig(context.Background(), cfg, gateway, logger))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	svc := core.New(gateway, store, recorder,
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithOnchainRevert(cfg.Gas.OnchainRevert),
	)

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		AllowedOrigin: cfg.AllowedOrigin,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Operator: middleware.AuthConfig{
			Enabled:    cfg.Operator.Enabled,
			HMACSecret: cfg.Operator.HMACSecret,
			Issuer:     cfg.Operator.Issuer,
			Audience:   cfg.Operator.Audience,
			ClockSkew:  cfg.Operator.ClockSkew.Duration,
		},
		LogRequests: cfg.Logging.LogRequests,
	}, svc,
		server.WithLogger(logger),
		server.WithStream(recorder),
		server.WithIdempotency(store),
		server.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// telemetryConfig describes this deployment for exported spans and metrics.
// An unreachable node leaves the chain id out rather than failing startup.
func telemetryConfig(ctx context.Context, cfg config.Config, gateway *chain.Gateway, logger *slog.Logger) telemetry.Config {
	deployment := telemetry.Deployment{
		Service:       "sparkd",
		Version:       server.Version,
		Environment:   cfg.Environment,
		GasManager:    cfg.Chain.Contracts.GasManager,
		QuestHub:      cfg.Chain.Contracts.QuestHub,
		BridgeManager: cfg.Chain.Contracts.BridgeManager,
		LedgerDriver:  cfg.Ledger.Driver,
	}
	if signer := gateway.Signer(); signer != (common.Address{}) {
		deployment.Signer = signer.Hex()
	}
	if id, err := gateway.ChainID(ctx); err != nil {
		logger.Warn("chain id unavailable for telemetry", "error", err)
	} else {
		deployment.ChainID = id.String()
	}
	return telemetry.Config{
		Deployment: deployment,
		Exporter: telemetry.Exporter{
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		},
	}
}

// openDatabase selects the key/value backend for the ledger.
func openDatabase(cfg config.LedgerConfig) (storage.Database, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemDB(), nil
	case config.DriverLevelDB, "":
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		return storage.NewLevelDB(cfg.Path)
	case config.DriverSQLite:
		return storage.OpenSQLite(cfg.Path)
	case config.DriverPostgres:
		return storage.OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

// resolveSignerKey returns the configured signer key, falling back to the
// environment, a key file or an interactive prompt. Without a key the gateway
// runs read-only and every write fails.
func resolveSignerKey(cfg config.ChainConfig, logger *slog.Logger) string {
	if cfg.SignerKey != "" {
		return cfg.SignerKey
	}
	key, err := passphrase.NewSource(cfg.SignerKeyEnv, passphrase.WithFile(cfg.SignerKeyFile)).Get()
	if err != nil {
		logger.Warn("no signer key; chain writes disabled", "error", err)
		return ""
	}
	return key
}
