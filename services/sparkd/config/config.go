package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses durations for TOML and environment values.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Ledger drivers.
const (
	DriverLevelDB  = "leveldb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures the runtime configuration for sparkd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Environment   string          `yaml:"environment" toml:"environment"`
	AllowedOrigin string          `yaml:"allowed_origin" toml:"allowed_origin"`
	Chain         ChainConfig     `yaml:"chain" toml:"chain"`
	Ledger        LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Gas           GasConfig       `yaml:"gas" toml:"gas"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Operator      OperatorConfig  `yaml:"operator" toml:"operator"`
	Telemetry     TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Logging       LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ChainConfig configures the RPC endpoint, signer and contract addresses.
type ChainConfig struct {
	RPCURL        string    `yaml:"rpc_url" toml:"rpc_url"`
	SignerKey     string    `yaml:"signer_key" toml:"signer_key"`
	SignerKeyEnv  string    `yaml:"signer_key_env" toml:"signer_key_env"`
	SignerKeyFile string    `yaml:"signer_key_file" toml:"signer_key_file"`
	Deployments   string    `yaml:"deployments" toml:"deployments"`
	Contracts     Contracts `yaml:"contracts" toml:"contracts"`
	Confirmations uint64    `yaml:"confirmations" toml:"confirmations"`
	PollInterval  Duration  `yaml:"poll_interval" toml:"poll_interval"`
	CallTimeout   Duration  `yaml:"call_timeout" toml:"call_timeout"`
	WriteTimeout  Duration  `yaml:"write_timeout" toml:"write_timeout"`
}

// Contracts holds the deployed contract addresses. The JSON tags match the
// deployment descriptor written by the contract deploy script.
type Contracts struct {
	GasManager    string `yaml:"gas_manager" toml:"gas_manager" json:"GasManager"`
	QuestHub      string `yaml:"quest_hub" toml:"quest_hub" json:"QuestHub"`
	BridgeManager string `yaml:"bridge_manager" toml:"bridge_manager" json:"BridgeManager"`
}

// LedgerConfig selects the storage backend.
type LedgerConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// GasConfig tunes allocation behaviour.
type GasConfig struct {
	OnchainRevert bool `yaml:"onchain_revert" toml:"onchain_revert"`
}

// RateLimitConfig bounds mutating requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// OperatorConfig protects the bridge completion route.
type OperatorConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	HMACSecret     string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file" toml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	Audience       string   `yaml:"audience" toml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Headers     string  `yaml:"headers" toml:"headers"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level       string `yaml:"level" toml:"level"`
	File        string `yaml:"file" toml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days" toml:"max_age_days"`
	LogRequests bool   `yaml:"log_requests" toml:"log_requests"`
}

// Option customises Load.
type Option func(*loader)

type loader struct {
	lookupEnv func(string) (string, bool)
}

// WithLookupEnv replaces os.LookupEnv, mainly for tests.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(l *loader) {
		if fn != nil {
			l.lookupEnv = fn
		}
	}
}

// Load reads configuration from path, applies environment overrides and
// defaults, then validates the result. A missing file is tolerated so the
// daemon can run purely from environment variables.
func Load(path string, opts ...Option) (Config, error) {
	l := &loader{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}
	cfg := Config{}
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, l.lookupEnv); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.normalise(l.lookupEnv); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":5000"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "http://localhost:8080"
	}
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "http://127.0.0.1:8545"
	}
	if cfg.Chain.SignerKeyEnv == "" {
		cfg.Chain.SignerKeyEnv = "PRIVATE_KEY"
	}
	if cfg.Chain.Confirmations == 0 {
		cfg.Chain.Confirmations = 1
	}
	if cfg.Chain.PollInterval.Duration == 0 {
		cfg.Chain.PollInterval.Duration = time.Second
	}
	if cfg.Chain.CallTimeout.Duration == 0 {
		cfg.Chain.CallTimeout.Duration = 15 * time.Second
	}
	if cfg.Chain.WriteTimeout.Duration == 0 {
		cfg.Chain.WriteTimeout.Duration = 2 * time.Minute
	}
	cfg.Ledger.Driver = strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver))
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = DriverLevelDB
	}
	if cfg.Ledger.Path == "" {
		switch cfg.Ledger.Driver {
		case DriverSQLite:
			cfg.Ledger.Path = "data/ledger.sqlite"
		default:
			cfg.Ledger.Path = "data/ledger"
		}
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Operator.ClockSkew.Duration == 0 {
		cfg.Operator.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	if port, ok := lookup("PORT"); ok && strings.TrimSpace(port) != "" {
		port = strings.TrimSpace(port)
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("PORT %q is not a valid port", port)
		}
		cfg.ListenAddress = ":" + port
	}
	str("SPARKD_ENV", &cfg.Environment)
	str("FRONTEND_URL", &cfg.AllowedOrigin)
	str("RPC_URL", &cfg.Chain.RPCURL)
	str("GAS_MANAGER_ADDRESS", &cfg.Chain.Contracts.GasManager)
	str("QUEST_HUB_ADDRESS", &cfg.Chain.Contracts.QuestHub)
	str("BRIDGE_MANAGER_ADDRESS", &cfg.Chain.Contracts.BridgeManager)
	str("SPARKD_LEDGER_DRIVER", &cfg.Ledger.Driver)
	str("SPARKD_LEDGER_DSN", &cfg.Ledger.DSN)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("OTEL_EXPORTER_OTLP_HEADERS", &cfg.Telemetry.Headers)
	str("SPARKD_LOG_LEVEL", &cfg.Logging.Level)
	return nil
}

func (c *Config) normalise(lookup func(string) (string, bool)) error {
	c.AllowedOrigin = strings.TrimRight(strings.TrimSpace(c.AllowedOrigin), "/")
	if err := c.Chain.normalise(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if err := c.Operator.normalise(lookup); err != nil {
		return fmt.Errorf("operator: %w", err)
	}
	return nil
}

// normalise fills contract addresses missing from the configuration with the
// values recorded in the deployment descriptor.
func (c *ChainConfig) normalise() error {
	c.RPCURL = strings.TrimSpace(c.RPCURL)
	c.SignerKey = strings.TrimSpace(c.SignerKey)
	c.SignerKeyEnv = strings.TrimSpace(c.SignerKeyEnv)
	c.SignerKeyFile = strings.TrimSpace(c.SignerKeyFile)
	c.Deployments = strings.TrimSpace(c.Deployments)
	if c.Deployments != "" {
		deployed, err := LoadDeployments(c.Deployments)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		fill := func(dst *string, value string) {
			if strings.TrimSpace(*dst) == "" {
				*dst = value
			}
		}
		fill(&c.Contracts.GasManager, deployed.GasManager)
		fill(&c.Contracts.QuestHub, deployed.QuestHub)
		fill(&c.Contracts.BridgeManager, deployed.BridgeManager)
	}
	c.Contracts.GasManager = strings.TrimSpace(c.Contracts.GasManager)
	c.Contracts.QuestHub = strings.TrimSpace(c.Contracts.QuestHub)
	c.Contracts.BridgeManager = strings.TrimSpace(c.Contracts.BridgeManager)
	return nil
}

func (o *OperatorConfig) normalise(lookup func(string) (string, bool)) error {
	secret := strings.TrimSpace(o.HMACSecret)
	if value, ok := lookup("SPARKD_OPERATOR_SECRET"); ok && strings.TrimSpace(value) != "" {
		secret = strings.TrimSpace(value)
	}
	if path := strings.TrimSpace(o.HMACSecretFile); path != "" && secret == "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	o.HMACSecret = secret
	return nil
}

// LoadDeployments reads the contracts section of a deployment descriptor.
func LoadDeployments(path string) (Contracts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Contracts{}, fmt.Errorf("read deployments: %w", err)
	}
	var descriptor struct {
		Contracts Contracts `json:"contracts"`
	}
	if err := json.Unmarshal(raw, &descriptor); err != nil {
		return Contracts{}, fmt.Errorf("decode deployments %s: %w", path, err)
	}
	return descriptor.Contracts, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address must be configured")
	}
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain rpc_url must be configured")
	}
	contracts := map[string]string{
		"gas_manager":    cfg.Chain.Contracts.GasManager,
		"quest_hub":      cfg.Chain.Contracts.QuestHub,
		"bridge_manager": cfg.Chain.Contracts.BridgeManager,
	}
	for _, name := range []string{"gas_manager", "quest_hub", "bridge_manager"} {
		value := contracts[name]
		if value == "" {
			return fmt.Errorf("chain contracts.%s must be configured", name)
		}
		if !common.IsHexAddress(value) {
			return fmt.Errorf("chain contracts.%s %q is not a hex address", name, value)
		}
	}
	switch cfg.Ledger.Driver {
	case DriverLevelDB, DriverSQLite:
		if strings.TrimSpace(cfg.Ledger.Path) == "" {
			return fmt.Errorf("ledger path must be configured for %s", cfg.Ledger.Driver)
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.Ledger.DSN) == "" {
			return fmt.Errorf("ledger dsn must be configured for postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if cfg.Operator.Enabled && cfg.Operator.HMACSecret == "" {
		return fmt.Errorf("operator.hmac_secret must be configured when operator auth is enabled")
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}
