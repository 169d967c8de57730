package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"dscengine/crypto"
	"dscengine/native/oracle"
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

// UnmarshalText parses durations in TOML documents.
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

// Config captures runtime configuration for dscd.
type Config struct {
	ListenAddress string            `yaml:"listen" toml:"listen"`
	Environment   string            `yaml:"environment" toml:"environment"`
	StatePath     string            `yaml:"state" toml:"state"`
	DatabaseDSN   string            `yaml:"database" toml:"database"`
	Log           LogConfig         `yaml:"log" toml:"log"`
	Engine        EngineConfig      `yaml:"engine" toml:"engine"`
	Oracle        OracleConfig      `yaml:"oracle" toml:"oracle"`
	Collateral    []CollateralAsset `yaml:"collateral" toml:"collateral"`
	DebtToken     TokenConfig       `yaml:"debt_token" toml:"debt_token"`
	Auth          AuthConfig        `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// EngineConfig names the engine account and its operator. The operator is
// either given directly or derived from an encrypted keystore.
type EngineConfig struct {
	Address               string   `yaml:"address" toml:"address"`
	Operator              string   `yaml:"operator" toml:"operator"`
	OperatorKeystore      string   `yaml:"operator_keystore" toml:"operator_keystore"`
	OperatorPassphraseEnv string   `yaml:"operator_passphrase_env" toml:"operator_passphrase_env"`
	StalenessTimeout      Duration `yaml:"staleness_timeout" toml:"staleness_timeout"`
	Paused                bool     `yaml:"paused" toml:"paused"`
}

// OracleConfig tunes the aggregation loop.
type OracleConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	MaxAge   Duration `yaml:"max_age" toml:"max_age"`
	MinFeeds int      `yaml:"min_feeds" toml:"min_feeds"`
	Sources  []Source `yaml:"sources" toml:"sources"`
}

// Source describes an upstream price feed.
type Source struct {
	Name     string   `yaml:"name" toml:"name"`
	Type     string   `yaml:"type" toml:"type"`
	Endpoint string   `yaml:"endpoint" toml:"endpoint"`
	APIKey   string   `yaml:"api_key" toml:"api_key"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
	// Assets maps a base symbol to the identifier the source uses for it.
	Assets map[string]string `yaml:"assets" toml:"assets"`
	// Prices holds fixed answers for static sources, keyed by pair.
	Prices map[string]string `yaml:"prices" toml:"prices"`
}

// CollateralAsset registers one collateral token and its USD pair.
type CollateralAsset struct {
	Symbol       string `yaml:"symbol" toml:"symbol"`
	Address      string `yaml:"address" toml:"address"`
	Decimals     uint8  `yaml:"decimals" toml:"decimals"`
	Pair         string `yaml:"pair" toml:"pair"`
	InitialPrice string `yaml:"initial_price" toml:"initial_price"`
}

// TokenConfig describes the synthetic dollar.
type TokenConfig struct {
	Symbol   string `yaml:"symbol" toml:"symbol"`
	Address  string `yaml:"address" toml:"address"`
	Decimals uint8  `yaml:"decimals" toml:"decimals"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret    string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretEnv string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	Issuer        string   `yaml:"issuer" toml:"issuer"`
	Audience      []string `yaml:"audience" toml:"audience"`
	ClockSkew     Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" toml:"rps"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// Load reads configuration from path. Files ending in .toml are decoded as
// TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("decode config: unknown key %s", undecoded[0])
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.StatePath = strings.TrimSpace(cfg.StatePath)
	cfg.DatabaseDSN = strings.TrimSpace(cfg.DatabaseDSN)
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
	cfg.Engine.Operator = strings.TrimSpace(cfg.Engine.Operator)
	cfg.Engine.OperatorKeystore = strings.TrimSpace(cfg.Engine.OperatorKeystore)
	if cfg.Engine.OperatorKeystore != "" && cfg.Engine.OperatorPassphraseEnv == "" {
		cfg.Engine.OperatorPassphraseEnv = "DSCD_KEYSTORE_PASSPHRASE"
	}
	if cfg.Engine.StalenessTimeout.Duration == 0 {
		cfg.Engine.StalenessTimeout.Duration = 3 * time.Hour
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	for i := range cfg.Oracle.Sources {
		src := &cfg.Oracle.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		if src.Timeout.Duration == 0 {
			src.Timeout.Duration = 5 * time.Second
		}
	}
	for i := range cfg.Collateral {
		asset := &cfg.Collateral[i]
		asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
		asset.Pair = strings.ToUpper(strings.TrimSpace(asset.Pair))
		if asset.Pair == "" && asset.Symbol != "" {
			asset.Pair = asset.Symbol + "/USD"
		}
		if asset.Decimals == 0 {
			asset.Decimals = 18
		}
	}
	cfg.DebtToken.Symbol = strings.ToUpper(strings.TrimSpace(cfg.DebtToken.Symbol))
	if cfg.DebtToken.Symbol == "" {
		cfg.DebtToken.Symbol = "DSC"
	}
	if cfg.DebtToken.Decimals == 0 {
		cfg.DebtToken.Decimals = 18
	}
	if cfg.Auth.HMACSecret == "" && cfg.Auth.HMACSecretEnv != "" {
		cfg.Auth.HMACSecret = strings.TrimSpace(os.Getenv(cfg.Auth.HMACSecretEnv))
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 40
	}
}

func (cfg *Config) validate() error {
	if len(cfg.Collateral) == 0 {
		return fmt.Errorf("at least one collateral asset must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Collateral))
	for _, asset := range cfg.Collateral {
		if asset.Symbol == "" {
			return fmt.Errorf("collateral: symbol required")
		}
		if _, ok := seen[asset.Symbol]; ok {
			return fmt.Errorf("collateral: %s configured twice", asset.Symbol)
		}
		seen[asset.Symbol] = struct{}{}
		if asset.Address != "" {
			if _, err := crypto.ParseAddress(asset.Address, crypto.AssetPrefix); err != nil {
				return fmt.Errorf("collateral %s: %w", asset.Symbol, err)
			}
		}
		if asset.InitialPrice != "" {
			if _, err := oracle.ParsePrice(asset.InitialPrice); err != nil {
				return fmt.Errorf("collateral %s: %w", asset.Symbol, err)
			}
		}
	}
	if cfg.Engine.Operator == "" && cfg.Engine.OperatorKeystore == "" {
		return fmt.Errorf("engine: operator account or operator keystore required")
	}
	if cfg.Engine.Operator != "" {
		if _, err := crypto.ParseAccount(cfg.Engine.Operator); err != nil {
			return fmt.Errorf("engine operator: %w", err)
		}
	}
	if cfg.Engine.Address != "" {
		if _, err := crypto.ParseAccount(cfg.Engine.Address); err != nil {
			return fmt.Errorf("engine address: %w", err)
		}
	}
	for _, src := range cfg.Oracle.Sources {
		switch src.Type {
		case "static":
			if len(src.Prices) == 0 {
				return fmt.Errorf("oracle source %s: static sources need prices", src.Name)
			}
			for pair, raw := range src.Prices {
				if _, err := oracle.ParsePrice(raw); err != nil {
					return fmt.Errorf("oracle source %s %s: %w", src.Name, pair, err)
				}
			}
		case "coingecko":
			if src.Endpoint == "" {
				return fmt.Errorf("oracle source %s: endpoint required", src.Name)
			}
		default:
			return fmt.Errorf("oracle source %s: unsupported type %q", src.Name, src.Type)
		}
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth: hmac secret must be at least 32 bytes")
	}
	return nil
}

// OperatorAccount resolves the operator. When a keystore is configured it is
// unlocked with the passphrase from OperatorPassphraseEnv, and a configured
// operator must match the key it holds.
func (cfg Config) OperatorAccount() (crypto.Address, error) {
	if cfg.Engine.OperatorKeystore == "" {
		return crypto.ParseAccount(cfg.Engine.Operator)
	}
	passphrase := os.Getenv(cfg.Engine.OperatorPassphraseEnv)
	account, err := crypto.AccountFromKeystore(cfg.Engine.OperatorKeystore, passphrase)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("operator keystore: %w", err)
	}
	if cfg.Engine.Operator != "" {
		declared, err := crypto.ParseAccount(cfg.Engine.Operator)
		if err != nil {
			return crypto.Address{}, err
		}
		if declared != account {
			return crypto.Address{}, fmt.Errorf("operator keystore holds %s, config names %s", account, declared)
		}
	}
	return account, nil
}

// Pairs lists the distinct USD pairs backing the collateral.
func (cfg Config) Pairs() []string {
	out := make([]string, 0, len(cfg.Collateral))
	seen := make(map[string]struct{}, len(cfg.Collateral))
	for _, asset := range cfg.Collateral {
		if _, ok := seen[asset.Pair]; ok {
			continue
		}
		seen[asset.Pair] = struct{}{}
		out = append(out, asset.Pair)
	}
	return out
}
