// Package config loads reconciler settings from a YAML file with
// MATCHMAKER_* environment overrides.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. MATCHMAKER_POSTGRES_DSN.
const EnvPrefix = "MATCHMAKER"

// Config is the full reconciler configuration.
type Config struct {
	Ledger     LedgerConfig     `yaml:"ledger" envconfig:"LEDGER"`
	Postgres   PostgresConfig   `yaml:"postgres" envconfig:"POSTGRES"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" envconfig:"CLICKHOUSE"`
	Identity   IdentityConfig   `yaml:"identity" envconfig:"IDENTITY"`
	Blobstore  BlobstoreConfig  `yaml:"blobstore" envconfig:"BLOBSTORE"`
	Indexer    IndexerConfig    `yaml:"indexer" envconfig:"INDEXER"`
	Submission SubmissionConfig `yaml:"submission" envconfig:"SUBMISSION"`
	Reporting  ReportingConfig  `yaml:"reporting" envconfig:"REPORTING"`
	Log        LogConfig        `yaml:"log" envconfig:"LOG"`
	Metrics    MetricsConfig    `yaml:"metrics" envconfig:"METRICS"`
}

// RetryConfig mirrors retry.Config with file and env names.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" envconfig:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" envconfig:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" envconfig:"JITTER"`
}

// Retry converts to the retry package's form.
func (r RetryConfig) Retry() retry.Config {
	return retry.Config{
		MaxRetries:    r.MaxRetries,
		InitialDelay:  r.InitialDelay,
		MaxDelay:      r.MaxDelay,
		Multiplier:    r.Multiplier,
		JitterEnabled: r.Jitter,
	}
}

type LedgerConfig struct {
	URL        string      `yaml:"url" envconfig:"URL"`
	HTTPURL    string      `yaml:"http_url" envconfig:"HTTP_URL"`
	SignerSeed string      `yaml:"signer_seed" envconfig:"SIGNER_SEED"`
	SS58Prefix uint16      `yaml:"ss58_prefix" envconfig:"SS58_PREFIX"`
	Pallet     uint8       `yaml:"pallet_index" envconfig:"PALLET_INDEX"`
	Call       uint8       `yaml:"call_index" envconfig:"CALL_INDEX"`
	Retry      RetryConfig `yaml:"retry" envconfig:"RETRY"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" envconfig:"DSN"`
}

type ClickHouseConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	DSN     string `yaml:"dsn" envconfig:"DSN"`
}

type IdentityConfig struct {
	URL     string        `yaml:"url" envconfig:"URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

type BlobstoreConfig struct {
	URL     string        `yaml:"url" envconfig:"URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

type IndexerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	MaxBlocksPerApply int           `yaml:"max_blocks_per_apply" envconfig:"MAX_BLOCKS_PER_APPLY"`
	FetchWorkers      int           `yaml:"fetch_workers" envconfig:"FETCH_WORKERS"`
	StartHeight       uint64        `yaml:"start_height" envconfig:"START_HEIGHT"`
	Retry             RetryConfig   `yaml:"retry" envconfig:"RETRY"`
}

type SubmissionConfig struct {
	AccelerateFinality bool          `yaml:"accelerate_finality" envconfig:"ACCELERATE_FINALITY"`
	DispatchTimeout    time.Duration `yaml:"dispatch_timeout" envconfig:"DISPATCH_TIMEOUT"`
}

type ReportingConfig struct {
	// StaleAfter is how long a transaction may stay submitted before the
	// scan reports it.
	StaleAfter time.Duration `yaml:"stale_after" envconfig:"STALE_AFTER"`
	Schedule   string        `yaml:"schedule" envconfig:"SCHEDULE"` // cron spec
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Encoding string `yaml:"encoding" envconfig:"ENCODING"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr" envconfig:"ADDR"`
	Namespace string `yaml:"namespace" envconfig:"NAMESPACE"`
}

// Default returns a configuration with every optional setting filled in.
// Endpoints, the signer seed and the Postgres DSN have no default.
func Default() *Config {
	rc := retry.DefaultConfig()
	ledgerRetry := RetryConfig{
		MaxRetries:   rc.MaxRetries,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		Jitter:       rc.JitterEnabled,
	}
	indexerRetry := ledgerRetry
	indexerRetry.MaxRetries = 0

	return &Config{
		Ledger: LedgerConfig{
			SS58Prefix: ledger.DefaultSS58Prefix,
			Pallet:     9,
			Retry:      ledgerRetry,
		},
		Identity:  IdentityConfig{Timeout: 10 * time.Second},
		Blobstore: BlobstoreConfig{Timeout: 30 * time.Second},
		Indexer: IndexerConfig{
			PollInterval:      6 * time.Second,
			MaxBlocksPerApply: 100,
			FetchWorkers:      8,
			Retry:             indexerRetry,
		},
		Submission: SubmissionConfig{
			AccelerateFinality: true,
			DispatchTimeout:    5 * time.Minute,
		},
		Reporting: ReportingConfig{
			StaleAfter: 10 * time.Minute,
			Schedule:   "@every 1m",
		},
		Log:     LogConfig{Level: "info", Encoding: "json"},
		Metrics: MetricsConfig{Addr: ":9090", Namespace: "matchmaker"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	req := func(v, name string) {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	positive := func(v int64, name string) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	req(c.Ledger.URL, "ledger.url")
	if seed, err := hex.DecodeString(c.Ledger.SignerSeed); err != nil || len(seed) != 32 {
		errs = append(errs, errors.New("ledger.signer_seed must be 32 bytes of hex"))
	}
	req(c.Postgres.DSN, "postgres.dsn")
	if c.ClickHouse.Enabled {
		req(c.ClickHouse.DSN, "clickhouse.dsn")
	}
	req(c.Identity.URL, "identity.url")
	req(c.Blobstore.URL, "blobstore.url")

	positive(int64(c.Indexer.PollInterval), "indexer.poll_interval")
	positive(int64(c.Indexer.MaxBlocksPerApply), "indexer.max_blocks_per_apply")
	positive(int64(c.Indexer.FetchWorkers), "indexer.fetch_workers")
	positive(int64(c.Submission.DispatchTimeout), "submission.dispatch_timeout")
	positive(int64(c.Reporting.StaleAfter), "reporting.stale_after")
	if _, err := cron.ParseStandard(c.Reporting.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("reporting.schedule: %w", err))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		errs = append(errs, fmt.Errorf("log.encoding %q is not json or console", c.Log.Encoding))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LedgerClient returns the ledger client settings.
func (c *Config) LedgerClient() ledger.Config {
	return ledger.Config{
		URL:        c.Ledger.URL,
		HTTPURL:    c.Ledger.HTTPURL,
		SignerSeed: c.Ledger.SignerSeed,
		SS58Prefix: c.Ledger.SS58Prefix,
		CallIndex:  ledger.CallIndex{Pallet: c.Ledger.Pallet, Call: c.Ledger.Call},
		Retry:      c.Ledger.Retry.Retry(),
	}
}
