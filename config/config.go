// Package config enables config file parsing.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/oasisprotocol/nexus-ledger/log"
)

const (
	DefaultBatchSize      = 100
	DefaultBatchTimeout   = 5 * time.Minute
	DefaultSnapshotPeriod = 24 * time.Hour
)

// Config contains the CLI configuration.
type Config struct {
	Analysis *AnalysisConfig `koanf:"analysis"`
	Log      *LogConfig      `koanf:"log"`
	Metrics  *MetricsConfig  `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Analysis != nil {
		if err := cfg.Analysis.Validate(); err != nil {
			return fmt.Errorf("analysis: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// AnalysisConfig is the configuration for chain analyzers.
type AnalysisConfig struct {
	// Source is the configuration for accessing the block archive.
	Source SourceConfig `koanf:"source"`

	// Analyzers is the analyzer configs.
	Analyzers AnalyzersList `koanf:"analyzers"`

	Storage *StorageConfig `koanf:"storage"`
}

// Validate validates the analysis configuration.
func (cfg *AnalysisConfig) Validate() error {
	if err := cfg.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if cfg.Analyzers.Ledger != nil {
		if err := cfg.Analyzers.Ledger.Validate(); err != nil {
			return fmt.Errorf("analyzers.ledger: %w", err)
		}
	}
	if cfg.Storage == nil {
		return fmt.Errorf("storage not configured")
	}
	return cfg.Storage.Validate(true /* requireMigrations */)
}

type AnalyzersList struct {
	Ledger *LedgerConfig `koanf:"ledger"`
}

// SourceConfig describes where blocks and runtime storage are read from.
type SourceConfig struct {
	// ArchiveURL is the base URL of the block archive gateway.
	ArchiveURL string `koanf:"archive_url"`

	// SS58Prefix is the network prefix used when encoding addresses.
	SS58Prefix uint16 `koanf:"ss58_prefix"`

	// Cache holds the configuration for a file-based caching backend.
	Cache *CacheConfig `koanf:"cache"`
}

// Validate validates the source configuration.
func (cfg *SourceConfig) Validate() error {
	u, err := url.Parse(cfg.ArchiveURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("malformed archive_url '%s'", cfg.ArchiveURL)
	}
	if cfg.SS58Prefix > 16383 {
		return fmt.Errorf("ss58_prefix %d out of range", cfg.SS58Prefix)
	}
	if cfg.Cache != nil {
		return cfg.Cache.Validate()
	}
	return nil
}

type CacheConfig struct {
	// CacheDir is the directory where the cache data is stored
	CacheDir string `koanf:"cache_dir"`
}

func (cfg *CacheConfig) Validate() error {
	if cfg.CacheDir == "" {
		return fmt.Errorf("invalid cache filepath")
	}
	return nil
}

type BlockBasedAnalyzerConfig struct {
	// From is the (inclusive) starting block for this analyzer.
	From uint64 `koanf:"from"`

	// To is the (inclusive) ending block for this analyzer.
	// Omitting this parameter means this analyzer will
	// continue processing new blocks indefinitely.
	To uint64 `koanf:"to"`
}

// Validate validates the range configuration.
func (cfg *BlockBasedAnalyzerConfig) Validate() error {
	if cfg.To != 0 && cfg.From > cfg.To {
		return fmt.Errorf("malformed analysis range from %d to %d", cfg.From, cfg.To)
	}
	return nil
}

// BalanceSync selects how account balances are refreshed.
type BalanceSync string

const (
	// BalanceSyncEnsure refreshes every touched account as its block is processed.
	BalanceSyncEnsure BalanceSync = "ensure"
	// BalanceSyncSweep collects touched accounts and reconciles them in bulk
	// once per snapshot window, pruning drained accounts.
	BalanceSyncSweep BalanceSync = "sweep"
)

// Set sets the BalanceSync to the value specified by the provided string.
func (bs *BalanceSync) Set(s string) error {
	switch BalanceSync(strings.ToLower(s)) {
	case BalanceSyncEnsure:
		*bs = BalanceSyncEnsure
	case BalanceSyncSweep:
		*bs = BalanceSyncSweep
	default:
		return fmt.Errorf("config: invalid balance sync mode: '%s'", s)
	}
	return nil
}

// LedgerConfig is the configuration for the ledger analyzer.
type LedgerConfig struct {
	BlockBasedAnalyzerConfig `koanf:",squash"`

	// BatchSize is the maximum number of blocks applied in one transaction.
	BatchSize uint64 `koanf:"batch_size"`

	// BatchTimeout bounds the time spent applying one batch.
	BatchTimeout time.Duration `koanf:"batch_timeout"`

	// SnapshotPeriod is the on-chain time between chain-state checkpoints.
	SnapshotPeriod time.Duration `koanf:"snapshot_period"`

	// BalanceSync is "ensure" or "sweep".
	BalanceSync string `koanf:"balance_sync"`

	// ABIDir holds contract metadata files named <code_hash>.json. Contract
	// events are stored undecoded if unset.
	ABIDir string `koanf:"abi_dir"`
}

func (cfg *LedgerConfig) applyDefaults() {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.SnapshotPeriod == 0 {
		cfg.SnapshotPeriod = DefaultSnapshotPeriod
	}
	if cfg.BalanceSync == "" {
		cfg.BalanceSync = string(BalanceSyncEnsure)
	}
}

// Validate validates the ledger analyzer configuration.
func (cfg *LedgerConfig) Validate() error {
	if err := cfg.BlockBasedAnalyzerConfig.Validate(); err != nil {
		return err
	}
	if cfg.BatchSize == 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if cfg.SnapshotPeriod <= 0 {
		return fmt.Errorf("snapshot_period must be positive")
	}
	if cfg.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive")
	}
	var bs BalanceSync
	return bs.Set(cfg.BalanceSync)
}

// StorageBackend is a storage backend.
type StorageBackend uint

const (
	// BackendPostgres is the PostgreSQL storage backend.
	BackendPostgres StorageBackend = iota
	// BackendInMemory is the in-memory storage backend.
	BackendInMemory
)

// String returns the string representation of a StorageBackend.
func (sb *StorageBackend) String() string {
	switch *sb {
	case BackendPostgres:
		return "postgres"
	case BackendInMemory:
		return "inmemory"
	default:
		panic("config: unsupported storage backend")
	}
}

// Set sets the StorageBackend to the value specified by the provided string.
func (sb *StorageBackend) Set(s string) error {
	switch strings.ToLower(s) {
	case "postgres":
		*sb = BackendPostgres
	case "inmemory":
		*sb = BackendInMemory
	default:
		return fmt.Errorf("config: invalid storage backend: '%s'", s)
	}

	return nil
}

// Type returns the list of supported StorageBackends.
func (sb *StorageBackend) Type() string {
	return "[postgres,inmemory]"
}

// StorageConfig contains the storage layer configuration.
type StorageConfig struct {
	// Endpoint is the storage endpoint from which to read/write indexed data.
	Endpoint string `koanf:"endpoint"`

	// Backend is the storage backend to select.
	Backend string `koanf:"backend"`

	// Migrations is the directory containing schema migrations.
	Migrations string `koanf:"migrations"`

	// If true, we'll first delete all tables in the DB to
	// force a full re-index of the blockchain.
	WipeStorage bool `koanf:"DANGER__WIPE_STORAGE_ON_STARTUP"`
}

// Validate validates the storage configuration. The in-memory backend
// needs neither an endpoint nor migrations.
func (cfg *StorageConfig) Validate(requireMigrations bool) error {
	var sb StorageBackend
	if err := sb.Set(cfg.Backend); err != nil {
		return err
	}
	if sb == BackendInMemory {
		return nil
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed storage endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Migrations == "" && requireMigrations {
		return fmt.Errorf("invalid path to migrations '%s'", cfg.Migrations)
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	return initConfig(file.Provider(f))
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}
	if config.Analysis != nil && config.Analysis.Analyzers.Ledger != nil {
		config.Analysis.Analyzers.Ledger.applyDefaults()
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
