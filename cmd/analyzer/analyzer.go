// Package analyzer implements the `analyze` sub-command.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver for golang_migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"       // support file scheme for golang_migrate
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/nexus-ledger/analyzer"
	"github.com/oasisprotocol/nexus-ledger/analyzer/contracts"
	"github.com/oasisprotocol/nexus-ledger/analyzer/ledger"
	"github.com/oasisprotocol/nexus-ledger/cache/kvstore"
	cmdCommon "github.com/oasisprotocol/nexus-ledger/cmd/common"
	"github.com/oasisprotocol/nexus-ledger/config"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/metrics"
	"github.com/oasisprotocol/nexus-ledger/storage"
	"github.com/oasisprotocol/nexus-ledger/storage/archive"
)

const (
	moduleName = "analysis_service"
)

var (
	// Path to the configuration file.
	configFile string

	analyzeCmd = &cobra.Command{
		Use:   "analyze",
		Short: "Analyze blocks",
		Run:   runAnalyzer,
	}
)

func runAnalyzer(cmd *cobra.Command, args []string) {
	// Initialize config.
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("config init failed",
			"error", err,
		)
		os.Exit(1)
	}

	// Initialize common environment.
	if err = cmdCommon.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := cmdCommon.RootLogger()

	if cfg.Analysis == nil {
		logger.Error("analysis config not provided")
		os.Exit(1)
	}

	service, err := Init(cfg.Analysis, cfg.Metrics)
	if err != nil {
		os.Exit(1)
	}
	if err := service.Start(); err != nil {
		logger.Error("analysis service failed", "err", err)
		os.Exit(1)
	}
}

// RunMigrations applies all pending migrations from source to the database
// at target.
func RunMigrations(source string, target string) error {
	m, err := migrate.New(source, target)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close()
	}()
	switch err = m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		cmdCommon.RootLogger().Info("no migrations needed to be applied")
		return nil
	case err != nil:
		return err
	default:
		cmdCommon.RootLogger().Info("migrations completed")
		return nil
	}
}

// Init initializes the analysis service.
func Init(cfg *config.AnalysisConfig, metricsCfg *config.MetricsConfig) (*Service, error) {
	logger := cmdCommon.RootLogger()

	logger.Info("initializing analysis service", "config", cfg)
	if cfg.Storage.WipeStorage {
		logger.Warn("wiping storage")
		if err := wipeStorage(cfg.Storage); err != nil {
			return nil, err
		}
		logger.Info("storage wiped")
	}

	var backend config.StorageBackend
	if err := backend.Set(cfg.Storage.Backend); err != nil {
		return nil, err
	}
	if backend == config.BackendPostgres {
		if err := RunMigrations(cfg.Storage.Migrations, cfg.Storage.Endpoint); err != nil {
			logger.Error("migrations failed",
				"error", err,
			)
			return nil, err
		}
	}

	service, err := NewService(cfg, metricsCfg)
	if err != nil {
		logger.Error("service failed to start",
			"error", err,
		)
		return nil, err
	}
	return service, nil
}

func wipeStorage(cfg *config.StorageConfig) error {
	logger := cmdCommon.RootLogger().WithModule(moduleName)

	// Initialize target storage.
	storage, err := cmdCommon.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	ctx := context.Background()
	return storage.Wipe(ctx)
}

// Service is the ledger's analysis service.
type Service struct {
	analyzers []analyzer.Analyzer
	metrics   *metrics.PullService

	source *archive.Client
	target storage.TargetStorage
	logger *log.Logger
}

// openCache opens the archive response cache, if one is configured.
func openCache(cfg *config.CacheConfig, logger *log.Logger) (kvstore.KVStore, error) {
	if cfg == nil {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	m := metrics.NewDefaultStorageMetrics("archive")
	return kvstore.OpenKVStore(logger, filepath.Join(cfg.CacheDir, "archive"), &m)
}

// loadABIs returns the contract ABI registry. Without a configured
// directory no contract event is decoded.
func loadABIs(dir string, logger *log.Logger) (*contracts.Registry, error) {
	if dir == "" {
		logger.Info("no contract ABI directory configured")
		return contracts.NewRegistry(), nil
	}
	abis, err := contracts.LoadRegistry(dir)
	if err != nil {
		return nil, fmt.Errorf("loading contract ABIs: %w", err)
	}
	logger.Info("loaded contract ABIs", "dir", dir, "count", abis.Len())
	return abis, nil
}

// NewService creates new Service.
func NewService(cfg *config.AnalysisConfig, metricsCfg *config.MetricsConfig) (*Service, error) {
	logger := cmdCommon.RootLogger().WithModule(moduleName)

	// The archive client owns the cache and closes it.
	cache, err := openCache(cfg.Source.Cache, logger)
	if err != nil {
		return nil, err
	}
	source, err := archive.NewClient(cfg.Source.ArchiveURL, cache, logger)
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, err
	}

	// Initialize target storage.
	dbClient, err := cmdCommon.NewClient(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		source: source,
		target: dbClient,
		logger: logger,
	}
	if metricsCfg != nil {
		if s.metrics, err = metrics.NewPullService(metricsCfg.PullEndpoint, logger); err != nil {
			s.cleanup()
			return nil, err
		}
	}

	if cfg.Analyzers.Ledger != nil {
		abis, err := loadABIs(cfg.Analyzers.Ledger.ABIDir, logger)
		if err != nil {
			s.cleanup()
			return nil, err
		}
		a, err := ledger.NewAnalyzer(cfg.Analyzers.Ledger, cfg.Source.SS58Prefix, source, source, abis, dbClient, logger)
		if err != nil {
			s.cleanup()
			return nil, err
		}
		s.analyzers = append(s.analyzers, a)
	}

	logger.Info("initialized all analyzers", "count", len(s.analyzers))
	return s, nil
}

// Start runs the analyzers until they complete or the process is
// interrupted.
func (a *Service) Start() error {
	defer a.cleanup()
	a.logger.Info("starting analysis service")

	// Trap Ctrl+C and SIGTERM; the latter is issued by Kubernetes to request a shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.run(ctx)
}

func (a *Service) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// A failing metrics server stops the analyzers; finished analyzers stop
	// the metrics server.
	group, gctx := errgroup.WithContext(ctx)
	var analyzers sync.WaitGroup
	for _, an := range a.analyzers {
		an := an
		analyzers.Add(1)
		group.Go(func() error {
			defer analyzers.Done()
			an.Start(gctx)
			return nil
		})
	}
	if a.metrics != nil {
		group.Go(func() error {
			return a.metrics.Run(gctx)
		})
	}
	group.Go(func() error {
		analyzers.Wait()
		cancel()
		return nil
	})

	err := group.Wait()
	switch {
	case err != nil:
		a.logger.Error("analysis service stopped", "err", err)
	case parent.Err() != nil:
		a.logger.Info("received interrupt, all analyzers have exited cleanly")
	default:
		a.logger.Info("all analyzers have completed")
	}
	return err
}

// cleanup cleans up resources used by the service.
func (a *Service) cleanup() {
	if err := a.source.Close(); err != nil {
		a.logger.Error("failed to cleanly close source cache",
			"err", err,
		)
	}
	a.logger.Info("all source connections have closed cleanly")
	a.target.Close()
	a.logger.Info("ledger db connection closed cleanly")
}

// Register registers the process sub-command.
func Register(parentCmd *cobra.Command) {
	analyzeCmd.Flags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	parentCmd.AddCommand(analyzeCmd)
}
