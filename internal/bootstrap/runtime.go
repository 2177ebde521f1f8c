// Package bootstrap builds the services shared by the ingestion binaries from
// one loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/application/ingestion"
	"github.com/erp/ingestion/internal/application/reporting"
	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/mapping"
	"github.com/erp/ingestion/internal/infrastructure/cache"
	"github.com/erp/ingestion/internal/infrastructure/config"
	"github.com/erp/ingestion/internal/infrastructure/fieldmap"
	"github.com/erp/ingestion/internal/infrastructure/logger"
	"github.com/erp/ingestion/internal/infrastructure/mview"
	"github.com/erp/ingestion/internal/infrastructure/persistence"
	"github.com/erp/ingestion/internal/infrastructure/scanner"
	"github.com/erp/ingestion/internal/infrastructure/storage"
	"github.com/erp/ingestion/internal/infrastructure/telemetry"
	"github.com/erp/ingestion/internal/infrastructure/validator"
)

// Runtime owns every long-lived dependency. Close releases them in reverse
// order of creation.
type Runtime struct {
	Config *config.Config
	Logger *zap.Logger

	DB       *persistence.Database
	Files    *persistence.GormCatalogFileRepository
	Facts    *persistence.GormFactRepository
	History  mapping.HistoryStore
	Seen     catalog.SeenHashCache
	Archiver catalog.Archiver
	S3       *storage.S3Archiver
	Metrics  *telemetry.IngestionMetrics

	Rules     *fieldmap.Rules
	Engine    *fieldmap.Engine
	Scanner   *scanner.Scanner
	Ingestion *ingestion.Service
	Refresh   *reporting.RefreshService

	closers []func(context.Context) error
}

// Options tune what New wires
type Options struct {
	// ConfigFile overrides the config.toml search
	ConfigFile string
	// ServiceName names the OTLP resource and the logger bridge
	ServiceName string
	// Telemetry enables tracing, metrics, log export and profiling
	Telemetry bool
}

// New loads configuration and connects everything. On error the partially
// built runtime is closed.
func New(ctx context.Context, opts Options) (rt *Runtime, err error) {
	cfg, err := config.LoadFile(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt = &Runtime{Config: cfg, Logger: log}
	rt.onClose(func(context.Context) error {
		_ = log.Sync()
		return nil
	})
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	meterProvider, err := rt.initTelemetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := rt.initDatabase(ctx, meterProvider); err != nil {
		return nil, err
	}

	rt.Metrics, err = telemetry.NewIngestionMetrics(telemetry.IngestionMetricsConfig{
		Meter:           meterProvider.Meter("ingestion"),
		Logger:          rt.Logger,
		CatalogProvider: rt.Files,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion metrics: %w", err)
	}
	rt.onClose(func(context.Context) error {
		rt.Metrics.Stop()
		return nil
	})

	if err := rt.initHistory(ctx); err != nil {
		return nil, err
	}
	if err := rt.initStores(ctx); err != nil {
		return nil, err
	}
	if err := rt.initServices(); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close shuts down in reverse order and joins every error
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *Runtime) initTelemetry(ctx context.Context, opts Options) (*telemetry.MeterProvider, error) {
	cfg := rt.Config
	if !opts.Telemetry {
		return telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{}, rt.Logger)
	}

	tracing := cfg.TracingConfig()
	if opts.ServiceName != "" {
		tracing.ServiceName = opts.ServiceName
	}
	tp, err := telemetry.NewTracerProvider(ctx, tracing, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.onClose(tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, cfg.MetricsConfig(), rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	rt.onClose(mp.Shutdown)

	lp, err := telemetry.NewLoggerProvider(ctx, cfg.LogsConfig(), rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize log export: %w", err)
	}
	rt.onClose(lp.Shutdown)
	rt.Logger = telemetry.Bridge(rt.Logger, lp, tracing.ServiceName)

	profiler, err := telemetry.NewProfiler(cfg.ProfilerConfig(), rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start profiler: %w", err)
	}
	rt.onClose(func(context.Context) error { return profiler.Stop() })
	if profiler.IsEnabled() && cfg.Profiler.SpanProfiles {
		tp.EnableSpanProfiles()
	}
	return mp, nil
}

func (rt *Runtime) initDatabase(ctx context.Context, mp *telemetry.MeterProvider) error {
	cfg := rt.Config
	gormLog := logger.NewGormLogger(rt.Logger, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Database.SlowQuery))
	db, err := persistence.Open(ctx, &cfg.Database, gormLog)
	if err != nil {
		return err
	}
	rt.DB = db
	rt.onClose(func(context.Context) error { return db.Close() })
	version, err := db.RequireSchema(ctx)
	if err != nil {
		return err
	}
	rt.Logger.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.String("dbname", cfg.Database.DBName),
		zap.Uint("schema_version", version),
	)

	if err := telemetry.RegisterDBTracing(db.DB, cfg.DBTracingConfig(), rt.Logger); err != nil {
		return fmt.Errorf("failed to register database tracing: %w", err)
	}
	dbMetrics, err := telemetry.RegisterDBMetrics(ctx, db.DB, mp, cfg.DBMetricsConfig(), rt.Logger)
	if err != nil {
		return fmt.Errorf("failed to register database metrics: %w", err)
	}
	if dbMetrics != nil {
		rt.onClose(func(context.Context) error {
			dbMetrics.Stop()
			return nil
		})
	}

	rt.Files = persistence.NewGormCatalogFileRepository(db.DB)
	rt.Facts = persistence.NewGormFactRepository(db.DB, cfg.Ingestion.BatchSize)
	return nil
}

func (rt *Runtime) initHistory(_ context.Context) error {
	cfg := rt.Config.Mapping
	switch cfg.HistoryBackend {
	case "db":
		rt.History = persistence.NewGormHistoryStore(rt.DB.DB)
	default:
		store, err := fieldmap.NewFileHistoryStore(cfg.HistoryFile, rt.Logger)
		if err != nil {
			return fmt.Errorf("failed to open mapping history: %w", err)
		}
		rt.History = store
	}
	rt.Logger.Info("Mapping history ready", zap.String("backend", cfg.HistoryBackend))
	return nil
}

func (rt *Runtime) initStores(ctx context.Context) error {
	cfg := rt.Config

	seen, err := cache.NewSeenHashCache(ctx, cfg.Redis,
		cache.WithLogger(rt.Logger),
		cache.WithInMemoryFallback(!cfg.Redis.Required),
	)
	if err != nil {
		return fmt.Errorf("failed to create seen-hash cache: %w", err)
	}
	rt.Seen = seen
	rt.onClose(func(context.Context) error { return seen.Close() })

	if !cfg.Storage.Enabled {
		rt.Archiver = storage.NewNoopArchiver(cfg.Storage.Prefix)
		return nil
	}
	s3, err := storage.NewS3Archiver(&cfg.Storage,
		storage.WithLogger(rt.Logger),
		storage.WithPresignExpiration(cfg.Storage.PresignExpiration),
	)
	if err != nil {
		return fmt.Errorf("failed to create archive storage: %w", err)
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to prepare archive bucket: %w", err)
	}
	rt.S3 = s3
	rt.Archiver = s3
	return nil
}

func (rt *Runtime) initServices() error {
	cfg := rt.Config

	rules, err := fieldmap.LoadRules(cfg.Mapping.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to load field rules: %w", err)
	}
	rt.Rules = rules
	mapper := fieldmap.NewFieldMapper(rules,
		fieldmap.WithHistory(rt.History),
		fieldmap.WithFuzzyThreshold(cfg.Mapping.FuzzyThreshold),
		fieldmap.WithMapperLogger(rt.Logger),
	)

	vopts := []validator.Option{
		validator.WithLogger(rt.Logger),
		validator.WithFailureRecorder(rt.Metrics),
	}
	references := persistence.NewGormReferenceChecker(rt.DB.DB)
	if cfg.Validation.FKCheck {
		vopts = append(vopts, validator.WithReferenceChecker(references, cfg.Validation.FKTimeout))
	}
	rt.Engine = fieldmap.NewEngine(
		fieldmap.WithReferenceChecker(references),
		fieldmap.WithEngineLogger(rt.Logger.Named("engine")),
	)

	rt.Refresh, err = reporting.NewRefreshService(
		mview.NewRefresher(rt.DB.DB, mview.WithLogger(rt.Logger), mview.WithTimeout(cfg.Refresh.Timeout)),
		persistence.NewGormRefreshLogRepository(rt.DB.DB),
		rt.Metrics,
		rt.Logger,
		cfg.Refresh.Views,
	)
	if err != nil {
		return err
	}

	rt.Scanner = scanner.New(scanner.Config{
		Root:        cfg.Scanner.Root,
		RootMarker:  cfg.Scanner.RootMarker,
		FastMode:    cfg.Scanner.FastMode,
		HashWorkers: cfg.Scanner.HashWorkers,
	}, scanner.WithLogger(rt.Logger))

	rt.Ingestion = ingestion.NewService(
		rt.Files,
		rt.Facts,
		mapper,
		validator.New(vopts...),
		ingestion.Config{
			AutoConfirmThreshold: cfg.Mapping.AutoConfirmThreshold,
			SeenTTL:              cfg.Redis.SeenTTL,
			BatchSize:            cfg.Ingestion.BatchSize,
		},
		ingestion.WithHistory(rt.History),
		ingestion.WithSeenCache(rt.Seen),
		ingestion.WithArchiver(rt.Archiver),
		ingestion.WithViewInvalidator(rt.Refresh),
		ingestion.WithMetrics(rt.Metrics),
		ingestion.WithLogger(rt.Logger),
	)
	return nil
}

// ShutdownTimeout bounds Close in the binaries
const ShutdownTimeout = 30 * time.Second
