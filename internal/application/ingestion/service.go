// Package ingestion registers scanned files in the catalog and moves pending
// files through mapping, validation and landing into the fact tables.
package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/mapping"
	"github.com/erp/ingestion/internal/domain/validation"
	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/tabular"
)

// FieldMapper resolves source headers to standard fields
type FieldMapper interface {
	MapFields(ctx context.Context, columns []string, meta mapping.FileMetadata) *mapping.Result
}

// RowValidator checks mapped rows before they are landed
type RowValidator interface {
	Validate(ctx context.Context, table *tabular.Table, mappings map[string]string, domain string) *validation.Result
}

// ViewInvalidator is told which reporting views new facts have made stale
type ViewInvalidator interface {
	MarkStale(views ...string)
}

// Metrics records pipeline outcomes. telemetry.IngestionMetrics implements it.
type Metrics interface {
	RecordFileScanned(ctx context.Context, platform string, valid bool)
	RecordFileProcessed(ctx context.Context, domain, outcome string)
	RecordRowsLanded(ctx context.Context, domain, table string, rows int64)
	RecordRowsQuarantined(ctx context.Context, domain string, rows int64)
	RecordMappingScore(ctx context.Context, platform, domain string, score float64)
}

// TableReader loads a collected file into memory
type TableReader func(path string) (*tabular.Table, error)

// Config holds service settings
type Config struct {
	// AutoConfirmThreshold is the fraction of full confidence (0-1) at which
	// a mapping is written back to history after a file completes
	AutoConfirmThreshold float64
	// SeenTTL bounds how long a registered hash stays in the seen cache
	SeenTTL time.Duration
	// BatchSize is the default RunOnce limit
	BatchSize int
	// DefaultCurrency is used when neither a currency column nor the amount
	// itself tells the currency
	DefaultCurrency string
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		AutoConfirmThreshold: 0.9,
		SeenTTL:              7 * 24 * time.Hour,
		BatchSize:            500,
		DefaultCurrency:      "CNY",
	}
}

// Service drives catalog files from registration to the warehouse
type Service struct {
	files   catalog.CatalogFileRepository
	facts   warehouse.FactRepository
	mapper  FieldMapper
	checker RowValidator
	cfg     Config

	history  mapping.HistoryStore
	seen     catalog.SeenHashCache
	archiver catalog.Archiver
	views    ViewInvalidator
	metrics  Metrics
	logger   *zap.Logger
	read     TableReader
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithHistory enables auto-confirmation of confident mappings
func WithHistory(h mapping.HistoryStore) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithSeenCache lets registration skip hashes it has already handled
func WithSeenCache(c catalog.SeenHashCache) Option {
	return func(s *Service) {
		s.seen = c
	}
}

// WithArchiver copies finished files to long-term storage
func WithArchiver(a catalog.Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// WithViewInvalidator marks reporting views stale after facts land
func WithViewInvalidator(v ViewInvalidator) Option {
	return func(s *Service) {
		s.views = v
	}
}

// WithMetrics sets the pipeline metrics recorder
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTableReader replaces tabular.Open
func WithTableReader(r TableReader) Option {
	return func(s *Service) {
		if r != nil {
			s.read = r
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an ingestion service. Zero config values take their
// DefaultConfig counterparts.
func NewService(
	files catalog.CatalogFileRepository,
	facts warehouse.FactRepository,
	mapper FieldMapper,
	checker RowValidator,
	cfg Config,
	opts ...Option,
) *Service {
	def := DefaultConfig()
	if cfg.AutoConfirmThreshold <= 0 {
		cfg.AutoConfirmThreshold = def.AutoConfirmThreshold
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = def.SeenTTL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = def.DefaultCurrency
	}

	s := &Service{
		files:   files,
		facts:   facts,
		mapper:  mapper,
		checker: checker,
		cfg:     cfg,
		metrics: noopMetrics{},
		logger:  zap.NewNop(),
		read:    tabular.Open,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type noopMetrics struct{}

func (noopMetrics) RecordFileScanned(context.Context, string, bool) {}
func (noopMetrics) RecordFileProcessed(context.Context, string, string) {}
func (noopMetrics) RecordRowsLanded(context.Context, string, string, int64) {}
func (noopMetrics) RecordRowsQuarantined(context.Context, string, int64) {}
func (noopMetrics) RecordMappingScore(context.Context, string, string, float64) {}
