package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/catalog"
)

// IngestionMetrics tracks the scan → map → validate → land pipeline and the
// materialized view refreshes that follow it.
type IngestionMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	filesScannedTotal     *Counter
	filesProcessedTotal   *Counter
	rowsLandedTotal       *Counter
	rowsQuarantinedTotal  *Counter
	fkCheckFailuresTotal  *Counter
	viewRefreshFailsTotal *Counter

	// Histograms
	mappingScore        *Histogram
	viewRefreshDuration *Histogram

	// Gauge metrics (point-in-time values)
	catalogFiles *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	catalogProvider CatalogStatsProvider
}

// CatalogStatsProvider reports the catalog backlog for periodic collection.
// catalog.CatalogFileRepository satisfies it.
type CatalogStatsProvider interface {
	CountByStatus(ctx context.Context) (map[catalog.FileStatus]int64, error)
}

// IngestionMetricsConfig holds configuration for ingestion metrics.
type IngestionMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CatalogProvider CatalogStatsProvider
}

// NewIngestionMetrics creates a new IngestionMetrics instance.
func NewIngestionMetrics(cfg IngestionMetricsConfig) (*IngestionMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	im := &IngestionMetrics{
		meter:           cfg.Meter,
		logger:          logger,
		stopChan:        make(chan struct{}),
		catalogProvider: cfg.CatalogProvider,
	}

	var err error
	counters := []struct {
		dst **Counter
		def Instrument
	}{
		{&im.filesScannedTotal, Instrument{Name: "erp_ingest_files_scanned_total", Description: "Candidate files classified by the scanner", Unit: "{files}"}},
		{&im.filesProcessedTotal, Instrument{Name: "erp_ingest_files_processed_total", Description: "Catalog files processed by outcome", Unit: "{files}"}},
		{&im.rowsLandedTotal, Instrument{Name: "erp_ingest_rows_landed_total", Description: "Rows upserted into fact tables", Unit: "{rows}"}},
		{&im.rowsQuarantinedTotal, Instrument{Name: "erp_ingest_rows_quarantined_total", Description: "Rows held back by validation", Unit: "{rows}"}},
		{&im.fkCheckFailuresTotal, Instrument{Name: "erp_ingest_fk_check_failures_total", Description: "Foreign key checks skipped because the lookup failed", Unit: "{checks}"}},
		{&im.viewRefreshFailsTotal, Instrument{Name: "erp_mview_refresh_failures_total", Description: "Failed materialized view refreshes", Unit: "{refreshes}"}},
	}
	for _, c := range counters {
		if *c.dst, err = c.def.Counter(cfg.Meter); err != nil {
			return nil, err
		}
	}

	score := Instrument{Name: "erp_ingest_mapping_score", Description: "Field mapping score per processed file", Unit: "1", Buckets: MappingScoreBuckets}
	if im.mappingScore, err = score.Histogram(cfg.Meter); err != nil {
		return nil, err
	}
	refresh := Instrument{Name: "erp_mview_refresh_duration_seconds", Description: "Materialized view refresh duration", Unit: "s", Buckets: RefreshDurationBuckets}
	if im.viewRefreshDuration, err = refresh.Histogram(cfg.Meter); err != nil {
		return nil, err
	}
	backlog := Instrument{Name: "erp_catalog_files", Description: "Catalog files per status", Unit: "{files}"}
	if im.catalogFiles, err = backlog.Gauge(cfg.Meter); err != nil {
		return nil, err
	}

	return im, nil
}

// =============================================================================
// Pipeline Metrics
// =============================================================================

// Outcome labels for processed files
const (
	OutcomeCompleted   = "completed"
	OutcomeQuarantined = "quarantined"
	OutcomeError       = "error"
	OutcomeDuplicate   = "duplicate"
)

// RecordFileScanned records one classified file.
func (im *IngestionMetrics) RecordFileScanned(ctx context.Context, platform string, valid bool) {
	im.filesScannedTotal.Inc(ctx,
		AttrPlatform.String(platform),
		AttrValid.Bool(valid),
	)
}

// RecordFileProcessed records the terminal outcome of one catalog file.
func (im *IngestionMetrics) RecordFileProcessed(ctx context.Context, domain, outcome string) {
	im.filesProcessedTotal.Inc(ctx,
		AttrDomain.String(domain),
		AttrOutcome.String(outcome),
	)
}

// RecordRowsLanded records rows upserted into table.
func (im *IngestionMetrics) RecordRowsLanded(ctx context.Context, domain, table string, rows int64) {
	if rows <= 0 {
		return
	}
	im.rowsLandedTotal.Add(ctx, rows,
		AttrDomain.String(domain),
		AttrDBTable.String(table),
	)
}

// RecordRowsQuarantined records rows held back by validation, whether the
// file was quarantined or completed without them.
func (im *IngestionMetrics) RecordRowsQuarantined(ctx context.Context, domain string, rows int64) {
	if rows <= 0 {
		return
	}
	im.rowsQuarantinedTotal.Add(ctx, rows, AttrDomain.String(domain))
}

// RecordMappingScore records the mapping score of one file.
func (im *IngestionMetrics) RecordMappingScore(ctx context.Context, platform, domain string, score float64) {
	im.mappingScore.Record(ctx, score,
		AttrPlatform.String(platform),
		AttrDomain.String(domain),
	)
}

// RecordFKCheckFailure records a foreign key lookup that failed and was skipped.
func (im *IngestionMetrics) RecordFKCheckFailure(ctx context.Context, table string) {
	im.fkCheckFailuresTotal.Inc(ctx, AttrDBTable.String(table))
}

// =============================================================================
// Materialized View Metrics
// =============================================================================

// RecordViewRefresh records one refresh attempt; err marks it failed.
func (im *IngestionMetrics) RecordViewRefresh(ctx context.Context, view string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
		im.viewRefreshFailsTotal.Inc(ctx, AttrView.String(view))
	}
	im.viewRefreshDuration.RecordDuration(ctx, elapsed,
		AttrView.String(view),
		AttrStatus.String(status),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// RecordCatalogFiles records the number of catalog files in status.
func (im *IngestionMetrics) RecordCatalogFiles(ctx context.Context, status catalog.FileStatus, count int64) {
	im.catalogFiles.Record(ctx, count, AttrStatus.String(string(status)))
}

// StartPeriodicCollection starts periodic collection of the catalog backlog
// gauge every interval (default: 5 minutes). It is non-blocking; use Stop()
// to stop collection.
func (im *IngestionMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	im.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go im.runPeriodicCollection(ctx, interval)
	})
}

func (im *IngestionMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	im.collectCatalogMetrics(ctx)

	for {
		select {
		case <-im.stopChan:
			im.logger.Info("Stopping periodic ingestion metrics collection")
			return
		case <-ctx.Done():
			im.logger.Info("Context cancelled, stopping periodic ingestion metrics collection")
			return
		case <-ticker.C:
			im.collectCatalogMetrics(ctx)
		}
	}
}

func (im *IngestionMetrics) collectCatalogMetrics(ctx context.Context) {
	if im.catalogProvider == nil {
		im.logger.Debug("No catalog provider configured, skipping catalog metrics collection")
		return
	}

	counts, err := im.catalogProvider.CountByStatus(ctx)
	if err != nil {
		im.logger.Warn("Failed to count catalog files", zap.Error(err))
		return
	}
	for _, status := range catalog.AllFileStatuses {
		im.RecordCatalogFiles(ctx, status, counts[status])
	}
}

// Stop stops the periodic collection.
func (im *IngestionMetrics) Stop() {
	im.stopOnce.Do(func() {
		close(im.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewIngestionMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
