package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/mapping"
	"github.com/erp/ingestion/internal/domain/shared"
	"github.com/erp/ingestion/internal/domain/validation"
	"github.com/erp/ingestion/internal/infrastructure/scheduler"
	"github.com/erp/ingestion/internal/infrastructure/telemetry"
)

// maxStoredIssues caps the validation problems persisted on a file
const maxStoredIssues = 200

// RunOptions selects the pending files a RunOnce call processes
type RunOptions struct {
	// Limit caps the batch. Zero uses the configured batch size.
	Limit int
	// Domains restricts the batch to these data domains
	Domains []catalog.DataDomain
	// RecentHours only picks files first seen within the last N hours
	RecentHours int
}

// FileOutcome is the result of processing one catalog file
type FileOutcome struct {
	FileID       uuid.UUID          `json:"file_id"`
	FileName     string             `json:"file_name"`
	Status       catalog.FileStatus `json:"status"`
	Rows         int                `json:"rows"`
	RowsLanded   int64              `json:"rows_landed"`
	RowsHeld     int                `json:"rows_held,omitempty"`
	MappingScore float64            `json:"mapping_score"`
	QualityScore float64            `json:"quality_score"`
	ArchiveKey   string             `json:"archive_key,omitempty"`
	Message      string             `json:"message,omitempty"`
}

// RunResult summarises a RunOnce call
type RunResult struct {
	Picked      int           `json:"picked"`
	Completed   int           `json:"completed"`
	Quarantined int           `json:"quarantined"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	RowsLanded  int64         `json:"rows_landed"`
	Files       []FileOutcome `json:"files"`
}

// RunOnce processes a batch of pending files, oldest first. A file claimed
// by another worker in the meantime is skipped. Errors from individual files
// are recorded on the files themselves; RunOnce only returns an error when
// the batch cannot be loaded or ctx ends.
func (s *Service) RunOnce(ctx context.Context, opts RunOptions) (*RunResult, error) {
	status := catalog.FileStatusPending
	filter := catalog.CatalogFileFilter{
		Status:  &status,
		Domains: opts.Domains,
		Limit:   opts.Limit,
	}
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.BatchSize
	}
	if opts.RecentHours > 0 {
		since := s.now().Add(-time.Duration(opts.RecentHours) * time.Hour)
		filter.SeenAfter = &since
	}

	files, err := s.files.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending files: %w", err)
	}

	result := &RunResult{Picked: len(files), Files: make([]FileOutcome, 0, len(files))}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := s.ProcessFile(ctx, file)
		if err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) || errors.Is(err, shared.ErrInvalidState) {
				result.Skipped++
				continue
			}
			result.Failed++
			result.Files = append(result.Files, FileOutcome{
				FileID:   file.ID,
				FileName: file.FileName,
				Status:   file.Status,
				Message:  err.Error(),
			})
			continue
		}
		switch outcome.Status {
		case catalog.FileStatusCompleted:
			result.Completed++
		case catalog.FileStatusQuarantined:
			result.Quarantined++
		default:
			result.Failed++
		}
		result.RowsLanded += outcome.RowsLanded
		result.Files = append(result.Files, *outcome)
	}

	s.logger.Info("Ingestion batch finished",
		zap.Int("picked", result.Picked),
		zap.Int("completed", result.Completed),
		zap.Int("quarantined", result.Quarantined),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int64("rows_landed", result.RowsLanded),
	)
	return result, nil
}

// ProcessFile claims a pending file and moves it to completed, quarantined
// or error. Read and landing failures end in the error state and are
// reported in the outcome, not as a returned error. A returned error means
// the file could not be claimed or its final state could not be saved.
func (s *Service) ProcessFile(ctx context.Context, file *catalog.CatalogFile) (*FileOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.process_file",
		telemetry.WithAttribute(telemetry.SpanAttrFileID, file.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPlatform, file.Platform),
		telemetry.WithAttribute(telemetry.SpanAttrDataDomain, string(file.DataDomain)),
	)
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	log := s.logger.With(
		zap.String("file_id", file.ID.String()),
		zap.String("file_name", file.FileName),
		zap.String("data_domain", string(file.DataDomain)),
	)

	if err := file.StartProcessing(); err != nil {
		spanErr = err
		return nil, fmt.Errorf("cannot claim file %s: %w", file.ID, err)
	}
	if err := s.files.Save(ctx, file); err != nil {
		spanErr = err
		return nil, fmt.Errorf("failed to claim file %s: %w", file.ID, err)
	}

	outcome := &FileOutcome{FileID: file.ID, FileName: file.FileName}
	s.run(ctx, file, outcome, log)

	if err := s.files.Save(ctx, file); err != nil {
		spanErr = err
		return nil, fmt.Errorf("failed to save file %s as %s: %w", file.ID, file.Status, err)
	}
	outcome.Status = file.Status
	telemetry.SetAttributes(span,
		"status", string(file.Status),
		telemetry.SpanAttrRows, outcome.Rows,
	)

	s.metrics.RecordFileProcessed(ctx, string(file.DataDomain), outcomeLabel(file.Status))
	s.archive(ctx, file, outcome, log)

	log.Info("File processed",
		zap.String("status", string(file.Status)),
		zap.Int("rows", outcome.Rows),
		zap.Int64("rows_landed", outcome.RowsLanded),
		zap.Float64("quality_score", outcome.QualityScore),
	)
	return outcome, nil
}

// run performs the stages and leaves file in its final state. Every branch
// makes exactly one transition out of processing.
func (s *Service) run(ctx context.Context, file *catalog.CatalogFile, outcome *FileOutcome, log *zap.Logger) {
	if !landedDomains[file.DataDomain] && !recordedDomains[file.DataDomain] {
		reason := fmt.Sprintf("unknown data domain %q", file.DataDomain)
		outcome.Message = reason
		s.transition(file, log, file.Quarantine(0, nil, reason))
		return
	}

	platform, domain := file.Platform, string(file.DataDomain)

	table, err := s.read(file.FilePath)
	if err != nil {
		outcome.Message = err.Error()
		log.Warn("Failed to read file", zap.Error(err))
		s.transition(file, log, file.Fail(fmt.Sprintf("read failed: %v", err)))
		return
	}
	outcome.Rows = table.Len()

	var result *mapping.Result
	telemetry.WithProfilingLabels(ctx, telemetry.StageLabels(telemetry.StageMap, platform, domain), func(ctx context.Context) {
		ctx, span := telemetry.StartStageSpan(ctx, "ingest", telemetry.StageMap)
		defer span.End()
		result = s.mapper.MapFields(ctx, table.Headers, mapping.MetadataFromCatalog(file))
		telemetry.SetAttributes(span,
			telemetry.SpanAttrMappingKey, result.Key,
			telemetry.SpanAttrScore, result.Score,
		)
	})
	outcome.MappingScore = result.Score
	s.metrics.RecordMappingScore(ctx, platform, domain, result.Score)

	columns := result.Columns()
	var vr *validation.Result
	telemetry.WithProfilingLabels(ctx, telemetry.StageLabels(telemetry.StageValidate, platform, domain), func(ctx context.Context) {
		ctx, span := telemetry.StartStageSpan(ctx, "ingest", telemetry.StageValidate)
		defer span.End()
		vr = s.checker.Validate(ctx, table, columns, domain)
		telemetry.SetAttributes(span,
			"errors", len(vr.Errors),
			"warnings", len(vr.Warnings),
		)
	})
	quality := vr.QualityScore()
	outcome.QualityScore = quality

	// a table-level error, or no row passing, holds the whole file
	held := vr.ErrorRows()
	if vr.HasTableLevelErrors() || (len(held) > 0 && len(held) == table.Len()) {
		reason := fmt.Sprintf("%d validation errors on %d rows", len(vr.Errors), len(held))
		outcome.Message = reason
		s.metrics.RecordRowsQuarantined(ctx, domain, int64(table.Len()))
		s.transition(file, log, file.Quarantine(quality, issuesFrom(vr.Errors), reason))
		return
	}
	valid := table
	if len(held) > 0 {
		valid = table.Without(held)
		outcome.RowsHeld = len(held)
	}

	var landed *landing
	telemetry.WithProfilingLabels(ctx, telemetry.StageLabels(telemetry.StageLand, platform, domain), func(ctx context.Context) {
		ctx, span := telemetry.StartStageSpan(ctx, "ingest", telemetry.StageLand)
		landed, err = s.land(ctx, file, valid.Rename(invert(columns)))
		telemetry.EndSpan(span, err)
	})
	if err != nil {
		outcome.Message = err.Error()
		if errors.Is(err, errMissingShop) {
			s.transition(file, log, file.Quarantine(quality, nil, err.Error()))
			return
		}
		log.Error("Failed to land rows", zap.Error(err))
		s.transition(file, log, file.Fail(fmt.Sprintf("landing failed: %v", err)))
		return
	}

	outcome.RowsLanded = landed.rows
	if landed.table != "" {
		s.metrics.RecordRowsLanded(ctx, domain, landed.table, landed.rows)
	}
	if len(held) > 0 {
		reason := fmt.Sprintf("%d rows held back by %d validation errors", len(held), len(vr.Errors))
		outcome.Message = reason
		s.metrics.RecordRowsQuarantined(ctx, domain, int64(len(held)))
		log.Warn("Rows held back", zap.Int("rows_held", len(held)), zap.Int("errors", len(vr.Errors)))
		s.transition(file, log, file.CompleteWithHeldRows(quality, issuesFrom(vr.Errors), reason))
	} else {
		s.transition(file, log, file.Complete(quality))
	}

	s.confirmMappings(ctx, result, log)
	if s.views != nil && landed.rows > 0 {
		s.views.MarkStale(staleViews[file.DataDomain]...)
	}
}

func (s *Service) transition(file *catalog.CatalogFile, log *zap.Logger, err error) {
	if err != nil {
		// only reachable if the file left processing underneath us
		log.Error("Invalid status transition", zap.String("status", string(file.Status)), zap.Error(err))
	}
}

// confirmMappings folds confident matches into history so the next file
// with the same key resolves them directly.
func (s *Service) confirmMappings(ctx context.Context, result *mapping.Result, log *zap.Logger) {
	if s.history == nil || result == nil {
		return
	}
	// match confidence is on a 0-100 scale
	confirmed := result.Confirmed(s.cfg.AutoConfirmThreshold * 100)
	if len(confirmed) == 0 {
		return
	}
	now := s.now()
	columns := make(map[string]string, len(confirmed))
	meta := make(map[string]mapping.FieldMeta, len(confirmed))
	for field, m := range confirmed {
		// already remembered
		if m.Method == mapping.MethodHistory {
			continue
		}
		columns[field] = m.Column
		meta[field] = mapping.FieldMeta{Confidence: m.Confidence, Method: m.Method, ConfirmedAt: now}
	}
	if len(columns) == 0 {
		return
	}
	if err := s.history.SaveBatchMappings(ctx, result.Key, columns, meta); err != nil {
		log.Warn("Failed to save confirmed mappings", zap.String("mapping_key", result.Key), zap.Error(err))
		return
	}
	log.Debug("Mappings confirmed", zap.String("mapping_key", result.Key), zap.Int("fields", len(columns)))
}

// archive copies curated and quarantined files to object storage. Failures
// are logged only; the catalog row is already final.
func (s *Service) archive(ctx context.Context, file *catalog.CatalogFile, outcome *FileOutcome, log *zap.Logger) {
	if s.archiver == nil {
		return
	}
	if file.Status != catalog.FileStatusCompleted && file.Status != catalog.FileStatusQuarantined {
		return
	}
	key, err := s.archiver.Archive(ctx, file)
	if err != nil {
		log.Warn("Failed to archive file", zap.Error(err))
		return
	}
	outcome.ArchiveKey = key
}

// Execute implements scheduler.JobExecutor for ingest jobs. A job with a
// file id processes that file; an empty target runs one pending batch. A
// retried job requeues the file its previous attempt left in error.
func (s *Service) Execute(ctx context.Context, job *scheduler.Job) error {
	if job.Target == "" {
		_, err := s.RunOnce(ctx, RunOptions{})
		return err
	}

	id, err := uuid.Parse(job.Target)
	if err != nil {
		return fmt.Errorf("%w: %w: ingest target %q is not a file id", scheduler.ErrPermanent, shared.ErrInvalidInput, job.Target)
	}
	file, err := s.files.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load file %s: %w", id, err)
	}
	if file.Status == catalog.FileStatusError && job.RetryCount > 0 {
		if file, err = s.Requeue(ctx, id); err != nil {
			return err
		}
	}
	if file.Status != catalog.FileStatusPending {
		s.logger.Info("Skipping ingest job for file that is not pending",
			zap.String("file_id", id.String()),
			zap.String("status", string(file.Status)),
		)
		return nil
	}
	outcome, err := s.ProcessFile(ctx, file)
	if err != nil {
		return err
	}
	if outcome.Status == catalog.FileStatusError {
		return fmt.Errorf("file %s failed: %s", id, outcome.Message)
	}
	return nil
}

// Requeue sends an error or quarantined file back to pending
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*catalog.CatalogFile, error) {
	file, err := s.files.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := file.Requeue(); err != nil {
		return nil, err
	}
	if err := s.files.Save(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to requeue file %s: %w", id, err)
	}
	s.logger.Info("File requeued", zap.String("file_id", id.String()))
	return file, nil
}

func issuesFrom(errs []validation.Error) []catalog.IssueDetail {
	n := len(errs)
	if n > maxStoredIssues {
		n = maxStoredIssues
	}
	issues := make([]catalog.IssueDetail, 0, n)
	for _, e := range errs[:n] {
		issues = append(issues, catalog.IssueDetail{
			Row:     e.Row,
			Column:  e.Column,
			Type:    string(e.Type),
			Message: e.Message,
			Value:   e.Value,
		})
	}
	return issues
}

func invert(fieldToColumn map[string]string) map[string]string {
	out := make(map[string]string, len(fieldToColumn))
	for field, column := range fieldToColumn {
		out[column] = field
	}
	return out
}

func outcomeLabel(status catalog.FileStatus) string {
	switch status {
	case catalog.FileStatusCompleted:
		return telemetry.OutcomeCompleted
	case catalog.FileStatusQuarantined:
		return telemetry.OutcomeQuarantined
	}
	return telemetry.OutcomeError
}

var _ scheduler.JobExecutor = (*Service)(nil)
