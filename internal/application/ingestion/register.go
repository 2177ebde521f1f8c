package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/infrastructure/scanner"
	"github.com/erp/ingestion/internal/infrastructure/telemetry"
)

// RegisterOutcome is what happened to one scanned file
type RegisterOutcome string

const (
	RegisterNew       RegisterOutcome = "new"
	RegisterDuplicate RegisterOutcome = "duplicate"
	RegisterInvalid   RegisterOutcome = "invalid"
	RegisterFailed    RegisterOutcome = "failed"
)

// RegisterResult summarises a RegisterScan call
type RegisterResult struct {
	Total      int            `json:"total"`
	Registered int            `json:"registered"`
	Duplicates int            `json:"duplicates"`
	Invalid    int            `json:"invalid"`
	Failed     int            `json:"failed"`
	Errors     []ProcessError `json:"errors,omitempty"`
}

// ProcessError records a file that could not be handled
type ProcessError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// RegisterScan registers every valid file of a scan report in the catalog.
// A file whose content hash is already known is counted as a duplicate and
// left untouched, so repeated scans of the same tree register nothing.
func (s *Service) RegisterScan(ctx context.Context, report *scanner.ScanReport) (*RegisterResult, error) {
	if report == nil {
		return nil, fmt.Errorf("scan report is nil")
	}
	ctx, span := telemetry.StartStageSpan(ctx, "ingest", "register",
		telemetry.WithAttribute("files", len(report.Files)),
	)
	defer span.End()

	result := &RegisterResult{Total: len(report.Files)}
	for _, info := range report.Files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, _, err := s.RegisterFile(ctx, info)
		switch outcome {
		case RegisterNew:
			result.Registered++
		case RegisterDuplicate:
			result.Duplicates++
		case RegisterInvalid:
			result.Invalid++
		case RegisterFailed:
			result.Failed++
			result.Errors = append(result.Errors, ProcessError{Path: info.Path, Message: err.Error()})
		}
	}

	telemetry.SetAttributes(span,
		"registered", result.Registered,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
	)
	s.logger.Info("Scan registered",
		zap.Int("total", result.Total),
		zap.Int("registered", result.Registered),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("invalid", result.Invalid),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// RegisterFile registers one scanned file. It is also the handler the
// directory watcher feeds. The returned file is nil unless a new row was
// created.
func (s *Service) RegisterFile(ctx context.Context, info scanner.FileInfo) (RegisterOutcome, *catalog.CatalogFile, error) {
	platform := ""
	if info.Metadata != nil {
		platform = info.Metadata.Platform
	}
	s.metrics.RecordFileScanned(ctx, platform, info.Valid)

	if !info.Valid || info.Metadata == nil {
		return RegisterInvalid, nil, nil
	}

	hash := info.FileHash
	if hash == "" || hash == scanner.HashSkipped {
		h, err := scanner.HashFile(info.Path)
		if err != nil {
			s.logger.Warn("Failed to hash file", zap.String("path", info.Path), zap.Error(err))
			return RegisterFailed, nil, fmt.Errorf("failed to hash %s: %w", info.Path, err)
		}
		hash = h
	}

	if s.isSeen(ctx, hash) {
		s.metrics.RecordFileProcessed(ctx, info.Metadata.DataType, telemetry.OutcomeDuplicate)
		return RegisterDuplicate, nil, nil
	}

	file, err := catalog.NewCatalogFile(info.Path, info.FileSize, hash)
	if err != nil {
		return RegisterFailed, nil, err
	}
	applyScanMetadata(file, info.Metadata)

	created, err := s.files.Register(ctx, file)
	if err != nil {
		s.logger.Error("Failed to register file", zap.String("path", info.Path), zap.Error(err))
		return RegisterFailed, nil, fmt.Errorf("failed to register %s: %w", info.Path, err)
	}
	s.markSeen(ctx, hash)

	if !created {
		s.metrics.RecordFileProcessed(ctx, info.Metadata.DataType, telemetry.OutcomeDuplicate)
		s.logger.Debug("File already registered", zap.String("path", info.Path), zap.String("file_hash", hash))
		return RegisterDuplicate, nil, nil
	}
	s.logger.Info("File registered",
		zap.String("file_id", file.ID.String()),
		zap.String("path", info.Path),
		zap.String("platform", file.Platform),
		zap.String("data_domain", string(file.DataDomain)),
	)
	return RegisterNew, file, nil
}

// isSeen consults the seen cache. Cache errors only cost a database round trip.
func (s *Service) isSeen(ctx context.Context, hash string) bool {
	if s.seen == nil {
		return false
	}
	seen, err := s.seen.IsSeen(ctx, hash)
	if err != nil {
		s.logger.Warn("Seen cache lookup failed", zap.Error(err))
		return false
	}
	return seen
}

func (s *Service) markSeen(ctx context.Context, hash string) {
	if s.seen == nil {
		return
	}
	if _, err := s.seen.MarkSeen(ctx, hash, s.cfg.SeenTTL); err != nil {
		s.logger.Warn("Seen cache update failed", zap.Error(err))
	}
}

// applyScanMetadata copies the scanner's routing metadata onto a new file
func applyScanMetadata(file *catalog.CatalogFile, meta *scanner.Metadata) {
	shopID := meta.ShopID
	if shopID == "" {
		shopID = meta.ShopSlug
	}
	file.ApplyMetadata(
		meta.Platform,
		meta.AccountLabel,
		shopID,
		catalog.DataDomain(meta.DataType),
		meta.SubType,
		catalog.Granularity(meta.Granularity),
		parseDay(meta.StartDate),
		parseDay(meta.EndDate),
	)
	file.MetaFilePath = meta.ManifestPath
}

func parseDay(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}
