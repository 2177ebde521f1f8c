// Package scanner discovers collected export files on disk, decides which of
// them are legitimate data artifacts and extracts the routing metadata the
// ingestion pipeline needs. It only reads; registration is done by callers.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/infrastructure/granularity"
)

// Classification reasons reported on FileInfo.Reason
const (
	ReasonValidWithManifest = "valid with manifest"
	ReasonValidByPath       = "valid by path structure"
	ReasonOutsideRoot       = "not in temp/outputs"
	ReasonUnsupported       = "unsupported file format"
	ReasonJunk              = "test/temp/backup file"
	ReasonUnknownStructure  = "unknown structure"
	ReasonUnreadable        = "unreadable file"
)

// Metadata sources
const (
	SourceManifest      = "manifest"
	SourcePathInference = "path_inference"
	SourceUnknown       = "unknown"
)

// anchorSegment is the directory that path inference counts positions from:
// outputs/<platform>/<account>/<shop>/<data_type>/<granularity>/<file>
const anchorSegment = "outputs"

var supportedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".csv":  true,
}

var junkMarkers = []string{"test", "temp", "backup", "~$", "副本"}

var dateRangePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})_(\d{4}-\d{2}-\d{2})`)

// Config holds scanner settings
type Config struct {
	// Root is the directory walked by ScanAndAnalyze and Watch
	Root string
	// RootMarker must appear in every accepted file path
	RootMarker string
	// FastMode skips content hashing
	FastMode bool
	// HashWorkers bounds concurrent hashing when FastMode is off
	HashWorkers int
}

// DefaultConfig returns the settings used by the collectors' output layout
func DefaultConfig() Config {
	return Config{
		Root:        "temp/outputs",
		RootMarker:  "temp/outputs",
		FastMode:    true,
		HashWorkers: 4,
	}
}

// ProgressFunc is called after each candidate file with its 1-based index.
// Errors and panics are logged and never abort a scan.
type ProgressFunc func(index, total int, path string) error

// Metadata is what the scanner knows about a valid file
type Metadata struct {
	FileName     string `json:"file_name"`
	FilePath     string `json:"file_path"`
	Source       string `json:"source"`
	Platform     string `json:"platform,omitempty"`
	AccountLabel string `json:"account_label,omitempty"`
	ShopSlug     string `json:"shop_slug,omitempty"`
	ShopName     string `json:"shop_name,omitempty"`
	ShopID       string `json:"shop_id,omitempty"`
	Region       string `json:"region,omitempty"`
	DataType     string `json:"data_type,omitempty"`
	SubType      string `json:"subtype,omitempty"`
	Granularity  string `json:"granularity,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	ExportedAt   string `json:"exported_at,omitempty"`
	ManifestPath string `json:"manifest_path,omitempty"`
}

// FileInfo is the scan outcome for one candidate file
type FileInfo struct {
	Path     string    `json:"path"`
	Valid    bool      `json:"valid"`
	Reason   string    `json:"reason"`
	Metadata *Metadata `json:"metadata,omitempty"`
	FileHash string    `json:"file_hash,omitempty"`
	FileSize int64     `json:"file_size,omitempty"`
}

// Status returns "valid" or "invalid"
func (f FileInfo) Status() string {
	if f.Valid {
		return "valid"
	}
	return "invalid"
}

// Scanner walks a directory tree of collected files
type Scanner struct {
	cfg      Config
	progress ProgressFunc
	logger   *zap.Logger
	validate *validator.Validate
}

// Option configures a Scanner
type Option func(*Scanner)

// WithProgress sets the per-file progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) {
		s.progress = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// New creates a scanner. Zero-valued config fields take their defaults.
func New(cfg Config, opts ...Option) *Scanner {
	def := DefaultConfig()
	if cfg.Root == "" {
		cfg.Root = def.Root
	}
	if cfg.RootMarker == "" {
		cfg.RootMarker = def.RootMarker
	}
	if cfg.HashWorkers <= 0 {
		cfg.HashWorkers = def.HashWorkers
	}

	s := &Scanner{
		cfg:      cfg,
		logger:   zap.NewNop(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration
func (s *Scanner) Config() Config {
	return s.cfg
}

// ScanAndAnalyze walks the root twice: once to count candidates so progress
// can be reported against a total, then to classify each file.
func (s *Scanner) ScanAndAnalyze(ctx context.Context) (*ScanReport, error) {
	s.logger.Info("Starting catalog scan", zap.String("root", s.cfg.Root), zap.Bool("fast_mode", s.cfg.FastMode))

	total := 0
	err := s.walkCandidates(ctx, func(string) error {
		total++
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Candidate files discovered", zap.Int("total", total))

	files := make([]FileInfo, 0, total)
	index, valid := 0, 0
	err = s.walkCandidates(ctx, func(path string) error {
		index++
		s.notify(index, total, path)

		info := s.Analyze(path)
		files = append(files, info)
		if !info.Valid {
			s.logger.Debug("Skipping invalid file", zap.String("path", path), zap.String("reason", info.Reason))
			return nil
		}
		if valid++; valid%100 == 0 {
			s.logger.Info("Scan progress", zap.Int("valid", valid))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !s.cfg.FastMode {
		if err := hashFiles(ctx, files, s.cfg.HashWorkers, s.logger); err != nil {
			return nil, err
		}
	}

	report := NewScanReport(files)
	s.logger.Info("Catalog scan completed",
		zap.Int("total", report.Total),
		zap.Int("valid", report.Valid),
		zap.Int("invalid", report.Invalid),
		zap.Int("with_manifest", report.WithManifest),
		zap.Int("without_manifest", report.WithoutManifest),
	)
	return report, nil
}

// Analyze classifies a single file and extracts its metadata when valid.
// The hash is left as HashSkipped; ScanAndAnalyze fills it outside fast mode.
func (s *Scanner) Analyze(path string) FileInfo {
	valid, reason, manifest := s.classify(path)
	info := FileInfo{Path: path, Valid: valid, Reason: reason}
	if !valid {
		return info
	}

	info.Metadata = s.extractMetadata(path, manifest)
	info.FileHash = HashSkipped
	if st, err := os.Stat(path); err == nil {
		info.FileSize = st.Size()
	}
	return info
}

func (s *Scanner) walkCandidates(ctx context.Context, fn func(path string) error) error {
	err := filepath.WalkDir(s.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.cfg.Root {
				if errors.Is(err, fs.ErrNotExist) {
					s.logger.Warn("Scan root does not exist", zap.String("root", path))
					return filepath.SkipAll
				}
				return err
			}
			s.logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsCandidate(path) {
			return nil
		}
		return fn(path)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("failed to walk %s: %w", s.cfg.Root, err)
	}
	return nil
}

func (s *Scanner) notify(index, total int, path string) {
	if s.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Progress callback panicked", zap.Any("panic", r), zap.String("path", path))
		}
	}()
	if err := s.progress(index, total, path); err != nil {
		s.logger.Warn("Progress callback failed", zap.Error(err), zap.String("path", path))
	}
}

// IsCandidate reports whether path has a supported data extension
func IsCandidate(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

func (s *Scanner) classify(path string) (bool, string, *Manifest) {
	slashed := toSlash(path)
	if !strings.Contains(slashed, s.cfg.RootMarker) {
		return false, ReasonOutsideRoot, nil
	}
	if !IsCandidate(path) {
		return false, ReasonUnsupported, nil
	}

	name := strings.ToLower(filepath.Base(slashed))
	for _, marker := range junkMarkers {
		if strings.Contains(name, marker) {
			return false, ReasonJunk, nil
		}
	}

	m, err := readManifest(s.validate, path)
	switch {
	case err == nil:
		return true, ReasonValidWithManifest, m
	case !errors.Is(err, errNoManifest):
		s.logger.Warn("Ignoring unusable manifest", zap.String("manifest", ManifestPath(path)), zap.Error(err))
	}

	segments := strings.Split(slashed, "/")
	if idx := anchorIndex(segments); idx >= 0 && len(segments) > idx+3 {
		if catalog.IsKnownPlatform(strings.ToLower(segments[idx+1])) {
			return true, ReasonValidByPath, nil
		}
	}
	return false, ReasonUnknownStructure, nil
}

func (s *Scanner) extractMetadata(path string, m *Manifest) *Metadata {
	meta := &Metadata{
		FileName: filepath.Base(toSlash(path)),
		FilePath: path,
		Source:   SourceUnknown,
	}

	if m != nil {
		meta.Source = SourceManifest
		meta.ManifestPath = ManifestPath(path)
		meta.Platform = m.Platform.String()
		meta.AccountLabel = string(m.AccountLabel)
		meta.ShopName = string(m.ShopName)
		meta.ShopID = m.ShopID.String()
		meta.Region = string(m.Region)
		meta.DataType = m.DataType.String()
		meta.SubType = string(m.SubType)
		meta.Granularity = string(m.Granularity)
		meta.StartDate = string(m.StartDate)
		meta.EndDate = string(m.EndDate)
		meta.ExportedAt = string(m.ExportedAt)
		fillGranularity(meta)
		return meta
	}

	inferFromPath(meta, toSlash(path))
	if meta.StartDate == "" && meta.EndDate == "" {
		meta.StartDate, meta.EndDate = dateRangeFromName(meta.FileName)
	}
	fillGranularity(meta)
	return meta
}

// inferFromPath reads fixed positions after the outputs anchor. Only directory
// segments are considered so a shallow file name is never taken as a field.
func inferFromPath(meta *Metadata, slashed string) {
	segments := strings.Split(slashed, "/")
	dirs := segments[:len(segments)-1]
	idx := anchorIndex(dirs)
	if idx < 0 {
		return
	}

	at := func(offset int) (string, bool) {
		if len(dirs) > idx+offset {
			return dirs[idx+offset], true
		}
		return "", false
	}

	if platform, ok := at(1); ok {
		meta.Platform = platform
		meta.Source = SourcePathInference
	}
	if account, ok := at(2); ok {
		meta.AccountLabel = account
	}
	if shop, ok := at(3); ok {
		if slug, id, found := strings.Cut(shop, "__"); found {
			meta.ShopSlug = slug
			meta.ShopID = id
			meta.ShopName = slug
		} else {
			meta.ShopSlug = shop
			meta.ShopName = shop
		}
	}
	if dataType, ok := at(4); ok {
		meta.DataType = dataType
	}
	if g, ok := at(5); ok {
		meta.Granularity = g
	}
}

// dateRangeFromName finds a YYYY-MM-DD_YYYY-MM-DD token among the
// "__"-separated parts of a file stem.
func dateRangeFromName(name string) (string, string) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.Contains(stem, "__") {
		return "", ""
	}
	for _, part := range strings.Split(stem, "__") {
		if !strings.Contains(part, "_") || len(part) < 10 {
			continue
		}
		if m := dateRangePattern.FindStringSubmatch(part); m != nil {
			return m[1], m[2]
		}
	}
	return "", ""
}

func fillGranularity(meta *Metadata) {
	if meta.Granularity != "" {
		return
	}
	if g, ok := granularity.ParseFromDateRange(meta.StartDate, meta.EndDate); ok {
		meta.Granularity = string(g)
	}
}

func anchorIndex(segments []string) int {
	for i, seg := range segments {
		if seg == anchorSegment {
			return i
		}
	}
	return -1
}

func toSlash(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), `\`, "/")
}
