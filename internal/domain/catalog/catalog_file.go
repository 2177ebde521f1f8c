package catalog

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/erp/ingestion/internal/domain/shared"
)

// FileStatus represents where a catalog file is in the ingestion pipeline
type FileStatus string

const (
	FileStatusPending     FileStatus = "pending"
	FileStatusProcessing  FileStatus = "processing"
	FileStatusCompleted   FileStatus = "completed"
	FileStatusQuarantined FileStatus = "quarantined"
	FileStatusError       FileStatus = "error"
)

// AllFileStatuses lists every status in pipeline order
var AllFileStatuses = []FileStatus{
	FileStatusPending,
	FileStatusProcessing,
	FileStatusCompleted,
	FileStatusQuarantined,
	FileStatusError,
}

// IsValid checks if the status is valid
func (s FileStatus) IsValid() bool {
	switch s {
	case FileStatusPending, FileStatusProcessing, FileStatusCompleted,
		FileStatusQuarantined, FileStatusError:
		return true
	}
	return false
}

// IsTerminal returns true when no automatic transition leaves this state
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusCompleted
}

// allowedTransitions is the full status graph. Quarantined and error files
// only move back to pending through an explicit Requeue.
var allowedTransitions = map[FileStatus][]FileStatus{
	FileStatusPending:     {FileStatusProcessing},
	FileStatusProcessing:  {FileStatusCompleted, FileStatusQuarantined, FileStatusError},
	FileStatusError:       {FileStatusPending},
	FileStatusQuarantined: {FileStatusPending},
}

// CanTransitionTo reports whether next is reachable from s in one step
func (s FileStatus) CanTransitionTo(next FileStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IssueDetail is a persisted validation problem attached to a file
type IssueDetail struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// CatalogFile represents one collected artifact before it enters the warehouse.
// Rows are never deleted; every change is a status transition.
type CatalogFile struct {
	shared.BaseAggregateRoot
	FilePath         string        `json:"file_path"`
	FileName         string        `json:"file_name"`
	Source           string        `json:"source"`
	FileSize         int64         `json:"file_size"`
	FileHash         string        `json:"file_hash"`
	Platform         string        `json:"platform,omitempty"`
	Account          string        `json:"account,omitempty"`
	ShopID           string        `json:"shop_id,omitempty"`
	DataDomain       DataDomain    `json:"data_domain,omitempty"`
	SubDomain        string        `json:"sub_domain,omitempty"`
	Granularity      Granularity   `json:"granularity,omitempty"`
	DateFrom         *time.Time    `json:"date_from,omitempty"`
	DateTo           *time.Time    `json:"date_to,omitempty"`
	StorageLayer     StorageLayer  `json:"storage_layer"`
	QualityScore     *float64      `json:"quality_score,omitempty"`
	Status           FileStatus    `json:"status"`
	ValidationErrors []IssueDetail `json:"validation_errors,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	MetaFilePath     string        `json:"meta_file_path,omitempty"`
	FirstSeenAt      time.Time     `json:"first_seen_at"`
	LastProcessedAt  *time.Time    `json:"last_processed_at,omitempty"`
}

// NewCatalogFile registers a newly sighted file in pending state
func NewCatalogFile(path string, size int64, hash string) (*CatalogFile, error) {
	if path == "" {
		return nil, shared.NewDomainError("INVALID_FILE_PATH", "File path cannot be empty")
	}
	if size < 0 {
		return nil, shared.NewDomainError("INVALID_FILE_SIZE", "File size cannot be negative")
	}
	if hash == "" {
		return nil, shared.NewDomainError("INVALID_FILE_HASH", "File hash is required for registration")
	}

	f := &CatalogFile{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		FilePath:          path,
		FileName:          filepath.Base(path),
		Source:            "temp/outputs",
		FileSize:          size,
		FileHash:          hash,
		StorageLayer:      LayerRaw,
		Status:            FileStatusPending,
		ValidationErrors:  make([]IssueDetail, 0),
	}
	f.FirstSeenAt = f.CreatedAt
	return f, nil
}

func (f *CatalogFile) transition(next FileStatus) error {
	if !f.Status.CanTransitionTo(next) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot move catalog file from %s to %s", f.Status, next))
	}
	f.Status = next
	now := time.Now()
	f.LastProcessedAt = &now
	f.Bump(now)
	return nil
}

// StartProcessing claims the file for an ingestion attempt
func (f *CatalogFile) StartProcessing() error {
	if err := f.transition(FileStatusProcessing); err != nil {
		return err
	}
	f.StorageLayer = LayerStaging
	f.ErrorMessage = ""
	return nil
}

// Complete marks the file as landed in the fact tables
func (f *CatalogFile) Complete(qualityScore float64) error {
	if err := f.transition(FileStatusCompleted); err != nil {
		return err
	}
	f.StorageLayer = LayerCurated
	f.QualityScore = &qualityScore
	f.ValidationErrors = make([]IssueDetail, 0)
	return nil
}

// CompleteWithHeldRows lands the valid rows and keeps the issues of the rows
// held back, so the file stays reviewable
func (f *CatalogFile) CompleteWithHeldRows(qualityScore float64, issues []IssueDetail, reason string) error {
	if err := f.Complete(qualityScore); err != nil {
		return err
	}
	f.ValidationErrors = issues
	f.ErrorMessage = truncate(reason, 500)
	return nil
}

// Quarantine holds the file for human review with its row-level issues
func (f *CatalogFile) Quarantine(qualityScore float64, issues []IssueDetail, reason string) error {
	if err := f.transition(FileStatusQuarantined); err != nil {
		return err
	}
	f.StorageLayer = LayerQuarantine
	f.QualityScore = &qualityScore
	f.ValidationErrors = issues
	f.ErrorMessage = truncate(reason, 500)
	return nil
}

// Fail records an infrastructure or parse failure
func (f *CatalogFile) Fail(reason string) error {
	if err := f.transition(FileStatusError); err != nil {
		return err
	}
	f.ErrorMessage = truncate(reason, 500)
	return nil
}

// Requeue sends an error or quarantined file back to pending
func (f *CatalogFile) Requeue() error {
	if err := f.transition(FileStatusPending); err != nil {
		return err
	}
	f.StorageLayer = LayerRaw
	return nil
}

// ApplyMetadata copies extracted routing metadata onto the file
func (f *CatalogFile) ApplyMetadata(platform, account, shopID string, domain DataDomain, subDomain string, g Granularity, from, to *time.Time) {
	f.Platform = platform
	f.Account = account
	f.ShopID = shopID
	f.DataDomain = domain
	f.SubDomain = subDomain
	if g.IsValid() {
		f.Granularity = g
	}
	f.DateFrom = from
	f.DateTo = to
}

// HasIssues returns true if validation issues are attached
func (f *CatalogFile) HasIssues() bool {
	return len(f.ValidationErrors) > 0
}

// ValidationErrorsJSON returns the issues as a JSON string
func (f *CatalogFile) ValidationErrorsJSON() (string, error) {
	if len(f.ValidationErrors) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(f.ValidationErrors)
	if err != nil {
		return "", fmt.Errorf("failed to marshal validation errors: %w", err)
	}
	return string(data), nil
}

// SetValidationErrorsFromJSON parses issues from a JSON string
func (f *CatalogFile) SetValidationErrorsFromJSON(jsonStr string) error {
	if jsonStr == "" || jsonStr == "[]" || jsonStr == "null" {
		f.ValidationErrors = make([]IssueDetail, 0)
		return nil
	}
	var issues []IssueDetail
	if err := json.Unmarshal([]byte(jsonStr), &issues); err != nil {
		return fmt.Errorf("failed to unmarshal validation errors: %w", err)
	}
	f.ValidationErrors = issues
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
