package mapping

import (
	"context"
	"time"
)

// HistoryVersion is the schema version stamped on new history entries.
const HistoryVersion = "1.0"

// FieldMeta records how a remembered mapping was confirmed.
type FieldMeta struct {
	Confidence  float64   `json:"confidence" yaml:"confidence"`
	Method      Method    `json:"method" yaml:"method"`
	ConfirmedAt time.Time `json:"confirmed_at" yaml:"confirmed_at"`
}

// HistoryEntry is everything remembered for one mapping key.
type HistoryEntry struct {
	Mappings  map[string]string    `json:"mappings" yaml:"mappings"`
	Metadata  map[string]FieldMeta `json:"metadata" yaml:"metadata"`
	CreatedAt time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time            `json:"updated_at" yaml:"updated_at"`
	Version   string               `json:"version" yaml:"version"`
}

// NewHistoryEntry creates an empty entry stamped with now.
func NewHistoryEntry(now time.Time) *HistoryEntry {
	return &HistoryEntry{
		Mappings:  make(map[string]string),
		Metadata:  make(map[string]FieldMeta),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   HistoryVersion,
	}
}

// Set records one confirmed field mapping.
func (e *HistoryEntry) Set(field, column string, confidence float64, method Method, now time.Time) {
	if e.Mappings == nil {
		e.Mappings = make(map[string]string)
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]FieldMeta)
	}
	e.Mappings[field] = column
	e.Metadata[field] = FieldMeta{Confidence: confidence, Method: method, ConfirmedAt: now}
	e.UpdatedAt = now
}

// HistoryStatistics summarises a history store.
type HistoryStatistics struct {
	TotalMappingKeys   int            `json:"total_mapping_keys"`
	TotalFieldMappings int            `json:"total_field_mappings"`
	Platforms          map[string]int `json:"platforms"`
	LastUpdated        *time.Time     `json:"last_updated,omitempty"`
}

// ComputeStatistics aggregates counts over a full key -> entry snapshot.
// Keys without a platform prefix count toward totals only.
func ComputeStatistics(entries map[string]*HistoryEntry) HistoryStatistics {
	stats := HistoryStatistics{Platforms: make(map[string]int)}
	for key, e := range entries {
		stats.TotalMappingKeys++
		stats.TotalFieldMappings += len(e.Mappings)
		if p, ok := KeyPlatform(key); ok {
			stats.Platforms[p]++
		}
		if stats.LastUpdated == nil || e.UpdatedAt.After(*stats.LastUpdated) {
			t := e.UpdatedAt
			stats.LastUpdated = &t
		}
	}
	return stats
}

// HistoryStore persists confirmed mappings keyed by mapping key.
type HistoryStore interface {
	// GetMapping returns the remembered column for key+field.
	GetMapping(ctx context.Context, key, field string) (string, bool, error)

	// GetAllMappings returns field -> column for key, empty when unknown.
	GetAllMappings(ctx context.Context, key string) (map[string]string, error)

	// SaveMapping remembers a single field mapping.
	SaveMapping(ctx context.Context, key, field, column string, confidence float64, method Method) error

	// SaveBatchMappings remembers several field mappings at once. meta may be nil.
	SaveBatchMappings(ctx context.Context, key string, mappings map[string]string, meta map[string]FieldMeta) error

	// DeleteMapping removes one field, or the whole key when field is empty.
	// It reports false when nothing matched.
	DeleteMapping(ctx context.Context, key, field string) (bool, error)

	// Statistics summarises the store.
	Statistics(ctx context.Context) (HistoryStatistics, error)

	// Entries returns a copy of every entry keyed by mapping key.
	Entries(ctx context.Context) (map[string]*HistoryEntry, error)
}

// Clone returns a deep copy of the entry.
func (e *HistoryEntry) Clone() *HistoryEntry {
	out := *e
	out.Mappings = make(map[string]string, len(e.Mappings))
	for k, v := range e.Mappings {
		out.Mappings[k] = v
	}
	out.Metadata = make(map[string]FieldMeta, len(e.Metadata))
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	return &out
}
