package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/ingestion/internal/domain/mapping"
	"github.com/google/uuid"
)

// MappingHistoryModel stores one history entry per mapping key. Mappings and
// metadata are jsonb documents; Version guards concurrent writers.
type MappingHistoryModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	MappingKey    string    `gorm:"type:varchar(200);not null;uniqueIndex:idx_mapping_history_key"`
	PlatformCode  string    `gorm:"type:varchar(32);index"`
	Mappings      string    `gorm:"type:jsonb;not null;default:'{}'"`
	Metadata      string    `gorm:"type:jsonb;not null;default:'{}'"`
	SchemaVersion string    `gorm:"type:varchar(10);not null;default:'1.0'"`
	Version       int       `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MappingHistoryModel) TableName() string {
	return "mapping_history"
}

// ToDomain decodes the stored documents into a history entry.
func (m *MappingHistoryModel) ToDomain() (*mapping.HistoryEntry, error) {
	e := &mapping.HistoryEntry{
		Mappings:  make(map[string]string),
		Metadata:  make(map[string]mapping.FieldMeta),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Version:   m.SchemaVersion,
	}
	if m.Mappings != "" {
		if err := json.Unmarshal([]byte(m.Mappings), &e.Mappings); err != nil {
			return nil, fmt.Errorf("failed to decode mappings for %s: %w", m.MappingKey, err)
		}
	}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", m.MappingKey, err)
		}
	}
	return e, nil
}

// FromDomain encodes a history entry. ID, key and Version are left to the caller.
func (m *MappingHistoryModel) FromDomain(e *mapping.HistoryEntry) error {
	mappings, err := json.Marshal(e.Mappings)
	if err != nil {
		return fmt.Errorf("failed to encode mappings: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	m.Mappings = string(mappings)
	m.Metadata = string(metadata)
	m.SchemaVersion = e.Version
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
	return nil
}
