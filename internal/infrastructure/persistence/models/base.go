package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/erp/ingestion/internal/domain/shared"
)

// AggregateModel holds the columns every versioned row carries. Repositories
// bump Version inside the UPDATE's WHERE clause for optimistic locking.
type AggregateModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version   int       `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Aggregate rebuilds the domain identity and version.
func (m *AggregateModel) Aggregate() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, Version: m.Version}
}

// SetAggregate copies identity, timestamps and version from the domain.
func (m *AggregateModel) SetAggregate(a shared.BaseAggregateRoot) {
	m.ID = a.ID
	m.Version = a.Version
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
}
