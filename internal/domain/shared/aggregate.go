package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseAggregateRoot holds the identity, timestamps and optimistic-lock
// version shared by persisted aggregates. Repositories update a row only
// while its stored version still equals Version-1.
type BaseAggregateRoot struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// NewBaseAggregateRoot returns a fresh identity at version 1
func NewBaseAggregateRoot() BaseAggregateRoot {
	now := time.Now()
	return BaseAggregateRoot{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Bump records a state change made at now.
func (a *BaseAggregateRoot) Bump(now time.Time) {
	a.Version++
	a.UpdatedAt = now
}
