package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CatalogFileFilter defines the filters for querying catalog files
type CatalogFileFilter struct {
	Status    *FileStatus  // Filter by status
	Domains   []DataDomain // Filter by data domain
	Platform  string       // Filter by platform
	SeenAfter *time.Time   // Only files first seen after this instant
	Limit     int          // Max rows, 0 means no limit
}

// CatalogFileRepository defines the interface for catalog file persistence
type CatalogFileRepository interface {
	// FindByID finds a catalog file by ID
	FindByID(ctx context.Context, id uuid.UUID) (*CatalogFile, error)

	// FindByHash finds a catalog file by content hash
	FindByHash(ctx context.Context, hash string) (*CatalogFile, error)

	// FindAll returns files matching the filter, oldest first
	FindAll(ctx context.Context, filter CatalogFileFilter) ([]*CatalogFile, error)

	// Register inserts the file unless its hash is already known.
	// It reports whether a new row was created.
	Register(ctx context.Context, file *CatalogFile) (bool, error)

	// Save persists a status transition using optimistic locking on Version
	Save(ctx context.Context, file *CatalogFile) error

	// CountByStatus returns the number of files per status
	CountByStatus(ctx context.Context) (map[FileStatus]int64, error)
}
