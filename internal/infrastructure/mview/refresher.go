// Package mview refreshes the reporting materialized views in PostgreSQL.
package mview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/erp/ingestion/internal/domain/warehouse"
)

var (
	// ErrMissingUniqueIndex is returned when a view cannot be refreshed
	// concurrently because it has no unique index.
	ErrMissingUniqueIndex = errors.New("mview: materialized view has no unique index")
	// ErrUnknownView is returned for names outside warehouse.AllViews.
	ErrUnknownView = errors.New("mview: unknown materialized view")
)

const uniqueIndexQuery = `SELECT COUNT(*) FROM pg_indexes
WHERE schemaname = current_schema()
  AND tablename = ?
  AND indexdef LIKE 'CREATE UNIQUE INDEX%'`

// Refresher issues REFRESH MATERIALIZED VIEW CONCURRENTLY statements.
type Refresher struct {
	db      *gorm.DB
	logger  *zap.Logger
	timeout time.Duration
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTimeout bounds each refresh statement. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Refresher) {
		r.timeout = d
	}
}

// NewRefresher creates a Refresher on db.
func NewRefresher(db *gorm.DB, opts ...Option) *Refresher {
	r := &Refresher{
		db:     db,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasUniqueIndex reports whether view carries a unique index in the current schema.
func (r *Refresher) HasUniqueIndex(ctx context.Context, view string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Raw(uniqueIndexQuery, view).Scan(&count).Error; err != nil {
		return false, fmt.Errorf("failed to inspect indexes of %s: %w", view, err)
	}
	return count > 0, nil
}

// Refresh refreshes view concurrently and returns its row count afterwards.
// A view without a unique index is never refreshed.
func (r *Refresher) Refresh(ctx context.Context, view string) (int64, error) {
	if !warehouse.IsKnownView(view) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownView, view)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ok, err := r.HasUniqueIndex(ctx, view)
	if err != nil {
		return 0, err
	}
	if !ok {
		r.logger.Error("Materialized view cannot be refreshed concurrently",
			zap.String("view", view),
			zap.Error(ErrMissingUniqueIndex),
		)
		return 0, fmt.Errorf("%w: %s", ErrMissingUniqueIndex, view)
	}

	start := time.Now()
	// view is one of warehouse.AllViews, never caller-provided text
	if err := r.db.WithContext(ctx).Exec("REFRESH MATERIALIZED VIEW CONCURRENTLY " + view).Error; err != nil {
		return 0, fmt.Errorf("failed to refresh %s: %w", view, err)
	}

	var rows int64
	if err := r.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM " + view).Scan(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", view, err)
	}

	r.logger.Info("Refreshed materialized view",
		zap.String("view", view),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rows, nil
}

// LastRefreshedAt returns the newest refreshed_at stamp stored in view.
// The zero time means the view is empty.
func (r *Refresher) LastRefreshedAt(ctx context.Context, view string) (time.Time, error) {
	if !warehouse.IsKnownView(view) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownView, view)
	}
	var stamp sql.NullTime
	if err := r.db.WithContext(ctx).Raw("SELECT MAX(refreshed_at) FROM " + view).Scan(&stamp).Error; err != nil {
		return time.Time{}, fmt.Errorf("failed to read refreshed_at of %s: %w", view, err)
	}
	return stamp.Time, nil
}
