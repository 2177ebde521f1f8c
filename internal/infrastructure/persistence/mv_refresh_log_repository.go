package persistence

import (
	"context"

	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormRefreshLogRepository implements warehouse.RefreshLogRepository using GORM
type GormRefreshLogRepository struct {
	db *gorm.DB
}

var _ warehouse.RefreshLogRepository = (*GormRefreshLogRepository)(nil)

// NewGormRefreshLogRepository creates a new GormRefreshLogRepository
func NewGormRefreshLogRepository(db *gorm.DB) *GormRefreshLogRepository {
	return &GormRefreshLogRepository{db: db}
}

// Create inserts a running row
func (r *GormRefreshLogRepository) Create(ctx context.Context, log *warehouse.RefreshLog) error {
	return r.db.WithContext(ctx).Create(models.MVRefreshLogModelFromDomain(log)).Error
}

// Update stores the final status of a row
func (r *GormRefreshLogRepository) Update(ctx context.Context, log *warehouse.RefreshLog) error {
	m := models.MVRefreshLogModelFromDomain(log)
	return r.db.WithContext(ctx).
		Model(&models.MVRefreshLogModel{}).
		Where("id = ?", log.ID).
		Updates(map[string]any{
			"status":        m.Status,
			"row_count":     m.RowCount,
			"duration_ms":   m.DurationMs,
			"error_message": m.ErrorMessage,
			"finished_at":   m.FinishedAt,
		}).Error
}

// Latest returns the most recent row for each view
func (r *GormRefreshLogRepository) Latest(ctx context.Context) (map[string]*warehouse.RefreshLog, error) {
	var rows []models.MVRefreshLogModel
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]*warehouse.RefreshLog)
	for i := range rows {
		if _, seen := out[rows[i].ViewName]; seen {
			continue
		}
		out[rows[i].ViewName] = rows[i].ToDomain()
	}
	return out, nil
}
