package persistence

import (
	"context"
	"errors"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/shared"
	"github.com/erp/ingestion/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCatalogFileRepository implements catalog.CatalogFileRepository using GORM
type GormCatalogFileRepository struct {
	db *gorm.DB
}

var _ catalog.CatalogFileRepository = (*GormCatalogFileRepository)(nil)

// NewGormCatalogFileRepository creates a new GormCatalogFileRepository
func NewGormCatalogFileRepository(db *gorm.DB) *GormCatalogFileRepository {
	return &GormCatalogFileRepository{db: db}
}

// FindByID finds a catalog file by ID
func (r *GormCatalogFileRepository) FindByID(ctx context.Context, id uuid.UUID) (*catalog.CatalogFile, error) {
	var model models.CatalogFileModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByHash finds a catalog file by content hash
func (r *GormCatalogFileRepository) FindByHash(ctx context.Context, hash string) (*catalog.CatalogFile, error) {
	var model models.CatalogFileModel
	if err := r.db.WithContext(ctx).Where("file_hash = ?", hash).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll returns files matching the filter, oldest first
func (r *GormCatalogFileRepository) FindAll(ctx context.Context, filter catalog.CatalogFileFilter) ([]*catalog.CatalogFile, error) {
	query := r.db.WithContext(ctx).Model(&models.CatalogFileModel{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if len(filter.Domains) > 0 {
		query = query.Where("data_domain IN ?", filter.Domains)
	}
	if filter.Platform != "" {
		query = query.Where("platform_code = ?", filter.Platform)
	}
	if filter.SeenAfter != nil {
		query = query.Where("first_seen_at >= ?", *filter.SeenAfter)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var fileModels []models.CatalogFileModel
	if err := query.Order("first_seen_at ASC, id ASC").Find(&fileModels).Error; err != nil {
		return nil, err
	}

	files := make([]*catalog.CatalogFile, len(fileModels))
	for i := range fileModels {
		files[i] = fileModels[i].ToDomain()
	}
	return files, nil
}

// Register inserts the file unless its hash is already known. The insert is
// ON CONFLICT (file_hash) DO NOTHING, so concurrent scanners never fail on
// the unique index.
func (r *GormCatalogFileRepository) Register(ctx context.Context, file *catalog.CatalogFile) (bool, error) {
	model, err := models.CatalogFileModelFromDomain(file)
	if err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_hash"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Save persists a status transition. The stored row must still carry the
// version the file had before its last transition.
func (r *GormCatalogFileRepository) Save(ctx context.Context, file *catalog.CatalogFile) error {
	model, err := models.CatalogFileModelFromDomain(file)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&models.CatalogFileModel{}).
		Where("id = ? AND version = ?", file.ID, file.Version-1).
		Updates(map[string]any{
			"platform_code":     model.PlatformCode,
			"account":           model.Account,
			"shop_id":           model.ShopID,
			"data_domain":       model.DataDomain,
			"sub_domain":        model.SubDomain,
			"granularity":       model.Granularity,
			"date_from":         model.DateFrom,
			"date_to":           model.DateTo,
			"storage_layer":     model.StorageLayer,
			"quality_score":     model.QualityScore,
			"status":            model.Status,
			"validation_errors": model.ValidationErrors,
			"error_message":     model.ErrorMessage,
			"meta_file_path":    model.MetaFilePath,
			"last_processed_at": model.LastProcessedAt,
			"version":           model.Version,
			"updated_at":        model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// CountByStatus returns the number of files per status
func (r *GormCatalogFileRepository) CountByStatus(ctx context.Context) (map[catalog.FileStatus]int64, error) {
	var rows []struct {
		Status catalog.FileStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.CatalogFileModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[catalog.FileStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
