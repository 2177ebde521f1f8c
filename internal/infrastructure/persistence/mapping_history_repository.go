package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/ingestion/internal/domain/mapping"
	"github.com/erp/ingestion/internal/domain/shared"
	"github.com/erp/ingestion/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormHistoryStore implements mapping.HistoryStore over the mapping_history
// table. Each mapping key is one row; a write reads the row, applies the
// change and updates it only while the version is unchanged.
type GormHistoryStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ mapping.HistoryStore = (*GormHistoryStore)(nil)

// NewGormHistoryStore creates a new GormHistoryStore
func NewGormHistoryStore(db *gorm.DB) *GormHistoryStore {
	return &GormHistoryStore{db: db, now: time.Now}
}

func (s *GormHistoryStore) find(ctx context.Context, key string) (*models.MappingHistoryModel, error) {
	var model models.MappingHistoryModel
	if err := s.db.WithContext(ctx).Where("mapping_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &model, nil
}

// GetMapping implements mapping.HistoryStore
func (s *GormHistoryStore) GetMapping(ctx context.Context, key, field string) (string, bool, error) {
	model, err := s.find(ctx, key)
	if errors.Is(err, shared.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	e, err := model.ToDomain()
	if err != nil {
		return "", false, err
	}
	col, ok := e.Mappings[field]
	return col, ok, nil
}

// GetAllMappings implements mapping.HistoryStore
func (s *GormHistoryStore) GetAllMappings(ctx context.Context, key string) (map[string]string, error) {
	model, err := s.find(ctx, key)
	if errors.Is(err, shared.ErrNotFound) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	e, err := model.ToDomain()
	if err != nil {
		return nil, err
	}
	return e.Mappings, nil
}

// SaveMapping implements mapping.HistoryStore. A zero confidence is stored as
// 100 and an empty method as user_confirmed.
func (s *GormHistoryStore) SaveMapping(ctx context.Context, key, field, column string, confidence float64, method mapping.Method) error {
	if confidence == 0 {
		confidence = 100
	}
	if method == "" {
		method = mapping.MethodUserConfirmed
	}
	return s.modify(ctx, key, func(e *mapping.HistoryEntry, now time.Time) {
		e.Set(field, column, confidence, method, now)
	})
}

// SaveBatchMappings implements mapping.HistoryStore
func (s *GormHistoryStore) SaveBatchMappings(ctx context.Context, key string, mappings map[string]string, meta map[string]mapping.FieldMeta) error {
	return s.modify(ctx, key, func(e *mapping.HistoryEntry, now time.Time) {
		for f, c := range mappings {
			e.Mappings[f] = c
		}
		for f, m := range meta {
			e.Metadata[f] = m
		}
		e.UpdatedAt = now
	})
}

// DeleteMapping implements mapping.HistoryStore
func (s *GormHistoryStore) DeleteMapping(ctx context.Context, key, field string) (bool, error) {
	if field == "" {
		result := s.db.WithContext(ctx).Where("mapping_key = ?", key).Delete(&models.MappingHistoryModel{})
		if result.Error != nil {
			return false, result.Error
		}
		return result.RowsAffected > 0, nil
	}

	model, err := s.find(ctx, key)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e, err := model.ToDomain()
	if err != nil {
		return false, err
	}
	if _, ok := e.Mappings[field]; !ok {
		return false, nil
	}
	delete(e.Mappings, field)
	delete(e.Metadata, field)
	e.UpdatedAt = s.now()
	return true, s.update(ctx, model, e)
}

// Statistics implements mapping.HistoryStore
func (s *GormHistoryStore) Statistics(ctx context.Context) (mapping.HistoryStatistics, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return mapping.HistoryStatistics{}, err
	}
	return mapping.ComputeStatistics(entries), nil
}

// Entries implements mapping.HistoryStore
func (s *GormHistoryStore) Entries(ctx context.Context) (map[string]*mapping.HistoryEntry, error) {
	var rows []models.MappingHistoryModel
	if err := s.db.WithContext(ctx).Order("mapping_key ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*mapping.HistoryEntry, len(rows))
	for i := range rows {
		e, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out[rows[i].MappingKey] = e
	}
	return out, nil
}

// modify applies fn to the entry for key, inserting the row when the key is new.
func (s *GormHistoryStore) modify(ctx context.Context, key string, fn func(*mapping.HistoryEntry, time.Time)) error {
	now := s.now()

	model, err := s.find(ctx, key)
	if errors.Is(err, shared.ErrNotFound) {
		e := mapping.NewHistoryEntry(now)
		fn(e, now)
		return s.insert(ctx, key, e)
	}
	if err != nil {
		return err
	}

	e, err := model.ToDomain()
	if err != nil {
		return err
	}
	fn(e, now)
	return s.update(ctx, model, e)
}

func (s *GormHistoryStore) insert(ctx context.Context, key string, e *mapping.HistoryEntry) error {
	model := &models.MappingHistoryModel{
		ID:         uuid.New(),
		MappingKey: key,
		Version:    1,
	}
	if p, ok := mapping.KeyPlatform(key); ok {
		model.PlatformCode = p
	}
	if err := model.FromDomain(e); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mapping_key"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

func (s *GormHistoryStore) update(ctx context.Context, current *models.MappingHistoryModel, e *mapping.HistoryEntry) error {
	next := &models.MappingHistoryModel{}
	if err := next.FromDomain(e); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&models.MappingHistoryModel{}).
		Where("mapping_key = ? AND version = ?", current.MappingKey, current.Version).
		Updates(map[string]any{
			"mappings":   next.Mappings,
			"metadata":   next.Metadata,
			"updated_at": next.UpdatedAt,
			"version":    current.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}
