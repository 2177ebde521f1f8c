package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultFactBatchSize is the number of rows per INSERT statement
const DefaultFactBatchSize = 500

// GormFactRepository implements warehouse.FactRepository using GORM
type GormFactRepository struct {
	db        *gorm.DB
	batchSize int
	now       func() time.Time
}

var _ warehouse.FactRepository = (*GormFactRepository)(nil)

// NewGormFactRepository creates a new GormFactRepository. batchSize <= 0
// uses DefaultFactBatchSize.
func NewGormFactRepository(db *gorm.DB, batchSize int) *GormFactRepository {
	if batchSize <= 0 {
		batchSize = DefaultFactBatchSize
	}
	return &GormFactRepository{db: db, batchSize: batchSize, now: time.Now}
}

// EnsureShop inserts the platform and shop dimensions when missing
func (r *GormFactRepository) EnsureShop(ctx context.Context, shop warehouse.Shop) error {
	now := r.now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		platform := &models.DimPlatformModel{
			PlatformCode: shop.PlatformCode,
			Name:         platformName(shop.PlatformCode),
			CreatedAt:    now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(platform).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform_code"}, {Name: "shop_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"shop_slug", "account"}),
		}).Create(models.DimShopModelFromDomain(shop, now)).Error
	})
}

// UpsertOrders writes orders keyed on (platform_code, shop_id, order_id)
func (r *GormFactRepository) UpsertOrders(ctx context.Context, orders []warehouse.Order) (int64, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	now := r.now()
	rows := make([]models.FactOrderModel, len(orders))
	for i, o := range orders {
		rows[i] = models.FactOrderModelFromDomain(o, now)
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "platform_code"}, {Name: "shop_id"}, {Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"order_date", "order_amount", "currency", "status", "buyer_id", "source_file_id", "ingested_at",
			}),
		}).
		CreateInBatches(rows, r.batchSize)
	return result.RowsAffected, result.Error
}

// UpsertProductMetrics writes metrics keyed on
// (platform_code, shop_id, platform_sku, metric_date, metric_type)
func (r *GormFactRepository) UpsertProductMetrics(ctx context.Context, metrics []warehouse.ProductMetric) (int64, error) {
	if len(metrics) == 0 {
		return 0, nil
	}
	now := r.now()
	rows := make([]models.FactProductMetricModel, len(metrics))
	for i, m := range metrics {
		rows[i] = models.FactProductMetricModelFromDomain(m, now)
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "platform_code"}, {Name: "shop_id"}, {Name: "platform_sku"},
				{Name: "metric_date"}, {Name: "metric_type"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"metric_value", "product_name", "source_file_id", "ingested_at"}),
		}).
		CreateInBatches(rows, r.batchSize)
	return result.RowsAffected, result.Error
}

// FindOrders returns the landed orders of one shop, by order id
func (r *GormFactRepository) FindOrders(ctx context.Context, platform, shopID string) ([]warehouse.Order, error) {
	var rows []models.FactOrderModel
	if err := r.db.WithContext(ctx).
		Where("platform_code = ? AND shop_id = ?", platform, shopID).
		Order("order_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]warehouse.Order, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var platformNames = map[string]string{
	"shopee":   "Shopee",
	"tiktok":   "TikTok Shop",
	"amazon":   "Amazon",
	"lazada":   "Lazada",
	"miaoshou": "Miaoshou ERP",
}

func platformName(code string) string {
	if n, ok := platformNames[code]; ok {
		return n
	}
	if code == "" {
		return code
	}
	return strings.ToUpper(code[:1]) + code[1:]
}
