package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupWarehouseTestDB(t *testing.T) *gorm.DB {
	return setupSQLiteTestDB(t,
		&models.DimPlatformModel{},
		&models.DimShopModel{},
		&models.FactOrderModel{},
		&models.FactProductMetricModel{},
		&models.MVRefreshLogModel{},
	)
}

func TestGormFactRepository_EnsureShop(t *testing.T) {
	db := setupWarehouseTestDB(t)
	repo := NewGormFactRepository(db, 0)
	ctx := context.Background()

	shop := warehouse.Shop{PlatformCode: "shopee", ShopID: "12345", Slug: "sg-store", Account: "acct1"}
	require.NoError(t, repo.EnsureShop(ctx, shop))

	shop.Slug = "sg-flagship"
	require.NoError(t, repo.EnsureShop(ctx, shop))

	var platforms []models.DimPlatformModel
	require.NoError(t, db.Find(&platforms).Error)
	require.Len(t, platforms, 1)
	assert.Equal(t, "Shopee", platforms[0].Name)

	var shops []models.DimShopModel
	require.NoError(t, db.Find(&shops).Error)
	require.Len(t, shops, 1)
	assert.Equal(t, "sg-flagship", shops[0].ShopSlug)
}

func TestGormFactRepository_UpsertOrders(t *testing.T) {
	db := setupWarehouseTestDB(t)
	repo := NewGormFactRepository(db, 2)
	ctx := context.Background()
	fileID := uuid.New()
	day := time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)

	orders := []warehouse.Order{
		{PlatformCode: "shopee", ShopID: "12345", OrderID: "A1", OrderDate: day, Amount: decimal.RequireFromString("10.50"), Currency: "SGD", Status: "completed", SourceFileID: fileID},
		{PlatformCode: "shopee", ShopID: "12345", OrderID: "A2", OrderDate: day, Amount: decimal.RequireFromString("20"), Currency: "SGD"},
		{PlatformCode: "shopee", ShopID: "12345", OrderID: "A3", OrderDate: day, Amount: decimal.RequireFromString("5.25"), Currency: "SGD"},
	}
	n, err := repo.UpsertOrders(ctx, orders)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	t.Run("replay keeps one row per natural key", func(t *testing.T) {
		orders[1].Amount = decimal.RequireFromString("25")
		orders[1].Status = "cancelled"
		_, err := repo.UpsertOrders(ctx, orders)
		require.NoError(t, err)

		got, err := repo.FindOrders(ctx, "shopee", "12345")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "A2", got[1].OrderID)
		assert.True(t, got[1].Amount.Equal(decimal.NewFromInt(25)))
		assert.Equal(t, "cancelled", got[1].Status)
		assert.Equal(t, fileID, got[0].SourceFileID)
		assert.Equal(t, uuid.Nil, got[2].SourceFileID)
	})

	t.Run("empty batch", func(t *testing.T) {
		n, err := repo.UpsertOrders(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestGormFactRepository_UpsertProductMetrics(t *testing.T) {
	db := setupWarehouseTestDB(t)
	repo := NewGormFactRepository(db, 0)
	ctx := context.Background()
	day := time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)

	metrics := []warehouse.ProductMetric{
		{PlatformCode: "shopee", ShopID: "12345", PlatformSKU: "SKU1", MetricDate: day, MetricType: warehouse.MetricSales, Value: decimal.NewFromInt(4), ProductName: "Mug"},
		{PlatformCode: "shopee", ShopID: "12345", PlatformSKU: "SKU1", MetricDate: day, MetricType: warehouse.MetricRevenue, Value: decimal.RequireFromString("39.6"), ProductName: "Mug"},
	}
	_, err := repo.UpsertProductMetrics(ctx, metrics)
	require.NoError(t, err)

	metrics[0].Value = decimal.NewFromInt(6)
	_, err = repo.UpsertProductMetrics(ctx, metrics[:1])
	require.NoError(t, err)

	var rows []models.FactProductMetricModel
	require.NoError(t, db.Order("metric_type ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, warehouse.MetricRevenue, rows[0].MetricType)
	assert.Equal(t, warehouse.MetricSales, rows[1].MetricType)
	assert.True(t, rows[1].MetricValue.Equal(decimal.NewFromInt(6)))
}

func TestPlatformName(t *testing.T) {
	assert.Equal(t, "TikTok Shop", platformName("tiktok"))
	assert.Equal(t, "Shopify", platformName("shopify"))
	assert.Equal(t, "", platformName(""))
}
