package models

import (
	"time"

	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DimPlatformModel maps dim_platforms
type DimPlatformModel struct {
	PlatformCode string    `gorm:"type:varchar(32);primaryKey"`
	Name         string    `gorm:"type:varchar(100);not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DimPlatformModel) TableName() string {
	return "dim_platforms"
}

// DimShopModel maps dim_shops
type DimShopModel struct {
	PlatformCode string    `gorm:"type:varchar(32);primaryKey"`
	ShopID       string    `gorm:"type:varchar(100);primaryKey"`
	ShopSlug     string    `gorm:"type:varchar(200)"`
	Account      string    `gorm:"type:varchar(100)"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DimShopModel) TableName() string {
	return "dim_shops"
}

// DimShopModelFromDomain converts a warehouse shop
func DimShopModelFromDomain(s warehouse.Shop, now time.Time) *DimShopModel {
	return &DimShopModel{
		PlatformCode: s.PlatformCode,
		ShopID:       s.ShopID,
		ShopSlug:     s.Slug,
		Account:      s.Account,
		CreatedAt:    now,
	}
}

// FactOrderModel maps fact_orders
type FactOrderModel struct {
	PlatformCode string          `gorm:"type:varchar(32);primaryKey"`
	ShopID       string          `gorm:"type:varchar(100);primaryKey"`
	OrderID      string          `gorm:"type:varchar(100);primaryKey"`
	OrderDate    time.Time       `gorm:"type:date;not null;index"`
	OrderAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	Currency     string          `gorm:"type:varchar(3)"`
	Status       string          `gorm:"type:varchar(20)"`
	BuyerID      string          `gorm:"type:varchar(100)"`
	SourceFileID *uuid.UUID      `gorm:"type:uuid"`
	IngestedAt   time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (FactOrderModel) TableName() string {
	return "fact_orders"
}

// FactOrderModelFromDomain converts a warehouse order
func FactOrderModelFromDomain(o warehouse.Order, now time.Time) FactOrderModel {
	return FactOrderModel{
		PlatformCode: o.PlatformCode,
		ShopID:       o.ShopID,
		OrderID:      o.OrderID,
		OrderDate:    o.OrderDate,
		OrderAmount:  o.Amount,
		Currency:     o.Currency,
		Status:       o.Status,
		BuyerID:      o.BuyerID,
		SourceFileID: nullableID(o.SourceFileID),
		IngestedAt:   now,
	}
}

// ToDomain converts the persistence model to a warehouse order
func (m *FactOrderModel) ToDomain() warehouse.Order {
	o := warehouse.Order{
		PlatformCode: m.PlatformCode,
		ShopID:       m.ShopID,
		OrderID:      m.OrderID,
		OrderDate:    m.OrderDate,
		Amount:       m.OrderAmount,
		Currency:     m.Currency,
		Status:       m.Status,
		BuyerID:      m.BuyerID,
	}
	if m.SourceFileID != nil {
		o.SourceFileID = *m.SourceFileID
	}
	return o
}

// FactProductMetricModel maps fact_product_metrics
type FactProductMetricModel struct {
	PlatformCode string          `gorm:"type:varchar(32);primaryKey"`
	ShopID       string          `gorm:"type:varchar(100);primaryKey"`
	PlatformSKU  string          `gorm:"column:platform_sku;type:varchar(100);primaryKey"`
	MetricDate   time.Time       `gorm:"type:date;primaryKey"`
	MetricType   string          `gorm:"type:varchar(32);primaryKey"`
	MetricValue  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ProductName  string          `gorm:"type:varchar(500)"`
	SourceFileID *uuid.UUID      `gorm:"type:uuid"`
	IngestedAt   time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (FactProductMetricModel) TableName() string {
	return "fact_product_metrics"
}

// FactProductMetricModelFromDomain converts a warehouse metric
func FactProductMetricModelFromDomain(p warehouse.ProductMetric, now time.Time) FactProductMetricModel {
	return FactProductMetricModel{
		PlatformCode: p.PlatformCode,
		ShopID:       p.ShopID,
		PlatformSKU:  p.PlatformSKU,
		MetricDate:   p.MetricDate,
		MetricType:   p.MetricType,
		MetricValue:  p.Value,
		ProductName:  p.ProductName,
		SourceFileID: nullableID(p.SourceFileID),
		IngestedAt:   now,
	}
}

// MVRefreshLogModel maps mv_refresh_log
type MVRefreshLogModel struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key"`
	ViewName     string     `gorm:"type:varchar(100);not null;index"`
	Status       string     `gorm:"type:varchar(16);not null"`
	RowCount     int64      `gorm:"not null;default:0"`
	DurationMs   int64      `gorm:"not null;default:0"`
	TriggeredBy  string     `gorm:"type:varchar(32);not null"`
	ErrorMessage string     `gorm:"type:text"`
	StartedAt    time.Time  `gorm:"not null"`
	FinishedAt   *time.Time
}

// TableName returns the table name for GORM
func (MVRefreshLogModel) TableName() string {
	return "mv_refresh_log"
}

// ToDomain converts the persistence model to a refresh log
func (m *MVRefreshLogModel) ToDomain() *warehouse.RefreshLog {
	return &warehouse.RefreshLog{
		ID:           m.ID,
		ViewName:     m.ViewName,
		Status:       warehouse.RefreshStatus(m.Status),
		RowCount:     m.RowCount,
		Duration:     time.Duration(m.DurationMs) * time.Millisecond,
		TriggeredBy:  m.TriggeredBy,
		ErrorMessage: m.ErrorMessage,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
	}
}

// MVRefreshLogModelFromDomain converts a refresh log
func MVRefreshLogModelFromDomain(l *warehouse.RefreshLog) *MVRefreshLogModel {
	return &MVRefreshLogModel{
		ID:           l.ID,
		ViewName:     l.ViewName,
		Status:       string(l.Status),
		RowCount:     l.RowCount,
		DurationMs:   l.Duration.Milliseconds(),
		TriggeredBy:  l.TriggeredBy,
		ErrorMessage: l.ErrorMessage,
		StartedAt:    l.StartedAt,
		FinishedAt:   l.FinishedAt,
	}
}

func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
