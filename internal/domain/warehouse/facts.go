// Package warehouse describes the star schema that validated rows land in and
// the materialized views built on top of it.
package warehouse

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Shop identifies a storefront on a platform. Platform and shop id together
// form the natural key of dim_shops.
type Shop struct {
	PlatformCode string
	ShopID       string
	Slug         string
	Account      string
}

// Order is one row of fact_orders
type Order struct {
	PlatformCode string
	ShopID       string
	OrderID      string
	OrderDate    time.Time
	Amount       decimal.Decimal
	Currency     string
	Status       string
	BuyerID      string
	SourceFileID uuid.UUID
}

// Metric types stored in fact_product_metrics
const (
	MetricSales      = "sales"
	MetricRevenue    = "revenue"
	MetricViews      = "views"
	MetricStock      = "stock"
	MetricRating     = "rating"
	MetricPrice      = "price"
	MetricConversion = "conversion_rate"
)

// ProductMetric is one row of fact_product_metrics
type ProductMetric struct {
	PlatformCode string
	ShopID       string
	PlatformSKU  string
	MetricDate   time.Time
	MetricType   string
	Value        decimal.Decimal
	ProductName  string
	SourceFileID uuid.UUID
}

// FactRepository lands validated rows. Every write is an upsert on the
// natural key, so replaying the same file leaves the tables unchanged.
type FactRepository interface {
	// EnsureShop inserts the platform and shop dimensions when missing
	EnsureShop(ctx context.Context, shop Shop) error

	// UpsertOrders writes orders and returns the number of rows touched
	UpsertOrders(ctx context.Context, orders []Order) (int64, error)

	// UpsertProductMetrics writes metrics and returns the number of rows touched
	UpsertProductMetrics(ctx context.Context, metrics []ProductMetric) (int64, error)
}
