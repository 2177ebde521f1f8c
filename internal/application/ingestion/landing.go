package ingestion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/tabular"
	"github.com/erp/ingestion/internal/infrastructure/validator"
)

// Fact tables written by landing
const (
	TableFactOrders         = "fact_orders"
	TableFactProductMetrics = "fact_product_metrics"
)

// errMissingShop is returned when neither the rows nor the file name a shop
var errMissingShop = errors.New("no shop id in rows or file metadata")

// productMetricFields maps standard product fields to metric types, in the
// order rows are emitted
var productMetricFields = []struct {
	field  string
	metric string
}{
	{"sales_volume", warehouse.MetricSales},
	{"sales_amount", warehouse.MetricRevenue},
	{"page_views", warehouse.MetricViews},
	{"stock", warehouse.MetricStock},
	{"rating", warehouse.MetricRating},
	{"product_price", warehouse.MetricPrice},
	{"conversion_rate", warehouse.MetricConversion},
}

// staleViews lists the views each landed domain feeds
var staleViews = map[catalog.DataDomain][]string{
	catalog.DomainOrders: {
		warehouse.ViewShopDailyPerformance,
		warehouse.ViewShopHealthSummary,
		warehouse.ViewCampaignAchievement,
		warehouse.ViewTargetAchievement,
	},
	catalog.DomainProducts: {
		warehouse.ViewProductManagement,
		warehouse.ViewShopHealthSummary,
	},
}

// landedDomains have fact tables; recordedDomains complete without landing
var (
	landedDomains = map[catalog.DataDomain]bool{
		catalog.DomainOrders:   true,
		catalog.DomainProducts: true,
	}
	recordedDomains = map[catalog.DataDomain]bool{
		catalog.DomainTraffic:   true,
		catalog.DomainServices:  true,
		catalog.DomainAnalytics: true,
		catalog.DomainInventory: true,
		catalog.DomainFinance:   true,
	}
)

// landing is the outcome of writing one file's rows
type landing struct {
	table string
	rows  int64
}

// land writes a validated table, already renamed to standard fields, into
// the fact table of the file's domain.
func (s *Service) land(ctx context.Context, file *catalog.CatalogFile, table *tabular.Table) (*landing, error) {
	switch file.DataDomain {
	case catalog.DomainOrders:
		orders, shops, err := s.buildOrders(file, table)
		if err != nil {
			return nil, err
		}
		if err := s.ensureShops(ctx, shops); err != nil {
			return nil, err
		}
		n, err := s.facts.UpsertOrders(ctx, orders)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert orders: %w", err)
		}
		return &landing{table: TableFactOrders, rows: n}, nil

	case catalog.DomainProducts:
		metrics, shops, err := buildProductMetrics(file, table)
		if err != nil {
			return nil, err
		}
		if err := s.ensureShops(ctx, shops); err != nil {
			return nil, err
		}
		n, err := s.facts.UpsertProductMetrics(ctx, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert product metrics: %w", err)
		}
		return &landing{table: TableFactProductMetrics, rows: n}, nil
	}
	return &landing{}, nil
}

func (s *Service) ensureShops(ctx context.Context, shops []warehouse.Shop) error {
	for _, shop := range shops {
		if err := s.facts.EnsureShop(ctx, shop); err != nil {
			return fmt.Errorf("failed to ensure shop %s/%s: %w", shop.PlatformCode, shop.ShopID, err)
		}
	}
	return nil
}

// buildOrders converts rows to orders. An order repeated on several item
// rows keeps its first row.
func (s *Service) buildOrders(file *catalog.CatalogFile, table *tabular.Table) ([]warehouse.Order, []warehouse.Shop, error) {
	shops := newShopSet(file)
	seen := make(map[string]bool, table.Len())
	orders := make([]warehouse.Order, 0, table.Len())

	for i, row := range table.Rows {
		orderID := strings.TrimSpace(row["order_id"])
		if orderID == "" {
			continue
		}
		shopID, err := shops.add(row["shop_id"])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		key := shopID + "\x00" + orderID
		if seen[key] {
			continue
		}
		seen[key] = true

		orderDate, ok := parseOrderDate(row["order_date"])
		if !ok {
			return nil, nil, fmt.Errorf("row %d: unparseable order date %q", i, row["order_date"])
		}
		amount, err := validator.ParseAmount(row["order_amount"])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: order amount %q: %w", i, row["order_amount"], err)
		}

		status, _ := validator.CanonicalStatus(row["status"])
		if status == "" {
			status = "completed"
		}
		orders = append(orders, warehouse.Order{
			PlatformCode: file.Platform,
			ShopID:       shopID,
			OrderID:      orderID,
			OrderDate:    orderDate,
			Amount:       amount,
			Currency:     s.currencyFor(row["currency"], row["order_amount"]),
			Status:       status,
			BuyerID:      strings.TrimSpace(row["buyer_id"]),
			SourceFileID: file.ID,
		})
	}
	return orders, shops.list(), nil
}

// currencyFor prefers an explicit currency cell, then the way the amount is
// written, then the configured default.
func (s *Service) currencyFor(cell, amount string) string {
	if c := validator.CanonicalCurrency(cell); c != "" {
		return c
	}
	if c, ok := validator.DetectCurrency(amount); ok {
		return c
	}
	return s.cfg.DefaultCurrency
}

func parseOrderDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, ok := validator.ParseDatetime(s); ok {
		return t, true
	}
	return validator.ParseDate(s)
}

// buildProductMetrics turns every numeric metric cell into one fact row.
// Empty or non-numeric cells are skipped.
func buildProductMetrics(file *catalog.CatalogFile, table *tabular.Table) ([]warehouse.ProductMetric, []warehouse.Shop, error) {
	shops := newShopSet(file)
	metricDate := InferMetricDate(file)
	index := make(map[string]int)
	metrics := make([]warehouse.ProductMetric, 0, table.Len())

	for i, row := range table.Rows {
		sku := strings.TrimSpace(row["sku"])
		if sku == "" {
			sku = strings.TrimSpace(row["product_id"])
		}
		if sku == "" {
			continue
		}
		shopID, err := shops.add(row["shop_id"])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}

		for _, pm := range productMetricFields {
			metricType := pm.metric
			raw, ok := row[pm.field]
			if !ok || strings.TrimSpace(raw) == "" {
				continue
			}
			value, err := parseMetric(raw)
			if err != nil {
				continue
			}
			m := warehouse.ProductMetric{
				PlatformCode: file.Platform,
				ShopID:       shopID,
				PlatformSKU:  sku,
				MetricDate:   metricDate,
				MetricType:   metricType,
				Value:        value,
				ProductName:  strings.TrimSpace(row["product_name"]),
				SourceFileID: file.ID,
			}
			// later rows win within one file
			key := shopID + "\x00" + sku + "\x00" + metricType
			if at, dup := index[key]; dup {
				metrics[at] = m
				continue
			}
			index[key] = len(metrics)
			metrics = append(metrics, m)
		}
	}
	return metrics, shops.list(), nil
}

func parseMetric(raw string) (decimal.Decimal, error) {
	v := strings.TrimSpace(raw)
	if strings.HasSuffix(v, "%") {
		d, err := validator.ParseAmount(strings.TrimSuffix(v, "%"))
		if err != nil {
			return decimal.Zero, err
		}
		return d.Div(decimal.NewFromInt(100)), nil
	}
	return validator.ParseAmount(v)
}

var digitRun = regexp.MustCompile(`\d+`)

// InferMetricDate picks the day snapshot metrics are recorded under: the end
// of the file's covered period, else the first YYYYMMDD in its name, else
// the day it was first seen.
func InferMetricDate(file *catalog.CatalogFile) time.Time {
	if file.DateTo != nil {
		return dayOf(*file.DateTo)
	}
	if t, ok := DateFromFileName(file.FileName); ok {
		return t
	}
	return dayOf(file.FirstSeenAt)
}

// DateFromFileName returns the first valid YYYYMMDD date in name
func DateFromFileName(name string) (time.Time, bool) {
	for _, run := range digitRun.FindAllString(name, -1) {
		if len(run) != 8 {
			continue
		}
		if t, err := time.Parse("20060102", run); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// shopSet collects the distinct shops a file's rows refer to
type shopSet struct {
	file  *catalog.CatalogFile
	seen  map[string]bool
	shops []warehouse.Shop
}

func newShopSet(file *catalog.CatalogFile) *shopSet {
	return &shopSet{file: file, seen: make(map[string]bool)}
}

// add resolves a row's shop id, falling back to the file's own shop
func (s *shopSet) add(cell string) (string, error) {
	id := strings.TrimSpace(cell)
	if id == "" {
		id = s.file.ShopID
	}
	if id == "" {
		return "", errMissingShop
	}
	if !s.seen[id] {
		s.seen[id] = true
		s.shops = append(s.shops, warehouse.Shop{
			PlatformCode: s.file.Platform,
			ShopID:       id,
			Slug:         id,
			Account:      s.file.Account,
		})
	}
	return id, nil
}

func (s *shopSet) list() []warehouse.Shop {
	return s.shops
}
