package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/application/ingestion"
	"github.com/erp/ingestion/internal/application/reporting"
	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/fieldmap"
	"github.com/erp/ingestion/internal/infrastructure/mview"
	"github.com/erp/ingestion/internal/infrastructure/persistence"
	"github.com/erp/ingestion/internal/infrastructure/scanner"
	"github.com/erp/ingestion/internal/infrastructure/validator"
	"github.com/erp/ingestion/tests/testutil"
)

// TestMain runs before any tests and handles cleanup
func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainer()
	os.Exit(code)
}

type pipeline struct {
	files   *persistence.GormCatalogFileRepository
	facts   *persistence.GormFactRepository
	history *persistence.GormHistoryStore
	refresh *reporting.RefreshService
	service *ingestion.Service
	scanner *scanner.Scanner
	outputs string
}

func newPipeline(t *testing.T, tdb *TestDB) *pipeline {
	t.Helper()

	rules, err := fieldmap.LoadRules(findRepoPath("config/field_mappings_v2.yaml"))
	require.NoError(t, err)

	p := &pipeline{
		files:   persistence.NewGormCatalogFileRepository(tdb.DB),
		facts:   persistence.NewGormFactRepository(tdb.DB, 0),
		history: persistence.NewGormHistoryStore(tdb.DB),
		outputs: testutil.CollectionTree(t),
	}
	p.refresh, err = reporting.NewRefreshService(
		mview.NewRefresher(tdb.DB),
		persistence.NewGormRefreshLogRepository(tdb.DB),
		nil,
		zap.NewNop(),
		nil,
	)
	require.NoError(t, err)

	p.service = ingestion.NewService(
		p.files,
		p.facts,
		fieldmap.NewFieldMapper(rules, fieldmap.WithHistory(p.history)),
		validator.New(),
		ingestion.Config{},
		ingestion.WithHistory(p.history),
		ingestion.WithViewInvalidator(p.refresh),
	)
	p.scanner = scanner.New(scanner.Config{Root: p.outputs, HashWorkers: 2})
	return p
}

// writeOrders writes a Shopee weekly order export for shop_1 dated days ago
func (p *pipeline) writeOrders(t *testing.T, name string, extra ...string) string {
	t.Helper()
	day := time.Now().AddDate(0, 0, -3).Format(time.DateOnly)
	lines := []string{
		"订单号,店铺ID,下单时间,订单金额,币种,订单状态,买家",
		"SO-1,shop_1," + day + ",120.50,MYR,completed,buyer_1",
		"SO-2,shop_1," + day + ",80.00,MYR,completed,buyer_2",
	}
	return testutil.WriteFile(t, p.outputs, "shopee/main/my_store__shop_1/orders/weekly/"+name, append(lines, extra...)...)
}

func (p *pipeline) scanAndRegister(t *testing.T, ctx context.Context) *ingestion.RegisterResult {
	t.Helper()
	report, err := p.scanner.ScanAndAnalyze(ctx)
	require.NoError(t, err)
	result, err := p.service.RegisterScan(ctx, report)
	require.NoError(t, err)
	return result
}

func TestPipeline_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := NewSharedTestDB(t)
	tdb.CleanTables()
	p := newPipeline(t, tdb)
	ctx := testutil.ContextWithTimeout(t, 2*time.Minute)

	p.writeOrders(t, "orders.csv")

	t.Run("register is idempotent on content hash", func(t *testing.T) {
		first := p.scanAndRegister(t, ctx)
		assert.Equal(t, 1, first.Registered)
		assert.Equal(t, 0, first.Failed)

		again := p.scanAndRegister(t, ctx)
		assert.Equal(t, 0, again.Registered)
		assert.Equal(t, 1, again.Duplicates)
		assert.Equal(t, int64(1), tdb.CountRows("catalog_files"))
	})

	t.Run("run lands orders and completes the file", func(t *testing.T) {
		result, err := p.service.RunOnce(ctx, ingestion.RunOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, result.Completed, "%+v", result.Files)
		assert.Equal(t, int64(2), result.RowsLanded)

		counts, err := p.files.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[catalog.FileStatusCompleted])

		orders, err := p.facts.FindOrders(ctx, "shopee", "shop_1")
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, "SO-1", orders[0].OrderID)
		assert.Equal(t, "MYR", orders[0].Currency)
		assert.True(t, decimal.RequireFromString("120.50").Equal(orders[0].Amount))
	})

	t.Run("confirmed mappings are stored in the database", func(t *testing.T) {
		mappings, err := p.history.GetAllMappings(ctx, "shopee:orders")
		require.NoError(t, err)
		assert.Equal(t, "订单号", mappings["order_id"])
		assert.Equal(t, "订单金额", mappings["order_amount"])
	})

	t.Run("replaying the same orders leaves the facts unchanged", func(t *testing.T) {
		// a duplicated row changes the hash but not the orders
		p.writeOrders(t, "orders_resend.csv", "SO-1,shop_1,"+time.Now().AddDate(0, 0, -3).Format(time.DateOnly)+",120.50,MYR,completed,buyer_1")
		assert.Equal(t, 1, p.scanAndRegister(t, ctx).Registered)

		result, err := p.service.RunOnce(ctx, ingestion.RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Completed)
		assert.Equal(t, int64(2), tdb.CountRows("fact_orders"))
	})

	t.Run("refresh rebuilds the stale views", func(t *testing.T) {
		assert.Equal(t, warehouse.ViewStale, p.refresh.States()[warehouse.ViewShopDailyPerformance])

		require.NoError(t, p.refresh.RefreshAll(ctx, warehouse.TriggerManual))
		assert.Equal(t, int64(1), tdb.CountRows(warehouse.ViewShopDailyPerformance))

		statuses, err := p.refresh.Status(ctx)
		require.NoError(t, err)
		require.Len(t, statuses, len(warehouse.AllViews))
		for _, s := range statuses {
			assert.Equal(t, warehouse.ViewFresh, s.State, s.View)
			require.NotNil(t, s.LastRefresh, s.View)
			assert.Equal(t, warehouse.RefreshSuccess, s.LastRefresh.Status, s.View)
			assert.Equal(t, warehouse.TriggerManual, s.LastRefresh.TriggeredBy)
		}
	})
}

func TestPipeline_Quarantine_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := NewSharedTestDB(t)
	tdb.CleanTables()
	p := newPipeline(t, tdb)
	ctx := testutil.ContextWithTimeout(t, 2*time.Minute)

	testutil.WriteFile(t, p.outputs, "shopee/main/my_store__shop_1/orders/weekly/broken.csv",
		"订单号,店铺ID,下单时间,订单金额",
		"SO-9,shop_1,2025-09-20,not-a-number",
	)
	require.Equal(t, 1, p.scanAndRegister(t, ctx).Registered)

	result, err := p.service.RunOnce(ctx, ingestion.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Quarantined)
	assert.Equal(t, int64(0), tdb.CountRows("fact_orders"))

	status := catalog.FileStatusQuarantined
	files, err := p.files.FindAll(ctx, catalog.CatalogFileFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, catalog.LayerQuarantine, files[0].StorageLayer)
	columns := make([]string, 0, len(files[0].ValidationErrors))
	for _, issue := range files[0].ValidationErrors {
		columns = append(columns, issue.Column)
	}
	assert.Contains(t, columns, "订单金额")

	requeued, err := p.service.Requeue(ctx, files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.FileStatusPending, requeued.Status)

	reloaded, err := p.files.FindByID(ctx, files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.FileStatusPending, reloaded.Status)
	assert.Equal(t, requeued.Version, reloaded.Version)
}
