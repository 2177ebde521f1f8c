package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/shared"
	"github.com/erp/ingestion/internal/domain/warehouse"
	"github.com/erp/ingestion/internal/infrastructure/fieldmap"
	"github.com/erp/ingestion/internal/infrastructure/validator"
)

// fakeCatalog keeps files in memory and enforces the hash unique key and the
// version check the database repository applies.
type fakeCatalog struct {
	mu       sync.Mutex
	files    map[uuid.UUID]*catalog.CatalogFile
	order    []uuid.UUID
	byHash   map[string]uuid.UUID
	versions map[uuid.UUID]int
	statuses map[uuid.UUID][]catalog.FileStatus

	lastFilter  catalog.CatalogFileFilter
	findErr     error
	registerErr error
	saveErr     error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		files:    make(map[uuid.UUID]*catalog.CatalogFile),
		byHash:   make(map[string]uuid.UUID),
		versions: make(map[uuid.UUID]int),
		statuses: make(map[uuid.UUID][]catalog.FileStatus),
	}
}

func (f *fakeCatalog) FindByID(_ context.Context, id uuid.UUID) (*catalog.CatalogFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return file, nil
}

func (f *fakeCatalog) FindByHash(_ context.Context, hash string) (*catalog.CatalogFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byHash[hash]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return f.files[id], nil
}

func (f *fakeCatalog) FindAll(_ context.Context, filter catalog.CatalogFileFilter) ([]*catalog.CatalogFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []*catalog.CatalogFile
	for _, id := range f.order {
		file := f.files[id]
		if filter.Status != nil && file.Status != *filter.Status {
			continue
		}
		if len(filter.Domains) > 0 && !containsDomain(filter.Domains, file.DataDomain) {
			continue
		}
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		out = append(out, file)
	}
	return out, nil
}

func containsDomain(domains []catalog.DataDomain, d catalog.DataDomain) bool {
	for _, x := range domains {
		if x == d {
			return true
		}
	}
	return false
}

func (f *fakeCatalog) Register(_ context.Context, file *catalog.CatalogFile) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return false, f.registerErr
	}
	if _, ok := f.byHash[file.FileHash]; ok {
		return false, nil
	}
	f.files[file.ID] = file
	f.order = append(f.order, file.ID)
	f.byHash[file.FileHash] = file.ID
	f.versions[file.ID] = file.Version
	return true, nil
}

func (f *fakeCatalog) Save(_ context.Context, file *catalog.CatalogFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.versions[file.ID] != file.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	f.versions[file.ID] = file.Version
	f.files[file.ID] = file
	f.statuses[file.ID] = append(f.statuses[file.ID], file.Status)
	return nil
}

func (f *fakeCatalog) CountByStatus(_ context.Context) (map[catalog.FileStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[catalog.FileStatus]int64)
	for _, file := range f.files {
		out[file.Status]++
	}
	return out, nil
}

func (f *fakeCatalog) history(id uuid.UUID) []catalog.FileStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]catalog.FileStatus(nil), f.statuses[id]...)
}

// add registers a pending file directly
func (f *fakeCatalog) add(t *testing.T, path string, domain catalog.DataDomain, shopID string) *catalog.CatalogFile {
	t.Helper()
	file, err := catalog.NewCatalogFile(path, 1, "hash-"+filepath.Base(path)+"-"+uuid.NewString())
	require.NoError(t, err)
	file.ApplyMetadata("shopee", "acct", shopID, domain, "", catalog.GranularityDaily, nil, nil)
	created, err := f.Register(context.Background(), file)
	require.NoError(t, err)
	require.True(t, created)
	return file
}

type fakeFacts struct {
	mu      sync.Mutex
	shops   []warehouse.Shop
	orders  []warehouse.Order
	metrics []warehouse.ProductMetric
	err     error
}

func (f *fakeFacts) EnsureShop(_ context.Context, shop warehouse.Shop) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.shops = append(f.shops, shop)
	return nil
}

func (f *fakeFacts) UpsertOrders(_ context.Context, orders []warehouse.Order) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.orders = append(f.orders, orders...)
	return int64(len(orders)), nil
}

func (f *fakeFacts) UpsertProductMetrics(_ context.Context, metrics []warehouse.ProductMetric) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.metrics = append(f.metrics, metrics...)
	return int64(len(metrics)), nil
}

type fakeViews struct {
	mu    sync.Mutex
	stale []string
}

func (v *fakeViews) MarkStale(views ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stale = append(v.stale, views...)
}

type fakeMetrics struct {
	mu          sync.Mutex
	scanned     int
	outcomes    map[string]int
	landed      map[string]int64
	quarantined int64
	scores      []float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: make(map[string]int), landed: make(map[string]int64)}
}

func (m *fakeMetrics) RecordFileScanned(context.Context, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanned++
}

func (m *fakeMetrics) RecordFileProcessed(_ context.Context, _ string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *fakeMetrics) RecordRowsLanded(_ context.Context, _ string, table string, rows int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.landed[table] += rows
}

func (m *fakeMetrics) RecordRowsQuarantined(_ context.Context, _ string, rows int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantined += rows
}

func (m *fakeMetrics) RecordMappingScore(_ context.Context, _, _ string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, score)
}

type failingArchiver struct{}

func (failingArchiver) Archive(context.Context, *catalog.CatalogFile) (string, error) {
	return "", errors.New("bucket unavailable")
}

const testRules = `
generic:
  orders:
    common:
      order_id: ["订单号", "Order ID"]
      shop_id: ["店铺ID", "Shop ID"]
      order_date: ["下单时间", "Order Date"]
      order_amount: ["订单金额", "Order Amount"]
      currency: ["币种", "Currency"]
      status: ["订单状态", "Order Status"]
  products:
    common:
      product_id: ["商品ID"]
      product_name: ["商品名称"]
      shop_id: ["店铺ID"]
      sku: ["SKU"]
      sales_volume: ["销量"]
      stock: ["库存"]
  traffic:
    common:
      date: ["日期"]
      shop_id: ["店铺ID"]
      visits: ["访客数"]
`

// testClock is after every order date used in the fixtures
var testClock = func() time.Time { return time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC) }

type harness struct {
	catalog *fakeCatalog
	facts   *fakeFacts
	views   *fakeViews
	metrics *fakeMetrics
	service *Service
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	rules, err := fieldmap.ParseRules([]byte(testRules))
	require.NoError(t, err)

	h := &harness{
		catalog: newFakeCatalog(),
		facts:   &fakeFacts{},
		views:   &fakeViews{},
		metrics: newFakeMetrics(),
	}
	base := []Option{
		WithViewInvalidator(h.views),
		WithMetrics(h.metrics),
		WithClock(testClock),
	}
	h.service = NewService(
		h.catalog,
		h.facts,
		fieldmap.NewFieldMapper(rules),
		validator.New(validator.WithClock(testClock)),
		Config{},
		append(base, opts...)...,
	)
	return h
}

// writeCSV writes lines to name under a fresh temp dir and returns the path
func writeCSV(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}
