package ingestion

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/infrastructure/cache"
	"github.com/erp/ingestion/internal/infrastructure/scanner"
)

func scanned(path string) scanner.FileInfo {
	return scanner.FileInfo{
		Path:     path,
		Valid:    true,
		FileHash: scanner.HashSkipped,
		FileSize: 64,
		Metadata: &scanner.Metadata{
			FileName:     filepath.Base(path),
			FilePath:     path,
			Platform:     "shopee",
			AccountLabel: "main",
			ShopSlug:     "my_store",
			DataType:     "orders",
			Granularity:  "weekly",
			StartDate:    "2025-09-01",
			EndDate:      "2025-09-07",
			ManifestPath: path + ".meta.json",
		},
	}
}

func TestRegisterScan(t *testing.T) {
	h := newHarness(t)
	a := writeCSV(t, "a.csv", orderLines()...)
	b := writeCSV(t, "b.csv", orderLines()...)
	report := scanner.NewScanReport([]scanner.FileInfo{
		scanned(a),
		scanned(b),
		{Path: "/data/readme.txt", Valid: false, Reason: "unsupported extension"},
		scanned(filepath.Join(t.TempDir(), "gone.csv")),
	})

	result, err := h.service.RegisterScan(context.Background(), report)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 1, result.Registered)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Invalid)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "gone.csv")
	assert.Equal(t, 4, h.metrics.scanned)

	require.Len(t, h.catalog.order, 1)
	file := h.catalog.files[h.catalog.order[0]]
	assert.Equal(t, a, file.FilePath)
	assert.Len(t, file.FileHash, 64)
	assert.Equal(t, catalog.FileStatusPending, file.Status)

	t.Run("scanning again registers nothing", func(t *testing.T) {
		again, err := h.service.RegisterScan(context.Background(), report)
		require.NoError(t, err)
		assert.Zero(t, again.Registered)
		assert.Equal(t, 2, again.Duplicates)
		assert.Len(t, h.catalog.order, 1)
	})

	t.Run("nil report", func(t *testing.T) {
		_, err := h.service.RegisterScan(context.Background(), nil)
		assert.Error(t, err)
	})
}

func TestRegisterFile_Metadata(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, "orders.csv", orderLines()...)

	outcome, file, err := h.service.RegisterFile(context.Background(), scanned(path))
	require.NoError(t, err)
	require.Equal(t, RegisterNew, outcome)
	require.NotNil(t, file)

	assert.Equal(t, "shopee", file.Platform)
	assert.Equal(t, "main", file.Account)
	assert.Equal(t, "my_store", file.ShopID)
	assert.Equal(t, catalog.DomainOrders, file.DataDomain)
	assert.Equal(t, catalog.GranularityWeekly, file.Granularity)
	require.NotNil(t, file.DateFrom)
	require.NotNil(t, file.DateTo)
	assert.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), *file.DateFrom)
	assert.Equal(t, time.Date(2025, 9, 7, 0, 0, 0, 0, time.UTC), *file.DateTo)
	assert.Equal(t, path+".meta.json", file.MetaFilePath)
	assert.Equal(t, int64(64), file.FileSize)

	t.Run("explicit shop id wins over slug", func(t *testing.T) {
		info := scanned(writeCSV(t, "other.csv", "x,y", "1,2"))
		info.Metadata.ShopID = "1234567"
		_, file, err := h.service.RegisterFile(context.Background(), info)
		require.NoError(t, err)
		require.NotNil(t, file)
		assert.Equal(t, "1234567", file.ShopID)
	})

	t.Run("scanner hash is reused", func(t *testing.T) {
		info := scanned("/not/on/disk.csv")
		info.FileHash = "precomputed"
		outcome, file, err := h.service.RegisterFile(context.Background(), info)
		require.NoError(t, err)
		assert.Equal(t, RegisterNew, outcome)
		assert.Equal(t, "precomputed", file.FileHash)
	})

	t.Run("valid file without metadata is invalid", func(t *testing.T) {
		outcome, file, err := h.service.RegisterFile(context.Background(), scanner.FileInfo{Path: path, Valid: true})
		require.NoError(t, err)
		assert.Equal(t, RegisterInvalid, outcome)
		assert.Nil(t, file)
	})
}

func TestRegisterFile_SeenCache(t *testing.T) {
	seen := cache.NewInMemorySeenHashCache(0)
	defer seen.Close()
	h := newHarness(t, WithSeenCache(seen))
	path := writeCSV(t, "orders.csv", orderLines()...)

	outcome, _, err := h.service.RegisterFile(context.Background(), scanned(path))
	require.NoError(t, err)
	require.Equal(t, RegisterNew, outcome)
	assert.Equal(t, 1, seen.Len())

	// the cache answers before the catalog is consulted
	h.catalog.registerErr = errors.New("catalog must not be called")
	outcome, file, err := h.service.RegisterFile(context.Background(), scanned(path))
	require.NoError(t, err)
	assert.Equal(t, RegisterDuplicate, outcome)
	assert.Nil(t, file)

	t.Run("catalog failure is reported", func(t *testing.T) {
		other := writeCSV(t, "new.csv", "a,b", "1,2")
		outcome, _, err := h.service.RegisterFile(context.Background(), scanned(other))
		assert.Equal(t, RegisterFailed, outcome)
		assert.ErrorContains(t, err, "catalog must not be called")
	})
}
