package integration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/domain/shared"
	"github.com/erp/ingestion/internal/infrastructure/persistence"
)

func newCatalogFile(t *testing.T, path, hash string) *catalog.CatalogFile {
	t.Helper()
	f, err := catalog.NewCatalogFile(path, 128, hash)
	require.NoError(t, err)
	f.ApplyMetadata("shopee", "main", "shop_1", catalog.DomainOrders, "", catalog.Granularity("weekly"), nil, nil)
	return f
}

func TestCatalogFileRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := NewSharedTestDB(t)
	tdb.CleanTables()
	repo := persistence.NewGormCatalogFileRepository(tdb.DB)
	ctx := context.Background()

	t.Run("concurrent registration of one hash creates one row", func(t *testing.T) {
		var created atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				f, err := catalog.NewCatalogFile("/data/temp/outputs/shopee/orders.csv", 128, "hash-concurrent")
				if err != nil {
					return err
				}
				ok, err := repo.Register(gctx, f)
				if ok {
					created.Add(1)
				}
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), created.Load())

		found, err := repo.FindByHash(ctx, "hash-concurrent")
		require.NoError(t, err)
		assert.Equal(t, catalog.FileStatusPending, found.Status)
	})

	t.Run("stale saves are rejected", func(t *testing.T) {
		f := newCatalogFile(t, "/data/temp/outputs/shopee/stale.csv", "hash-stale")
		ok, err := repo.Register(ctx, f)
		require.NoError(t, err)
		require.True(t, ok)

		a, err := repo.FindByID(ctx, f.ID)
		require.NoError(t, err)
		b, err := repo.FindByID(ctx, f.ID)
		require.NoError(t, err)

		require.NoError(t, a.StartProcessing())
		require.NoError(t, repo.Save(ctx, a))

		require.NoError(t, b.StartProcessing())
		err = repo.Save(ctx, b)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict), "got %v", err)
	})

	t.Run("issues survive a round trip", func(t *testing.T) {
		f := newCatalogFile(t, "/data/temp/outputs/shopee/bad.csv", "hash-bad")
		_, err := repo.Register(ctx, f)
		require.NoError(t, err)

		require.NoError(t, f.StartProcessing())
		require.NoError(t, repo.Save(ctx, f))
		issues := []catalog.IssueDetail{{Row: 0, Column: "订单金额", Type: "type", Message: "not a number", Value: "abc"}}
		require.NoError(t, f.Quarantine(0, issues, "quality 0.0 below threshold"))
		require.NoError(t, repo.Save(ctx, f))

		found, err := repo.FindByID(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, catalog.FileStatusQuarantined, found.Status)
		assert.Equal(t, catalog.LayerQuarantine, found.StorageLayer)
		assert.Equal(t, issues, found.ValidationErrors)
		require.NotNil(t, found.QualityScore)
		assert.Equal(t, 0.0, *found.QualityScore)
	})

	t.Run("pending files are listed oldest first", func(t *testing.T) {
		tdb.CleanTables()
		base := time.Now().Add(-time.Hour).UTC()
		for i, hash := range []string{"hash-2", "hash-1", "hash-3"} {
			f := newCatalogFile(t, "/data/temp/outputs/shopee/"+hash+".csv", hash)
			f.FirstSeenAt = base.Add(time.Duration(2-i) * time.Minute)
			_, err := repo.Register(ctx, f)
			require.NoError(t, err)
		}

		status := catalog.FileStatusPending
		files, err := repo.FindAll(ctx, catalog.CatalogFileFilter{Status: &status, Limit: 2})
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "hash-3", files[0].FileHash)
		assert.Equal(t, "hash-1", files[1].FileHash)

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), counts[catalog.FileStatusPending])
	})
}
