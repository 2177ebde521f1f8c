package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/infrastructure/config"
)

func TestNewS3Archiver_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{name: "nil config", cfg: nil, wantErr: "configuration is required"},
		{name: "missing bucket", cfg: &config.StorageConfig{AccessKey: "k", SecretKey: "s"}, wantErr: "bucket is required"},
		{name: "missing access key", cfg: &config.StorageConfig{Bucket: "b", SecretKey: "s"}, wantErr: "access key is required"},
		{name: "missing secret key", cfg: &config.StorageConfig{Bucket: "b", AccessKey: "k"}, wantErr: "secret key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewS3Archiver(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, a)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("valid config applies defaults", func(t *testing.T) {
		a, err := NewS3Archiver(&config.StorageConfig{
			Bucket:    "erp-archive",
			AccessKey: "k",
			SecretKey: "s",
			Endpoint:  "minio.local:9000",
		})
		require.NoError(t, err)
		assert.Equal(t, "erp-archive", a.Bucket())
		assert.Equal(t, 15*time.Minute, a.presignExpiration)
	})
}

func TestS3Archiver_DownloadURL(t *testing.T) {
	a, err := NewS3Archiver(&config.StorageConfig{
		Bucket:       "erp-archive",
		AccessKey:    "k",
		SecretKey:    "s",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
	}, WithPresignExpiration(5*time.Minute))
	require.NoError(t, err)

	u, expires, err := a.DownloadURL(context.Background(), "ingestion/quarantine/shopee/orders/2024-09-30/abc_x.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://localhost:9000/erp-archive/ingestion/quarantine/"))
	assert.Contains(t, u, "X-Amz-Expires=300")
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expires, 5*time.Second)

	_, _, err = a.DownloadURL(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

// fakeS3 is a path-style S3 endpoint keeping objects in memory
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	headers map[string]http.Header
	puts    int
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	f := &fakeS3{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		headers: map[string]http.Header{},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeS3) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")

	switch {
	case key == "" && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		if _, ok := f.objects[path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[path] = body
		f.headers[path] = r.Header.Clone()
		f.puts++
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) object(path string) ([]byte, http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[path], f.headers[path]
}

func (f *fakeS3) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *fakeS3) hasBucket(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[name]
}

func newFakeArchiver(t *testing.T, srv *httptest.Server) *S3Archiver {
	t.Helper()
	a, err := NewS3Archiver(&config.StorageConfig{
		Bucket:       "erp-archive",
		Prefix:       "ingestion",
		AccessKey:    "k",
		SecretKey:    "s",
		Endpoint:     srv.URL,
		UsePathStyle: true,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return a
}

func TestS3Archiver_EnsureBucket(t *testing.T) {
	fake, srv := newFakeS3(t)
	a := newFakeArchiver(t, srv)
	ctx := context.Background()

	require.NoError(t, a.EnsureBucket(ctx))
	assert.True(t, fake.hasBucket("erp-archive"))
	require.NoError(t, a.EnsureBucket(ctx))
}

func TestS3Archiver_Archive(t *testing.T) {
	fake, srv := newFakeS3(t)
	a := newFakeArchiver(t, srv)
	ctx := context.Background()

	content := "order_id,amount\nA1,10.50\n"
	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	file, err := catalog.NewCatalogFile(path, int64(len(content)), "0123456789abcdef")
	require.NoError(t, err)
	file.Platform = "shopee"
	file.DataDomain = catalog.DomainOrders
	require.NoError(t, file.StartProcessing())
	require.NoError(t, file.Complete(1))

	key, err := a.Archive(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, catalog.ArchiveKey("ingestion", file), key)
	assert.True(t, strings.HasPrefix(key, "ingestion/curated/shopee/orders/"))

	stored, hdr := fake.object("erp-archive/" + key)
	assert.Contains(t, string(stored), "A1,10.50")
	assert.Equal(t, "text/csv", hdr.Get("Content-Type"))
	assert.Equal(t, "0123456789abcdef", hdr.Get("X-Amz-Meta-File-Hash"))

	exists, err := a.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	t.Run("second archive skips the upload", func(t *testing.T) {
		again, err := a.Archive(ctx, file)
		require.NoError(t, err)
		assert.Equal(t, key, again)
		assert.Equal(t, 1, fake.putCount())
	})

	t.Run("missing local file", func(t *testing.T) {
		gone, err := catalog.NewCatalogFile(filepath.Join(t.TempDir(), "gone.csv"), 1, "ffff")
		require.NoError(t, err)
		_, err = a.Archive(ctx, gone)
		assert.ErrorContains(t, err, "for archiving")
	})
}

func TestS3Archiver_ObjectExists(t *testing.T) {
	_, srv := newFakeS3(t)
	a := newFakeArchiver(t, srv)

	exists, err := a.ObjectExists(context.Background(), "ingestion/none")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = a.ObjectExists(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"a.csv":   "text/csv",
		"A.XLSX":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"b.xls":   "application/vnd.ms-excel",
		"m.json":  "application/json",
		"archive": "application/octet-stream",
	}
	for name, want := range tests {
		assert.Equal(t, want, contentTypeFor(name), name)
	}
}

func TestNoopArchiver(t *testing.T) {
	n := NewNoopArchiver("ingestion")
	file := &catalog.CatalogFile{
		FileName:     "x.csv",
		FileHash:     "abc",
		StorageLayer: catalog.LayerQuarantine,
		FirstSeenAt:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	key, err := n.Archive(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "ingestion/quarantine/unknown/unknown/2024-01-02/abc_x.csv", key)
	assert.Equal(t, []string{key}, n.Keys())
}
