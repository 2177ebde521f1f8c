package storage

import (
	"context"
	"sync"

	"github.com/erp/ingestion/internal/domain/catalog"
)

// NoopArchiver computes archive keys without uploading anything. It stands in
// when object storage is disabled and records the keys it was asked for.
type NoopArchiver struct {
	Prefix string

	mu   sync.Mutex
	keys []string
}

var _ catalog.Archiver = (*NoopArchiver)(nil)

// NewNoopArchiver creates a NoopArchiver using prefix for its keys
func NewNoopArchiver(prefix string) *NoopArchiver {
	return &NoopArchiver{Prefix: prefix}
}

// Archive returns the key the file would have been stored under
func (n *NoopArchiver) Archive(_ context.Context, file *catalog.CatalogFile) (string, error) {
	key := catalog.ArchiveKey(n.Prefix, file)
	n.mu.Lock()
	n.keys = append(n.keys, key)
	n.mu.Unlock()
	return key, nil
}

// Keys returns every key handed out so far
func (n *NoopArchiver) Keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.keys...)
}
