package catalog

import (
	"context"
	"time"
)

// SeenHashCache remembers content hashes that are already registered so a
// rescan can skip them without a database round trip. It is an optimisation
// only: the catalog's unique hash constraint stays authoritative.
type SeenHashCache interface {
	// MarkSeen records hash for ttl. It reports true when the hash was not
	// already present.
	MarkSeen(ctx context.Context, hash string, ttl time.Duration) (bool, error)

	// IsSeen reports whether hash was recorded and has not expired
	IsSeen(ctx context.Context, hash string) (bool, error)

	Close() error
}
