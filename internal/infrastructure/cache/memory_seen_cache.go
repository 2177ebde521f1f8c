package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/ingestion/internal/domain/catalog"
)

// InMemorySeenHashCache keeps seen hashes in a map. It suits a single
// ingestion process and tests.
type InMemorySeenHashCache struct {
	mu        sync.RWMutex
	expiresAt map[string]time.Time
	now       func() time.Time

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemorySeenHashCache starts a cache that evicts expired hashes every
// sweepInterval. A non-positive interval disables the sweeper.
func NewInMemorySeenHashCache(sweepInterval time.Duration) *InMemorySeenHashCache {
	c := &InMemorySeenHashCache{
		expiresAt: make(map[string]time.Time),
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
	if sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// MarkSeen implements catalog.SeenHashCache
func (c *InMemorySeenHashCache) MarkSeen(_ context.Context, hash string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.expiresAt[hash]; ok && now.Before(exp) {
		return false, nil
	}
	c.expiresAt[hash] = now.Add(ttl)
	return true, nil
}

// IsSeen implements catalog.SeenHashCache
func (c *InMemorySeenHashCache) IsSeen(_ context.Context, hash string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	exp, ok := c.expiresAt[hash]
	return ok && c.now().Before(exp), nil
}

// Close stops the sweeper. Safe to call more than once.
func (c *InMemorySeenHashCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

// Len returns the number of stored hashes, expired ones included
func (c *InMemorySeenHashCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.expiresAt)
}

func (c *InMemorySeenHashCache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *InMemorySeenHashCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for hash, exp := range c.expiresAt {
		if !now.Before(exp) {
			delete(c.expiresAt, hash)
		}
	}
}

var _ catalog.SeenHashCache = (*InMemorySeenHashCache)(nil)
