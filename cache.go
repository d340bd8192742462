package privateblog

import (
	"context"
	"sync"
	"time"
)

// PostCache keeps the index listing in memory for ttl so the posts
// directory is not re-read on every page view.
type PostCache struct {
	mu      sync.RWMutex
	posts   []PostSummary
	loaded  bool
	fetched time.Time
	ttl     time.Duration
	store   *Store
	now     func() time.Time
}

// NewPostCache creates a PostCache backed by s. A ttl of zero disables
// caching.
func NewPostCache(s *Store, ttl time.Duration) *PostCache {
	return &PostCache{store: s, ttl: ttl, now: time.Now}
}

func (c *PostCache) valid() bool {
	return c.loaded && c.now().Sub(c.fetched) < c.ttl
}

// Invalidate drops the cached listing so the next read goes to disk.
func (c *PostCache) Invalidate() {
	c.mu.Lock()
	c.posts = nil
	c.loaded = false
	c.mu.Unlock()
}

// ListPosts returns the cached listing, reloading it once it is older than
// the ttl. Load errors are not cached.
func (c *PostCache) ListPosts(ctx context.Context) ([]PostSummary, error) {
	c.mu.RLock()
	if c.valid() {
		posts := c.posts
		c.mu.RUnlock()
		return posts, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid() {
		return c.posts, nil
	}
	posts, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	c.posts = posts
	c.loaded = true
	c.fetched = c.now()
	return posts, nil
}
