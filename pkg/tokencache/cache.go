// Package tokencache stores redeemed session tokens per origin host.
// Reads share a per-entry RWMutex; writes for one host serialize
// against each other while distinct hosts proceed independently.
// Expiry is checked lazily at read time.
package tokencache

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gatelift/gatelift/pkg/models"
)

// Store persists tokens across restarts. Implementations must be safe
// for concurrent use.
type Store interface {
	Save(ctx context.Context, rec models.TokenRecord) error
	Delete(ctx context.Context, host string) error
	LoadAll(ctx context.Context) ([]models.TokenRecord, error)
}

type entry struct {
	mu  sync.RWMutex
	rec models.TokenRecord
}

// Cache is the in-memory per-host token cache, optionally backed by a
// Store for persistence.
type Cache struct {
	hosts  sync.Map // map[string]*entry
	ttl    time.Duration
	store  Store
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache. ttl is the fallback validity window for tokens
// that arrive without a declared expiry; store may be nil.
func New(ttl time.Duration, store Store) *Cache {
	return &Cache{ttl: ttl, store: store}
}

// Warm loads persisted tokens into memory, skipping expired ones.
func (c *Cache) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	recs, err := c.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, rec := range recs {
		if rec.Expired(now) {
			continue
		}
		c.hosts.Store(normalizeHost(rec.Host), &entry{rec: rec})
	}
	return nil
}

// Get returns the cached token for a host. Expired entries are cleared
// on the spot and reported as misses.
func (c *Cache) Get(host string) (models.TokenRecord, bool) {
	host = normalizeHost(host)
	v, ok := c.hosts.Load(host)
	if !ok {
		c.misses.Add(1)
		return models.TokenRecord{}, false
	}
	e := v.(*entry)

	e.mu.RLock()
	rec := e.rec
	e.mu.RUnlock()

	if rec.Token == "" {
		c.misses.Add(1)
		return models.TokenRecord{}, false
	}
	if rec.Expired(time.Now()) {
		c.Invalidate(context.Background(), host)
		c.misses.Add(1)
		return models.TokenRecord{}, false
	}

	c.hits.Add(1)
	return rec, true
}

// Put stores a token. Tokens without a declared expiry get the cache's
// fallback TTL so no token is ever replayed indefinitely. The memory
// write and the store write happen under the entry lock so a racing
// Invalidate cannot leave the two disagreeing.
func (c *Cache) Put(ctx context.Context, rec models.TokenRecord) error {
	rec.Host = normalizeHost(rec.Host)
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now()
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.IssuedAt.Add(c.ttl)
	}

	for {
		v, _ := c.hosts.LoadOrStore(rec.Host, &entry{})
		e := v.(*entry)

		e.mu.Lock()
		// Purge may have detached this entry before we got the
		// lock; writing to it would be lost. Start over.
		if cur, ok := c.hosts.Load(rec.Host); !ok || cur != v {
			e.mu.Unlock()
			continue
		}
		e.rec = rec
		var err error
		if c.store != nil {
			err = c.store.Save(ctx, rec)
		}
		e.mu.Unlock()
		return err
	}
}

// Invalidate drops a host's token, typically after a stale-token
// replay failed. The entry is cleared in place, not detached, so Put
// and Invalidate for one host always serialize on the same lock.
func (c *Cache) Invalidate(ctx context.Context, host string) {
	host = normalizeHost(host)
	v, ok := c.hosts.Load(host)
	if !ok {
		if c.store != nil {
			_ = c.store.Delete(ctx, host)
		}
		return
	}
	e := v.(*entry)

	e.mu.Lock()
	e.rec = models.TokenRecord{}
	if c.store != nil {
		_ = c.store.Delete(ctx, host)
	}
	e.mu.Unlock()
}

// Purge detaches expired and cleared entries and returns how many held
// an expired token. Only needed to bound memory over long uptimes;
// correctness comes from the lazy check in Get. Purge never touches
// the store, so the Put retry loop is the only coordination it needs.
func (c *Cache) Purge() int {
	now := time.Now()
	dropped := 0
	c.hosts.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		switch {
		case e.rec.Expired(now):
			c.hosts.Delete(key)
			dropped++
		case e.rec.Token == "":
			c.hosts.Delete(key)
		}
		e.mu.Unlock()
		return true
	})
	return dropped
}

// Size returns the number of hosts holding a token.
func (c *Cache) Size() int {
	n := 0
	c.hosts.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.RLock()
		if e.rec.Token != "" {
			n++
		}
		e.mu.RUnlock()
		return true
	})
	return n
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	return models.CacheStats{
		Entries: int64(c.Size()),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// normalizeHost lower-cases the host, keeping any port. Accepts full
// URLs for convenience.
func normalizeHost(input string) string {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "://") {
		if u, err := url.Parse(input); err == nil && u.Host != "" {
			input = u.Host
		}
	}
	return strings.ToLower(input)
}
