// Package cache implements the response cache: fingerprinting, per-feature
// TTLs and hit accounting over a pluggable backend.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/pario-ai/aigate/pkg/models"
)

// ErrMiss is returned when no live entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Backend is the persistent store behind a Cache. Implementations must make
// Hit and Expire atomic with respect to concurrent callers.
type Backend interface {
	// Load returns the entry for key or ErrMiss.
	Load(ctx context.Context, key models.Fingerprint) (*models.CacheEntry, error)
	// Hit increments the hit counter if the stored entry was created at
	// createdAt. ok is false when the entry is gone or was replaced.
	Hit(ctx context.Context, key models.Fingerprint, createdAt time.Time) (hits uint64, ok bool, err error)
	// Put upserts entry by key.
	Put(ctx context.Context, entry *models.CacheEntry) error
	// Expire deletes key only if it was created at createdAt.
	Expire(ctx context.Context, key models.Fingerprint, createdAt time.Time) (bool, error)
	DeleteKey(ctx context.Context, key models.Fingerprint) (int64, error)
	DeleteFeature(ctx context.Context, feature string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	// List returns metadata for every stored entry.
	List(ctx context.Context) ([]models.CacheEntryInfo, error)
	Close() error
}

// Cache is the CacheStore service.
type Cache struct {
	backend     Backend
	now         func() time.Time
	defaultTTL  time.Duration
	featureTTLs map[string]time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTLs sets the default TTL and per-feature overrides.
func WithTTLs(defaultTTL time.Duration, perFeature map[string]time.Duration) Option {
	return func(c *Cache) {
		if defaultTTL > 0 {
			c.defaultTTL = defaultTTL
		}
		c.featureTTLs = make(map[string]time.Duration, len(perFeature))
		for f, ttl := range perFeature {
			c.featureTTLs[f] = ttl
		}
	}
}

// DefaultTTL applies to features without an explicit entry.
const DefaultTTL = 24 * time.Hour

// New wraps backend in a Cache.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:    backend,
		now:        time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the lifetime of entries for feature.
func (c *Cache) TTL(feature string) time.Duration {
	if ttl, ok := c.featureTTLs[feature]; ok && ttl > 0 {
		return ttl
	}
	return c.defaultTTL
}

func (c *Cache) expired(createdAt time.Time, feature string) bool {
	return c.now().Sub(createdAt) > c.TTL(feature)
}

// Get returns the live entry for key, counting the read as a hit.
// The TTL is taken from feature, the feature of the current request.
func (c *Cache) Get(ctx context.Context, key models.Fingerprint, feature string) (*models.CacheEntry, error) {
	entry, err := c.backend.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache load: %w", err)
	}

	if c.expired(entry.CreatedAt, feature) {
		if _, err := c.backend.Expire(ctx, key, entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("cache expire: %w", err)
		}
		return nil, ErrMiss
	}

	hits, ok, err := c.backend.Hit(ctx, key, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("cache hit: %w", err)
	}
	if !ok {
		return nil, ErrMiss
	}
	entry.Hits = hits
	return entry, nil
}

// Set stores response under key. An existing entry is replaced and its hit
// count reset.
func (c *Cache) Set(ctx context.Context, key models.Fingerprint, feature string, response any, metadata map[string]string) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	entry := &models.CacheEntry{
		Key:       key,
		Feature:   feature,
		Response:  payload,
		CreatedAt: c.now().UTC(),
		Metadata:  metadata,
	}
	if err := c.backend.Put(ctx, entry); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Invalidate deletes the entry for key when key is set, every entry of
// feature when only feature is set, and everything otherwise.
func (c *Cache) Invalidate(ctx context.Context, feature string, key models.Fingerprint) (int64, error) {
	var (
		n   int64
		err error
	)
	switch {
	case key != "":
		n, err = c.backend.DeleteKey(ctx, key)
	case feature != "":
		n, err = c.backend.DeleteFeature(ctx, feature)
	default:
		n, err = c.backend.DeleteAll(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("cache invalidate: %w", err)
	}
	return n, nil
}

// SweepExpired deletes every entry past its feature's TTL.
func (c *Cache) SweepExpired(ctx context.Context) (int64, error) {
	infos, err := c.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	var removed int64
	for _, info := range infos {
		if !c.expired(info.CreatedAt, info.Feature) {
			continue
		}
		ok, err := c.backend.Expire(ctx, info.Key, info.CreatedAt)
		if err != nil {
			return removed, fmt.Errorf("cache sweep: %w", err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Stats summarizes stored entries. Expired counts use the current clock.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	infos, err := c.backend.List(ctx)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	stats := models.CacheStats{ByFeature: make(map[string]models.FeatureCacheStats)}
	for _, info := range infos {
		stats.TotalEntries++
		stats.TotalHits += info.Hits

		fs := stats.ByFeature[info.Feature]
		fs.Count++
		fs.Hits += info.Hits
		if c.expired(info.CreatedAt, info.Feature) {
			fs.ExpiredCount++
		}
		stats.ByFeature[info.Feature] = fs
	}
	return stats, nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}
