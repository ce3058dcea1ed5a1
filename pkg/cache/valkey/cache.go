// Package valkey stores cache entries in Valkey (or Redis) hashes so several
// gateway instances can share one cache.
package valkey

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"

	"github.com/pario-ai/aigate/pkg/cache"
	"github.com/pario-ai/aigate/pkg/models"
)

const (
	defaultPrefix = "aigate:"
	// hashTag keeps every key of one backend in a single cluster slot.
	hashTag = "{cache}:"
	// maxAttempts bounds retries when an entry changes feature mid-write.
	maxAttempts = 5
)

// ErrConflict is returned when an entry kept changing under a write.
var ErrConflict = errors.New("valkey cache: concurrent update conflict")

// Backend is a cache.Backend over a valkey client.
//
// Each entry is a hash at <prefix>{cache}:<key>. The set <prefix>{cache}:keys
// indexes all keys and <prefix>{cache}:feature:<feature> indexes keys per
// feature. Scripts only touch keys passed in KEYS.
type Backend struct {
	client valkey.Client
	prefix string
}

var _ cache.Backend = (*Backend)(nil)

// New connects to the server at url (redis://, rediss:// or unix://).
func New(url string) (*Backend, error) {
	opt, err := valkey.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse valkey url: %w", err)
	}
	// Reads go through Do, never DoCache, so client tracking is unnecessary.
	opt.DisableCache = true
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	return NewWithClient(client, defaultPrefix), nil
}

// NewWithClient wraps an existing client. Keys are namespaced under prefix.
func NewWithClient(client valkey.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) entryKey(key models.Fingerprint) string {
	return b.prefix + hashTag + string(key)
}
func (b *Backend) featureKey(feature string) string { return b.prefix + hashTag + "feature:" + feature }
func (b *Backend) indexKey() string                 { return b.prefix + hashTag + "keys" }

// KEYS[1]=entry KEYS[2]=feature set KEYS[3]=index KEYS[4]=previous feature set
// ARGV: feature, response, created_at, metadata, cache key, previous feature,
// "1" when an entry was present
// Returns -1 when the stored feature no longer matches ARGV[6..7].
var putScript = valkey.NewLuaScript(`
local old = redis.call('HGET', KEYS[1], 'feature')
if old then
	if ARGV[7] ~= '1' or old ~= ARGV[6] then
		return -1
	end
	if old ~= ARGV[1] then
		redis.call('SREM', KEYS[4], ARGV[5])
	end
elseif ARGV[7] == '1' then
	return -1
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'feature', ARGV[1], 'response', ARGV[2], 'created_at', ARGV[3], 'hits', '0', 'metadata', ARGV[4])
redis.call('SADD', KEYS[2], ARGV[5])
redis.call('SADD', KEYS[3], ARGV[5])
return 1
`)

// KEYS[1]=entry; ARGV[1]=created_at
var hitScript = valkey.NewLuaScript(`
if redis.call('HGET', KEYS[1], 'created_at') ~= ARGV[1] then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'hits', 1)
`)

// KEYS[1]=entry KEYS[2]=index KEYS[3]=feature set
// ARGV: cache key, feature, created_at or empty to match any
// Returns -1 when the entry belongs to another feature. A missing entry is
// dropped from both indexes.
var deleteScript = valkey.NewLuaScript(`
local fields = redis.call('HMGET', KEYS[1], 'feature', 'created_at')
if not fields[2] then
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('SREM', KEYS[3], ARGV[1])
	return 0
end
if fields[1] ~= ARGV[2] then
	return -1
end
if ARGV[3] ~= '' and fields[2] ~= ARGV[3] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

// Load returns the entry stored under key.
func (b *Backend) Load(ctx context.Context, key models.Fingerprint) (*models.CacheEntry, error) {
	fields, err := b.client.Do(ctx, b.client.B().Hgetall().Key(b.entryKey(key)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, cache.ErrMiss
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load %s: created_at: %w", key, err)
	}
	hits, err := strconv.ParseUint(fields["hits"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load %s: hits: %w", key, err)
	}
	entry := &models.CacheEntry{
		Key:       key,
		Feature:   fields["feature"],
		Response:  []byte(fields["response"]),
		CreatedAt: time.Unix(0, createdAt).UTC(),
		Hits:      hits,
	}
	if md := fields["metadata"]; md != "" && md != "{}" {
		if err := json.Unmarshal([]byte(md), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("load %s: metadata: %w", key, err)
		}
	}
	return entry, nil
}

// Hit increments the hit count of key if it was created at createdAt.
func (b *Backend) Hit(ctx context.Context, key models.Fingerprint, createdAt time.Time) (uint64, bool, error) {
	n, err := hitScript.Exec(ctx, b.client,
		[]string{b.entryKey(key)},
		[]string{strconv.FormatInt(createdAt.UnixNano(), 10)},
	).AsInt64()
	if err != nil {
		return 0, false, fmt.Errorf("hit %s: %w", key, err)
	}
	if n < 0 {
		return 0, false, nil
	}
	return uint64(n), true, nil
}

// Put stores entry, replacing any previous entry for the same key.
func (b *Backend) Put(ctx context.Context, entry *models.CacheEntry) error {
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	for range maxAttempts {
		prev, exists, err := b.feature(ctx, entry.Key)
		if err != nil {
			return fmt.Errorf("put %s: %w", entry.Key, err)
		}
		n, err := putScript.Exec(ctx, b.client,
			[]string{b.entryKey(entry.Key), b.featureKey(entry.Feature), b.indexKey(), b.featureKey(prev)},
			[]string{
				entry.Feature,
				string(entry.Response),
				strconv.FormatInt(entry.CreatedAt.UnixNano(), 10),
				string(metadata),
				string(entry.Key),
				prev,
				flag(exists),
			},
		).AsInt64()
		if err != nil {
			return fmt.Errorf("put %s: %w", entry.Key, err)
		}
		if n >= 0 {
			return nil
		}
	}
	return fmt.Errorf("put %s: %w", entry.Key, ErrConflict)
}

// feature returns the feature currently stored for key.
func (b *Backend) feature(ctx context.Context, key models.Fingerprint) (string, bool, error) {
	f, err := b.client.Do(ctx, b.client.B().Hget().Key(b.entryKey(key)).Field("feature").Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return f, true, nil
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Expire deletes key if it was created at createdAt.
func (b *Backend) Expire(ctx context.Context, key models.Fingerprint, createdAt time.Time) (bool, error) {
	n, err := b.delete(ctx, key, strconv.FormatInt(createdAt.UnixNano(), 10))
	return n > 0, err
}

// DeleteKey removes key.
func (b *Backend) DeleteKey(ctx context.Context, key models.Fingerprint) (int64, error) {
	return b.delete(ctx, key, "")
}

func (b *Backend) delete(ctx context.Context, key models.Fingerprint, createdAt string) (int64, error) {
	for range maxAttempts {
		feature, _, err := b.feature(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("delete %s: %w", key, err)
		}
		n, err := b.deleteEntry(ctx, key, feature, createdAt)
		if err != nil {
			return 0, fmt.Errorf("delete %s: %w", key, err)
		}
		if n >= 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("delete %s: %w", key, ErrConflict)
}

// deleteEntry removes key if it still belongs to feature. It returns -1 when
// the entry moved to another feature.
func (b *Backend) deleteEntry(ctx context.Context, key models.Fingerprint, feature, createdAt string) (int64, error) {
	return deleteScript.Exec(ctx, b.client,
		[]string{b.entryKey(key), b.indexKey(), b.featureKey(feature)},
		[]string{string(key), feature, createdAt},
	).AsInt64()
}

// DeleteFeature removes every entry of feature.
func (b *Backend) DeleteFeature(ctx context.Context, feature string) (int64, error) {
	keys, err := b.members(ctx, b.featureKey(feature))
	if err != nil {
		return 0, fmt.Errorf("delete feature %s: %w", feature, err)
	}
	var total int64
	for _, k := range keys {
		n, err := b.deleteEntry(ctx, models.Fingerprint(k), feature, "")
		if err != nil {
			return total, fmt.Errorf("delete feature %s: %w", feature, err)
		}
		if n > 0 {
			total += n
		}
	}
	return total, nil
}

// DeleteAll empties the cache.
func (b *Backend) DeleteAll(ctx context.Context) (int64, error) {
	keys, err := b.members(ctx, b.indexKey())
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	var total int64
	for _, k := range keys {
		n, err := b.delete(ctx, models.Fingerprint(k), "")
		if err != nil {
			return total, fmt.Errorf("delete all: %w", err)
		}
		total += n
	}
	return total, nil
}

func (b *Backend) members(ctx context.Context, set string) ([]string, error) {
	return b.client.Do(ctx, b.client.B().Smembers().Key(set).Build()).AsStrSlice()
}

// List returns metadata for all indexed entries. Keys whose hash has
// vanished since the index was read are skipped.
func (b *Backend) List(ctx context.Context) ([]models.CacheEntryInfo, error) {
	keys, err := b.members(ctx, b.indexKey())
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make(valkey.Commands, 0, len(keys))
	for _, k := range keys {
		cmds = append(cmds, b.client.B().Hmget().Key(b.entryKey(models.Fingerprint(k))).Field("feature", "created_at", "hits").Build())
	}
	out := make([]models.CacheEntryInfo, 0, len(keys))
	for i, result := range b.client.DoMulti(ctx, cmds...) {
		values, err := result.ToArray()
		if err != nil {
			return nil, fmt.Errorf("list cache: %w", err)
		}
		if len(values) != 3 {
			continue
		}
		feature, err := values[0].ToString()
		if valkey.IsValkeyNil(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list cache: %w", err)
		}
		created, err := values[1].AsInt64()
		if err != nil {
			continue
		}
		hits, err := values[2].AsUint64()
		if err != nil {
			continue
		}
		out = append(out, models.CacheEntryInfo{
			Key:       models.Fingerprint(keys[i]),
			Feature:   feature,
			CreatedAt: time.Unix(0, created).UTC(),
			Hits:      hits,
		})
	}
	return out, nil
}

// Close shuts down the client.
func (b *Backend) Close() error {
	b.client.Close()
	return nil
}
