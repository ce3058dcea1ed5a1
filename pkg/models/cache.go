package models

import (
	"encoding/json"
	"time"
)

// Fingerprint identifies an equivalence class of requests for caching.
// It is the lowercase hex SHA-256 of the canonical request encoding.
type Fingerprint string

// CacheEntry stores a previously computed provider response.
type CacheEntry struct {
	Key       Fingerprint       `json:"key"`
	Feature   string            `json:"feature"`
	Response  json.RawMessage   `json:"response"`
	CreatedAt time.Time         `json:"created_at"`
	Hits      uint64            `json:"hits"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CacheEntryInfo is a CacheEntry without its payload, used for scans.
type CacheEntryInfo struct {
	Key       Fingerprint
	Feature   string
	CreatedAt time.Time
	Hits      uint64
}

// FeatureCacheStats aggregates cache entries for one feature.
type FeatureCacheStats struct {
	Count        int64  `json:"count"`
	Hits         uint64 `json:"hits"`
	ExpiredCount int64  `json:"expired_count"`
}

// CacheStats reports cache contents at a point in time.
type CacheStats struct {
	TotalEntries int64                        `json:"total_entries"`
	TotalHits    uint64                       `json:"total_hits"`
	ByFeature    map[string]FeatureCacheStats `json:"by_feature"`
}
