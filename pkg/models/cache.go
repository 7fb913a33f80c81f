package models

import "time"

// CacheEntry stores a rendered link fragment.
type CacheEntry struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
