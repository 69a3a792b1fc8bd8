package models

import "time"

// CacheEntry is a tenant-scoped cache row, unique by Signature.
type CacheEntry struct {
	Signature      string    `json:"signature"`
	UserID         string    `json:"userId"`
	Response       Response  `json:"response"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	HitCount       int64     `json:"hitCount"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// CacheStats summarizes a user's cache footprint.
type CacheStats struct {
	UserID     string `json:"userId"`
	EntryCount int    `json:"entryCount"`
	TotalHits  int64  `json:"totalHits"`
}
