package sdk

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// GCPSDKCache is the centralized cache for GCP SDK clients and cheap
// metadata lookups. Default expiration: 2 hours, cleanup interval: 10
// minutes.
var GCPSDKCache = cache.New(2*time.Hour, 10*time.Minute)

// CacheKey generates a consistent cache key from components.
// Example: CacheKey("machinetype", "us-central1-a", "e2-medium")
func CacheKey(parts ...string) string {
	return strings.Join(parts, "-")
}

// ClearCache clears all entries from the cache.
func ClearCache() {
	GCPSDKCache.Flush()
}

// GetFromCache retrieves an item from cache.
func GetFromCache(key string) (interface{}, bool) {
	return GCPSDKCache.Get(key)
}

// SetInCache stores an item in cache with default expiration.
func SetInCache(key string, value interface{}) {
	GCPSDKCache.Set(key, value, 0)
}
