package utils

import "time"

// GetExpirationTime resolves an optional per-call TTL against a default.
func GetExpirationTime(defaultTime time.Duration, ttl ...time.Duration) time.Duration {
	if len(ttl) > 0 {
		return ttl[0]
	}
	return defaultTime
}
