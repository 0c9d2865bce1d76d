package models

import "go.uber.org/atomic"

// CacheMetrics stores CacheEngine counters.
type CacheMetrics struct {
	Hits             *atomic.Int64
	Misses           *atomic.Int64
	Evictions        *atomic.Int64
	Expired          *atomic.Int64
	Promotions       *atomic.Int64
	Compressions     *atomic.Int64
	PrefetchLoads    *atomic.Int64
	PrefetchFailures *atomic.Int64
}

// NewCacheMetrics returns zeroed cache counters.
func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		Hits:             atomic.NewInt64(0),
		Misses:           atomic.NewInt64(0),
		Evictions:        atomic.NewInt64(0),
		Expired:          atomic.NewInt64(0),
		Promotions:       atomic.NewInt64(0),
		Compressions:     atomic.NewInt64(0),
		PrefetchLoads:    atomic.NewInt64(0),
		PrefetchFailures: atomic.NewInt64(0),
	}
}

// ClientMetrics stores per-destination request counters.
type ClientMetrics struct {
	Total     *atomic.Int64
	Succeeded *atomic.Int64
	Failed    *atomic.Int64
	Retried   *atomic.Int64
	Reused    *atomic.Int64 // connection reuse observed via httptrace
	InFlight  *atomic.Int64
	Queued    *atomic.Int64

	// TotalLatency accumulates response time in nanoseconds across
	// completed requests; divided by Total for the rolling average.
	TotalLatency *atomic.Int64
}

// NewClientMetrics returns zeroed client counters.
func NewClientMetrics() *ClientMetrics {
	return &ClientMetrics{
		Total:        atomic.NewInt64(0),
		Succeeded:    atomic.NewInt64(0),
		Failed:       atomic.NewInt64(0),
		Retried:      atomic.NewInt64(0),
		Reused:       atomic.NewInt64(0),
		InFlight:     atomic.NewInt64(0),
		Queued:       atomic.NewInt64(0),
		TotalLatency: atomic.NewInt64(0),
	}
}

// DBMetrics stores connection pool counters.
type DBMetrics struct {
	Queries          *atomic.Int64
	Failures         *atomic.Int64
	SlowQueries      *atomic.Int64
	Transactions     *atomic.Int64
	Rollbacks        *atomic.Int64
	ConnectionErrors *atomic.Int64
	HealthChecks     *atomic.Int64
}

// NewDBMetrics returns zeroed pool counters.
func NewDBMetrics() *DBMetrics {
	return &DBMetrics{
		Queries:          atomic.NewInt64(0),
		Failures:         atomic.NewInt64(0),
		SlowQueries:      atomic.NewInt64(0),
		Transactions:     atomic.NewInt64(0),
		Rollbacks:        atomic.NewInt64(0),
		ConnectionErrors: atomic.NewInt64(0),
		HealthChecks:     atomic.NewInt64(0),
	}
}
