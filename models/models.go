package models

import (
	"time"
)

// Entry is a single cache entry. An entry is owned exclusively by one tier;
// promotion between tiers copies Data rather than sharing it.
type Entry struct {
	Key         string
	Data        []byte
	InsertedAt  time.Time
	ExpiresAt   time.Time
	AccessCount int64
	LastAccess  time.Time
	Size        int // serialized size before compression
	Compressed  bool
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheStats is a point-in-time snapshot of CacheEngine counters.
type CacheStats struct {
	Hits             int64
	Misses           int64
	HitRate          float64
	Evictions        int64
	Expired          int64
	Promotions       int64
	Compressions     int64
	FastEntries      int
	SlowEntries      int
	PrefetchLoads    int64
	PrefetchFailures int64

	// PrefetchCandidates holds keys the last Optimize pass identified as
	// frequently accessed but not currently cached.
	PrefetchCandidates []string
}

// DestinationStats is a point-in-time snapshot of one destination.
type DestinationStats struct {
	Name       string
	Total      int64
	Succeeded  int64
	Failed     int64
	Retried    int64
	ConnReused int64
	InFlight   int64
	Queued     int64
	AvgLatency time.Duration
}

// ClientStats aggregates destination stats across a manager.
type ClientStats struct {
	Destinations []DestinationStats
	Total        int64
	Succeeded    int64
	Failed       int64
	Retried      int64
}

// QueryMetric records one executed statement. Query text is truncated before
// storage so the ring buffer stays small.
type QueryMetric struct {
	Query     string
	Duration  time.Duration
	Success   bool
	Slow      bool
	RowCount  int
	Timestamp time.Time
}

// PoolStats is a point-in-time snapshot of the connection pool.
type PoolStats struct {
	TotalConns       int32
	ActiveConns      int32
	IdleConns        int32
	WaitingAcquires  int64
	Queries          int64
	Failures         int64
	SlowQueries      int64
	Transactions     int64
	Rollbacks        int64
	ConnectionErrors int64
}

// HealthStatus is the result of one connectivity probe.
type HealthStatus struct {
	Healthy   bool
	Latency   time.Duration
	CheckedAt time.Time
	Error     string
}

// StateSnapshot is a diagnostic marker for one state version. The checksum
// is xxhash64 over the serialized state: useful for spotting divergence, not
// an integrity guarantee.
type StateSnapshot struct {
	Version   int64
	Checksum  uint64
	Size      int
	Timestamp time.Time
}

// StateDiff is the key-level change set between two state versions. Removed
// keys appear in Removals and map to nil in Changed.
type StateDiff struct {
	Changed       map[string]any
	Additions     []string
	Removals      []string
	Modifications []string
	Size          int // serialized size of the change set
}

// Empty reports whether the diff carries no changes.
func (d *StateDiff) Empty() bool {
	return d == nil || len(d.Changed) == 0
}

// StateStats is a point-in-time snapshot of StateDiffEngine bookkeeping.
type StateStats struct {
	Updates        int64
	ArrayFastPaths int64
	Version        int64
	LastDiffSize   int64
	SnapshotCount  int
	Snapshots      []StateSnapshot
}
