// Package perfcore is the performance and resource management core shared by
// the trading workflow: a two-tier cache with TTL expiry and LRU eviction, a
// pooled client layer for outbound calls with bounded concurrency and retry,
// a PostgreSQL connection pool with query metrics and health probing, and a
// state diff engine for propagating incremental workflow-state updates.
//
// The four engines are independent of each other. Each is constructed once
// per process, shared by reference, and torn down with an explicit
// Close/Dispose call that stops its background timers.
package perfcore
