package config

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CacheConfig is the configuration for CacheEngine.
type CacheConfig struct {
	FastTierSize int           // maximum entry count of the fast tier
	SlowTierSize int           // maximum entry count of the slow tier
	FastTierTTL  time.Duration // default TTL for fast tier entries
	SlowTierTTL  time.Duration // default TTL for slow tier entries

	SweepInterval        time.Duration // interval of the background expiry sweep
	PrefetchBatchSize    int           // keys loaded per prefetch batch
	CompressionThreshold int           // serialized bytes above which values are compressed

	// Slow tier admission: a value is written to the slow tier when the
	// key's rolling access count reaches SlowTierAccessThreshold or the
	// serialized value reaches SlowTierSizeThreshold bytes.
	SlowTierAccessThreshold int64
	SlowTierSizeThreshold   int

	// Access-pattern tracking window used by Optimize to pick prefetch
	// candidates.
	AccessWindow    time.Duration
	AccessThreshold int64

	BloomExpectedItems     uint
	BloomFalsePositiveRate float64

	RemoteTimeout time.Duration // per-operation timeout for the remote tier
	Breaker       gobreaker.Settings

	Logger *zap.Logger
}

// DefaultCacheConfig returns a CacheConfig with production defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		FastTierSize:            1000,
		SlowTierSize:            10000,
		FastTierTTL:             5 * time.Minute,
		SlowTierTTL:             30 * time.Minute,
		SweepInterval:           time.Minute,
		PrefetchBatchSize:       10,
		CompressionThreshold:    1 << 10,
		SlowTierAccessThreshold: 3,
		SlowTierSizeThreshold:   10 << 10,
		AccessWindow:            5 * time.Minute,
		AccessThreshold:         5,
		BloomExpectedItems:      100000,
		BloomFalsePositiveRate:  0.01,
		RemoteTimeout:           2 * time.Second,
		Breaker:                 gobreaker.Settings{Name: "cache-remote"},
		Logger:                  zap.NewNop(),
	}
}

// Validate reports the first invalid field.
func (c *CacheConfig) Validate() error {
	switch {
	case c.FastTierSize <= 0:
		return errors.New("fast tier size must be positive")
	case c.SlowTierSize <= 0:
		return errors.New("slow tier size must be positive")
	case c.FastTierTTL <= 0 || c.SlowTierTTL <= 0:
		return errors.New("tier TTLs must be positive")
	case c.SweepInterval <= 0:
		return errors.New("sweep interval must be positive")
	case c.PrefetchBatchSize <= 0:
		return errors.New("prefetch batch size must be positive")
	case c.BloomFalsePositiveRate <= 0 || c.BloomFalsePositiveRate >= 1:
		return errors.New("bloom false positive rate must be in (0, 1)")
	}
	return nil
}

// DestinationConfig configures one named outbound destination.
type DestinationConfig struct {
	BaseURL string

	MaxConcurrent  int64         // maximum in-flight requests
	Retries        int           // retries after the initial attempt
	RetryDelay     time.Duration // linear backoff unit: delay * attempt
	ConnectTimeout time.Duration
	RequestTimeout time.Duration // per-attempt timeout
	KeepAlive      time.Duration
	MaxIdleConns   int

	DisableKeepAlives bool

	Breaker gobreaker.Settings
}

// DefaultDestinationConfig returns destination defaults for the given base URL.
func DefaultDestinationConfig(baseURL string) DestinationConfig {
	return DestinationConfig{
		BaseURL:        baseURL,
		MaxConcurrent:  10,
		Retries:        3,
		RetryDelay:     time.Second,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		KeepAlive:      30 * time.Second,
		MaxIdleConns:   10,
		Breaker: gobreaker.Settings{
			Name: baseURL,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 10
			},
		},
	}
}

// Validate reports the first invalid field.
func (c *DestinationConfig) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base URL is required")
	case c.MaxConcurrent <= 0:
		return errors.New("max concurrent must be positive")
	case c.Retries < 0:
		return errors.New("retries must not be negative")
	case c.RetryDelay < 0:
		return errors.New("retry delay must not be negative")
	}
	return nil
}

// DBConfig configures ConnectionPoolEngine.
type DBConfig struct {
	DSN string

	MinConns       int32
	MaxConns       int32
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration

	StatementTimeout    time.Duration
	SlowQueryThreshold  time.Duration
	HealthCheckInterval time.Duration

	MetricsWindow int // size of the query metric ring buffer
}

// DefaultDBConfig returns pool defaults for the given DSN.
func DefaultDBConfig(dsn string) DBConfig {
	return DBConfig{
		DSN:                 dsn,
		MinConns:            2,
		MaxConns:            10,
		ConnectTimeout:      5 * time.Second,
		IdleTimeout:         5 * time.Minute,
		StatementTimeout:    30 * time.Second,
		SlowQueryThreshold:  time.Second,
		HealthCheckInterval: 30 * time.Second,
		MetricsWindow:       500,
	}
}

// Validate reports the first invalid field.
func (c *DBConfig) Validate() error {
	switch {
	case c.DSN == "":
		return errors.New("dsn is required")
	case c.MaxConns <= 0:
		return errors.New("max conns must be positive")
	case c.MinConns < 0 || c.MinConns > c.MaxConns:
		return errors.New("min conns must be in [0, max conns]")
	case c.MetricsWindow <= 0:
		return errors.New("metrics window must be positive")
	}
	return nil
}

// StateConfig configures StateDiffEngine.
type StateConfig struct {
	MaxSnapshots  int  // bounded diagnostic snapshot history
	EnableDiffing bool // when false, UpdateState skips diff computation
}

// DefaultStateConfig returns state engine defaults.
func DefaultStateConfig() StateConfig {
	return StateConfig{
		MaxSnapshots:  50,
		EnableDiffing: true,
	}
}

// Validate reports the first invalid field.
func (c *StateConfig) Validate() error {
	if c.MaxSnapshots <= 0 {
		return errors.New("max snapshots must be positive")
	}
	return nil
}
