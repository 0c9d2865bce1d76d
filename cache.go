package perfcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quantflow/perfcore/config"
	"github.com/quantflow/perfcore/models"
	"github.com/quantflow/perfcore/pkg/serialization"
	"github.com/quantflow/perfcore/retrier"
	"github.com/quantflow/perfcore/utils"
)

// Factory produces a value for GetOrSet on a cache miss.
type Factory func(ctx context.Context) (any, error)

// Loader bulk-loads values for Prefetch.
type Loader func(ctx context.Context, keys []string) (map[string]any, error)

type cacheOptions struct {
	cfg    *config.CacheConfig
	now    func() time.Time
	remote *redis.Client
	encode serialization.EncoderFunc
	decode serialization.DecoderFunc
}

// Option configures a CacheEngine at construction time.
type Option func(*cacheOptions) error

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *cacheOptions) error {
		o.cfg.Logger = logger
		return nil
	}
}

// WithFastTier bounds the fast tier.
func WithFastTier(maxEntries int, ttl time.Duration) Option {
	return func(o *cacheOptions) error {
		o.cfg.FastTierSize = maxEntries
		o.cfg.FastTierTTL = ttl
		return nil
	}
}

// WithSlowTier bounds the slow tier.
func WithSlowTier(maxEntries int, ttl time.Duration) Option {
	return func(o *cacheOptions) error {
		o.cfg.SlowTierSize = maxEntries
		o.cfg.SlowTierTTL = ttl
		return nil
	}
}

// WithSweepInterval sets the background expiry sweep interval.
func WithSweepInterval(d time.Duration) Option {
	return func(o *cacheOptions) error {
		o.cfg.SweepInterval = d
		return nil
	}
}

// WithCompressionThreshold sets the serialized size above which values are
// compressed before storage.
func WithCompressionThreshold(bytes int) Option {
	return func(o *cacheOptions) error {
		o.cfg.CompressionThreshold = bytes
		return nil
	}
}

// WithPrefetchBatchSize bounds the per-batch key count used by Prefetch.
func WithPrefetchBatchSize(n int) Option {
	return func(o *cacheOptions) error {
		o.cfg.PrefetchBatchSize = n
		return nil
	}
}

// WithCacheConfig replaces the whole configuration.
func WithCacheConfig(cfg *config.CacheConfig) Option {
	return func(o *cacheOptions) error {
		if cfg.Logger == nil {
			cfg.Logger = o.cfg.Logger
		}
		o.cfg = cfg
		return nil
	}
}

// WithRemoteTier adds an optional Redis-backed overflow tier consulted after
// both in-process tiers miss. The engine takes ownership of the client.
func WithRemoteTier(client *redis.Client) Option {
	return func(o *cacheOptions) error {
		o.remote = client
		return nil
	}
}

// WithClock overrides the time source. Used by tests to drive TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(o *cacheOptions) error {
		o.now = now
		return nil
	}
}

// WithSerialization selects the value codec ("json" or "gob").
func WithSerialization(codec string) Option {
	return func(o *cacheOptions) error {
		switch codec {
		case serialization.JSONType:
			o.encode = serialization.JSONEncoder
			o.decode = serialization.JSONDecoder
		case serialization.GobType:
			o.encode = serialization.GobEncoder
			o.decode = serialization.GobDecoder
		default:
			return fmt.Errorf("unsupported serialization type: %s", codec)
		}
		return nil
	}
}

// CacheEngine is a two-tier in-process cache with TTL expiry, strict LRU
// eviction, access-pattern tracking, value compression and background
// prefetch. An optional Redis overflow tier sits behind both in-process
// tiers.
//
// Cache failures never interrupt primary data flow: reads degrade to misses
// and writes degrade to no-ops with a warning log.
type CacheEngine struct {
	cfg *config.CacheConfig

	fast *tier
	slow *tier

	filterMu sync.Mutex
	filter   *bloom.BloomFilter

	access  *accessTracker
	metrics *models.CacheMetrics

	encode serialization.EncoderFunc
	decode serialization.DecoderFunc

	remote  *redis.Client
	breaker *gobreaker.CircuitBreaker
	retr    *retrier.Retrier
	sf      singleflight.Group

	candMu     sync.Mutex
	candidates []string

	inflight sync.Map // prefetch keys currently being loaded

	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// NewCacheEngine builds a CacheEngine and starts its background sweep.
func NewCacheEngine(ctx context.Context, opts ...Option) (*CacheEngine, error) {
	o := &cacheOptions{
		cfg:    config.DefaultCacheConfig(),
		now:    time.Now,
		encode: serialization.JSONEncoder,
		decode: serialization.JSONDecoder,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	metrics := models.NewCacheMetrics()
	c := &CacheEngine{
		cfg:     o.cfg,
		metrics: metrics,
		encode:  o.encode,
		decode:  o.decode,
		remote:  o.remote,
		access:  newAccessTracker(o.cfg.AccessWindow, o.now),
		filter:  bloom.NewWithEstimates(o.cfg.BloomExpectedItems, o.cfg.BloomFalsePositiveRate),
		tracer:  otel.Tracer("perfcore/cache"),
		logger:  o.cfg.Logger,
		now:     o.now,
		stop:    make(chan struct{}),
	}
	c.fast = newTier("fast", o.cfg.FastTierSize, o.cfg.FastTierTTL, metrics, c.logger, o.now)
	c.slow = newTier("slow", o.cfg.SlowTierSize, o.cfg.SlowTierTTL, metrics, c.logger, o.now)

	if c.remote != nil {
		if err := c.remote.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to remote tier: %w", err)
		}
		c.breaker = gobreaker.NewCircuitBreaker(o.cfg.Breaker)
		c.retr = retrier.NewExponential(3, 100*time.Millisecond, time.Second, 2, 0.1)
	}

	go c.sweepLoop()

	return c, nil
}

// Get looks key up in the fast tier, then the slow tier (promoting on hit),
// then the remote tier when configured. The decoded value is written into
// out. A miss has no side effect beyond counter increments.
func (c *CacheEngine) Get(ctx context.Context, key string, out any) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "CacheEngine.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if !c.mayContain(key) && c.remote == nil {
		c.metrics.Misses.Inc()
		return false, nil
	}

	if entry, ok := c.fast.get(key); ok {
		c.metrics.Hits.Inc()
		c.access.record(key)
		return true, c.decodeEntry(entry, out)
	}

	if entry, ok := c.slow.get(key); ok {
		c.promote(key, entry)
		c.metrics.Hits.Inc()
		c.access.record(key)
		return true, c.decodeEntry(entry, out)
	}

	if c.remote != nil {
		data, compressed, err := c.getFromRemote(ctx, key)
		switch {
		case err == nil:
			c.fast.set(key, append([]byte(nil), data...), len(data), compressed, 0)
			c.metrics.Hits.Inc()
			c.access.record(key)
			return true, c.decodeEntry(&models.Entry{Key: key, Data: data, Compressed: compressed}, out)
		case !errors.Is(err, ErrKeyNotFound):
			// Remote trouble degrades to a miss.
			c.logger.Warn("remote tier get failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.metrics.Misses.Inc()
	return false, nil
}

// Set always writes the fast tier. The slow tier is written when the key's
// rolling access count or the serialized size crosses the configured
// admission thresholds. Values above the compression threshold are
// compressed first.
func (c *CacheEngine) Set(ctx context.Context, key string, value any, ttl ...time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "CacheEngine.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	data, size, compressed, err := c.encodeValue(value)
	if err != nil {
		// Best-effort layer: an unencodable value degrades to a no-op.
		c.logger.Warn("failed to encode value, skipping cache write",
			zap.String("key", key), zap.Error(err))
		return nil
	}

	expiry := utils.GetExpirationTime(0, ttl...)
	c.fast.set(key, data, size, compressed, expiry)

	if c.access.count(key) >= c.cfg.SlowTierAccessThreshold || size >= c.cfg.SlowTierSizeThreshold {
		// Tiers never share an entry; the slow tier gets its own copy.
		c.slow.set(key, append([]byte(nil), data...), size, compressed, expiry)
	}

	if c.remote != nil {
		if err := c.setRemote(ctx, key, data, compressed, expiry); err != nil {
			c.logger.Warn("remote tier set failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.filterMu.Lock()
	c.filter.AddString(key)
	c.filterMu.Unlock()
	return nil
}

// GetOrSet returns the cached value or invokes factory, stores the result
// and decodes it into out.
//
// This path is deliberately not single-flighted: concurrent calls for the
// same missing key may each invoke factory and each write the cache, last
// write winning. Callers needing dedup should coalesce upstream.
func (c *CacheEngine) GetOrSet(ctx context.Context, key string, out any, factory Factory, ttl ...time.Duration) error {
	found, err := c.Get(ctx, key, out)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	value, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("factory failed for key %s: %w", key, err)
	}

	if err := c.Set(ctx, key, value, ttl...); err != nil {
		return err
	}
	return c.assign(value, out)
}

// GetMany fans out to Get and returns the values found.
func (c *CacheEngine) GetMany(ctx context.Context, keys []string) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "CacheEngine.GetMany", trace.WithAttributes(attribute.Int("keyCount", len(keys))))
	defer span.End()

	result := make(map[string]any, len(keys))
	for _, key := range keys {
		var value any
		found, err := c.Get(ctx, key, &value)
		if err != nil {
			return nil, fmt.Errorf("failed to get key %s: %w", key, err)
		}
		if found {
			result[key] = value
		}
	}
	return result, nil
}

// SetMany fans out to Set.
func (c *CacheEngine) SetMany(ctx context.Context, items map[string]any, ttl ...time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "CacheEngine.SetMany", trace.WithAttributes(attribute.Int("itemCount", len(items))))
	defer span.End()

	for key, value := range items {
		if err := c.Set(ctx, key, value, ttl...); err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
	}
	return nil
}

// Delete removes key from both tiers, the remote tier and the access
// tracker.
func (c *CacheEngine) Delete(ctx context.Context, key string) error {
	ctx, span := c.tracer.Start(ctx, "CacheEngine.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.fast.delete(key)
	c.slow.delete(key)
	c.access.forget(key)

	if c.remote != nil {
		if err := c.deleteRemote(ctx, key); err != nil {
			c.logger.Warn("remote tier delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Clear empties both tiers, resets the membership filter and drops all
// access-pattern state.
func (c *CacheEngine) Clear(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "CacheEngine.Clear")
	defer span.End()

	c.fast.clear()
	c.slow.clear()
	c.access.reset()

	c.filterMu.Lock()
	c.filter.ClearAll()
	c.filterMu.Unlock()

	c.candMu.Lock()
	c.candidates = nil
	c.candMu.Unlock()

	if c.remote != nil {
		if err := c.clearRemote(ctx); err != nil {
			c.logger.Warn("remote tier clear failed", zap.Error(err))
		}
	}
	return nil
}

// GetStats snapshots the cache counters.
func (c *CacheEngine) GetStats() models.CacheStats {
	hits := c.metrics.Hits.Load()
	misses := c.metrics.Misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	c.candMu.Lock()
	candidates := append([]string(nil), c.candidates...)
	c.candMu.Unlock()

	return models.CacheStats{
		Hits:               hits,
		Misses:             misses,
		HitRate:            hitRate,
		Evictions:          c.metrics.Evictions.Load(),
		Expired:            c.metrics.Expired.Load(),
		Promotions:         c.metrics.Promotions.Load(),
		Compressions:       c.metrics.Compressions.Load(),
		FastEntries:        c.fast.len(),
		SlowEntries:        c.slow.len(),
		PrefetchLoads:      c.metrics.PrefetchLoads.Load(),
		PrefetchFailures:   c.metrics.PrefetchFailures.Load(),
		PrefetchCandidates: candidates,
	}
}

// Close stops background maintenance and releases the remote client.
func (c *CacheEngine) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		if c.remote != nil {
			err = c.remote.Close()
		}
	})
	return err
}

func (c *CacheEngine) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Optimize(context.Background())
		case <-c.stop:
			return
		}
	}
}

// promote writes a slow-tier entry into the fast tier. The entry is already a
// detached copy, so the fast tier takes its bytes directly.
func (c *CacheEngine) promote(key string, entry *models.Entry) {
	c.fast.set(key, entry.Data, entry.Size, entry.Compressed, 0)
	c.metrics.Promotions.Inc()
}

// mayContain is the bloom membership hint: false means definitely absent
// from the in-process tiers.
func (c *CacheEngine) mayContain(key string) bool {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	return c.filter.TestString(key)
}

func (c *CacheEngine) encodeValue(value any) (data []byte, size int, compressed bool, err error) {
	data, err = serialization.Marshal(c.encode, value)
	if err != nil {
		return nil, 0, false, err
	}
	size = len(data)
	if size >= c.cfg.CompressionThreshold {
		data = utils.Compress(data)
		compressed = true
		c.metrics.Compressions.Inc()
	}
	return data, size, compressed, nil
}

func (c *CacheEngine) decodeEntry(entry *models.Entry, out any) error {
	data := entry.Data
	if entry.Compressed {
		var err error
		if data, err = utils.Decompress(data); err != nil {
			return fmt.Errorf("failed to decompress entry %s: %w", entry.Key, err)
		}
	}
	return serialization.Unmarshal(c.decode, data, out)
}

// assign routes a freshly produced value into out through the codec so
// GetOrSet returns the same shape on the factory path as on the hit path.
func (c *CacheEngine) assign(value, out any) error {
	data, err := serialization.Marshal(c.encode, value)
	if err != nil {
		return err
	}
	return serialization.Unmarshal(c.decode, data, out)
}
