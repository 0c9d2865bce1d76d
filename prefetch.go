package perfcore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// accessTracker keeps per-key access timestamps inside a rolling window.
// It feeds the slow-tier admission heuristic and Optimize's prefetch
// candidate analysis.
type accessTracker struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string][]time.Time
}

func newAccessTracker(window time.Duration, now func() time.Time) *accessTracker {
	return &accessTracker{
		window: window,
		now:    now,
		seen:   make(map[string][]time.Time),
	}
}

func (a *accessTracker) record(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.seen[key] = append(a.pruneLocked(key, now), now)
}

// count returns the number of accesses to key inside the rolling window.
func (a *accessTracker) count(key string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	stamps := a.pruneLocked(key, a.now())
	a.seen[key] = stamps
	return int64(len(stamps))
}

func (a *accessTracker) forget(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.seen, key)
}

func (a *accessTracker) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = make(map[string][]time.Time)
}

// candidates returns keys accessed at least threshold times inside the
// window for which cached reports false, sorted by descending frequency.
func (a *accessTracker) candidates(threshold int64, cached func(string) bool) []string {
	a.mu.Lock()
	now := a.now()
	counts := make(map[string]int64)
	for key := range a.seen {
		stamps := a.pruneLocked(key, now)
		if len(stamps) == 0 {
			delete(a.seen, key)
			continue
		}
		a.seen[key] = stamps
		if int64(len(stamps)) >= threshold {
			counts[key] = int64(len(stamps))
		}
	}
	a.mu.Unlock()

	keys := make([]string, 0, len(counts))
	for key := range counts {
		if !cached(key) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// pruneLocked drops timestamps older than the window. Caller holds a.mu.
func (a *accessTracker) pruneLocked(key string, now time.Time) []time.Time {
	stamps := a.seen[key]
	cutoff := now.Add(-a.window)
	idx := 0
	for idx < len(stamps) && stamps[idx].Before(cutoff) {
		idx++
	}
	return stamps[idx:]
}

// Prefetch loads any unpopulated key from keys through loader, in batches of
// the configured prefetch batch size. Keys still in flight from an earlier
// Prefetch call are skipped. Loader failures are counted and logged but do
// not abort the remaining batches.
func (c *CacheEngine) Prefetch(ctx context.Context, keys []string, loader Loader) error {
	ctx, span := c.tracer.Start(ctx, "CacheEngine.Prefetch", trace.WithAttributes(attribute.Int("keyCount", len(keys))))
	defer span.End()

	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		if c.fast.peek(key) || c.slow.peek(key) {
			continue
		}
		if _, loaded := c.inflight.LoadOrStore(key, struct{}{}); loaded {
			continue
		}
		pending = append(pending, key)
	}
	defer func() {
		for _, key := range pending {
			c.inflight.Delete(key)
		}
	}()

	for start := 0; start < len(pending); start += c.cfg.PrefetchBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+c.cfg.PrefetchBatchSize, len(pending))
		batch := pending[start:end]

		values, err := loader(ctx, batch)
		if err != nil {
			c.metrics.PrefetchFailures.Add(int64(len(batch)))
			c.logger.Warn("prefetch batch failed",
				zap.Strings("keys", batch), zap.Error(err))
			continue
		}

		for _, key := range batch {
			value, ok := values[key]
			if !ok {
				c.metrics.PrefetchFailures.Inc()
				continue
			}
			if err := c.Set(ctx, key, value); err != nil {
				c.metrics.PrefetchFailures.Inc()
				continue
			}
			c.metrics.PrefetchLoads.Inc()
		}
	}
	return nil
}

// Optimize expires entries past their TTL in both tiers and refreshes the
// list of prefetch candidates from recent access patterns. It runs on the
// sweep ticker and may also be invoked directly.
func (c *CacheEngine) Optimize(ctx context.Context) {
	_, span := c.tracer.Start(ctx, "CacheEngine.Optimize")
	defer span.End()

	expired := c.fast.sweep() + c.slow.sweep()

	cands := c.access.candidates(c.cfg.AccessThreshold, func(key string) bool {
		return c.fast.peek(key) || c.slow.peek(key)
	})

	c.candMu.Lock()
	c.candidates = cands
	c.candMu.Unlock()

	if expired > 0 || len(cands) > 0 {
		c.logger.Debug("optimize pass",
			zap.Int("expired", expired), zap.Int("prefetchCandidates", len(cands)))
	}
}
