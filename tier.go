package perfcore

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantflow/perfcore/models"
)

// tier is one bounded layer of the cache. Entries are owned exclusively by
// the tier; get hands out a detached copy so callers never read or write
// tier memory outside the mutex.
//
// Invariants: len(entries) never exceeds maxEntries; when full, the
// least-recently-used entry is evicted first. Expiry is checked lazily on
// read and by the periodic sweep.
type tier struct {
	name       string
	maxEntries int
	defaultTTL time.Duration

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	metrics *models.CacheMetrics
	logger  *zap.Logger
	now     func() time.Time
}

func newTier(name string, maxEntries int, defaultTTL time.Duration, metrics *models.CacheMetrics, logger *zap.Logger, now func() time.Time) *tier {
	return &tier{
		name:       name,
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		metrics:    metrics,
		logger:     logger,
		now:        now,
	}
}

// get returns a copy of the entry for key, with its own copy of the stored
// bytes. An expired entry is removed and reported as a miss. The entry is
// touched on hit.
func (t *tier) get(key string) (*models.Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*models.Entry)
	if entry.Expired(t.now()) {
		t.removeLocked(elem, entry)
		t.metrics.Expired.Inc()
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccess = t.now()
	t.lru.MoveToFront(elem)

	cp := *entry
	cp.Data = append([]byte(nil), entry.Data...)
	return &cp, true
}

// set inserts or replaces key. When the tier is at capacity and key is new,
// the least-recently-used entry is evicted to make room.
func (t *tier) set(key string, data []byte, size int, compressed bool, ttl time.Duration) {
	if ttl <= 0 {
		ttl = t.defaultTTL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if elem, ok := t.entries[key]; ok {
		entry := elem.Value.(*models.Entry)
		entry.Data = data
		entry.Size = size
		entry.Compressed = compressed
		entry.InsertedAt = now
		entry.ExpiresAt = now.Add(ttl)
		entry.LastAccess = now
		t.lru.MoveToFront(elem)
		return
	}

	if t.lru.Len() >= t.maxEntries {
		t.evictOldestLocked()
	}

	entry := &models.Entry{
		Key:        key,
		Data:       data,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
		Size:       size,
		Compressed: compressed,
	}
	t.entries[key] = t.lru.PushFront(entry)
}

// peek reports whether key is present and unexpired without touching LRU
// order or access counters.
func (t *tier) peek(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.entries[key]
	if !ok {
		return false
	}
	return !elem.Value.(*models.Entry).Expired(t.now())
}

func (t *tier) delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.entries[key]
	if !ok {
		return false
	}
	t.removeLocked(elem, elem.Value.(*models.Entry))
	return true
}

func (t *tier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]*list.Element)
	t.lru.Init()
}

func (t *tier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// sweep removes every expired entry and returns how many were dropped.
func (t *tier) sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for elem := t.lru.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*models.Entry)
		if entry.Expired(now) {
			t.removeLocked(elem, entry)
			removed++
		}
		elem = prev
	}
	if removed > 0 {
		t.metrics.Expired.Add(int64(removed))
		t.logger.Debug("swept expired entries",
			zap.String("tier", t.name), zap.Int("removed", removed))
	}
	return removed
}

func (t *tier) evictOldestLocked() {
	elem := t.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*models.Entry)
	t.removeLocked(elem, entry)
	t.metrics.Evictions.Inc()
	t.logger.Debug("evicted entry",
		zap.String("tier", t.name), zap.String("key", entry.Key))
}

func (t *tier) removeLocked(elem *list.Element, entry *models.Entry) {
	t.lru.Remove(elem)
	delete(t.entries, entry.Key)
}
