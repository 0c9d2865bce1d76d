package perfcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantflow/perfcore/models"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newTestTier(maxEntries int, ttl time.Duration, clock *fakeClock) *tier {
	return newTier("test", maxEntries, ttl, models.NewCacheMetrics(), zap.NewNop(), clock.Now)
}

func TestTierRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTier(10, time.Minute, clock)

	tr.set("a", []byte("payload"), 7, false, 0)

	entry, ok := tr.get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), entry.Data)
	assert.Equal(t, 7, entry.Size)
	assert.False(t, entry.Compressed)
	assert.EqualValues(t, 1, entry.AccessCount)
}

func TestTierExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTier(10, time.Minute, clock)

	tr.set("a", []byte("x"), 1, false, 0)
	clock.Advance(2 * time.Minute)

	_, ok := tr.get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, tr.len())
}

func TestTierBoundedSizeEvictsLRUFirst(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTier(3, time.Minute, clock)

	tr.set("a", []byte("1"), 1, false, 0)
	tr.set("b", []byte("2"), 1, false, 0)
	tr.set("c", []byte("3"), 1, false, 0)

	// Touch a so b becomes least recently used.
	_, ok := tr.get("a")
	require.True(t, ok)

	tr.set("d", []byte("4"), 1, false, 0)

	assert.Equal(t, 3, tr.len())
	_, ok = tr.get("b")
	assert.False(t, ok, "least-recently-used entry should have been evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := tr.get(key)
		assert.True(t, ok, "key %s should survive", key)
	}
}

func TestTierNeverExceedsBound(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTier(5, time.Minute, clock)

	for i := 0; i < 50; i++ {
		tr.set(string(rune('a'+i%26))+string(rune('0'+i/26)), []byte("v"), 1, false, 0)
		require.LessOrEqual(t, tr.len(), 5)
	}
	assert.Equal(t, 5, tr.len())
}

func TestTierGetReturnsDetachedCopy(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTier(10, time.Minute, clock)

	tr.set("a", []byte("payload"), 7, false, 0)

	entry, ok := tr.get("a")
	require.True(t, ok)

	// Removing the key must not disturb the bytes already handed out.
	require.True(t, tr.delete("a"))
	assert.Equal(t, []byte("payload"), entry.Data)

	// Nor may the caller reach back into the tier through the copy.
	tr.set("a", []byte("payload"), 7, false, 0)
	entry, ok = tr.get("a")
	require.True(t, ok)
	entry.Data[0] = 'X'

	fresh, ok := tr.get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), fresh.Data)
}

func TestTierSweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTier(10, time.Minute, clock)

	tr.set("short", []byte("1"), 1, false, time.Second)
	tr.set("long", []byte("2"), 1, false, time.Hour)

	clock.Advance(time.Minute)
	removed := tr.sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.len())
	_, ok := tr.get("long")
	assert.True(t, ok)
}

func TestTierSetReplacesExisting(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTier(3, time.Minute, clock)

	tr.set("a", []byte("old"), 3, false, 0)
	tr.set("a", []byte("new"), 3, false, 0)

	assert.Equal(t, 1, tr.len())
	entry, ok := tr.get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), entry.Data)
}

func TestTierPeekDoesNotTouch(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTier(2, time.Minute, clock)

	tr.set("a", []byte("1"), 1, false, 0)
	tr.set("b", []byte("2"), 1, false, 0)

	// Peeking a must not refresh its LRU position.
	require.True(t, tr.peek("a"))
	tr.set("c", []byte("3"), 1, false, 0)

	assert.False(t, tr.peek("a"), "peek must not protect an entry from eviction")
	assert.True(t, tr.peek("b"))
	assert.True(t, tr.peek("c"))
}
