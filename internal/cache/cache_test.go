package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache[V any](t *testing.T, maxEntries int) *MemoryCache[V] {
	t.Helper()
	c := NewMemoryCache[V](maxEntries)
	t.Cleanup(c.Stop)
	return c
}

func TestGetSet(t *testing.T) {
	c := newCache[string](t, 0)

	_, found := c.Get("flow")
	assert.False(t, found)

	c.Set("flow", "<svg/>", time.Minute)
	got, found := c.Get("flow")
	require.True(t, found)
	assert.Equal(t, "<svg/>", got)

	c.Set("flow", "<svg id=2/>", time.Minute)
	got, _ = c.Get("flow")
	assert.Equal(t, "<svg id=2/>", got)
	assert.Equal(t, 1, c.Len())
}

func TestExpiry(t *testing.T) {
	c := newCache[int](t, 0)

	c.Set("short", 1, 20*time.Millisecond)
	c.Set("forever", 2, 0)
	_, found := c.Get("short")
	require.True(t, found)

	time.Sleep(50 * time.Millisecond)
	_, found = c.Get("short")
	assert.False(t, found)
	assert.Equal(t, 1, c.Len(), "expired entries are dropped on read")

	c.cleanup()
	v, found := c.Get("forever")
	assert.True(t, found)
	assert.Equal(t, 2, v)
}

func TestCleanupDropsExpired(t *testing.T) {
	c := newCache[int](t, 0)
	c.Set("a", 1, time.Millisecond)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	c.cleanup()
	assert.Equal(t, 1, c.Len())
}

func TestInvalidate(t *testing.T) {
	c := newCache[int](t, 0)
	c.Set("one", 1, time.Minute)
	c.Set("two", 2, time.Minute)

	c.Invalidate("one")
	c.Invalidate("missing")
	_, found := c.Get("one")
	assert.False(t, found)
	_, found = c.Get("two")
	assert.True(t, found)

	c.InvalidateAll()
	assert.Zero(t, c.Len())
	c.Set("three", 3, time.Minute)
	assert.Equal(t, 1, c.Len())
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := newCache[int](t, 3)
	var evicted []string
	c.OnEvict(func(key string, _ int) { evicted = append(evicted, key) })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	// Reading a protects it; b is now the oldest.
	c.Get("a")
	c.Set("d", 4, time.Minute)
	assert.Equal(t, []string{"b"}, evicted)

	// Overwriting keeps the size and evicts nothing.
	c.Set("c", 30, time.Minute)
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 3, c.Len())

	c.Set("e", 5, time.Minute)
	assert.Equal(t, []string{"b", "a"}, evicted)
}

func TestGetOrCreate(t *testing.T) {
	c := newCache[*int](t, 0)
	calls := 0
	create := func() *int {
		calls++
		v := calls
		return &v
	}

	first := c.GetOrCreate("ip", time.Minute, create)
	second := c.GetOrCreate("ip", time.Minute, create)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestGetOrCreateSlidesExpiry(t *testing.T) {
	c := newCache[int](t, 0)
	c.GetOrCreate("ip", 100*time.Millisecond, func() int { return 1 })

	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		c.GetOrCreate("ip", 100*time.Millisecond, func() int { return 99 })
	}
	v, found := c.Get("ip")
	require.True(t, found, "use keeps the entry alive")
	assert.Equal(t, 1, v)
}

func TestConcurrentGetOrCreate(t *testing.T) {
	c := newCache[int](t, 10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%20)
			c.GetOrCreate(key, time.Minute, func() int { return i })
			c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 10)
}

func TestEntryIsExpired(t *testing.T) {
	e := &Entry[string]{ExpiresAt: time.Now().Add(time.Minute)}
	assert.False(t, e.IsExpired())
	e.ExpiresAt = time.Now().Add(-time.Minute)
	assert.True(t, e.IsExpired())
	assert.False(t, (&Entry[string]{}).IsExpired())
}

func TestStopIdempotent(t *testing.T) {
	c := NewMemoryCache[int](0)
	c.Stop()
	c.Stop()
}
