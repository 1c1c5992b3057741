package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) Now() time.Time { return f.t }

func newTestCache(maxSize int, ttl time.Duration) (*LRUCache[string], *fakeNow) {
	clock := &fakeNow{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](maxSize, ttl)
	c.now = clock.Now
	return c, clock
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.Set("2025-01", "a")
	c.Set("2025-02", "b")
	_, ok := c.Get("2025-01")
	require.True(t, ok)

	c.Set("2025-03", "c")

	_, ok = c.Get("2025-02")
	assert.False(t, ok, "2025-02 was least recently used")
	_, ok = c.Get("2025-01")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRUExpiry(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("k", "v")
	clock.t = clock.t.Add(30 * time.Second)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	clock.t = clock.t.Add(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestLRUOverwriteRefreshesTTL(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("k", "old")
	clock.t = clock.t.Add(50 * time.Second)
	c.Set("k", "new")
	clock.t = clock.t.Add(50 * time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, c.Size())
}

func TestLRUClearAndStats(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	c.Get("a")
	c.Get("missing")
	c.Clear()
	c.Get("b")

	st := c.Stats()
	assert.Equal(t, Stats{Size: 0, Hits: 1, Misses: 2}, st)

	c.Set("c", "3")
	assert.Equal(t, 1, c.Size(), "cache stays usable after Clear")
}

func TestJanitorSweep(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	clock.t = clock.t.Add(2 * time.Minute)
	c.Set("c", "3")

	assert.Equal(t, 2, NewJanitor(c).Sweep())
	assert.Equal(t, 1, c.Size())
}

func TestJanitorRunStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewJanitor().Run(ctx, time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
