package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCache(ttl time.Duration, maxSize int) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(ttl, maxSize)
	mc.SetClock(clock.now)
	return mc, clock
}

func TestMemoryCache_GetExpires(t *testing.T) {
	mc, clock := newTestCache(time.Minute, 0)

	mc.Set("a", 1, 0)
	mc.Set("b", 2, 10*time.Second)

	v, ok := mc.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.t = clock.t.Add(10 * time.Second)
	_, ok = mc.Get("b")
	assert.False(t, ok)
	_, ok = mc.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, mc.Size())
}

func TestMemoryCache_EvictsOldestWhenFull(t *testing.T) {
	mc, clock := newTestCache(time.Minute, 2)

	mc.Set("first", true, 0)
	clock.t = clock.t.Add(time.Second)
	mc.Set("second", true, 0)
	clock.t = clock.t.Add(time.Second)
	mc.Set("third", true, 0)

	_, ok := mc.Get("first")
	assert.False(t, ok)
	_, ok = mc.Get("third")
	assert.True(t, ok)
	assert.Equal(t, 2, mc.Size())
}

func TestMemoryCache_OverwriteDoesNotEvict(t *testing.T) {
	mc, _ := newTestCache(time.Minute, 2)

	mc.Set("a", 1, 0)
	mc.Set("b", 2, 0)
	mc.Set("a", 3, 0)

	v, _ := mc.Get("a")
	assert.Equal(t, 3, v)
	_, ok := mc.Get("b")
	assert.True(t, ok)
}

func TestMemoryCache_CleanupExpired(t *testing.T) {
	mc, clock := newTestCache(time.Minute, 0)

	mc.Set("short", 1, time.Second)
	mc.Set("long", 2, time.Hour)
	clock.t = clock.t.Add(time.Minute)

	assert.Equal(t, 1, mc.CleanupExpired())
	assert.Equal(t, 1, mc.Size())

	mc.Delete("long")
	assert.Zero(t, mc.Size())
}
