package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(ttl time.Duration, size int) (*TTL[string, int], *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTL[string, int](ttl, size)
	c.now = clk.now
	return c, clk
}

func TestTTL_Expiry(t *testing.T) {
	c, clk := newTestCache(time.Minute, 0)
	c.Set("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.t = clk.t.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTL_EvictsOldestWhenFull(t *testing.T) {
	c, clk := newTestCache(time.Hour, 2)
	c.Set("a", 1)
	clk.t = clk.t.Add(time.Second)
	c.Set("b", 2)
	clk.t = clk.t.Add(time.Second)

	c.Set("b", 20)
	assert.Equal(t, 2, c.Len(), "overwriting does not evict")

	c.Set("c", 3)
	_, ok := c.Get("a")
	assert.False(t, ok)
	v, _ := c.Get("b")
	assert.Equal(t, 20, v)
	assert.Equal(t, 2, c.Len())
}

func TestTTL_CleanupAndDelete(t *testing.T) {
	c, clk := newTestCache(time.Minute, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("b")

	clk.t = clk.t.Add(2 * time.Minute)
	c.cleanupExpired()
	assert.Zero(t, c.Len())

	stop := c.StartCleanup(time.Millisecond)
	stop()
	stop()
}
