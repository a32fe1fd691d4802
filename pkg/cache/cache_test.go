package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New[[]byte](time.Minute)
	defer c.Stop()

	c.Set("shipments", []byte(`[]`))

	got, ok := c.Get("shipments")
	assert.True(t, ok)
	assert.Equal(t, []byte(`[]`), got)

	_, ok = c.Get("orders")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	c.SetWithTTL("schedules", "x", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("schedules")
	assert.False(t, ok)

	// the cleanup pass drops expired items
	c.Invalidate("")
	c.mu.RLock()
	assert.Empty(t, c.items)
	c.mu.RUnlock()
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.Set("snapshot:shipments", 1)
	c.Set("snapshot:orders", 2)
	c.Set("other", 3)

	c.Invalidate("snapshot:")

	_, ok := c.Get("snapshot:shipments")
	assert.False(t, ok)
	_, ok = c.Get("other")
	assert.True(t, ok)
}

func TestCache_DeleteAndDoubleStop(t *testing.T) {
	c := New[int](time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.Stop()
	c.Stop()
}
