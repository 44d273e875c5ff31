package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTL_SetGet(t *testing.T) {
	c := NewTTL[string, int](time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestTTL_Expiry(t *testing.T) {
	c := NewTTL[string, int](time.Minute)
	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTL_DeleteAndClear(t *testing.T) {
	c := NewTTL[string, int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestTTL_ZeroValueTypes(t *testing.T) {
	type state struct{ n int }
	c := NewTTL[uint64, state](time.Minute)

	c.Set(1, state{n: 0})
	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Zero(t, v.n)
}
