package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(time.Second)
	c.now = func() time.Time { return now }

	c.Set("stats", 42)

	v, ok := c.Get("stats")
	require.True(t, ok)
	require.Equal(t, 42, v)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("stats")
	require.False(t, ok)
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	require.False(t, ok)
}

func TestNewDefaultsTTL(t *testing.T) {
	require.Equal(t, 2*time.Second, New(0).ttl)
}
