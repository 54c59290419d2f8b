package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubiqsecurity/ubiq-go/internal/cache"
)

func TestSetGetRoundTrip(t *testing.T) {
	c, err := cache.New[string](time.Minute)
	require.NoError(t, err)

	c.Set("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestGetMissOnUnknownKey(t *testing.T) {
	c, err := cache.New[string](time.Minute)
	require.NoError(t, err)

	_, ok := c.Get("nope")
	require.False(t, ok)
}

func TestRemoveEvicts(t *testing.T) {
	c, err := cache.New[int](time.Minute)
	require.NoError(t, err)

	c.Set("k", 42)
	c.Remove("k")
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestNilCacheIsAlwaysMissAndNoOp(t *testing.T) {
	var c *cache.Cache[string]
	c.Set("k", "v")
	_, ok := c.Get("k")
	require.False(t, ok)
	c.Remove("k")
}

func TestZeroTTLDisablesExpiry(t *testing.T) {
	c, err := cache.New[string](0)
	require.NoError(t, err)

	c.Set("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}
