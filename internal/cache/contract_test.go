package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises behaviour every Cache must share. expire makes
// entries set with ttl become stale.
func runContract(t *testing.T, newCache func(t *testing.T) Cache, ttl time.Duration, expire func()) {
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		c := newCache(t)
		_, ok, err := c.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set then get", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "all", []byte(`{"totalPlays":3}`), ttl))

		got, ok, err := c.Get(ctx, "all")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"totalPlays":3}`, string(got))
	})

	t.Run("overwrite", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "k", []byte("one"), ttl))
		require.NoError(t, c.Set(ctx, "k", []byte("two"), ttl))

		got, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "two", string(got))
	})

	t.Run("non-positive ttl deletes", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "k", []byte("v"), ttl))
		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

		_, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalidate drops everything", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "all", []byte("a"), ttl))
		require.NoError(t, c.Set(ctx, "month:2024-05", []byte("b"), ttl))
		require.NoError(t, c.Invalidate(ctx))

		for _, k := range []string{"all", "month:2024-05"} {
			_, ok, err := c.Get(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok, k)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "k", []byte("v"), ttl))
		expire()

		_, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
