package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache_SetGetRoundTrip(t *testing.T) {
	c := NewInMemoryCache(time.Minute, time.Minute)
	defer c.Stop()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, c.Set(ctx, "k1", payload{Name: "teclado", Count: 3}, 60))

	var got payload
	hit, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload{Name: "teclado", Count: 3}, got)

	// Miss en clave inexistente.
	hit, err = c.Get(ctx, "nope", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryCache_ExpiredKeyIsMiss(t *testing.T) {
	c := NewInMemoryCache(time.Minute, time.Hour)
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "valor", 1))

	// Forzamos la expiración reescribiendo con TTL ya vencido.
	c.mu.Lock()
	item := c.store["k1"]
	item.expiresAt = time.Now().UTC().Add(-time.Second)
	c.store["k1"] = item
	c.mu.Unlock()

	var got string
	hit, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryCache_DeleteByPattern(t *testing.T) {
	c := NewInMemoryCache(time.Minute, time.Minute)
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "product:list:a:10:0", 1, 60))
	require.NoError(t, c.Set(ctx, "product:list:b:10:20", 2, 60))
	require.NoError(t, c.Set(ctx, "product:id:abc", 3, 60))

	require.NoError(t, c.DeleteByPattern(ctx, "product:list:*"))

	var got int
	hit, _ := c.Get(ctx, "product:list:a:10:0", &got)
	assert.False(t, hit)
	hit, _ = c.Get(ctx, "product:list:b:10:20", &got)
	assert.False(t, hit)

	hit, _ = c.Get(ctx, "product:id:abc", &got)
	assert.True(t, hit, "las claves fuera del patrón sobreviven")
}
