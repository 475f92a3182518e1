package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	Use(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = Close() })
	return mr
}

func TestDisabledCacheIsNoop(t *testing.T) {
	Use(nil)
	ctx := context.Background()

	assert.False(t, Enabled())
	require.NoError(t, SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute))

	var out map[string]int
	found, err := GetJSON(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)

	InvalidateTenant(ctx, 1)
	assert.NoError(t, Close())
}

func TestInitWithoutURL(t *testing.T) {
	require.NoError(t, Init(context.Background(), ""))
	assert.False(t, Enabled())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "billbook:a:b", Key("a", "b"))
	assert.Equal(t, "billbook:tenant:7:dashboard:all", TenantKey(7, "dashboard", "all"))
}

func TestInitConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Cleanup(func() { _ = Close() })

	assert.Error(t, Init(context.Background(), "not a url"))
	require.NoError(t, Init(context.Background(), "redis://"+mr.Addr()))
	assert.True(t, Enabled())

	mr.Close()
	require.NoError(t, Close())
	assert.Error(t, Init(context.Background(), "redis://"+mr.Addr()))
	assert.False(t, Enabled())
}

func TestGetSetJSON(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()
	key := TenantKey(1, "dashboard", "summary")

	var out map[string]int
	found, err := GetJSON(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, SetJSON(ctx, key, map[string]int{"bills": 3}, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL(key))

	found, err = GetJSON(ctx, key, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, out["bills"])

	mr.FastForward(2 * time.Minute)
	found, err = GetJSON(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, found, "expired")

	require.NoError(t, mr.Set(key, "{broken"))
	_, err = GetJSON(ctx, key, &out)
	assert.Error(t, err)
}

func TestInvalidateTenant(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()

	keys := map[string]bool{
		TenantKey(1, "dashboard", "summary", "all"): false,
		TenantKey(1, "dashboard", "chart", "2"):     false,
		TenantKey(10, "dashboard", "summary"):       true,
		TenantKey(11, "dashboard", "summary"):       true,
		Key("tenants", "1"):                         true,
	}
	for k := range keys {
		require.NoError(t, SetJSON(ctx, k, 1, time.Minute))
	}

	InvalidateTenant(ctx, 1)
	for k, kept := range keys {
		assert.Equal(t, kept, mr.Exists(k), k)
	}

	InvalidateTenant(ctx, 99)
	assert.Len(t, mr.Keys(), 3)
}
