package cache

import (
	"context"
	"testing"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache/memory"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *memory.Memory {
	t.Helper()
	m, err := memory.NewMemory(memory.Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryCache(t *testing.T) {
	c := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "test_key", "test_value", 10*time.Second))

	var got string
	require.NoError(t, c.Get(ctx, "test_key", &got))
	assert.Equal(t, "test_value", got)

	exists, err := c.Exists(ctx, "test_key")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "test_key"))
	err = c.Get(ctx, "test_key", &got)
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCache_Bytes(t *testing.T) {
	c := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "raw", []byte{1, 2, 3}, time.Minute))

	var got []byte
	require.NoError(t, c.Get(ctx, "raw", &got))
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestHelper_ImageKeys(t *testing.T) {
	c := newTestMemory(t)
	h := NewHelper(c, time.Minute)
	ctx := context.Background()

	img := &models.Image{ID: 42, UserID: 7, AddressHash: "ABCDEF", Filename: "a.png", IsPublic: true}
	require.NoError(t, h.CacheImage(ctx, img))

	exists, err := c.Exists(ctx, "image:id:42")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = c.Exists(ctx, "image:hash:abcdef")
	require.NoError(t, err)
	assert.False(t, exists, "id caching must not claim the shared hash key")

	require.NoError(t, h.CacheImageByHash(ctx, img))
	exists, err = c.Exists(ctx, "image:hash:abcdef")
	require.NoError(t, err)
	assert.True(t, exists)

	var byID models.Image
	require.NoError(t, h.GetImageByID(ctx, 42, &byID))
	assert.Equal(t, uint(7), byID.UserID)
	assert.True(t, byID.IsPublic)

	var byHash models.Image
	require.NoError(t, h.GetImageByHash(ctx, "abcdef", &byHash))
	assert.Equal(t, uint(42), byHash.ID)

	require.NoError(t, h.DeleteImage(ctx, img))
	assert.True(t, IsCacheMiss(h.GetImageByID(ctx, 42, &byID)))
	assert.True(t, IsCacheMiss(h.GetImageByHash(ctx, "abcdef", &byHash)))
}

func TestHelper_NilProvider(t *testing.T) {
	h := NewHelper(nil, 0)
	ctx := context.Background()

	var img models.Image
	assert.True(t, IsCacheMiss(h.GetImageByID(ctx, 1, &img)))
	assert.NoError(t, h.CacheImage(ctx, &models.Image{ID: 1}))
	assert.NoError(t, h.CacheImageByHash(ctx, &models.Image{ID: 1, AddressHash: "ab"}))
	assert.NoError(t, h.DeleteImage(ctx, &models.Image{ID: 1}))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(&config.Config{CacheType: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", p.Name())
	_ = p.Close()

	_, err = NewProvider(&config.Config{CacheType: "memcached"})
	assert.Error(t, err)
}

func TestAddJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := addJitter(time.Minute)
		assert.GreaterOrEqual(t, d, time.Minute)
		assert.Less(t, d, time.Minute+6*time.Second)
	}
	assert.Equal(t, time.Duration(0), addJitter(0))
}
