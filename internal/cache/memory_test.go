package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store := NewMemoryStore(10, 50*time.Millisecond)
	ctx := context.Background()

	entry := Entry{Result: json.RawMessage(`"0x1"`), CreatedAt: time.Now()}
	require.NoError(t, store.Set(ctx, "k1", entry, 50*time.Millisecond))

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Result, got.Result)
}

func TestMemoryStore_MissingKey(t *testing.T) {
	store := NewMemoryStore(10, time.Second)
	_, ok, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TimeCacheableEntryExpires(t *testing.T) {
	store := NewMemoryStore(10, 20*time.Millisecond)
	ctx := context.Background()

	entry := Entry{Result: json.RawMessage(`"0x1"`)}
	require.NoError(t, store.Set(ctx, "k1", entry, 20*time.Millisecond))

	time.Sleep(60 * time.Millisecond)

	_, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should have expired after its TTL elapsed")
}

func TestMemoryStore_InfiniteEntrySurvivesBeyondFiniteTTL(t *testing.T) {
	store := NewMemoryStore(10, 20*time.Millisecond)
	ctx := context.Background()

	entry := Entry{Result: json.RawMessage(`"0x1"`)}
	require.NoError(t, store.Set(ctx, "k1", entry, 0))

	time.Sleep(60 * time.Millisecond)

	_, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok, "an infinitely cacheable entry (ttl<=0) must not expire on the finite store's TTL")
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore(10, time.Second)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", Entry{}, 0))
	require.NoError(t, store.Delete(ctx, "k1"))

	_, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Clear(t *testing.T) {
	store := NewMemoryStore(10, time.Second)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", Entry{}, 0))
	require.NoError(t, store.Set(ctx, "k2", Entry{}, time.Second))
	require.NoError(t, store.Clear(ctx))

	_, ok1, _ := store.Get(ctx, "k1")
	_, ok2, _ := store.Get(ctx, "k2")
	assert.False(t, ok1)
	assert.False(t, ok2)
}
