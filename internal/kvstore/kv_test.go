package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Sets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	members, err := store.SetMembers(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, store.SetAdd(ctx, "s", "1", "2"))
	require.NoError(t, store.SetAdd(ctx, "s", "2", "3")) // duplicate ignored

	members, err = store.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, members)
}

func TestMemoryStore_FailNext(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetFailNext()

	_, _, err := store.Get(ctx, "k")
	assert.Error(t, err)

	// Recovers after one failure.
	_, _, err = store.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	ok, err := GetJSON(ctx, store, "missing", &record{})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, store, "r", record{Name: "a", Count: 2}, 0))

	var got record
	ok, err = GetJSON(ctx, store, "r", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, record{Name: "a", Count: 2}, got)
}

func TestFlagHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	set, err := GetFlag(ctx, store, "announced_M-1")
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, SetFlag(ctx, store, "announced_M-1"))
	set, err = GetFlag(ctx, store, "announced_M-1")
	require.NoError(t, err)
	assert.True(t, set)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "contest_entries:M-1", EntriesKey("M-1"))
	assert.Equal(t, "contest_shares:M-1", SharesKey("M-1"))
	assert.Equal(t, "contest:participants:M-1", ParticipantsKey("M-1"))
	assert.Equal(t, "signer:42", SignerKey(42))
	assert.Equal(t, "finalize_tx:T-9", FinalizeTxKey("T-9"))
	assert.Equal(t, "finalize_data:T-9", FinalizeDataKey("T-9"))
	assert.Equal(t, "announced_M-1", AnnouncedKey("M-1"))
	assert.Equal(t, []string{"announced_nft_M-1", "announced_v2_M-1"}, LegacyAnnouncedKeys("M-1"))
}

func TestTTLCache_Expiry(t *testing.T) {
	cache := NewTTLCache(10)
	cache.Put("k", 42, 10*time.Millisecond)

	v, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	time.Sleep(25 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok)
}

func TestTTLCache_Eviction(t *testing.T) {
	cache := NewTTLCache(3)
	cache.Put("a", 1, time.Minute)
	cache.Put("b", 2, time.Minute)
	cache.Put("c", 3, time.Minute)
	cache.Put("d", 4, time.Minute) // forces eviction

	assert.Equal(t, 3, cache.Len())
	_, ok := cache.Get("d")
	assert.True(t, ok, "newest entry must survive eviction")
}
