package fraudreport

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStore(client)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr, store := setupMiniredis(t)

	require.NoError(t, store.Ping(ctx))

	added, err := store.Add(ctx, "alice", "scammer@fake")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.Add(ctx, "alice", "scammer@fake")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = store.Add(ctx, "alice", "mule@bank")
	require.NoError(t, err)

	list, err := store.List(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"scammer@fake", "mule@bank"}, list)

	members, err := mr.Members(keyPrefix + "alice")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	empty, err := store.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisStore_BacksRegistry(t *testing.T) {
	ctx := context.Background()
	_, store := setupMiniredis(t)

	first := NewRegistry(store, nil)
	_, err := first.Report(ctx, "alice", "scammer@fake")
	require.NoError(t, err)

	// A fresh registry, as after a restart, sees the persisted report.
	second := NewRegistry(store, nil)
	assert.True(t, second.IsReported(ctx, "alice", "scammer@fake"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = client.Close() }()
	store := NewRedisStore(client)
	mr.Close()

	_, err = store.Add(ctx, "alice", "x@bank")
	assert.Error(t, err)
	assert.Error(t, store.Ping(ctx))
}
