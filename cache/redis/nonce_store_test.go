package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*NonceStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewNonceStore(client, "broker"), mr
}

func TestNonceStore_FirstConsumeWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Consume(ctx, "nonce-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.Consume(ctx, "nonce-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestNonceStore_IndependentNonces(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Consume(ctx, "nonce-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	other, err := store.Consume(ctx, "nonce-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestNonceStore_GuardExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Consume(ctx, "nonce-ttl", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	again, err := store.Consume(ctx, "nonce-ttl", time.Minute)
	require.NoError(t, err)
	assert.True(t, again)
}
