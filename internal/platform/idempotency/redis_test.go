package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_ReserveThenReplay(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	reservation, err := store.Reserve(ctx, "key-1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, reservation.State)
	assert.Equal(t, time.Hour, mr.TTL(store.key("key-1")))

	again, err := store.Reserve(ctx, "key-1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, again.State)

	header := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"12"}}
	require.NoError(t, store.SaveResponse(ctx, "key-1", "fp-1", Response{Status: http.StatusCreated, Headers: header, Body: []byte(`{"id":"o1"}`)}, fixedTime, 2*time.Hour))

	completed, err := store.Reserve(ctx, "key-1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, completed.State)
	assert.Equal(t, http.StatusCreated, completed.Record.ResponseStatus)
	assert.Equal(t, `{"id":"o1"}`, string(completed.Record.ResponseBody))
	assert.NotContains(t, completed.Record.ResponseHeaders, "Content-Length")
	assert.Equal(t, 2*time.Hour, mr.TTL(store.key("key-1")))
}

func TestRedisStore_FingerprintMismatch(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key-2", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)

	_, err = store.Reserve(ctx, "key-2", "fp-2", fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	err = store.SaveResponse(ctx, "key-2", "fp-2", Response{Status: http.StatusOK}, fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRedisStore_ReleaseOnlyOwnFingerprint(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key-3", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, "key-3", "fp-other"))
	assert.True(t, mr.Exists(store.key("key-3")))

	require.NoError(t, store.Release(ctx, "key-3", "fp-1"))
	assert.False(t, mr.Exists(store.key("key-3")))
}

func TestRedisStore_ExpiredKeyCanBeReserved(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key-4", "fp-1", fixedTime, time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	reservation, err := store.Reserve(ctx, "key-4", "fp-2", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, reservation.State)

	removed, err := store.CleanupExpired(ctx, fixedTime, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRedisStore_BackendFailure(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.SetError("LOADING")

	_, err := store.Reserve(context.Background(), "key-5", "fp", fixedTime, time.Hour)
	assert.Error(t, err)
}
