package session_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/evenio/monetico-bridge/internal/session"
)

func testStore(t *testing.T) *session.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &session.Store{R: client, TTL: time.Minute}
}

func TestStoreGetSetHas(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "sid-1", session.KeyCorrelationID)
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, store.Set(ctx, "sid-1", session.KeyCorrelationID, "uuid-1"))

	got, err := store.Get(ctx, "sid-1", session.KeyCorrelationID)
	require.NoError(t, err)
	require.Equal(t, "uuid-1", got)

	ok, err := store.Has(ctx, "sid-1", session.KeyCorrelationID)
	require.NoError(t, err)
	require.True(t, ok)

	// Sessions are isolated from each other.
	_, err = store.Get(ctx, "sid-2", session.KeyCorrelationID)
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "sid-1", session.KeyCorrelationID))
	_, err = store.Get(ctx, "sid-1", session.KeyCorrelationID)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestStoreSetAll(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetAll(ctx, "sid-1", map[string]string{
		session.KeyTotalMinor: "1999",
		session.KeyItemCount:  "2",
		session.KeyEmail:      "jane@example.org",
	}))

	total, err := store.Get(ctx, "sid-1", session.KeyTotalMinor)
	require.NoError(t, err)
	require.Equal(t, "1999", total)

	email, err := store.Get(ctx, "sid-1", session.KeyEmail)
	require.NoError(t, err)
	require.Equal(t, "jane@example.org", email)
}

func TestNonceCreatedOncePerSession(t *testing.T) {
	store := testStore(t)
	nonces := session.Nonces{Store: store}
	ctx := context.Background()

	first, err := nonces.GetOrCreate(ctx, "sid-1")
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := nonces.GetOrCreate(ctx, "sid-1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := nonces.GetOrCreate(ctx, "sid-2")
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}
