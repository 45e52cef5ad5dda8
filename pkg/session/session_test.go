package session

import (
	"context"
	"testing"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLockAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	l, err := s.Lock(ctx, "s1", "Dana")
	require.NoError(t, err)
	assert.Equal(t, "s1", l.SessionID)
	assert.Equal(t, "dana", l.Identity)
	assert.True(t, l.Locked)
	assert.True(t, now.Equal(l.CreatedAt))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, l, got)

	sc := got.Context()
	assert.Equal(t, "s1", sc.SessionID)
	assert.True(t, sc.Locked)
	assert.Equal(t, "dana", sc.Identity)
}

func TestLockAutoID(t *testing.T) {
	s := newTestStore(t)
	l, err := s.Lock(context.Background(), "", "dana")
	require.NoError(t, err)
	assert.NotEmpty(t, l.SessionID)
}

func TestRelockMovesIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := first
	s.SetClock(func() time.Time { return now })

	_, err := s.Lock(ctx, "s1", "dana")
	require.NoError(t, err)
	now = now.Add(time.Minute)
	l, err := s.Lock(ctx, "s1", "alex")
	require.NoError(t, err)

	assert.Equal(t, "alex", l.Identity)
	assert.True(t, first.Equal(l.CreatedAt))
	assert.True(t, now.Equal(l.UpdatedAt))
}

func TestUnlockKeepsIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Lock(ctx, "s1", "dana")
	require.NoError(t, err)
	l, err := s.Unlock(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, l.Locked)
	assert.Equal(t, "dana", l.Identity)
	assert.False(t, l.Context().Locked)

	_, err = s.Unlock(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetUnknownIsUnlocked(t *testing.T) {
	s := newTestStore(t)
	l, err := s.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", l.SessionID)
	assert.False(t, l.Locked)
	assert.True(t, l.CreatedAt.IsZero())
}

func TestDeleteAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		_, err := s.Lock(ctx, id, "dana")
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete(ctx, "b"))
	assert.ErrorIs(t, s.Delete(ctx, "b"), ErrSessionNotFound)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].SessionID)
	assert.Equal(t, "c", all[1].SessionID)
}

func TestValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Lock(ctx, "s1", "not an id")
	assert.ErrorIs(t, err, identity.ErrInvalidID)

	_, err = s.Get(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidSession)

	var nilLock *Lock
	assert.False(t, nilLock.Context().Locked)
}
