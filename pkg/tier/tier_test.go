package tier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ForeignCapacity = 3
	cfg.ForeignMaxAge = time.Hour
	s := NewStore(newTestSQLite(t), cfg, zaptest.NewLogger(t))
	s.Foreign().SetClock(func() time.Time { return t0 })
	return s
}

func backends(t *testing.T) map[string]Durable {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Durable{
		"sqlite": newTestSQLite(t),
		"file":   fs,
	}
}

func TestDurableRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, d := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec := identity.New("sam", identity.TierEcho, t0)
			rec.AppendPattern(identity.Pattern{Event: "chat", Note: "sailing", At: t0})
			rec.ToneBaseline["sailing"] = 1

			require.NoError(t, d.Write(ctx, rec))
			got, err := d.Read(ctx, identity.TierEcho, "sam")
			require.NoError(t, err)
			assert.Equal(t, "sam", got.ID)
			assert.Equal(t, 1.0, got.ToneBaseline["sailing"])
			require.Len(t, got.Patterns, 1)
			assert.True(t, got.FirstSeen.Equal(t0))

			rec.RecurrenceCount = 4
			require.NoError(t, d.Write(ctx, rec))
			got, err = d.Read(ctx, identity.TierEcho, "sam")
			require.NoError(t, err)
			assert.Equal(t, 4, got.RecurrenceCount)

			_, err = d.Read(ctx, identity.TierStub, "sam")
			assert.ErrorIs(t, err, identity.ErrNotFound)

			require.NoError(t, d.Write(ctx, identity.New("alex", identity.TierEcho, t0)))
			ids, err := d.List(ctx, identity.TierEcho)
			require.NoError(t, err)
			assert.Equal(t, []string{"alex", "sam"}, ids)

			require.NoError(t, d.Delete(ctx, identity.TierEcho, "sam"))
			assert.ErrorIs(t, d.Delete(ctx, identity.TierEcho, "sam"), identity.ErrNotFound)
		})
	}
}

func TestDurableRejectsForeignTier(t *testing.T) {
	ctx := context.Background()
	for name, d := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := d.Write(ctx, identity.New("visitor-1", identity.TierForeign, t0))
			assert.Error(t, err)
		})
	}
}

func TestSQLiteMalformedBlob(t *testing.T) {
	ctx := context.Background()
	d := newTestSQLite(t)
	_, err := d.db.Exec(
		"INSERT INTO identities (tier, id, record, updated_at) VALUES (?, ?, ?, ?)",
		"echo", "broken", []byte("{not json"), t0.Format(time.RFC3339Nano),
	)
	require.NoError(t, err)

	_, err = d.Read(ctx, identity.TierEcho, "broken")
	assert.ErrorIs(t, err, identity.ErrMalformedRecord)

	s := NewStore(d, DefaultConfig(), zaptest.NewLogger(t))
	_, err = s.Read(ctx, identity.TierEcho, "broken")
	assert.ErrorIs(t, err, identity.ErrNotFound)

	require.NoError(t, s.Write(ctx, identity.New("ok", identity.TierEcho, t0)))
	all, err := s.ReadAll(ctx, identity.TierEcho)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ok", all[0].ID)
}

func TestFileStoreMismatchedBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Write(ctx, identity.New("dana", identity.TierStub, t0)))
	data, err := os.ReadFile(filepath.Join(dir, "stub", "dana.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stub", "riley.json"), data, 0o644))

	_, err = fs.Read(ctx, identity.TierStub, "riley")
	assert.ErrorIs(t, err, identity.ErrMalformedRecord)
}

func TestOpenDurableUnknownBackend(t *testing.T) {
	_, err := OpenDurable(Config{Backend: "etcd"})
	assert.Error(t, err)
}

func TestArenaEvictsOldestWhenFull(t *testing.T) {
	a := NewForeignArena(3, 0)
	for i := 0; i < 5; i++ {
		rec := identity.New(fmt.Sprintf("visitor-%d", i), identity.TierForeign, t0.Add(time.Duration(i)*time.Minute))
		_, err := a.Put(rec)
		require.NoError(t, err)
		assert.LessOrEqual(t, a.Len(), 3)
	}

	_, ok := a.Get("visitor-0")
	assert.False(t, ok)
	_, ok = a.Get("visitor-1")
	assert.False(t, ok)
	_, ok = a.Get("visitor-4")
	assert.True(t, ok)
}

func TestArenaCleanupByAge(t *testing.T) {
	a := NewForeignArena(10, time.Hour)
	a.SetClock(func() time.Time { return t0 })

	_, err := a.Put(identity.New("visitor-old", identity.TierForeign, t0.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = a.Put(identity.New("visitor-new", identity.TierForeign, t0.Add(-time.Minute)))
	require.NoError(t, err)

	evicted := a.Cleanup(t0)
	assert.Equal(t, []string{"visitor-old"}, evicted)
	assert.Equal(t, 1, a.Len())
}

func TestArenaGetDropsExpired(t *testing.T) {
	a := NewForeignArena(10, time.Hour)
	now := t0
	a.SetClock(func() time.Time { return now })

	_, err := a.Put(identity.New("visitor-a", identity.TierForeign, t0))
	require.NoError(t, err)

	now = t0.Add(2 * time.Hour)
	_, ok := a.Get("visitor-a")
	assert.False(t, ok)
	assert.Equal(t, 0, a.Len())
}

func TestArenaUpdateIsAtomicAndCloned(t *testing.T) {
	a := NewForeignArena(10, 0)
	_, err := a.Put(identity.New("visitor-a", identity.TierForeign, t0))
	require.NoError(t, err)

	got, err := a.Update("visitor-a", func(rec *identity.Identity) {
		rec.Touch(t0.Add(time.Minute))
		rec.Tier = identity.TierEcho
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.RecurrenceCount)
	assert.Equal(t, identity.TierForeign, got.Tier)

	got.RecurrenceCount = 99
	again, ok := a.Get("visitor-a")
	require.True(t, ok)
	assert.Equal(t, 1, again.RecurrenceCount)

	_, err = a.Update("visitor-missing", func(*identity.Identity) {})
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestStoreLookupPrecedence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.EnsureAnchor(ctx, "chris", nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, identity.New("sam", identity.TierEcho, t0)))
	require.NoError(t, s.Write(ctx, identity.New("dana", identity.TierStub, t0)))
	require.NoError(t, s.Write(ctx, identity.New("visitor-1", identity.TierForeign, t0)))

	for id, want := range map[string]identity.Tier{
		"chris":     identity.TierAnchor,
		"sam":       identity.TierEcho,
		"dana":      identity.TierStub,
		"visitor-1": identity.TierForeign,
	} {
		rec, err := s.Lookup(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, want, rec.Tier, id)
	}

	_, err = s.Lookup(ctx, "nobody")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestStoreTierConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, identity.New("sam", identity.TierEcho, t0)))
	err := s.Write(ctx, identity.New("sam", identity.TierStub, t0))
	assert.ErrorIs(t, err, identity.ErrTierConflict)
	err = s.Write(ctx, identity.New("sam", identity.TierForeign, t0))
	assert.ErrorIs(t, err, identity.ErrTierConflict)
}

func TestAnchorIsPermanent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	anchor, err := s.EnsureAnchor(ctx, "chris", map[string]float64{"deploy": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, anchor.ToneBaseline["deploy"])

	err = s.Delete(ctx, identity.TierAnchor, "chris")
	assert.ErrorIs(t, err, identity.ErrPermissionDenied)

	again, err := s.EnsureAnchor(ctx, "someone-else", nil)
	require.NoError(t, err)
	assert.Equal(t, "chris", again.ID)
}

func TestPromoteRemovesForeignEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"visitor-a", "visitor-b"} {
		require.NoError(t, s.Write(ctx, identity.New(id, identity.TierForeign, t0)))
	}

	echo := identity.New("sam", identity.TierEcho, t0)
	require.NoError(t, s.Promote(ctx, echo, []string{"visitor-a", "visitor-b", "visitor-gone"}))

	rec, err := s.Read(ctx, identity.TierEcho, "sam")
	require.NoError(t, err)
	assert.Equal(t, "sam", rec.ID)
	assert.Equal(t, 0, s.Foreign().Len())
}

func TestPromoteRejectsAnchorID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.EnsureAnchor(ctx, "chris", nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, identity.New("visitor-a", identity.TierForeign, t0)))

	err = s.Promote(ctx, identity.New("chris", identity.TierEcho, t0), []string{"visitor-a"})
	assert.ErrorIs(t, err, identity.ErrTierConflict)
	assert.Equal(t, 1, s.Foreign().Len())
}

func TestDeleteForeign(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Write(ctx, identity.New("visitor-a", identity.TierForeign, t0)))

	require.NoError(t, s.Delete(ctx, identity.TierForeign, "visitor-a"))
	assert.ErrorIs(t, s.Delete(ctx, identity.TierForeign, "visitor-a"), identity.ErrNotFound)
}
