package store

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "pacer.db"), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var testPlan = []pacer.Segment{{Speed: 5.0, Seconds: 60}, {Speed: 6.5, Seconds: 30}}

func TestOpen_NilLoggerPanics(t *testing.T) {
	assert.PanicsWithValue(t, "Store: logger cannot be nil", func() { _, _ = Open(":memory:", nil) })
}

func TestStore_ActiveSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.ActiveSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	started := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.BeginSession(ctx, ActiveSession{
		SessionID:        "sess-1",
		StartedAt:        started,
		Plan:             testPlan,
		PreChangeSeconds: 5,
		Units:            pacer.UnitsKMH,
	}))

	require.NoError(t, s.Checkpoint(ctx, "sess-1", 42))
	require.NoError(t, s.Checkpoint(ctx, "sess-1", 10), "stale checkpoints are ignored")
	assert.ErrorIs(t, s.Checkpoint(ctx, "other", 5), ErrNotFound)

	active, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", active.SessionID)
	assert.Equal(t, started.UnixMilli(), active.StartedAt.UnixMilli())
	assert.Equal(t, testPlan, active.Plan)
	assert.Equal(t, 5, active.PreChangeSeconds)
	assert.Equal(t, pacer.UnitsKMH, active.Units)
	assert.Equal(t, 42, active.CheckpointElapsed)

	require.NoError(t, s.FinishSession(ctx, HistoryEntry{
		SessionID:      "sess-1",
		StartedAt:      started,
		EndedAt:        started.Add(90 * time.Second),
		ElapsedSeconds: 90,
		Units:          pacer.UnitsKMH,
		Plan:           testPlan,
		Realized:       testPlan,
	}))

	_, err = s.ActiveSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	entry, err := s.Session(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, entry.Aborted)
	assert.False(t, entry.Recovered)
	assert.Equal(t, 90, entry.ElapsedSeconds)
	assert.Equal(t, testPlan, entry.Realized)
}

func TestStore_BeginSessionReplacesRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginSession(ctx, ActiveSession{SessionID: "a", StartedAt: time.Now(), Plan: testPlan, Units: pacer.UnitsMPH}))
	require.NoError(t, s.BeginSession(ctx, ActiveSession{SessionID: "b", StartedAt: time.Now(), Plan: testPlan, Units: pacer.UnitsMPH}))

	active, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", active.SessionID)
}

func TestStore_FinishOtherSessionKeepsActiveRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginSession(ctx, ActiveSession{SessionID: "current", StartedAt: time.Now(), Plan: testPlan}))
	require.NoError(t, s.FinishSession(ctx, HistoryEntry{SessionID: "previous", StartedAt: time.Now(), EndedAt: time.Now(), Aborted: true}))

	active, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "current", active.SessionID)
}

func TestStore_RecoverOrphan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.RecoverOrphan(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	started := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.BeginSession(ctx, ActiveSession{SessionID: "orphan", StartedAt: started, Plan: testPlan, Units: pacer.UnitsMPH}))
	require.NoError(t, s.Checkpoint(ctx, "orphan", 75))

	entry, err := s.RecoverOrphan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orphan", entry.SessionID)
	assert.True(t, entry.Aborted)
	assert.True(t, entry.Recovered)
	assert.Equal(t, 75, entry.ElapsedSeconds)
	assert.Equal(t, []pacer.Segment{{Speed: 5.0, Seconds: 60}, {Speed: 6.5, Seconds: 15}}, entry.Realized)

	_, err = s.ActiveSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Recovered)
}

func TestStore_HistoryNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.FinishSession(ctx, HistoryEntry{
			SessionID: id,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			EndedAt:   base.Add(time.Duration(i)*time.Hour + time.Minute),
			Plan:      testPlan,
			Realized:  []pacer.Segment{},
		}))
	}

	all, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].SessionID)
	assert.Equal(t, "first", all[2].SessionID)

	limited, err := s.History(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = s.Session(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FinishIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := HistoryEntry{SessionID: "dup", StartedAt: time.Now(), EndedAt: time.Now(), ElapsedSeconds: 3}
	require.NoError(t, s.FinishSession(ctx, entry))
	entry.ElapsedSeconds = 99
	require.NoError(t, s.FinishSession(ctx, entry))

	got, err := s.Session(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, 3, got.ElapsedSeconds)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacer.db")
	logger := log.New(io.Discard, "", 0)

	s, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, s.BeginSession(context.Background(), ActiveSession{SessionID: "keep", StartedAt: time.Now(), Plan: testPlan}))
	require.NoError(t, s.Close())

	reopened, err := Open(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	active, err := reopened.ActiveSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "keep", active.SessionID)
}
