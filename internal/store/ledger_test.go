package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerSaveAndGet(t *testing.T) {
	l := openLedger(t)
	run := Run{
		ID:         "r1",
		StartedAt:  time.Date(2024, 3, 31, 6, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 3, 31, 6, 1, 0, 0, time.UTC),
		Status:     StatusPartial,
		Queries:    10,
		Hits:       3,
	}
	require.NoError(t, l.Save(run))

	got, err := l.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, run.Status, got.Status)
	assert.Equal(t, run.Hits, got.Hits)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))

	_, err = l.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerSaveRequiresID(t *testing.T) {
	l := openLedger(t)
	assert.Error(t, l.Save(Run{}))
}

func TestLedgerListNewestFirst(t *testing.T) {
	l := openLedger(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		require.NoError(t, l.Save(Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := l.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = l.List(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestLedgerSaveReplacesEntry(t *testing.T) {
	l := openLedger(t)
	run := Run{ID: "x", StartedAt: time.Now(), Status: StatusOK}
	require.NoError(t, l.Save(run))
	run.Status = StatusFailed
	require.NoError(t, l.Save(run))

	runs, err := l.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
}
