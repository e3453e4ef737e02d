package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthTracker_RecordAndStatus(t *testing.T) {
	tr := NewHealthTracker()

	tr.RecordSuccess("src-a", 12)
	tr.RecordSuccess("src-b", 3)
	tr.RecordFailure("src-c")

	status := tr.Status()
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 2, status.Successful)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, []string{"src-c"}, status.FailedSourceIDs)

	rec, ok := tr.Record("src-a")
	require.True(t, ok)
	assert.Equal(t, 12, rec.LastItemCount)
	assert.Zero(t, rec.ConsecutiveFailures)
	assert.False(t, rec.LastSuccessAt.IsZero())
}

func TestHealthTracker_FailureStreak(t *testing.T) {
	tr := NewHealthTracker()

	tr.RecordFailure("src-a")
	tr.RecordFailure("src-a")
	tr.RecordFailure("src-a")

	rec, ok := tr.Record("src-a")
	require.True(t, ok)
	assert.Equal(t, 3, rec.ConsecutiveFailures)

	// a success wipes the streak but keeps the failure timestamp
	tr.RecordSuccess("src-a", 5)
	rec, ok = tr.Record("src-a")
	require.True(t, ok)
	assert.Zero(t, rec.ConsecutiveFailures)
	assert.False(t, rec.LastFailureAt.IsZero())
	assert.Equal(t, 5, rec.LastItemCount)

	status := tr.Status()
	assert.Equal(t, 1, status.Successful)
	assert.Zero(t, status.Failed)
	assert.Empty(t, status.FailedSourceIDs)
}

func TestHealthTracker_FailedAfterSuccess(t *testing.T) {
	tr := NewHealthTracker()

	tr.RecordSuccess("src-a", 10)
	tr.RecordFailure("src-a")

	// most recent attempt decides, history doesn't
	status := tr.Status()
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, []string{"src-a"}, status.FailedSourceIDs)
}

func TestHealthTracker_FailedSourceIDsSorted(t *testing.T) {
	tr := NewHealthTracker()

	tr.RecordFailure("zeta")
	tr.RecordFailure("alpha")
	tr.RecordFailure("mid")

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, tr.Status().FailedSourceIDs)
}

func TestHealthTracker_LastUpdated(t *testing.T) {
	now := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	tr := NewHealthTracker()
	tr.nowFn = func() time.Time { return now }

	tr.RecordSuccess("src-a", 4)
	tr.RecordFailure("src-b") // never succeeded, excluded

	updated := tr.LastUpdated()
	require.Len(t, updated, 1)
	assert.Equal(t, now, updated["src-a"])
}

func TestHealthTracker_UnknownSource(t *testing.T) {
	tr := NewHealthTracker()
	_, ok := tr.Record("nonexistent")
	assert.False(t, ok)
	assert.Zero(t, tr.Status().Total)
}
