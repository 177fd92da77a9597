// Copyright 2025 James Ross
package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
)

// newTestStore opens an in-memory SQLite store with a single connection,
// since each new connection to ":memory:" would otherwise see an
// independent database.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(context.Background(), ":memory:", 1000, 1, 1, 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testJob(id, jobType string, priority int, createdAt int64) Job {
	return Job{
		ID:           id,
		Type:         jobType,
		Data:         []byte(`{"x":1}`),
		Status:       StatusPending,
		Priority:     priority,
		MaxRetries:   3,
		Metadata:     jobcontext.Context{RootJobID: id, OperationType: jobcontext.OperationData},
		CreatedAt:    createdAt,
		ScheduledFor: createdAt,
	}
}

func TestDequeuePriorityOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, testJob("low", "t", 1, 100)))
	require.NoError(t, st.Insert(ctx, testJob("high", "t", 10, 200)))
	require.NoError(t, st.Insert(ctx, testJob("mid", "t", 5, 50)))

	job, err := st.Dequeue(ctx, 1000, nil)
	require.NoError(t, err)
	require.Equal(t, "high", job.ID)
	require.Equal(t, StatusProcessing, job.Status)
}

func TestDequeueTiesByOldestCreatedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, testJob("second", "t", 5, 200)))
	require.NoError(t, st.Insert(ctx, testJob("first", "t", 5, 100)))

	job, err := st.Dequeue(ctx, 1000, nil)
	require.NoError(t, err)
	require.Equal(t, "first", job.ID)
}

func TestDequeueRespectsScheduledFor(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	j := testJob("future", "t", 5, 100)
	j.ScheduledFor = 5000
	require.NoError(t, st.Insert(ctx, j))

	_, err := st.Dequeue(ctx, 1000, nil)
	require.ErrorIs(t, err, ErrNotFound)

	job, err := st.Dequeue(ctx, 5000, nil)
	require.NoError(t, err)
	require.Equal(t, "future", job.ID)
}

func TestDequeueExcludesTypes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, testJob("a", "broken", 10, 100)))
	require.NoError(t, st.Insert(ctx, testJob("b", "ok", 1, 200)))

	job, err := st.Dequeue(ctx, 1000, []string{"broken"})
	require.NoError(t, err)
	require.Equal(t, "b", job.ID)
}

func TestFailRetriesThenTerminates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	j := testJob("job1", "t", 1, 0)
	j.MaxRetries = 1
	require.NoError(t, st.Insert(ctx, j))

	status, err := st.Fail(ctx, "job1", "boom", 0)
	require.NoError(t, err)
	require.Equal(t, StatusPending, status)

	got, err := st.GetByID(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, 1, got.RetryCount)
	require.Equal(t, int64(2000), got.ScheduledFor) // backoffMS(1) = 2000

	status, err = st.Fail(ctx, "job1", "boom again", 2000)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, status)

	got, err = st.GetByID(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, "boom again", got.LastError)
}

func TestFailTerminalIgnoresRetryBudget(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	j := testJob("job1", "t", 1, 0)
	j.MaxRetries = 3
	require.NoError(t, st.Insert(ctx, j))

	require.NoError(t, st.FailTerminal(ctx, "job1", "no handler", 500))

	got, err := st.GetByID(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 0, got.RetryCount)
	require.Equal(t, "no handler", got.LastError)
	require.Equal(t, int64(500), got.CompletedAt)

	require.ErrorIs(t, st.FailTerminal(ctx, "missing", "boom", 0), ErrNotFound)
}

func TestDedupSkipReturnsExistingPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	j := testJob("orig", "t", 1, 0)
	j.DeduplicationKey = "key1"
	require.NoError(t, st.Insert(ctx, j))

	match, err := st.FindDedupMatch(ctx, "t", "key1")
	require.NoError(t, err)
	require.Equal(t, "orig", match.ID)
	require.Equal(t, StatusPending, match.Status)

	_, err = st.FindDedupMatch(ctx, "t", "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkReplacedAndCoalesce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, testJob("j1", "t", 1, 0)))
	require.NoError(t, st.MarkReplaced(ctx, "j1"))
	got, err := st.GetByID(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "Replaced", got.LastError)

	require.NoError(t, st.Insert(ctx, testJob("j2", "t", 1, 0)))
	require.NoError(t, st.Coalesce(ctx, "j2", 9999))
	got, err = st.GetByID(ctx, "j2")
	require.NoError(t, err)
	require.Equal(t, int64(9999), got.ScheduledFor)
}

func TestCompleteAndGetByEntityID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	j := testJob("j1", "t", 1, 0)
	j.Data = []byte(`{"id":"entity-42"}`)
	require.NoError(t, st.Insert(ctx, j))
	require.NoError(t, st.Complete(ctx, "j1", []byte(`{"ok":true}`), 500))

	got, err := st.GetByEntityID(ctx, "data.id", "entity-42")
	require.NoError(t, err)
	require.Equal(t, "j1", got.ID)
	require.Equal(t, StatusCompleted, got.Status)
	require.JSONEq(t, `{"ok":true}`, string(got.Result))

	_, err = st.GetByEntityID(ctx, "data.id", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatsAndActiveJobsAndCleanup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, testJob("p1", "a", 1, 0)))
	require.NoError(t, st.Insert(ctx, testJob("p2", "b", 1, 0)))
	require.NoError(t, st.Complete(ctx, "p1", nil, 0))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, int64(2), stats.Total)

	active, err := st.GetActiveJobs(ctx, nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "p2", active[0].ID)

	n, err := st.Cleanup(ctx, 0, time.Now().UnixMilli()+1)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestResetStuckJobAndResetStaleProcessing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, testJob("j1", "t", 1, 0)))
	_, err := st.Dequeue(ctx, 0, nil)
	require.NoError(t, err)

	require.NoError(t, st.ResetStuckJob(ctx, "j1"))
	got, err := st.GetByID(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	_, err = st.Dequeue(ctx, 0, nil)
	require.NoError(t, err)
	n, err := st.ResetStaleProcessing(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestBackoffMSCapsAt60Seconds(t *testing.T) {
	require.Equal(t, int64(2000), backoffMS(1))
	require.Equal(t, int64(4000), backoffMS(2))
	require.Equal(t, int64(60000), backoffMS(10))
}
