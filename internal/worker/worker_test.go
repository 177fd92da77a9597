// Copyright 2025 James Ross
package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jamesross/durable-jobqueue/internal/bus"
	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
	"github.com/jamesross/durable-jobqueue/internal/progress"
	"github.com/jamesross/durable-jobqueue/internal/queue"
	"github.com/jamesross/durable-jobqueue/internal/registry"
	"github.com/jamesross/durable-jobqueue/internal/store"
)

func widgetOpts(extra queue.EnqueueOptions) queue.EnqueueOptions {
	extra.Metadata.OperationType = jobcontext.OperationData
	return extra
}

type countingHandler struct {
	fail bool
}

func (h *countingHandler) ValidateAndParse(raw []byte) (interface{}, error) { return "ok", nil }
func (h *countingHandler) Process(ctx context.Context, parsed interface{}, jobID string, r registry.ProgressReporter) ([]byte, error) {
	if h.fail {
		return nil, errBoom
	}
	return []byte(`{}`), nil
}

var errBoom = errors.New("handler boom")

func newTestPool(t *testing.T, handler registry.Handler) (*Pool, *queue.Service, *registry.Registry) {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), ":memory:", 1000, 1, 1, 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	reg.Register("widget", handler, "")

	log := zap.NewNop()
	q := queue.NewService(st, reg, log)
	monitor := progress.NewMonitor(bus.NewInProcess(), q, noopBatchSource{}, log)

	pool := New(
		Config{Concurrency: 2, PollInterval: 5 * time.Millisecond, AutoStart: false},
		BreakerConfig{Window: time.Minute, CooldownPeriod: time.Hour, FailureThreshold: 0.5, MinSamples: 5},
		q, reg, monitor, log,
	)
	return pool, q, reg
}

type noopBatchSource struct{}

func (noopBatchSource) BatchStatus(ctx context.Context, batchID string) (progress.BatchAggregate, error) {
	return progress.BatchAggregate{}, store.ErrNotFound
}

func TestPoolDispatchesAndCompletesJob(t *testing.T) {
	pool, q, _ := newTestPool(t, &countingHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := q.Enqueue(ctx, "widget", []byte(`{}`), widgetOpts(queue.EnqueueOptions{}))
	require.NoError(t, err)

	pool.Start(ctx)
	require.Eventually(t, func() bool {
		job, err := q.GetStatus(ctx, id)
		return err == nil && job.Status == store.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	pool.Stop()
	stats := pool.Stats()
	require.Equal(t, int64(1), stats.ProcessedJobs)
}

func TestPoolFailsJobWithNoRetriesAllowed(t *testing.T) {
	pool, q, _ := newTestPool(t, &countingHandler{fail: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MaxRetries -1 means zero retries, so the first failure is terminal
	// without waiting on retry backoff.
	id, err := q.Enqueue(ctx, "widget", []byte(`{}`), widgetOpts(queue.EnqueueOptions{MaxRetries: -1}))
	require.NoError(t, err)

	pool.Start(ctx)
	require.Eventually(t, func() bool {
		job, err := q.GetStatus(ctx, id)
		return err == nil && job.Status == store.StatusFailed
	}, time.Second, 5*time.Millisecond)

	pool.Stop()
	stats := pool.Stats()
	require.Equal(t, int64(1), stats.FailedJobs)
}

func TestPoolFailsNoHandlerJobImmediatelyDespiteRetriesRemaining(t *testing.T) {
	pool, q, reg := newTestPool(t, &countingHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Default MaxRetries leaves retries available, but a handler
	// unregistered mid-flight must still fail on the first dispatch
	// rather than being requeued for retry.
	id, err := q.Enqueue(ctx, "widget", []byte(`{}`), widgetOpts(queue.EnqueueOptions{}))
	require.NoError(t, err)
	reg.Unregister("widget")

	pool.Start(ctx)
	require.Eventually(t, func() bool {
		job, err := q.GetStatus(ctx, id)
		return err == nil && job.Status == store.StatusFailed
	}, time.Second, 5*time.Millisecond)

	pool.Stop()
	job, err := q.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0, job.RetryCount)
	require.Equal(t, "no handler", job.LastError)
}

func TestPoolStopWaitsForInFlightJobs(t *testing.T) {
	pool, q, _ := newTestPool(t, &countingHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := q.Enqueue(ctx, "widget", []byte(`{}`), widgetOpts(queue.EnqueueOptions{}))
	require.NoError(t, err)

	pool.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	pool.Stop()
	require.False(t, pool.Stats().IsRunning)
	require.Equal(t, int64(0), pool.Stats().ActiveJobs)
	job, err := q.GetStatus(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, store.StatusProcessing, job.Status)
}
