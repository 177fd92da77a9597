// Copyright 2025 James Ross
package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
	"github.com/jamesross/durable-jobqueue/internal/ratelimit"
	"github.com/jamesross/durable-jobqueue/internal/registry"
	"github.com/jamesross/durable-jobqueue/internal/store"
)

type passthroughHandler struct {
	rejectData bool
}

func (h passthroughHandler) ValidateAndParse(raw []byte) (interface{}, error) {
	if h.rejectData {
		return nil, nil
	}
	return string(raw), nil
}

func (h passthroughHandler) Process(ctx context.Context, parsed interface{}, jobID string, r registry.ProgressReporter) ([]byte, error) {
	return nil, nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *registry.Registry) {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), ":memory:", 1000, 1, 1, 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	reg.Register("widget", passthroughHandler{}, "")
	reg.Register("strict", passthroughHandler{rejectData: true}, "")

	return NewService(st, reg, zap.NewNop(), opts...), reg
}

func opts(extra EnqueueOptions) EnqueueOptions {
	extra.Metadata.OperationType = jobcontext.OperationData
	return extra
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	q, _ := newTestService(t)
	_, err := q.Enqueue(context.Background(), "ghost", []byte(`{}`), opts(EnqueueOptions{}))
	require.Error(t, err)
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	q, _ := newTestService(t)
	_, err := q.Enqueue(context.Background(), "strict", []byte(`{}`), opts(EnqueueOptions{}))
	require.Error(t, err)
}

func TestEnqueueDequeueCompleteRoundTrip(t *testing.T) {
	q, _ := newTestService(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "widget", []byte(`{"a":1}`), opts(EnqueueOptions{Source: "test"}))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.Equal(t, store.StatusProcessing, job.Status)

	require.NoError(t, q.Complete(ctx, id, []byte(`{"done":true}`)))
	got, err := q.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, got.Status)
	require.JSONEq(t, `{"done":true}`, string(got.Result))
}

func TestEnqueueRateLimited(t *testing.T) {
	limiter := ratelimit.New(1, 1)
	q, _ := newTestService(t, WithRateLimiter(limiter))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Source: "svc-a"}))
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Source: "svc-a"}))
	require.Error(t, err)
}

func TestDedupSkipReturnsExistingJobID(t *testing.T) {
	q, _ := newTestService(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Dedup: store.DedupSkip, DeduplicationKey: "k1"}))
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Dedup: store.DedupSkip, DeduplicationKey: "k1"}))
	require.NoError(t, err)
	require.Equal(t, first, second)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Total)
}

func TestDedupReplaceSupersedesPending(t *testing.T) {
	q, _ := newTestService(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Dedup: store.DedupReplace, DeduplicationKey: "k1"}))
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Dedup: store.DedupReplace, DeduplicationKey: "k1"}))
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	firstJob, err := q.GetStatus(ctx, first)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, firstJob.Status)
	require.Equal(t, "Replaced", firstJob.LastError)
}

func TestDedupCoalesceReturnsExistingID(t *testing.T) {
	q, _ := newTestService(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Dedup: store.DedupCoalesce, DeduplicationKey: "k1"}))
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Dedup: store.DedupCoalesce, DeduplicationKey: "k1"}))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFailWithNoRetriesTerminatesImmediately(t *testing.T) {
	q, _ := newTestService(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{MaxRetries: -1}))
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, nil)
	require.NoError(t, err)

	status, err := q.Fail(ctx, id, "boom")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, status)
}

func TestGetStatusByEntityID(t *testing.T) {
	q, _ := newTestService(t, WithEntityJSONPath("data.externalId"))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "widget", []byte(`{"externalId":"ext-7"}`), opts(EnqueueOptions{}))
	require.NoError(t, err)

	job, err := q.GetStatusByEntityID(ctx, "ext-7")
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
}

func TestJobMetaImplementsProgressSource(t *testing.T) {
	q, _ := newTestService(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "widget", []byte(`{}`), opts(EnqueueOptions{Priority: 5}))
	require.NoError(t, err)

	meta, err := q.JobMeta(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "widget", meta.Type)
	require.Equal(t, 5, meta.Priority)
}
