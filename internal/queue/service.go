// Copyright 2025 James Ross
// Package queue implements the durable queue façade: enqueue, dequeue,
// complete, fail, update, stats, cleanup, and deduplication, over a SQL
// store.Store backend.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jamesross/durable-jobqueue/internal/archive"
	jqerrors "github.com/jamesross/durable-jobqueue/internal/errors"
	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
	"github.com/jamesross/durable-jobqueue/internal/obs"
	"github.com/jamesross/durable-jobqueue/internal/progress"
	"github.com/jamesross/durable-jobqueue/internal/ratelimit"
	"github.com/jamesross/durable-jobqueue/internal/registry"
	"github.com/jamesross/durable-jobqueue/internal/store"
)

const defaultMaxRetries = 3
const defaultJSONPathExpr = "data.id"

// EnqueueOptions mirrors the per-call job options from the public
// contract.
type EnqueueOptions struct {
	Source           string
	Metadata         jobcontext.Context
	Priority         int
	MaxRetries       int // 0 means "use default"; pass -1 explicitly for "no retries"
	DelayMs          int64
	Dedup            store.Dedup
	DeduplicationKey string
}

// Service is the Queue Service façade.
type Service struct {
	store           store.Store
	registry        *registry.Registry
	limiter         *ratelimit.Limiter
	archiver        archive.ResultArchiver
	resultThreshold int
	jsonPathExpr    string
	log             *zap.Logger
}

// Option configures optional Service collaborators.
type Option func(*Service)

func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithArchiver(a archive.ResultArchiver, thresholdBytes int) Option {
	return func(s *Service) { s.archiver = a; s.resultThreshold = thresholdBytes }
}

func WithEntityJSONPath(expr string) Option {
	return func(s *Service) { s.jsonPathExpr = expr }
}

func NewService(st store.Store, reg *registry.Registry, log *zap.Logger, opts ...Option) *Service {
	s := &Service{store: st, registry: reg, jsonPathExpr: defaultJSONPathExpr, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func nowMS() int64 { return time.Now().UnixMilli() }

// Enqueue validates and persists a new job, applying deduplication
// policy. Returns the job id.
func (s *Service) Enqueue(ctx context.Context, jobType string, data []byte, opts EnqueueOptions) (string, error) {
	handler, ok := s.registry.GetHandler(jobType)
	if !ok {
		return "", jqerrors.New(jqerrors.KindNoHandler, fmt.Sprintf("no handler registered for type %q", jobType))
	}
	if s.limiter != nil && !s.limiter.Allow(opts.Source) {
		return "", jqerrors.New(jqerrors.KindRateLimited, fmt.Sprintf("rate limit exceeded for source %q", opts.Source))
	}
	if parsed, err := handler.ValidateAndParse(data); err != nil {
		return "", jqerrors.Wrap(jqerrors.KindInvalidJobData, "validateAndParse failed", err)
	} else if parsed == nil {
		return "", jqerrors.New(jqerrors.KindInvalidJobData, fmt.Sprintf("payload rejected for type %q", jobType))
	}

	id := NewJobID()
	if opts.Metadata.RootJobID == "" {
		opts.Metadata.RootJobID = id
	}
	if err := jobcontext.Validate(opts.Metadata); err != nil {
		return "", jqerrors.Wrap(jqerrors.KindInvalidJobData, "invalid job metadata", err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	dedup := opts.Dedup
	if dedup == "" {
		dedup = store.DedupNone
	}
	now := nowMS()
	scheduledFor := now + opts.DelayMs

	if dedup != store.DedupNone {
		match, err := s.store.FindDedupMatch(ctx, jobType, opts.DeduplicationKey)
		if err != nil && err != store.ErrNotFound {
			return "", jqerrors.Wrap(jqerrors.KindStorageError, "dedup lookup failed", err)
		}
		if err == nil {
			switch dedup {
			case store.DedupSkip:
				if match.Status == store.StatusPending {
					return match.ID, nil
				}
				// only a processing match exists: fall through to insert
			case store.DedupReplace:
				if match.Status == store.StatusPending {
					if err := s.store.MarkReplaced(ctx, match.ID); err != nil && err != store.ErrNotFound {
						return "", jqerrors.Wrap(jqerrors.KindStorageError, "mark replaced failed", err)
					}
				}
			case store.DedupCoalesce:
				if match.Status == store.StatusPending {
					if err := s.store.Coalesce(ctx, match.ID, now); err != nil && err != store.ErrNotFound {
						return "", jqerrors.Wrap(jqerrors.KindStorageError, "coalesce failed", err)
					}
					return match.ID, nil
				}
			}
		}
	}

	job := store.Job{
		ID:               id,
		Type:             jobType,
		Data:             data,
		Status:           store.StatusPending,
		Priority:         opts.Priority,
		MaxRetries:       maxRetries,
		Source:           opts.Source,
		Metadata:         opts.Metadata,
		CreatedAt:        now,
		ScheduledFor:     scheduledFor,
		DeduplicationKey: opts.DeduplicationKey,
	}
	if err := s.store.Insert(ctx, job); err != nil {
		return "", jqerrors.Wrap(jqerrors.KindStorageError, "insert job failed", err)
	}
	obs.JobsEnqueued.WithLabelValues(jobType).Inc()
	return id, nil
}

// Dequeue atomically selects and transitions the highest-priority
// eligible job. excludeTypes lets the Worker Pool skip types whose
// circuit breaker is open without affecting retry/backoff semantics.
func (s *Service) Dequeue(ctx context.Context, excludeTypes []string) (store.Job, error) {
	job, err := s.store.Dequeue(ctx, nowMS(), excludeTypes)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Job{}, store.ErrNotFound
		}
		return store.Job{}, jqerrors.Wrap(jqerrors.KindStorageError, "dequeue failed", err)
	}
	obs.JobsDequeued.WithLabelValues(job.Type).Inc()
	return job, nil
}

// Complete marks a job completed, archiving the result out of band when
// it exceeds the configured threshold.
func (s *Service) Complete(ctx context.Context, jobID string, result []byte) error {
	stored := result
	if s.archiver != nil && s.resultThreshold > 0 && len(result) > s.resultThreshold {
		ref, err := s.archiver.Store(ctx, jobID, result)
		if err != nil {
			return jqerrors.Wrap(jqerrors.KindStorageError, "archive result failed", err)
		}
		stored = []byte(ref)
	}
	if err := s.store.Complete(ctx, jobID, stored, nowMS()); err != nil {
		return jqerrors.Wrap(jqerrors.KindStorageError, "complete failed", err)
	}
	job, err := s.store.GetByID(ctx, jobID)
	if err == nil {
		obs.JobsCompleted.WithLabelValues(job.Type).Inc()
	}
	return nil
}

// Fail applies the retry/backoff or terminal-failure transition and
// returns the job's status afterward.
func (s *Service) Fail(ctx context.Context, jobID string, errMsg string) (store.Status, error) {
	status, err := s.store.Fail(ctx, jobID, errMsg, nowMS())
	if err != nil {
		return "", jqerrors.Wrap(jqerrors.KindStorageError, "fail failed", err)
	}
	if job, gerr := s.store.GetByID(ctx, jobID); gerr == nil {
		if status == store.StatusPending {
			obs.JobsRetried.WithLabelValues(job.Type).Inc()
		} else {
			obs.JobsFailed.WithLabelValues(job.Type).Inc()
		}
	}
	return status, nil
}

// FailTerminal marks a job failed unconditionally, bypassing retry/backoff.
// Used for dispatch-time errors (no handler, unparsable payload) the
// Worker Pool never retries.
func (s *Service) FailTerminal(ctx context.Context, jobID string, errMsg string) error {
	if err := s.store.FailTerminal(ctx, jobID, errMsg, nowMS()); err != nil {
		if err == store.ErrNotFound {
			return err
		}
		return jqerrors.Wrap(jqerrors.KindStorageError, "fail terminal failed", err)
	}
	if job, gerr := s.store.GetByID(ctx, jobID); gerr == nil {
		obs.JobsFailed.WithLabelValues(job.Type).Inc()
	}
	return nil
}

// Update overwrites a job's payload in place, used for in-place progress
// state of long-running jobs.
func (s *Service) Update(ctx context.Context, jobID string, data []byte) error {
	if err := s.store.Update(ctx, jobID, data); err != nil {
		if err == store.ErrNotFound {
			return err
		}
		return jqerrors.Wrap(jqerrors.KindStorageError, "update failed", err)
	}
	return nil
}

// GetStatus reads a job by id, transparently resolving an archived
// result reference back to bytes.
func (s *Service) GetStatus(ctx context.Context, jobID string) (store.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Job{}, err
		}
		return store.Job{}, jqerrors.Wrap(jqerrors.KindStorageError, "get status failed", err)
	}
	return s.resolveResult(ctx, job)
}

// GetStatusByEntityID resolves a job by JSON-path extraction on the data
// column; most recently created match wins.
func (s *Service) GetStatusByEntityID(ctx context.Context, entityID string) (store.Job, error) {
	job, err := s.store.GetByEntityID(ctx, s.jsonPathExpr, entityID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Job{}, err
		}
		return store.Job{}, jqerrors.Wrap(jqerrors.KindStorageError, "get status by entity id failed", err)
	}
	return s.resolveResult(ctx, job)
}

func (s *Service) resolveResult(ctx context.Context, job store.Job) (store.Job, error) {
	if s.archiver != nil && len(job.Result) > 0 && s.archiver.IsRef(job.Result) {
		data, err := s.archiver.Fetch(ctx, string(job.Result))
		if err != nil {
			return store.Job{}, jqerrors.Wrap(jqerrors.KindStorageError, "fetch archived result failed", err)
		}
		job.Result = data
	}
	return job, nil
}

// GetStats aggregates job counts by status.
func (s *Service) GetStats(ctx context.Context) (store.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return store.Stats{}, jqerrors.Wrap(jqerrors.KindStorageError, "stats failed", err)
	}
	return stats, nil
}

// Stats implements obs.StatsSource for the queue depth gauge sampler.
func (s *Service) Stats(ctx context.Context) (pending, processing, failed, completed int64, err error) {
	st, err := s.GetStats(ctx)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return st.Pending, st.Processing, st.Failed, st.Completed, nil
}

// GetActiveJobs returns every pending/processing job, optionally filtered
// to a set of types.
func (s *Service) GetActiveJobs(ctx context.Context, types []string) ([]store.Job, error) {
	jobs, err := s.store.GetActiveJobs(ctx, types)
	if err != nil {
		return nil, jqerrors.Wrap(jqerrors.KindStorageError, "get active jobs failed", err)
	}
	return jobs, nil
}

// Cleanup deletes terminal rows older than olderThanMs and returns the
// count deleted.
func (s *Service) Cleanup(ctx context.Context, olderThanMs int64) (int64, error) {
	n, err := s.store.Cleanup(ctx, olderThanMs, nowMS())
	if err != nil {
		return 0, jqerrors.Wrap(jqerrors.KindStorageError, "cleanup failed", err)
	}
	return n, nil
}

// ResetStuckJob transitions a processing row back to pending, for
// recovery after a worker crash.
func (s *Service) ResetStuckJob(ctx context.Context, jobID string) error {
	if err := s.store.ResetStuckJob(ctx, jobID); err != nil {
		if err == store.ErrNotFound {
			return err
		}
		return jqerrors.Wrap(jqerrors.KindStorageError, "reset stuck job failed", err)
	}
	return nil
}

// JobMeta implements progress.JobMetaSource.
func (s *Service) JobMeta(ctx context.Context, jobID string) (progress.JobMeta, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return progress.JobMeta{}, err
	}
	return progress.JobMeta{
		Metadata:   job.Metadata,
		Type:       job.Type,
		Priority:   job.Priority,
		RetryCount: job.RetryCount,
	}, nil
}

// Handler exposes the registry handler type without importing registry
// at call sites that only need ValidateAndParse/Process, kept for the
// Worker Pool's per-job dispatch.
type Handler = registry.Handler
