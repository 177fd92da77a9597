// Copyright 2025 James Ross
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: job not found")

// Stats aggregates job counts by status.
type Stats struct {
	Pending    int64
	Processing int64
	Failed     int64
	Completed  int64
	Total      int64
}

// EnqueueInput wraps a Job for insertion. Nothing in the module uses it:
// queue.Service resolves defaults, generates the id and computes
// ScheduledFor itself, then passes the Job straight to Store.Insert.
type EnqueueInput struct {
	Job
}

// DedupMatch describes an existing active row matching an enqueue's
// (type, deduplicationKey) scope, used by the queue service to apply
// deduplication policy without duplicating the matching query per policy.
type DedupMatch struct {
	ID     string
	Status Status
}

// Store is the persistence contract implemented by SQLiteStore and
// PostgresStore. All methods are safe for concurrent use.
type Store interface {
	// Insert persists a new job row.
	Insert(ctx context.Context, job Job) error

	// FindDedupMatch returns the most recently created active row with the
	// given (type, deduplicationKey) scope, or ErrNotFound if none exists.
	// An empty deduplicationKey matches other rows with an empty key.
	FindDedupMatch(ctx context.Context, jobType, deduplicationKey string) (DedupMatch, error)

	// MarkReplaced transitions a pending row to failed with LastError
	// "Replaced", stamping CompletedAt. Used by the replace dedup policy.
	MarkReplaced(ctx context.Context, id string) error

	// Coalesce resets a pending row's ScheduledFor to now. Used by the
	// coalesce dedup policy.
	Coalesce(ctx context.Context, id string, now int64) error

	// Dequeue atomically selects the eligible pending job with the highest
	// priority (ties by oldest CreatedAt) whose ScheduledFor <= now,
	// optionally restricted to a set of not-currently-broken types, and
	// transitions it to processing, stamping StartedAt = now. Returns
	// ErrNotFound if no eligible row exists.
	Dequeue(ctx context.Context, now int64, excludeTypes []string) (Job, error)

	// Complete marks a job completed, storing the result and stamping
	// CompletedAt.
	Complete(ctx context.Context, id string, result []byte, now int64) error

	// Fail either reschedules the job for retry (status back to pending,
	// RetryCount incremented, ScheduledFor per backoff) or marks it
	// terminally failed, depending on RetryCount vs MaxRetries. Returns the
	// job's status after the transition.
	Fail(ctx context.Context, id string, errMsg string, now int64) (Status, error)

	// FailTerminal marks a job failed unconditionally, ignoring
	// RetryCount/MaxRetries. Used for dispatch-time errors (no handler,
	// unparsable payload) that are never worth retrying.
	FailTerminal(ctx context.Context, id string, errMsg string, now int64) error

	// Update overwrites a job's Data payload in place.
	Update(ctx context.Context, id string, data []byte) error

	// GetByID reads one row by primary key.
	GetByID(ctx context.Context, id string) (Job, error)

	// GetByEntityID evaluates a JSON-path expression against each row's Data
	// column looking for entityID, returning the most recently created
	// match.
	GetByEntityID(ctx context.Context, jsonPathExpr, entityID string) (Job, error)

	// Stats aggregates counts by status.
	Stats(ctx context.Context) (Stats, error)

	// GetActiveJobs returns all pending/processing jobs, optionally
	// filtered to a set of types, newest first.
	GetActiveJobs(ctx context.Context, types []string) ([]Job, error)

	// Cleanup deletes terminal rows whose CompletedAt predates the cutoff
	// and returns the number deleted.
	Cleanup(ctx context.Context, olderThanMs int64, now int64) (int64, error)

	// ResetStuckJob transitions a processing row back to pending.
	ResetStuckJob(ctx context.Context, id string) error

	// ResetStaleProcessing resets every row that has been processing since
	// before the cutoff, for use by the reaper. Returns the number reset.
	ResetStaleProcessing(ctx context.Context, cutoff int64) (int64, error)

	// Close releases the underlying connection pool.
	Close() error
}
