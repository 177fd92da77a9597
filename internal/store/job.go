// Copyright 2025 James Ross
// Package store implements the durable SQL-backed job table: schema,
// migrations, and the atomic dequeue/complete/fail primitives the queue
// service builds on.
package store

import (
	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
)

// Status is one of the four terminal/non-terminal job states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Dedup selects the deduplication policy applied at enqueue time.
type Dedup string

const (
	DedupNone     Dedup = "none"
	DedupSkip     Dedup = "skip"
	DedupReplace  Dedup = "replace"
	DedupCoalesce Dedup = "coalesce"
)

// Job is a durable unit of work. ScheduledFor, CreatedAt, StartedAt and
// CompletedAt are epoch milliseconds.
type Job struct {
	ID                string
	Type              string
	Data              []byte // opaque JSON payload
	Status            Status
	Priority          int
	RetryCount        int
	MaxRetries        int
	LastError         string
	Result            []byte // opaque JSON result, nil until completed
	Source            string
	Metadata          jobcontext.Context
	CreatedAt         int64
	ScheduledFor      int64
	StartedAt         int64 // 0 if unset
	CompletedAt       int64 // 0 if unset
	DeduplicationKey  string
}

// IsActive reports whether the job is still in flight (not terminal).
func (j Job) IsActive() bool {
	return j.Status == StatusPending || j.Status == StatusProcessing
}
