// Copyright 2025 James Ross
// Package batch groups related jobs without introducing a dedicated
// database row: membership lives in memory and aggregate status is
// computed on demand from member job status.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	jqerrors "github.com/jamesross/durable-jobqueue/internal/errors"
	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
	"github.com/jamesross/durable-jobqueue/internal/progress"
	"github.com/jamesross/durable-jobqueue/internal/queue"
	"github.com/jamesross/durable-jobqueue/internal/store"
)

// Operation is one member job's type/data descriptor, remembered so the
// batch can describe progress ("processing operation N of M").
type Operation struct {
	Type string
	Data []byte
}

// Options mirrors the per-job options shared by every member of a batch.
type Options struct {
	Source     string
	Metadata   jobcontext.Context
	Priority   int
	MaxRetries int
}

type record struct {
	jobIDs     []string
	operations []Operation
	source     string
	metadata   jobcontext.Context
	startedAt  int64
}

// Manager tracks in-flight batches. Safe for concurrent use.
type Manager struct {
	q *queue.Service

	mu      sync.RWMutex
	batches map[string]*record
}

func NewManager(q *queue.Service) *Manager {
	return &Manager{q: q, batches: make(map[string]*record)}
}

// NewBatchID generates a batch id distinct from any job id.
func NewBatchID() string {
	return "batch_" + uuid.NewString()
}

// EnqueueBatch enqueues every operation as a member job sharing a newly
// generated batch id as metadata.RootJobID. An empty operations list
// fails. Partial enqueue is acceptable: the batch is still recorded with
// whatever got through, for diagnostic purposes, and the first error is
// returned to the caller.
func (m *Manager) EnqueueBatch(ctx context.Context, operations []Operation, opts Options) (string, error) {
	if len(operations) == 0 {
		return "", jqerrors.New(jqerrors.KindBatchEmpty, "enqueueBatch requires at least one operation")
	}
	batchID := NewBatchID()
	meta := opts.Metadata
	meta.RootJobID = batchID

	rec := &record{
		operations: operations,
		source:     opts.Source,
		metadata:   meta,
		startedAt:  time.Now().UnixMilli(),
	}

	var firstErr error
	for _, op := range operations {
		jobID, err := m.q.Enqueue(ctx, op.Type, op.Data, queue.EnqueueOptions{
			Source:     opts.Source,
			Metadata:   meta,
			Priority:   opts.Priority,
			MaxRetries: opts.MaxRetries,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rec.jobIDs = append(rec.jobIDs, jobID)
	}

	m.mu.Lock()
	m.batches[batchID] = rec
	m.mu.Unlock()

	return batchID, firstErr
}

// Status is the aggregated view of a batch's member jobs.
type Status struct {
	BatchID             string
	TotalOperations     int
	CompletedOperations int
	FailedOperations    int
	PendingOperations   int
	ProcessingOperations int
	Overall              store.Status
	Errors               []string
	CurrentOperation     string
	Metadata             jobcontext.Context
}

// GetBatchStatus reads each member job's status and aggregates.
func (m *Manager) GetBatchStatus(ctx context.Context, batchID string) (Status, error) {
	m.mu.RLock()
	rec, ok := m.batches[batchID]
	m.mu.RUnlock()
	if !ok {
		return Status{}, store.ErrNotFound
	}

	st := Status{
		BatchID:         batchID,
		TotalOperations: len(rec.operations),
		Metadata:        rec.metadata,
	}
	var currentOpIdx = -1
	for i, jobID := range rec.jobIDs {
		job, err := m.q.GetStatus(ctx, jobID)
		if err != nil {
			continue
		}
		switch job.Status {
		case store.StatusCompleted:
			st.CompletedOperations++
		case store.StatusFailed:
			st.FailedOperations++
			if job.LastError != "" {
				st.Errors = append(st.Errors, job.LastError)
			}
		case store.StatusPending:
			st.PendingOperations++
			if currentOpIdx == -1 {
				currentOpIdx = i
			}
		case store.StatusProcessing:
			st.ProcessingOperations++
			if currentOpIdx == -1 {
				currentOpIdx = i
			}
		}
	}

	switch {
	case st.PendingOperations > 0 || st.ProcessingOperations > 0:
		st.Overall = store.StatusProcessing
	case st.FailedOperations > 0:
		st.Overall = store.StatusFailed
	default:
		st.Overall = store.StatusCompleted
	}
	if currentOpIdx >= 0 && currentOpIdx < len(rec.operations) {
		st.CurrentOperation = fmt.Sprintf("Processing %s", rec.operations[currentOpIdx].Type)
	}
	return st, nil
}

// BatchStatus implements progress.BatchStatusSource.
func (m *Manager) BatchStatus(ctx context.Context, batchID string) (progress.BatchAggregate, error) {
	st, err := m.GetBatchStatus(ctx, batchID)
	if err != nil {
		return progress.BatchAggregate{}, err
	}
	return progress.BatchAggregate{
		Status:              string(st.Overall),
		TotalOperations:      st.TotalOperations,
		CompletedOperations:  st.CompletedOperations,
		FailedOperations:     st.FailedOperations,
		CurrentOperation:     st.CurrentOperation,
		Errors:               st.Errors,
		Metadata:             st.Metadata,
	}, nil
}

// GetActiveBatches returns every batch whose aggregate status is
// non-terminal, paired with its metadata.
func (m *Manager) GetActiveBatches(ctx context.Context) ([]Status, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.batches))
	for id := range m.batches {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var active []Status
	for _, id := range ids {
		st, err := m.GetBatchStatus(ctx, id)
		if err != nil {
			continue
		}
		if st.Overall == store.StatusPending || st.Overall == store.StatusProcessing {
			active = append(active, st)
		}
	}
	return active, nil
}

// Cleanup drops batches older than olderThanMs whose aggregate status is
// terminal.
func (m *Manager) Cleanup(ctx context.Context, olderThanMs int64) int {
	now := time.Now().UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, rec := range m.batches {
		if now-rec.startedAt < olderThanMs {
			continue
		}
		st, err := m.getBatchStatusLocked(ctx, id, rec)
		if err != nil {
			continue
		}
		if st.Overall == store.StatusCompleted || st.Overall == store.StatusFailed {
			delete(m.batches, id)
			removed++
		}
	}
	return removed
}

// getBatchStatusLocked recomputes aggregate status without taking m.mu,
// for use by callers that already hold it.
func (m *Manager) getBatchStatusLocked(ctx context.Context, batchID string, rec *record) (Status, error) {
	st := Status{BatchID: batchID, TotalOperations: len(rec.operations)}
	for _, jobID := range rec.jobIDs {
		job, err := m.q.GetStatus(ctx, jobID)
		if err != nil {
			continue
		}
		switch job.Status {
		case store.StatusCompleted:
			st.CompletedOperations++
		case store.StatusFailed:
			st.FailedOperations++
		case store.StatusPending:
			st.PendingOperations++
		case store.StatusProcessing:
			st.ProcessingOperations++
		}
	}
	switch {
	case st.PendingOperations > 0 || st.ProcessingOperations > 0:
		st.Overall = store.StatusProcessing
	case st.FailedOperations > 0:
		st.Overall = store.StatusFailed
	default:
		st.Overall = store.StatusCompleted
	}
	return st, nil
}
