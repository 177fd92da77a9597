// Copyright 2025 James Ross
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jamesross/durable-jobqueue/internal/bus"
	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
)

// JobMeta is the slice of a job's state the monitor needs to route and
// annotate events, without depending on the queue package directly.
type JobMeta struct {
	Metadata   jobcontext.Context
	Type       string
	Priority   int
	RetryCount int
}

// JobMetaSource resolves a job id to its routing metadata.
type JobMetaSource interface {
	JobMeta(ctx context.Context, jobID string) (JobMeta, error)
}

// BatchAggregate is the slice of a batch's aggregated status the monitor
// needs, without depending on the batch package directly.
type BatchAggregate struct {
	Status              string
	TotalOperations     int
	CompletedOperations int
	FailedOperations    int
	CurrentOperation    string
	Errors              []string
	Metadata            jobcontext.Context
}

// BatchStatusSource resolves a batch id to its aggregated status.
type BatchStatusSource interface {
	BatchStatus(ctx context.Context, batchID string) (BatchAggregate, error)
}

type sample struct {
	progress int
	at       time.Time
}

// Monitor is the Progress Monitor: it broadcasts job and batch lifecycle
// events to the bus on ProgressChannel, applying the batch rollup rule.
type Monitor struct {
	bus     bus.Bus
	jobs    JobMetaSource
	batches BatchStatusSource
	log     *zap.Logger

	mu      sync.Mutex
	samples map[string]sample
}

func NewMonitor(b bus.Bus, jobs JobMetaSource, batches BatchStatusSource, log *zap.Logger) *Monitor {
	return &Monitor{bus: b, jobs: jobs, batches: batches, log: log, samples: make(map[string]sample)}
}

// Reporter is the lightweight per-dispatch object a handler's process
// call uses to report progress; jobId is bound at construction so callers
// never thread it explicitly.
type Reporter struct {
	monitor *Monitor
	jobID   string
}

// CreateProgressReporter builds a reporter scoped to one job dispatch.
// Callers should construct one fresh per dispatch rather than reuse
// across jobs.
func (m *Monitor) CreateProgressReporter(jobID string) *Reporter {
	return &Reporter{monitor: m, jobID: jobID}
}

// Report implements registry.ProgressReporter. It applies the rollup
// rule: when the job belongs to a batch (metadata.RootJobID != jobID),
// the individual event is suppressed. Batch events are emitted by
// HandleJobStatusChange when a member job reaches a terminal status; a
// member's progress report emits none.
func (r *Reporter) Report(ctx context.Context, progress, total int, message string) error {
	return r.monitor.reportProgress(ctx, r.jobID, progress, total, message)
}

func (m *Monitor) reportProgress(ctx context.Context, jobID string, progressVal, total int, message string) error {
	meta, err := m.jobs.JobMeta(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resolve job metadata: %w", err)
	}
	if meta.Metadata.RootJobID != "" && meta.Metadata.RootJobID != jobID {
		// Part of a batch: suppress the individual event.
		return nil
	}

	fields := &ProgressFields{Current: progressVal}
	if total > 0 {
		fields.Total = total
		fields.Percentage = 100 * float64(progressVal) / float64(total)
	}
	if rate, eta, ok := m.sampleRate(jobID, progressVal, total); ok {
		fields.Rate = rate
		fields.ETASeconds = eta
	}

	ev := Event{
		ID:       jobID,
		Type:     EventJob,
		Status:   "processing",
		Message:  message,
		Progress: fields,
		Metadata: meta.Metadata,
	}
	return m.publish(ctx, ev)
}

// sampleRate computes progress rate (units/sec) and ETA (sec) from the
// delta since the previous sample for this job, when both a total and a
// previous sample exist.
func (m *Monitor) sampleRate(jobID string, progressVal, total int) (rate, eta float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, had := m.samples[jobID]
	now := time.Now()
	m.samples[jobID] = sample{progress: progressVal, at: now}
	if !had || total <= 0 {
		return 0, 0, false
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0, false
	}
	dProgress := progressVal - prev.progress
	if dProgress <= 0 {
		return 0, 0, false
	}
	rate = float64(dProgress) / dt
	remaining := total - progressVal
	if remaining <= 0 || rate <= 0 {
		return rate, 0, true
	}
	eta = float64(remaining) / rate
	return rate, eta, true
}

// EmitBatchProgress emits a batch-scoped event with the given aggregate
// status.
func (m *Monitor) EmitBatchProgress(ctx context.Context, batchID string, agg BatchAggregate) error {
	ev := Event{
		ID:     batchID,
		Type:   EventBatch,
		Status: agg.Status,
		BatchDetails: &BatchDetails{
			TotalOperations:     agg.TotalOperations,
			CompletedOperations: agg.CompletedOperations,
			FailedOperations:    agg.FailedOperations,
			CurrentOperation:    agg.CurrentOperation,
			Errors:              agg.Errors,
		},
		Metadata: agg.Metadata,
	}
	return m.publish(ctx, ev)
}

// HandleJobStatusChange is called by the Worker Pool on terminal job
// transitions. If the job belongs to a batch, the individual event is
// suppressed and a batch event is emitted instead using the batch's
// current aggregate status.
func (m *Monitor) HandleJobStatusChange(ctx context.Context, jobID string, status string) error {
	meta, err := m.jobs.JobMeta(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resolve job metadata: %w", err)
	}
	m.clearSample(jobID)

	if meta.Metadata.RootJobID != "" && meta.Metadata.RootJobID != jobID {
		agg, err := m.batches.BatchStatus(ctx, meta.Metadata.RootJobID)
		if err != nil {
			m.log.Warn("batch status lookup failed during rollup", zap.String("batchId", meta.Metadata.RootJobID), zap.Error(err))
			return nil
		}
		return m.EmitBatchProgress(ctx, meta.Metadata.RootJobID, agg)
	}

	ev := Event{
		ID:     jobID,
		Type:   EventJob,
		Status: status,
		JobDetails: &JobDetails{
			JobType:    meta.Type,
			Priority:   meta.Priority,
			RetryCount: meta.RetryCount,
		},
		Metadata: meta.Metadata,
	}
	return m.publish(ctx, ev)
}

func (m *Monitor) clearSample(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.samples, jobID)
}

func (m *Monitor) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return m.bus.Send(ctx, bus.Message{
		Channel:   bus.ProgressChannel,
		Payload:   payload,
		Sender:    bus.ProgressSender,
		Broadcast: true,
	})
}
