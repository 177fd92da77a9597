// Copyright 2025 James Ross
// Package worker implements the concurrent dispatcher that consumes from
// the Queue Service: lifecycle (start/stop with drain), the polling
// dispatch loop, and per-job execution against the Handler Registry.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jamesross/durable-jobqueue/internal/breaker"
	jqerrors "github.com/jamesross/durable-jobqueue/internal/errors"
	"github.com/jamesross/durable-jobqueue/internal/obs"
	"github.com/jamesross/durable-jobqueue/internal/progress"
	"github.com/jamesross/durable-jobqueue/internal/queue"
	"github.com/jamesross/durable-jobqueue/internal/registry"
	"github.com/jamesross/durable-jobqueue/internal/store"
)

// Config mirrors the public contract's worker pool options.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	MaxJobs      int // 0 = unbounded
	AutoStart    bool
}

// BreakerConfig parameterizes the per-type circuit breaker.
type BreakerConfig struct {
	Window           time.Duration
	CooldownPeriod   time.Duration
	FailureThreshold float64
	MinSamples       int
}

// Stats reports the pool's live counters.
type Stats struct {
	ProcessedJobs int64
	FailedJobs    int64
	ActiveJobs    int64
	Uptime        time.Duration
	IsRunning     bool
	LastError     string
}

// Pool is the Worker Pool: a bounded fan-out dispatcher over the Queue
// Service.
type Pool struct {
	cfg      Config
	q        *queue.Service
	reg      *registry.Registry
	monitor  *progress.Monitor
	log      *zap.Logger
	breakers *breakerSet

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	startedAt time.Time

	inFlight      sync.Map // jobID -> struct{}
	processedJobs int64
	failedJobs    int64
	activeJobs    int64
	lastErrorMu   sync.Mutex
	lastError     string
}

func New(cfg Config, bcfg BreakerConfig, q *queue.Service, reg *registry.Registry, monitor *progress.Monitor, log *zap.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{
		cfg:      cfg,
		q:        q,
		reg:      reg,
		monitor:  monitor,
		log:      log,
		breakers: newBreakerSet(bcfg),
	}
}

// Start begins polling. A second call while already running is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.startedAt = time.Now()
	p.mu.Unlock()

	p.wg.Add(1)
	go p.dispatchLoop(ctx)
}

// Stop stops accepting new jobs and waits for all in-flight jobs to
// finish before returning.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) dispatchLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	var dispatchWG sync.WaitGroup
	defer dispatchWG.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.cfg.MaxJobs > 0 && atomic.LoadInt64(&p.processedJobs) >= int64(p.cfg.MaxJobs) {
				go p.Stop()
				return
			}
			available := p.cfg.Concurrency - int(atomic.LoadInt64(&p.activeJobs))
			if available <= 0 {
				continue
			}
			excluded := p.breakers.excludedTypes()
			for i := 0; i < available; i++ {
				job, err := p.q.Dequeue(ctx, excluded)
				if err != nil {
					if err != store.ErrNotFound {
						p.recordError(err)
					}
					break
				}
				atomic.AddInt64(&p.activeJobs, 1)
				p.inFlight.Store(job.ID, struct{}{})
				dispatchWG.Add(1)
				go func(j store.Job) {
					defer dispatchWG.Done()
					defer atomic.AddInt64(&p.activeJobs, -1)
					defer p.inFlight.Delete(j.ID)
					p.dispatch(ctx, j)
				}(job)
			}
		}
	}
}

// dispatch runs the per-job execution sequence described by the Worker
// Pool contract.
func (p *Pool) dispatch(ctx context.Context, job store.Job) {
	handler, ok := p.reg.GetHandler(job.Type)
	if !ok {
		p.failTerminal(ctx, job, "no handler")
		p.breakers.record(job.Type, false)
		return
	}

	parsed, err := handler.ValidateAndParse(job.Data)
	if err != nil || parsed == nil {
		p.failTerminal(ctx, job, "invalid data")
		p.breakers.record(job.Type, false)
		return
	}

	reporter := p.monitor.CreateProgressReporter(job.ID)
	start := time.Now()
	result, procErr := handler.Process(ctx, parsed, job.ID, reporter)
	obs.JobProcessingDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if procErr != nil {
		if eh, ok := handler.(registry.ErrorHandler); ok {
			safeOnError(p.log, eh, ctx, procErr, parsed, job.ID, reporter)
		}
		p.fail(ctx, job, procErr.Error())
		p.breakers.record(job.Type, false)
		return
	}

	if err := p.q.Complete(ctx, job.ID, result); err != nil {
		p.recordError(err)
		return
	}
	atomic.AddInt64(&p.processedJobs, 1)
	p.breakers.record(job.Type, true)
	if err := p.monitor.HandleJobStatusChange(ctx, job.ID, "completed"); err != nil {
		p.log.Warn("progress notify failed", zap.Error(err))
	}
}

func (p *Pool) fail(ctx context.Context, job store.Job, reason string) {
	status, err := p.q.Fail(ctx, job.ID, reason)
	if err != nil {
		p.recordError(err)
		return
	}
	if status == store.StatusFailed {
		atomic.AddInt64(&p.failedJobs, 1)
		if err := p.monitor.HandleJobStatusChange(ctx, job.ID, "failed"); err != nil {
			p.log.Warn("progress notify failed", zap.Error(err))
		}
	}
}

// failTerminal fails a job immediately, bypassing retry/backoff. Used for
// dispatch-time errors (no handler, unparsable payload) that handler logic
// never gets a chance to cause, so retrying changes nothing.
func (p *Pool) failTerminal(ctx context.Context, job store.Job, reason string) {
	if err := p.q.FailTerminal(ctx, job.ID, reason); err != nil {
		p.recordError(err)
		return
	}
	atomic.AddInt64(&p.failedJobs, 1)
	if err := p.monitor.HandleJobStatusChange(ctx, job.ID, "failed"); err != nil {
		p.log.Warn("progress notify failed", zap.Error(err))
	}
}

// safeOnError invokes the handler's best-effort error hook, recovering
// from panics since its failure must never affect retry accounting.
func safeOnError(log *zap.Logger, eh registry.ErrorHandler, ctx context.Context, cause error, parsed interface{}, jobID string, reporter *progress.Reporter) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler onError panicked", zap.Any("panic", r), zap.String("jobId", jobID))
		}
	}()
	eh.OnError(ctx, cause, parsed, jobID, reporter)
}

func (p *Pool) recordError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
	if kind, ok := jqerrors.KindOf(err); ok {
		p.log.Error("worker pool error", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	p.log.Error("worker pool error", zap.Error(err))
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	running := p.running
	started := p.startedAt
	p.mu.Unlock()
	p.lastErrorMu.Lock()
	lastErr := p.lastError
	p.lastErrorMu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}
	return Stats{
		ProcessedJobs: atomic.LoadInt64(&p.processedJobs),
		FailedJobs:    atomic.LoadInt64(&p.failedJobs),
		ActiveJobs:    atomic.LoadInt64(&p.activeJobs),
		Uptime:        uptime,
		IsRunning:     running,
		LastError:     lastErr,
	}
}

// BreakerState exposes the current circuit breaker state for a job type.
func (p *Pool) BreakerState(jobType string) breaker.State {
	return p.breakers.state(jobType)
}
