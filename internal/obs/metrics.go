// Copyright 2025 James Ross
package obs

import (
    "github.com/prometheus/client_golang/prometheus"
)

var (
    JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "jobqueue_jobs_enqueued_total",
        Help: "Total number of jobs enqueued, by type",
    }, []string{"type"})
    JobsDequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "jobqueue_jobs_dequeued_total",
        Help: "Total number of jobs dequeued by workers, by type",
    }, []string{"type"})
    JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "jobqueue_jobs_completed_total",
        Help: "Total number of successfully completed jobs, by type",
    }, []string{"type"})
    JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "jobqueue_jobs_failed_total",
        Help: "Total number of terminally failed jobs, by type",
    }, []string{"type"})
    JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "jobqueue_jobs_retried_total",
        Help: "Total number of job retry attempts scheduled, by type",
    }, []string{"type"})
    JobProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Name:    "jobqueue_job_processing_duration_seconds",
        Help:    "Histogram of handler processing durations, by type",
        Buckets: prometheus.DefBuckets,
    }, []string{"type"})
    QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Name: "jobqueue_depth",
        Help: "Current number of jobs in a given status",
    }, []string{"status"})
    WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "jobqueue_worker_active",
        Help: "Number of worker goroutines currently executing a job",
    })
    CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Name: "jobqueue_circuit_breaker_state",
        Help: "Per-job-type breaker state: 0 Closed, 1 HalfOpen, 2 Open",
    }, []string{"type"})
    ReaperRecovered = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "jobqueue_reaper_recovered_total",
        Help: "Total number of jobs reset from processing back to pending by the reaper",
    })
)

func init() {
    prometheus.MustRegister(JobsEnqueued, JobsDequeued, JobsCompleted, JobsFailed, JobsRetried,
        JobProcessingDuration, QueueDepth, WorkerActive, CircuitBreakerState, ReaperRecovered)
}
