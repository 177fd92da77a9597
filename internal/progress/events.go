// Copyright 2025 James Ross
// Package progress implements the Progress Monitor and per-job
// ProgressReporter: event-driven broadcasting of job and batch lifecycle
// events to the message bus, with batch rollup.
package progress

import "github.com/jamesross/durable-jobqueue/internal/jobcontext"

// EventType distinguishes a job-scoped event from a batch-scoped one.
type EventType string

const (
	EventJob   EventType = "job"
	EventBatch EventType = "batch"
)

// ProgressFields is the optional progress payload on processing events.
type ProgressFields struct {
	Current    int     `json:"current"`
	Total      int     `json:"total,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	ETASeconds float64 `json:"eta,omitempty"`
}

// BatchDetails is carried on batch-scoped events.
type BatchDetails struct {
	TotalOperations     int      `json:"totalOperations"`
	CompletedOperations int      `json:"completedOperations"`
	FailedOperations    int      `json:"failedOperations"`
	CurrentOperation    string   `json:"currentOperation,omitempty"`
	Errors              []string `json:"errors,omitempty"`
}

// JobDetails is carried on job-scoped events.
type JobDetails struct {
	JobType    string `json:"jobType"`
	Priority   int    `json:"priority"`
	RetryCount int    `json:"retryCount"`
}

// Event is the wire shape broadcast on the bus's progress channel.
type Event struct {
	ID           string              `json:"id"`
	Type         EventType           `json:"type"`
	Status       string              `json:"status"`
	Message      string              `json:"message,omitempty"`
	Operation    string              `json:"operation,omitempty"`
	Progress     *ProgressFields     `json:"progress,omitempty"`
	BatchDetails *BatchDetails       `json:"batchDetails,omitempty"`
	JobDetails   *JobDetails         `json:"jobDetails,omitempty"`
	Metadata     jobcontext.Context  `json:"metadata"`
}
