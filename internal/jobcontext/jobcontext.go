// Copyright 2025 James Ross
// Package jobcontext defines the structured routing/telemetry context
// attached to every job.
package jobcontext

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

// OperationType enumerates the recognized job categories used for routing
// and dashboards.
type OperationType string

const (
	OperationFile    OperationType = "file_operations"
	OperationContent OperationType = "content_operations"
	OperationData    OperationType = "data_processing"
	OperationBatch   OperationType = "batch_processing"
)

// Context is the `metadata` field carried by every job. RootJobID equals
// the job's own id for standalone jobs and the batch id for jobs enqueued
// as part of a batch; it is never mutated after creation.
type Context struct {
	PluginID        string        `json:"pluginId,omitempty" validate:"omitempty"`
	RootJobID       string        `json:"rootJobId" validate:"required"`
	ProgressToken   string        `json:"progressToken,omitempty" validate:"omitempty"`
	OperationType   OperationType `json:"operationType" validate:"required,oneof=file_operations content_operations data_processing batch_processing"`
	OperationTarget string        `json:"operationTarget,omitempty" validate:"omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func v() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// Validate checks the struct tags above, returning a validator.ValidationErrors
// on failure. Callers in the queue service wrap this into a structured
// InvalidJobData-class error.
func Validate(ctx Context) error {
	return v().Struct(ctx)
}
