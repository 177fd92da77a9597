// Copyright 2025 James Ross
package queue

import "github.com/google/uuid"

// NewJobID generates a stable unique job identifier.
func NewJobID() string {
	return "job_" + uuid.NewString()
}
