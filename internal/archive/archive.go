// Copyright 2025 James Ross
// Package archive offloads oversized job results to S3-compatible
// storage, keeping the job_queue row's result column a pointer rather
// than the blob itself.
package archive

import "context"

// ResultArchiver stores a result payload out of band and returns a
// reference URI the queue service persists in the result column instead
// of the payload.
type ResultArchiver interface {
	// Store uploads data under a key derived from jobID and returns a
	// reference URI (e.g. "s3://bucket/prefix/jobID").
	Store(ctx context.Context, jobID string, data []byte) (ref string, err error)

	// Fetch resolves a reference URI previously returned by Store back to
	// its payload.
	Fetch(ctx context.Context, ref string) ([]byte, error)

	// IsRef reports whether a stored result column value is a reference
	// this archiver produced, as opposed to an inline result.
	IsRef(value []byte) bool
}
