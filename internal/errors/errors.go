// Copyright 2025 James Ross
// Package errors defines the structured error taxonomy surfaced by the
// job queue core, so callers can branch on error kind rather than parsing
// messages.
package errors

import "fmt"

// Kind identifies one of the error classes the core can raise.
type Kind string

const (
	// KindNoHandler means no handler is registered for a job type at
	// enqueue or dispatch time.
	KindNoHandler Kind = "no_handler"
	// KindInvalidJobData means a handler's validateAndParse rejected the
	// raw payload.
	KindInvalidJobData Kind = "invalid_job_data"
	// KindHandlerFailure means a handler's process call returned an error.
	KindHandlerFailure Kind = "handler_failure"
	// KindReplaced means a pending job was superseded by a replace-mode
	// enqueue.
	KindReplaced Kind = "replaced"
	// KindStorageError means the underlying database operation failed.
	KindStorageError Kind = "storage_error"
	// KindBatchEmpty means enqueueBatch was called with no operations.
	KindBatchEmpty Kind = "batch_empty"
	// KindRateLimited means a per-source admission limiter rejected an
	// enqueue.
	KindRateLimited Kind = "rate_limited"
	// KindSchemaViolation names a JSON Schema rejection. No code path
	// raises it: schema.JSONSchemaHandler reports a violation as a nil
	// parse result, which the queue service surfaces as KindInvalidJobData.
	KindSchemaViolation Kind = "schema_violation"
)

// Error wraps an underlying cause with a Kind so callers can use
// errors.As / Is from the standard library alongside Kind().
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New creates an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap creates an Error of the given kind wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's structured kind.
func (e *Error) Kind() Kind { return e.kind }

// KindOf walks err's Unwrap chain and returns the Kind of the first *Error
// it finds, or false when the chain holds no *Error.
func KindOf(err error) (Kind, bool) {
	var je *Error
	for err != nil {
		if k, ok := err.(*Error); ok {
			je = k
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if je == nil {
		return "", false
	}
	return je.kind, true
}
