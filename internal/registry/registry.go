// Copyright 2025 James Ross
// Package registry maintains the runtime mapping from job-type string to
// handler, the pluggable extension point specific handler business logic
// lives behind.
package registry

import (
	"context"
	"strings"
	"sync"
)

// ProgressReporter is the narrow surface a handler's process call uses to
// report progress; implemented by internal/progress.
type ProgressReporter interface {
	Report(ctx context.Context, progress, total int, message string) error
}

// Handler is the capability set a plugin implements for one job type.
// ValidateAndParse must be pure and deterministic; returning (nil, nil)
// signals the raw payload is invalid for this type.
type Handler interface {
	ValidateAndParse(raw []byte) (parsed interface{}, err error)
	Process(ctx context.Context, parsed interface{}, jobID string, reporter ProgressReporter) (result []byte, err error)
}

// ErrorHandler is an optional extra capability: a best-effort cleanup
// hook invoked when Process returns an error. Its own failure is logged
// but never affects retry accounting.
type ErrorHandler interface {
	OnError(ctx context.Context, cause error, parsed interface{}, jobID string, reporter ProgressReporter)
}

type entry struct {
	handler  Handler
	pluginID string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]entry
}

func New() *Registry {
	return &Registry{types: make(map[string]entry)}
}

// Register associates handler with type, optionally tagging it as owned
// by pluginID (used by UnregisterAllForPlugin).
func (r *Registry) Register(jobType string, handler Handler, pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[jobType] = entry{handler: handler, pluginID: pluginID}
}

// Unregister removes the handler for a single type. Already-persisted
// rows of that type will fail with "no handler" on dispatch.
func (r *Registry) Unregister(jobType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.types, jobType)
}

// UnregisterAllForPlugin removes every type registered with pluginID as
// its tag, and every type starting with "{pluginID}:", the plugin's
// namespace prefix, whatever tag (if any) it was registered with.
func (r *Registry) UnregisterAllForPlugin(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, e := range r.types {
		if e.pluginID == pluginID || HasPluginPrefix(t, pluginID) {
			delete(r.types, t)
		}
	}
}

// GetHandler returns the handler registered for jobType, or false if none.
func (r *Registry) GetHandler(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[jobType]
	return e.handler, ok
}

// ListTypes returns every currently-registered type, including those
// scoped under a plugin prefix ("{pluginID}:{name}").
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	return out
}

// HasPluginPrefix reports whether jobType belongs to pluginID's
// namespace, matching the "{pluginId}:" convention used by
// UnregisterAllForPlugin.
func HasPluginPrefix(jobType, pluginID string) bool {
	return strings.HasPrefix(jobType, pluginID+":")
}
