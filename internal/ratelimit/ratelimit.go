// Copyright 2025 James Ross
// Package ratelimit implements the non-blocking per-source admission
// control applied at enqueue time. It never blocks a caller: a rejected
// reservation is returned to the caller as an immediate decision, not a
// wait, preserving the "producers never block" invariant.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token-bucket limiter per producer source.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	perSecond float64
	burst     int
}

// New builds a Limiter. perSecond and burst configure every per-source
// bucket lazily created on first use.
func New(perSecond float64, burst int) *Limiter {
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		perSecond: perSecond,
		burst:     burst,
	}
}

// Allow reports whether an enqueue from source may proceed right now,
// consuming a token if so. An empty source shares a single "default"
// bucket.
func (l *Limiter) Allow(source string) bool {
	if source == "" {
		source = "default"
	}
	l.mu.Lock()
	lim, ok := l.limiters[source]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.perSecond), l.burst)
		l.limiters[source] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
