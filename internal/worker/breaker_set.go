// Copyright 2025 James Ross
package worker

import (
	"sync"

	"github.com/jamesross/durable-jobqueue/internal/breaker"
	"github.com/jamesross/durable-jobqueue/internal/obs"
)

// breakerSet keeps one sliding-window circuit breaker per job type,
// adapted from the teacher's internal/breaker. Tripping a type's breaker
// only throttles dispatch of that type; it does not change the Queue
// Service's retry/backoff semantics.
type breakerSet struct {
	cfg BreakerConfig

	mu       sync.Mutex
	byType   map[string]*breaker.CircuitBreaker
}

func newBreakerSet(cfg BreakerConfig) *breakerSet {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.5
	}
	return &breakerSet{cfg: cfg, byType: make(map[string]*breaker.CircuitBreaker)}
}

func (b *breakerSet) get(jobType string) *breaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.byType[jobType]
	if !ok {
		cb = breaker.New(b.cfg.Window, b.cfg.CooldownPeriod, b.cfg.FailureThreshold, b.cfg.MinSamples)
		b.byType[jobType] = cb
	}
	return cb
}

func (b *breakerSet) record(jobType string, ok bool) {
	cb := b.get(jobType)
	cb.Record(ok)
	obs.CircuitBreakerState.WithLabelValues(jobType).Set(breakerStateMetric(cb.State()))
}

func (b *breakerSet) state(jobType string) breaker.State {
	return b.get(jobType).State()
}

// excludedTypes returns every job type whose breaker is currently Open,
// for the dispatch loop to pass as Dequeue's excludeTypes. It calls
// Allow() on each Open breaker: once the cooldown has passed, that call
// moves the breaker to HalfOpen and takes its probe slot, and the type is
// no longer excluded. HalfOpen types are left dequeue-eligible; dispatch
// does not call Allow(), so the number of jobs of a HalfOpen type that
// are dispatched is not limited to one.
func (b *breakerSet) excludedTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for t, cb := range b.byType {
		if cb.State() == breaker.Open && !cb.Allow() {
			out = append(out, t)
		}
	}
	return out
}

func breakerStateMetric(s breaker.State) float64 {
	switch s {
	case breaker.HalfOpen:
		return 1
	case breaker.Open:
		return 2
	default:
		return 0
	}
}
