// Copyright 2025 James Ross
package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesross/durable-jobqueue/internal/breaker"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:           time.Minute,
		CooldownPeriod:   time.Hour,
		FailureThreshold: 0.5,
		MinSamples:       2,
	}
}

func TestBreakerSetStartsClosedAndNotExcluded(t *testing.T) {
	bs := newBreakerSet(testBreakerConfig())
	require.Equal(t, breaker.Closed, bs.state("widget"))
	require.Empty(t, bs.excludedTypes())
}

func TestBreakerSetExcludesTypeAfterTripping(t *testing.T) {
	bs := newBreakerSet(testBreakerConfig())
	bs.record("widget", false)
	bs.record("widget", false)

	require.Equal(t, breaker.Open, bs.state("widget"))
	require.Contains(t, bs.excludedTypes(), "widget")
}

func TestBreakerSetTracksTypesIndependently(t *testing.T) {
	bs := newBreakerSet(testBreakerConfig())
	bs.record("broken", false)
	bs.record("broken", false)
	bs.record("fine", true)
	bs.record("fine", true)

	excluded := bs.excludedTypes()
	require.Contains(t, excluded, "broken")
	require.NotContains(t, excluded, "fine")
}

func TestBreakerSetDoesNotExcludeHalfOpenType(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.CooldownPeriod = 1 * time.Millisecond
	bs := newBreakerSet(cfg)
	bs.record("widget", false)
	bs.record("widget", false)
	require.Equal(t, breaker.Open, bs.state("widget"))

	time.Sleep(5 * time.Millisecond)
	// excludedTypes calling Allow() transitions Open->HalfOpen once cooldown
	// has elapsed, and HalfOpen types are left dequeue-eligible.
	excluded := bs.excludedTypes()
	require.NotContains(t, excluded, "widget")
	require.Equal(t, breaker.HalfOpen, bs.state("widget"))
}
