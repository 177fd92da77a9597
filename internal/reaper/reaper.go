// Copyright 2025 James Ross
// Package reaper runs the background sweep that recovers jobs stuck in
// processing after a worker crash, operationalizing the resetStuckJob
// escape hatch on a schedule.
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jamesross/durable-jobqueue/internal/obs"
)

// StaleResetter is the narrow store surface the reaper needs.
type StaleResetter interface {
	ResetStaleProcessing(ctx context.Context, cutoff int64) (int64, error)
}

// Reaper drives a cron-scheduled sweep over a StaleResetter.
type Reaper struct {
	resetter        StaleResetter
	stalenessWindow time.Duration
	log             *zap.Logger
	cron            *cron.Cron
}

func New(resetter StaleResetter, stalenessWindow time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{
		resetter:        resetter,
		stalenessWindow: stalenessWindow,
		log:             log,
		cron:            cron.New(),
	}
}

// Start schedules the sweep per the given cron expression (e.g.
// "@every 30s") and begins running it in the background.
func (r *Reaper) Start(ctx context.Context, schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() { r.sweep(ctx) })
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.stalenessWindow).UnixMilli()
	n, err := r.resetter.ResetStaleProcessing(ctx, cutoff)
	if err != nil {
		r.log.Warn("reaper sweep failed", obs.Err(err))
		return
	}
	if n > 0 {
		obs.ReaperRecovered.Add(float64(n))
		r.log.Info("reaper recovered stuck jobs", obs.Int("count", int(n)))
	}
}
