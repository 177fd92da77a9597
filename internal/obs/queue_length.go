// Copyright 2025 James Ross
package obs

import (
    "context"
    "time"

    "go.uber.org/zap"
)

// StatsSource is the minimal surface this sampler needs from the queue
// service, kept narrow so obs does not import queue (avoiding an import
// cycle) and can be unit tested with a fake.
type StatsSource interface {
    Stats(ctx context.Context) (pending, processing, failed, completed int64, err error)
}

// StartQueueDepthUpdater samples job counts per status on an interval and
// updates the QueueDepth gauge, the SQL-backed analogue of the teacher's
// Redis LLEN poller.
func StartQueueDepthUpdater(ctx context.Context, interval time.Duration, src StatsSource, log *zap.Logger) {
    if interval <= 0 {
        interval = 2 * time.Second
    }
    ticker := time.NewTicker(interval)
    go func() {
        defer ticker.Stop()
        for {
            select {
            case <-ctx.Done():
                return
            case <-ticker.C:
                pending, processing, failed, completed, err := src.Stats(ctx)
                if err != nil {
                    log.Debug("queue depth poll error", Err(err))
                    continue
                }
                QueueDepth.WithLabelValues("pending").Set(float64(pending))
                QueueDepth.WithLabelValues("processing").Set(float64(processing))
                QueueDepth.WithLabelValues("failed").Set(float64(failed))
                QueueDepth.WithLabelValues("completed").Set(float64(completed))
            }
        }
    }()
}
