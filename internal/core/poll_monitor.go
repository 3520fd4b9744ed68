package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runPollLoop ticks until ctx is cancelled, checking playback liveness and the flush timer.
func (d *Dispatcher) runPollLoop(ctx context.Context) {
	d.logger.Info("Starting poll loop")

	ticker := time.NewTicker(d.config.App.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Poll loop stopped")
			return
		case <-ticker.C:
			d.pollTick(ctx)
		}
	}
}

// pollTick runs one iteration of the poll loop. Errors are logged and never stop the loop.
func (d *Dispatcher) pollTick(ctx context.Context) {
	status, err := d.source.Status(ctx)
	switch {
	case err != nil:
		d.logger.Warn("Failed to read playback status", zap.Error(err))
	case status == PlaybackStatusPlaying:
		if d.tracker.EnqueueIfEligible() {
			d.metrics.SetQueueLength(d.queue.Len())
		}
	}

	if !d.submitter.FlushDue() {
		return
	}

	d.logger.Debug("Flush timer fired", zap.Int("pendingScrobbles", d.queue.Len()))
	if err := d.submitter.Flush(ctx); err != nil {
		d.logger.Warn("Failed to flush scrobble queue", zap.Error(err))
	}
}
