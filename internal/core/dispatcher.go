package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrSourceClosed is returned by Start when the playback source stops delivering notifications.
var ErrSourceClosed = errors.New("playback source closed")

// Now-playing announcement outcomes, used as metric labels.
const (
	nowPlayingOK     = "ok"
	nowPlayingFailed = "failed"
)

// Dispatcher wires the playback source to the tracker, queue and submitter.
type Dispatcher struct {
	config    *Config
	source    PlaybackSource
	auth      Authenticator
	remote    RemoteService
	tracker   *Tracker
	queue     *ScrobbleQueue
	submitter *Submitter
	metrics   Metrics
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher with its own tracker, queue and submitter.
func NewDispatcher(
	config *Config,
	source PlaybackSource,
	auth Authenticator,
	remote RemoteService,
	ledger PlayLedger,
	metrics Metrics,
	logger *zap.Logger,
) *Dispatcher {
	if metrics == nil {
		metrics = NopMetrics{}
	}

	queue := NewScrobbleQueue(ledger)
	evaluator := NewEvaluator(remote, config.App.StrictMusicValidation, metrics, logger.Named("eligibility"))

	return &Dispatcher{
		config:    config,
		source:    source,
		auth:      auth,
		remote:    remote,
		tracker:   NewTracker(evaluator, queue, metrics, logger.Named("tracker")),
		queue:     queue,
		submitter: NewSubmitter(&config.App, queue, auth, remote, ledger, metrics, logger.Named("submitter")),
		metrics:   metrics,
		logger:    logger,
	}
}

// Start authenticates, subscribes to the playback source and processes notifications until ctx
// is cancelled. An authentication failure is fatal.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting scrobble dispatcher",
		zap.Bool("strictMusicValidation", d.config.App.StrictMusicValidation),
		zap.Duration("pollInterval", d.config.App.PollInterval()))

	if err := d.auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with Last.fm: %w", err)
	}

	changes, err := d.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to playback source: %w", err)
	}

	go d.runPollLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Scrobble dispatcher stopped")
			return nil
		case change, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSourceClosed
			}
			d.handleChange(ctx, change)
		}
	}
}

// Stop tears down the playback subscription. Queued plays are not flushed.
func (d *Dispatcher) Stop(_ context.Context) error {
	d.logger.Info("Stopping scrobble dispatcher", zap.Int("pendingScrobbles", d.queue.Len()))

	if err := d.source.Close(); err != nil {
		return fmt.Errorf("failed to close playback source: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleChange(ctx context.Context, change PlaybackChange) {
	callCtx, cancel := context.WithTimeout(ctx, d.config.App.RequestTimeout())
	defer cancel()

	confirmed, transitioned := d.tracker.HandleChange(callCtx, change)
	if confirmed != nil {
		d.announceNowPlaying(callCtx, confirmed)
	}
	d.metrics.SetQueueLength(d.queue.Len())

	if !transitioned {
		return
	}
	if err := d.submitter.Flush(ctx); err != nil {
		d.logger.Warn("Failed to flush scrobble queue after track change", zap.Error(err))
	}
}

func (d *Dispatcher) announceNowPlaying(ctx context.Context, track *TrackMetadata) {
	start := time.Now()
	if err := d.remote.UpdateNowPlaying(ctx, d.auth.SessionKey(), track); err != nil {
		d.metrics.RecordNowPlaying(nowPlayingFailed)
		d.logger.Warn("Failed to update now playing",
			zap.String("track", track.Track),
			zap.String("artist", track.Artist),
			zap.Error(err))
		return
	}

	d.metrics.RecordNowPlaying(nowPlayingOK)
	d.logger.Info("Now playing",
		zap.String("track", track.Track),
		zap.String("artist", track.Artist),
		zap.String("album", track.Album),
		zap.Duration("duration", track.Duration),
		zap.Duration("took", time.Since(start)))
}

// Tracker exposes the now-playing tracker.
func (d *Dispatcher) Tracker() *Tracker {
	return d.tracker
}

// Queue exposes the scrobble queue.
func (d *Dispatcher) Queue() *ScrobbleQueue {
	return d.queue
}

// Submitter exposes the batch submitter.
func (d *Dispatcher) Submitter() *Submitter {
	return d.submitter
}
