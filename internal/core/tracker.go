package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracker follows what is currently playing and decides which plays reach the queue.
// HandleChange must be called by a single goroutine; CurrentTrack and EnqueueIfEligible may be
// called concurrently with it. Lock order is tracker, then queue.
type Tracker struct {
	evaluator *Evaluator
	queue     *ScrobbleQueue
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *TrackMetadata
}

func NewTracker(evaluator *Evaluator, queue *ScrobbleQueue, metrics Metrics, logger *zap.Logger) *Tracker {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Tracker{
		evaluator: evaluator,
		queue:     queue,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// candidateFromChange builds a play from a notification, or nil when it is not music.
func candidateFromChange(change PlaybackChange, now time.Time) *TrackMetadata {
	if change.Type != PlaybackTypeMusic {
		return nil
	}
	if change.Title == "" || change.Artist == "" {
		return nil
	}
	position := max(change.Position, 0)
	return &TrackMetadata{
		Track:        change.Title,
		Artist:       change.Artist,
		Album:        change.Album,
		AlbumArtist:  change.AlbumArtist,
		TrackNumber:  change.TrackNumber,
		Duration:     change.Duration,
		PlayingSince: now.UTC(),
		StartedAt:    now.Add(-position).UTC().Truncate(time.Second),
	}
}

// HandleChange applies one playback notification. It returns the newly confirmed play, if any,
// and whether the notification ended the previous play (a transition).
func (t *Tracker) HandleChange(ctx context.Context, change PlaybackChange) (*TrackMetadata, bool) {
	now := t.now()
	candidate := candidateFromChange(change, now)

	t.mu.Lock()
	if candidate != nil && candidate.SameTrack(t.current) {
		t.refreshLocked(candidate)
		t.mu.Unlock()
		return nil, false
	}

	outgoing := t.current
	t.current = nil
	if outgoing != nil && !outgoing.IsQueued() && CanBeScrobbled(outgoing, now) {
		if t.queue.Enqueue(outgoing) {
			t.metrics.RecordQueued()
			t.logger.Info("Queued play",
				zap.String("track", outgoing.Track),
				zap.String("artist", outgoing.Artist),
				zap.Time("playingSince", outgoing.PlayingSince))
		} else {
			t.logger.Info("Skipped play already submitted or queued",
				zap.String("track", outgoing.Track),
				zap.String("artist", outgoing.Artist),
				zap.Time("startedAt", outgoing.StartedAt))
		}
	}
	t.mu.Unlock()

	if candidate == nil {
		if change.Type != PlaybackTypeMusic {
			t.logger.Debug("Ignoring non-music playback", zap.Stringer("type", change.Type))
		}
		return nil, outgoing != nil
	}

	t.logger.Debug("Detected new track",
		zap.String("track", candidate.Track),
		zap.String("artist", candidate.Artist),
		zap.Duration("duration", candidate.Duration),
		zap.Bool("sessionChanged", change.SessionChanged))

	if !t.evaluator.ValidateIsMusic(ctx, candidate) {
		return nil, true
	}

	t.mu.Lock()
	t.current = candidate
	t.mu.Unlock()

	return candidate, true
}

// refreshLocked replaces the current play with a newer snapshot of the same track.
// The original playing-since is kept so the eligibility clock is not reset.
func (t *Tracker) refreshLocked(candidate *TrackMetadata) {
	current := t.current
	if current.IsQueued() {
		return
	}

	candidate.PlayingSince = current.PlayingSince
	candidate.StartedAt = current.StartedAt
	if current.Duration > 0 && (candidate.Duration <= 0 || current.Duration < candidate.Duration) {
		candidate.Duration = current.Duration
	}
	t.current = candidate
}

// EnqueueIfEligible queues the current play once it has lasted long enough.
func (t *Tracker) EnqueueIfEligible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.IsQueued() || !CanBeScrobbled(t.current, t.now()) {
		return false
	}
	if !t.queue.Enqueue(t.current) {
		return false
	}

	t.metrics.RecordQueued()
	t.logger.Info("Queued play still in progress",
		zap.String("track", t.current.Track),
		zap.String("artist", t.current.Artist),
		zap.Time("playingSince", t.current.PlayingSince))
	return true
}

// CurrentTrack returns the confirmed now-playing track, or nil.
func (t *Tracker) CurrentTrack() *TrackMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
