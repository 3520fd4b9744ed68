package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	// MinScrobbleDuration is the shortest track the provider accepts. Tracks must be strictly longer.
	MinScrobbleDuration = 30 * time.Second
	// MaxScrobbleWait is the listening time after which any track counts as played.
	MaxScrobbleWait = 4 * time.Minute
)

// Validation rejection reasons, used as metric labels.
const (
	rejectNotFound    = "not_found"
	rejectNoSignals   = "no_signals"
	rejectLookupError = "lookup_error"
)

// CanBeScrobbled reports whether the play has lasted long enough to be scrobbled at now:
// half its duration or MaxScrobbleWait, whichever comes first.
func CanBeScrobbled(track *TrackMetadata, now time.Time) bool {
	if track == nil || track.Duration <= MinScrobbleDuration {
		return false
	}
	threshold := min(track.Duration/2, MaxScrobbleWait)
	return !track.PlayingSince.After(now.Add(-threshold))
}

// hasMusicSignals reports whether a catalog match carries at least one sign of being a real recording.
func hasMusicSignals(info *CatalogTrack) bool {
	return info.Album != "" || info.Duration > MinScrobbleDuration || info.ArtistMBID != ""
}

// ReconcileDuration adopts the catalog duration when it is plausible and shorter than the local one.
// It reports whether the duration changed.
func ReconcileDuration(track *TrackMetadata, info *CatalogTrack) bool {
	if info.Duration > MinScrobbleDuration && info.Duration < track.Duration {
		track.Duration = info.Duration
		return true
	}
	return false
}

// Evaluator decides whether a detected candidate is real music.
type Evaluator struct {
	catalog Catalog
	strict  bool
	metrics Metrics
	logger  *zap.Logger
}

func NewEvaluator(catalog Catalog, strict bool, metrics Metrics, logger *zap.Logger) *Evaluator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Evaluator{
		catalog: catalog,
		strict:  strict,
		metrics: metrics,
		logger:  logger,
	}
}

// ValidateIsMusic looks the candidate up in the remote catalog and reports whether it should be
// tracked. On success the candidate's duration may be replaced by the catalog's.
func (e *Evaluator) ValidateIsMusic(ctx context.Context, track *TrackMetadata) bool {
	info, err := e.catalog.TrackInfo(ctx, track.Track, track.Artist)
	if err != nil {
		if errors.Is(err, ErrTrackNotFound) {
			e.logger.Warn("Track does not exist in catalog, ignoring",
				zap.String("track", track.Track),
				zap.String("artist", track.Artist))
			e.metrics.RecordValidationRejected(rejectNotFound)
			return false
		}
		e.logger.Warn("Failed to look up track, ignoring",
			zap.String("track", track.Track),
			zap.String("artist", track.Artist),
			zap.Error(err))
		e.metrics.RecordValidationRejected(rejectLookupError)
		return false
	}

	if e.strict && !hasMusicSignals(info) {
		e.logger.Warn("Catalog match has no album, duration or artist id, treating as non-music",
			zap.String("track", track.Track),
			zap.String("artist", track.Artist))
		e.metrics.RecordValidationRejected(rejectNoSignals)
		return false
	}

	local := track.Duration
	if ReconcileDuration(track, info) {
		e.logger.Debug("Replaced reported duration with catalog duration",
			zap.String("track", track.Track),
			zap.Duration("reported", local),
			zap.Duration("catalog", info.Duration))
	}

	return true
}
