package core

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"
)

// ErrTrackNotFound is returned by a Catalog when the looked-up track does not exist.
var ErrTrackNotFound = errors.New("track not found")

type PlaybackType int

const (
	// PlaybackTypeUnknown is reported when the source cannot classify the media
	PlaybackTypeUnknown PlaybackType = iota
	// PlaybackTypeMusic is a music track
	PlaybackTypeMusic
	// PlaybackTypeVideo is video playback (e.g. a browser tab)
	PlaybackTypeVideo
	// PlaybackTypeOther covers podcasts, ads and everything else
	PlaybackTypeOther
)

func (t PlaybackType) String() string {
	switch t {
	case PlaybackTypeMusic:
		return "music"
	case PlaybackTypeVideo:
		return "video"
	case PlaybackTypeOther:
		return "other"
	default:
		return "unknown"
	}
}

type PlaybackStatus int

const (
	// PlaybackStatusStopped means nothing is loaded in the player
	PlaybackStatusStopped PlaybackStatus = iota
	// PlaybackStatusPaused means an item is loaded but not advancing
	PlaybackStatusPaused
	// PlaybackStatusPlaying means an item is advancing
	PlaybackStatusPlaying
)

func (s PlaybackStatus) String() string {
	switch s {
	case PlaybackStatusPlaying:
		return "playing"
	case PlaybackStatusPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// PlaybackChange is a raw "playback properties changed" notification from a PlaybackSource.
type PlaybackChange struct {
	Title          string
	Artist         string
	Album          string
	AlbumArtist    string
	TrackNumber    int
	Duration       time.Duration
	Position       time.Duration
	Type           PlaybackType
	SessionChanged bool
}

// TrackMetadata is a single detected play. Identity is the exact track and artist name.
// Values must be shared by pointer; the queued flag is set at most once.
type TrackMetadata struct {
	Track        string
	Artist       string
	Album        string
	AlbumArtist  string
	TrackNumber  int
	Duration     time.Duration
	PlayingSince time.Time
	// StartedAt is when the playthrough began, derived from the reported position. It survives
	// re-detection of the same playthrough, unlike PlayingSince.
	StartedAt    time.Time

	queued atomic.Bool
}

// SameTrack reports whether both plays refer to the same track. Album fields are ignored.
func (t *TrackMetadata) SameTrack(other *TrackMetadata) bool {
	if t == nil || other == nil {
		return false
	}
	return t.Track == other.Track && t.Artist == other.Artist
}

// MarkQueued sets the queued flag and reports whether this call was the one that set it.
func (t *TrackMetadata) MarkQueued() bool {
	return t.queued.CompareAndSwap(false, true)
}

// IsQueued reports whether the play has been handed to the scrobble queue.
func (t *TrackMetadata) IsQueued() bool {
	return t.queued.Load()
}

func (t *TrackMetadata) startTime() time.Time {
	if t.StartedAt.IsZero() {
		return t.PlayingSince
	}
	return t.StartedAt
}

func (t *TrackMetadata) playKeyAt(start time.Time) string {
	return t.Artist + "\x1f" + t.Track + "\x1f" + strconv.FormatInt(start.Unix(), 10)
}

// PlayKey identifies one playthrough of a track for the submitted-play ledger.
func (t *TrackMetadata) PlayKey() string {
	return t.playKeyAt(t.startTime())
}

// PlayKeys returns the keys of every start time within PlayStartTolerance of this play.
func (t *TrackMetadata) PlayKeys() []string {
	start := t.startTime()
	seconds := int(PlayStartTolerance / time.Second)
	keys := make([]string, 0, 2*seconds+1)
	for offset := -seconds; offset <= seconds; offset++ {
		keys = append(keys, t.playKeyAt(start.Add(time.Duration(offset)*time.Second)))
	}
	return keys
}

// SamePlay reports whether both values describe the same playthrough of the same track.
func (t *TrackMetadata) SamePlay(other *TrackMetadata) bool {
	if !t.SameTrack(other) {
		return false
	}
	diff := t.startTime().Sub(other.startTime())
	return diff <= PlayStartTolerance && diff >= -PlayStartTolerance
}

// CatalogTrack is the remote catalog's record for a track.
type CatalogTrack struct {
	Name       string
	Artist     string
	ArtistMBID string
	Album      string
	Duration   time.Duration
}

// ScrobbleResult is the provider's accounting for a submitted batch.
type ScrobbleResult struct {
	Accepted int
	Ignored  int
}

// PlaybackSource delivers playback notifications from a media player.
type PlaybackSource interface {
	// Subscribe starts delivering notifications. The channel is closed when the source stops.
	Subscribe(ctx context.Context) (<-chan PlaybackChange, error)
	// Status reports the current playback status.
	Status(ctx context.Context) (PlaybackStatus, error)
	// Close tears down the subscription.
	Close() error
}

// Catalog looks tracks up in the remote catalog. A missing track yields ErrTrackNotFound.
type Catalog interface {
	TrackInfo(ctx context.Context, track, artist string) (*CatalogTrack, error)
}

type ScrobbleClient interface {
	UpdateNowPlaying(ctx context.Context, sessionKey string, track *TrackMetadata) error
	Scrobble(ctx context.Context, sessionKey string, batch []*TrackMetadata) (*ScrobbleResult, error)
}

// RemoteService is everything the pipeline needs from the scrobbling provider.
type RemoteService interface {
	Catalog
	ScrobbleClient
}

type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
	SessionKey() string
}

// PlayLedger remembers plays that were already accepted by the provider.
type PlayLedger interface {
	Has(key string) bool
	Add(key string)
}

type Metrics interface {
	RecordQueued()
	RecordSubmitted(accepted, ignored int)
	RecordFlushFailure(reason string)
	RecordValidationRejected(reason string)
	RecordNowPlaying(status string)
	SetQueueLength(n int)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordQueued() {}
func (NopMetrics) RecordSubmitted(_, _ int) {}
func (NopMetrics) RecordFlushFailure(_ string) {}
func (NopMetrics) RecordValidationRejected(_ string) {}
func (NopMetrics) RecordNowPlaying(_ string) {}
func (NopMetrics) SetQueueLength(_ int) {}
