// Package librespot provides a playback source backed by a go-librespot daemon: playback changes
// arrive on its /events WebSocket and the playback status is read from GET /status.
package librespot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scrobbler/internal/core"
)

const (
	// SubscriptionBuffer is the capacity of the change channel returned by Subscribe
	SubscriptionBuffer = 32
	// StatusTimeout bounds a single GET /status request
	StatusTimeout = 5 * time.Second
)

// Source follows a go-librespot daemon.
type Source struct {
	baseURL   string
	eventsURL string
	logger    *zap.Logger
	http      *http.Client
	dialer    *websocket.Dialer

	mu            sync.Mutex
	conn          *websocket.Conn
	closeConn     func() error
	done          chan struct{}
	sessionChange bool
}

func NewSource(config *core.LibrespotConfig, logger *zap.Logger) *Source {
	return newSource(fmt.Sprintf("http://%s:%d", config.Host, config.Port), logger)
}

func newSource(baseURL string, logger *zap.Logger) *Source {
	return &Source{
		baseURL:   baseURL,
		eventsURL: "ws" + strings.TrimPrefix(baseURL, "http") + "/events",
		logger:    logger,
		http:      &http.Client{Timeout: StatusTimeout},
		dialer:    websocket.DefaultDialer,
	}
}

// Subscribe connects to the event stream. The current track, if any, is reported first.
// The channel is closed when the connection drops, ctx is cancelled or Close is called.
func (s *Source) Subscribe(ctx context.Context) (<-chan core.PlaybackChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil, fmt.Errorf("librespot source already subscribed")
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.eventsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to events WebSocket: %w", err)
	}
	closeConn := sync.OnceValue(conn.Close)
	s.conn = conn
	s.closeConn = closeConn
	s.done = make(chan struct{})

	changes := make(chan core.PlaybackChange, SubscriptionBuffer)
	initial := s.initialChange(ctx)

	go s.readLoop(ctx, conn, changes, initial, s.done)
	go func(done <-chan struct{}) {
		select {
		case <-ctx.Done():
			_ = closeConn()
		case <-done:
		}
	}(s.done)

	s.logger.Info("Subscribed to librespot events", zap.String("url", s.eventsURL))
	return changes, nil
}

// Status reads the daemon's playback status.
func (s *Source) Status(ctx context.Context) (core.PlaybackStatus, error) {
	status, err := s.fetchStatus(ctx)
	if err != nil {
		return core.PlaybackStatusStopped, err
	}
	return statusOf(status), nil
}

// Close disconnects from the event stream and waits for the reader to stop. The connection is
// closed once, whether by Close or by cancellation of the subscription context.
func (s *Source) Close() error {
	s.mu.Lock()
	closeConn, done := s.closeConn, s.done
	s.conn = nil
	s.closeConn = nil
	s.mu.Unlock()

	if closeConn == nil {
		return nil
	}
	err := closeConn()
	<-done
	return err
}

func (s *Source) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	changes chan<- core.PlaybackChange,
	initial *core.PlaybackChange,
	done chan<- struct{},
) {
	defer close(done)
	defer close(changes)

	if initial != nil {
		changes <- *initial
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("Event stream closed", zap.Error(err))
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.logger.Debug("Ignoring malformed event", zap.Error(err))
			continue
		}

		change, ok := s.handleEvent(ev)
		if !ok {
			continue
		}
		select {
		case changes <- change:
		case <-ctx.Done():
			return
		}
	}
}

// handleEvent maps a daemon event onto a playback change. Events that do not change the
// playing item are dropped.
func (s *Source) handleEvent(ev Event) (core.PlaybackChange, bool) {
	switch ev.Type {
	case EventTypeActive:
		s.mu.Lock()
		s.sessionChange = true
		s.mu.Unlock()
		return core.PlaybackChange{}, false

	case EventTypeMetadata:
		var meta EventMetadata
		if err := json.Unmarshal(ev.Data, &meta); err != nil {
			s.logger.Warn("Failed to decode metadata event", zap.Error(err))
			return core.PlaybackChange{}, false
		}
		change := convertTrack(&Track{
			URI:         meta.URI,
			Name:        meta.Name,
			ArtistNames: meta.ArtistNames,
			AlbumName:   meta.AlbumName,
			TrackNumber: meta.TrackNumber,
			Duration:    meta.Duration,
			Position:    meta.Position,
		})

		s.mu.Lock()
		change.SessionChanged = s.sessionChange
		s.sessionChange = false
		s.mu.Unlock()

		s.logger.Debug("Playback changed",
			zap.String("title", change.Title),
			zap.String("artist", change.Artist),
			zap.Stringer("type", change.Type))
		return change, true

	case EventTypeStopped, EventTypeNotPlaying, EventTypeInactive:
		return core.PlaybackChange{Type: core.PlaybackTypeOther}, true

	default:
		return core.PlaybackChange{}, false
	}
}

func (s *Source) initialChange(ctx context.Context) *core.PlaybackChange {
	status, err := s.fetchStatus(ctx)
	if err != nil {
		s.logger.Warn("Failed to read initial status", zap.Error(err))
		return nil
	}
	if status.Stopped || status.Track == nil {
		return nil
	}
	change := convertTrack(status.Track)
	return &change
}

func (s *Source) fetchStatus(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/status", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	defer resp.Body.Close()

	// The daemon answers 204 while no session is active.
	if resp.StatusCode == http.StatusNoContent {
		return &Status{Stopped: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

func convertTrack(track *Track) core.PlaybackChange {
	if !strings.HasPrefix(track.URI, "spotify:track:") && !strings.HasPrefix(track.URI, "spotify:local:") {
		return core.PlaybackChange{Type: core.PlaybackTypeOther}
	}

	change := core.PlaybackChange{
		Title:       track.Name,
		Album:       track.AlbumName,
		TrackNumber: track.TrackNumber,
		Duration:    time.Duration(track.Duration) * time.Millisecond,
		Position:    time.Duration(track.Position) * time.Millisecond,
		Type:        core.PlaybackTypeMusic,
	}
	if len(track.ArtistNames) > 0 {
		change.Artist = track.ArtistNames[0]
	}
	return change
}

func statusOf(status *Status) core.PlaybackStatus {
	switch {
	case status.Stopped || status.Track == nil:
		return core.PlaybackStatusStopped
	case status.Paused:
		return core.PlaybackStatusPaused
	default:
		return core.PlaybackStatusPlaying
	}
}
