// Package spotify provides a playback source that polls the Spotify Web API player state.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"scrobbler/internal/core"
)

const (
	// FilePermission is the permission for token files
	FilePermission = 0600
	// SubscriptionBuffer is the capacity of the change channel returned by Subscribe
	SubscriptionBuffer = 8
	// MinPollInterval bounds how often the player endpoint is hit
	MinPollInterval = time.Second

	trackURIPrefix = "spotify:track:"
	localURIPrefix = "spotify:local:"
)

// ErrNotAuthenticated is returned when the source is used before Authenticate.
var ErrNotAuthenticated = errors.New("spotify client not authenticated")

// playerStateReader is the part of the Web API client the source polls.
type playerStateReader interface {
	PlayerState(ctx context.Context, opts ...spotify.RequestOption) (*spotify.PlayerState, error)
}

// Source polls the user's player state and reports changes of the playing item.
type Source struct {
	config   *core.SpotifyConfig
	logger   *zap.Logger
	auth     *spotifyauth.Authenticator
	client   *spotify.Client
	player   playerStateReader
	interval time.Duration

	mu         sync.Mutex
	status     core.PlaybackStatus
	polled     bool
	last       *core.PlaybackChange
	lastDevice string
	cancel     context.CancelFunc
	done       chan struct{}
}

type TokenData struct {
	Token *oauth2.Token `json:"token"`
}

func NewSource(config *core.SpotifyConfig, logger *zap.Logger) *Source {
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(config.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserReadPlaybackState,
		),
		spotifyauth.WithClientID(config.ClientID),
		spotifyauth.WithClientSecret(config.ClientSecret),
	)

	interval := time.Duration(config.PollIntervalSecs) * time.Second
	if interval < MinPollInterval {
		interval = time.Duration(core.DefaultSpotifyPollIntervalSecs) * time.Second
	}

	return &Source{
		config:   config,
		logger:   logger,
		auth:     auth,
		interval: interval,
	}
}

func (s *Source) Authenticate(ctx context.Context) error {
	token, err := s.loadToken()
	if err != nil {
		s.logger.Info("No saved token found, starting OAuth flow")
		return s.startOAuthFlow(ctx)
	}

	client := spotify.New(s.auth.Client(ctx, token))
	s.setClient(client)

	user, err := client.CurrentUser(ctx)
	if err != nil {
		s.logger.Warn("Saved token invalid, starting OAuth flow", zap.Error(err))
		return s.startOAuthFlow(ctx)
	}

	s.logger.Info("Authenticated successfully", zap.String("user", user.DisplayName))
	return nil
}

// Subscribe starts polling and returns a channel of playback changes. The channel is closed
// when ctx is cancelled or Close is called.
func (s *Source) Subscribe(ctx context.Context) (<-chan core.PlaybackChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player == nil {
		return nil, ErrNotAuthenticated
	}
	if s.cancel != nil {
		return nil, fmt.Errorf("spotify source already subscribed")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	changes := make(chan core.PlaybackChange, SubscriptionBuffer)
	go s.pollLoop(pollCtx, changes, s.done)

	s.logger.Info("Polling Spotify player state", zap.Duration("interval", s.interval))
	return changes, nil
}

// Status reports the status seen by the most recent poll, fetching it if nothing was polled yet.
func (s *Source) Status(ctx context.Context) (core.PlaybackStatus, error) {
	s.mu.Lock()
	player := s.player
	if s.polled {
		status := s.status
		s.mu.Unlock()
		return status, nil
	}
	s.mu.Unlock()

	if player == nil {
		return core.PlaybackStatusStopped, ErrNotAuthenticated
	}

	state, err := player.PlayerState(ctx)
	if err != nil {
		return core.PlaybackStatusStopped, fmt.Errorf("failed to get player state: %w", err)
	}
	return statusFromState(state), nil
}

// Close stops polling and saves the current OAuth token, which may have been refreshed.
func (s *Source) Close() error {
	s.mu.Lock()
	cancel, done, client := s.cancel, s.done, s.client
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if client == nil {
		return nil
	}
	token, err := client.Token()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if err := s.saveToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *Source) pollLoop(ctx context.Context, changes chan<- core.PlaybackChange, done chan<- struct{}) {
	defer close(done)
	defer close(changes)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if change, ok := s.poll(ctx); ok {
			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll fetches the player state and returns a change when the playing item differs from the
// previous poll or playback moved to another device.
func (s *Source) poll(ctx context.Context) (core.PlaybackChange, bool) {
	state, err := s.player.PlayerState(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Failed to get player state", zap.Error(err))
		}
		return core.PlaybackChange{}, false
	}

	change := convertPlayerState(state)
	device := ""
	if state != nil {
		device = state.Device.ID.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = statusFromState(state)
	s.polled = true

	if device != "" && s.lastDevice != "" && device != s.lastDevice {
		change.SessionChanged = true
	}
	if device != "" {
		s.lastDevice = device
	}

	// Progress moves on every poll and does not make a new item.
	snapshot := change
	snapshot.SessionChanged = false
	snapshot.Position = 0
	if !change.SessionChanged && s.last != nil && *s.last == snapshot {
		return core.PlaybackChange{}, false
	}
	s.last = &snapshot

	s.logger.Debug("Playback changed",
		zap.String("title", change.Title),
		zap.String("artist", change.Artist),
		zap.Stringer("type", change.Type),
		zap.Bool("sessionChanged", change.SessionChanged))
	return change, true
}

func (s *Source) setClient(client *spotify.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.player = client
}

// convertPlayerState maps the player state onto a playback change. Anything that is not a
// track (episodes, ads, nothing at all) is reported as non-music.
func convertPlayerState(state *spotify.PlayerState) core.PlaybackChange {
	if state == nil || state.Item == nil {
		return core.PlaybackChange{Type: core.PlaybackTypeOther}
	}

	item := state.Item
	uri := string(item.URI)
	if !strings.HasPrefix(uri, trackURIPrefix) && !strings.HasPrefix(uri, localURIPrefix) {
		return core.PlaybackChange{Type: core.PlaybackTypeOther}
	}

	change := core.PlaybackChange{
		Title:       item.Name,
		Album:       item.Album.Name,
		TrackNumber: int(item.TrackNumber),
		Duration:    time.Duration(item.Duration) * time.Millisecond,
		Position:    time.Duration(state.Progress) * time.Millisecond,
		Type:        core.PlaybackTypeMusic,
	}
	// Last.fm identifies a track by its primary artist.
	if len(item.Artists) > 0 {
		change.Artist = item.Artists[0].Name
	}
	if len(item.Album.Artists) > 0 {
		change.AlbumArtist = item.Album.Artists[0].Name
	}
	return change
}

func statusFromState(state *spotify.PlayerState) core.PlaybackStatus {
	switch {
	case state == nil || state.Item == nil:
		return core.PlaybackStatusStopped
	case state.Playing:
		return core.PlaybackStatusPlaying
	default:
		return core.PlaybackStatusPaused
	}
}

func (s *Source) startOAuthFlow(ctx context.Context) error {
	state := "scrobbler-auth-state"
	authURL := s.auth.AuthURL(state)

	fmt.Printf("Please visit the following URL to authorize Spotify access:\n%s\n", authURL)
	fmt.Print("Enter the authorization code: ")

	var code string
	if _, err := fmt.Scanln(&code); err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	token, err := s.auth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	if saveErr := s.saveToken(token); saveErr != nil {
		s.logger.Warn("Failed to save token", zap.Error(saveErr))
	}

	client := spotify.New(s.auth.Client(ctx, token))
	s.setClient(client)

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}

	s.logger.Info("OAuth flow completed successfully", zap.String("user", user.DisplayName))
	return nil
}

func (s *Source) loadToken() (*oauth2.Token, error) {
	file, err := os.Open(s.config.TokenPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	var tokenData TokenData
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return nil, err
	}
	if tokenData.Token == nil {
		return nil, fmt.Errorf("token file %s holds no token", s.config.TokenPath)
	}

	return tokenData.Token, nil
}

func (s *Source) saveToken(token *oauth2.Token) error {
	tokenData := TokenData{Token: token}

	data, err := json.MarshalIndent(tokenData, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.config.TokenPath, data, FilePermission)
}
