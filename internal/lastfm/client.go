// Package lastfm provides Last.fm Web Services integration for authentication, track lookup and scrobbling.
package lastfm

import (
	"context"
	"crypto/md5" //nolint:gosec // Last.fm request signatures are defined as md5
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scrobbler/internal/core"
)

const (
	// MaxScrobbleBatch is the maximum number of plays accepted by a single track.scrobble call
	MaxScrobbleBatch = 50
	// TrackInfoCacheSize bounds the number of remembered track.getInfo results
	TrackInfoCacheSize = 512
	// TrackInfoCacheTTL is how long a track.getInfo result is reused
	TrackInfoCacheTTL = time.Hour
	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 1 << 20
)

// Observer receives one measurement per API call.
type Observer interface {
	ObserveRequest(method, status string, duration time.Duration)
}

type Client struct {
	config     *core.LastFMConfig
	logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, trackInfoEntry]
	observer   Observer
}

type trackInfoEntry struct {
	track    *core.CatalogTrack
	notFound bool
}

// NewClient creates a Last.fm client. observer may be nil.
func NewClient(config *core.LastFMConfig, observer Observer, logger *zap.Logger) *Client {
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = core.DefaultLastFMRequestsPerSecond
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = core.DefaultRequestTimeoutSecs * time.Second
	}

	return &Client{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		cache:      expirable.NewLRU[string, trackInfoEntry](TrackInfoCacheSize, nil, TrackInfoCacheTTL),
		observer:   observer,
	}
}

// Sign computes the api_sig for params: every key and value except format, callback and api_sig,
// ordered by key, followed by the shared secret, hashed with md5.
func Sign(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		switch key {
		case "format", "callback", "api_sig":
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(params.Get(key))
	}
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String())) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// GetToken requests a new unauthorized request token.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("method", "auth.gettoken")

	resp, err := c.call(ctx, http.MethodGet, params, true)
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("failed to get token: empty token in response")
	}
	return resp.Token, nil
}

// GetSession exchanges an authorized token for a session key.
func (c *Client) GetSession(ctx context.Context, token string) (string, error) {
	params := url.Values{}
	params.Set("method", "auth.getsession")
	params.Set("token", token)

	resp, err := c.call(ctx, http.MethodGet, params, true)
	if err != nil {
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	if resp.Session.Key == "" {
		return "", fmt.Errorf("failed to get session: empty session key in response")
	}

	c.logger.Info("Obtained Last.fm session", zap.String("user", resp.Session.Name))
	return resp.Session.Key, nil
}

// AuthorizationURL returns the page where the user grants access for token.
func (c *Client) AuthorizationURL(token string) string {
	params := url.Values{}
	params.Set("api_key", c.config.APIKey)
	params.Set("token", token)
	return c.config.AuthURL + "?" + params.Encode()
}

// TrackInfo looks a track up in the catalog. Unknown tracks yield core.ErrTrackNotFound.
func (c *Client) TrackInfo(ctx context.Context, track, artist string) (*core.CatalogTrack, error) {
	cacheKey := artist + "\x1f" + track
	if entry, ok := c.cache.Get(cacheKey); ok {
		if entry.notFound {
			return nil, fmt.Errorf("%w: %s - %s", core.ErrTrackNotFound, artist, track)
		}
		return entry.track, nil
	}

	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("track", track)
	params.Set("artist", artist)

	resp, err := c.call(ctx, http.MethodGet, params, false)
	if err != nil {
		if IsNotFound(err) {
			c.cache.Add(cacheKey, trackInfoEntry{notFound: true})
			return nil, fmt.Errorf("%w: %s - %s", core.ErrTrackNotFound, artist, track)
		}
		return nil, fmt.Errorf("failed to get track info: %w", err)
	}

	info := convertTrack(&resp.Track)
	c.cache.Add(cacheKey, trackInfoEntry{track: info})
	return info, nil
}

// UpdateNowPlaying announces the track the user has started listening to.
func (c *Client) UpdateNowPlaying(ctx context.Context, sessionKey string, track *core.TrackMetadata) error {
	params := url.Values{}
	params.Set("method", "track.updateNowPlaying")
	params.Set("sk", sessionKey)
	params.Set("track", track.Track)
	params.Set("artist", track.Artist)
	if track.Album != "" {
		params.Set("album", track.Album)
	}
	if track.AlbumArtist != "" {
		params.Set("albumArtist", track.AlbumArtist)
	}
	if track.TrackNumber > 0 {
		params.Set("trackNumber", strconv.Itoa(track.TrackNumber))
	}
	if seconds := int(track.Duration / time.Second); seconds > 0 {
		params.Set("duration", strconv.Itoa(seconds))
	}

	if _, err := c.call(ctx, http.MethodPost, params, true); err != nil {
		return fmt.Errorf("failed to update now playing: %w", err)
	}
	return nil
}

// Scrobble submits up to MaxScrobbleBatch completed plays in one request.
func (c *Client) Scrobble(ctx context.Context, sessionKey string, batch []*core.TrackMetadata) (*core.ScrobbleResult, error) {
	if len(batch) == 0 {
		return &core.ScrobbleResult{}, nil
	}
	if len(batch) > MaxScrobbleBatch {
		return nil, fmt.Errorf("batch of %d plays exceeds the limit of %d", len(batch), MaxScrobbleBatch)
	}

	params := url.Values{}
	params.Set("method", "track.scrobble")
	params.Set("sk", sessionKey)
	for i, track := range batch {
		setIndexed(params, "artist", i, track.Artist)
		setIndexed(params, "track", i, track.Track)
		setIndexed(params, "timestamp", i, strconv.FormatInt(track.PlayingSince.Unix(), 10))
		setIndexed(params, "duration", i, strconv.Itoa(int(track.Duration/time.Second)))
		if track.Album != "" {
			setIndexed(params, "album", i, track.Album)
		}
		if track.AlbumArtist != "" {
			setIndexed(params, "albumArtist", i, track.AlbumArtist)
		}
		if track.TrackNumber > 0 {
			setIndexed(params, "trackNumber", i, strconv.Itoa(track.TrackNumber))
		}
	}

	resp, err := c.call(ctx, http.MethodPost, params, true)
	if err != nil {
		return nil, fmt.Errorf("failed to scrobble: %w", err)
	}

	return &core.ScrobbleResult{
		Accepted: resp.Scrobbles.Accepted,
		Ignored:  resp.Scrobbles.Ignored,
	}, nil
}

func setIndexed(params url.Values, key string, index int, value string) {
	params.Set(key+"["+strconv.Itoa(index)+"]", value)
}

// call performs one API request and decodes the response envelope.
func (c *Client) call(ctx context.Context, httpMethod string, params url.Values, signed bool) (*envelope, error) {
	method := params.Get("method")
	start := time.Now()

	resp, err := c.do(ctx, httpMethod, params, signed)
	if c.observer != nil {
		c.observer.ObserveRequest(method, callStatus(err), time.Since(start))
	}
	if err != nil {
		c.logger.Debug("Last.fm call failed",
			zap.String("method", method),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	c.logger.Debug("Last.fm call succeeded",
		zap.String("method", method),
		zap.Duration("took", time.Since(start)))
	return resp, nil
}

func (c *Client) do(ctx context.Context, httpMethod string, params url.Values, signed bool) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params.Set("api_key", c.config.APIKey)
	if signed {
		params.Set("api_sig", Sign(params, c.config.SharedSecret))
	}

	req, err := c.newRequest(ctx, httpMethod, params)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrTransport, err)
	}

	var env envelope
	if decodeErr := xml.Unmarshal(body, &env); decodeErr != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrTransport, decodeErr)
	}

	if env.Status != "ok" {
		if env.Error != nil {
			return nil, &APIError{Code: env.Error.Code, Message: strings.TrimSpace(env.Error.Message)}
		}
		return nil, fmt.Errorf("%w: response status %q with HTTP %d", ErrTransport, env.Status, resp.StatusCode)
	}

	return &env, nil
}

func (c *Client) newRequest(ctx context.Context, httpMethod string, params url.Values) (*http.Request, error) {
	if httpMethod == http.MethodGet {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+params.Encode(), http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		return req, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func callStatus(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &apiErr):
		return "api_error_" + strconv.Itoa(apiErr.Code)
	default:
		return "transport_error"
	}
}
