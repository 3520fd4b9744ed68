package lastfm

import (
	"context"
	"crypto/md5" //nolint:gosec // test mirrors the signing scheme
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"scrobbler/internal/core"
)

const (
	testAPIKey = "test-key"
	testSecret = "test-secret"
)

func newTestClient(serverURL string) *Client {
	config := &core.LastFMConfig{
		APIKey:            testAPIKey,
		SharedSecret:      testSecret,
		BaseURL:           serverURL + "/2.0/",
		AuthURL:           "https://www.last.fm/api/auth/",
		RequestsPerSecond: 1000,
		RequestTimeout:    5 * time.Second,
	}
	return NewClient(config, nil, zap.NewNop())
}

func writeXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>`+body)
}

// verifySignature checks api_sig against the other parameters of the request.
func verifySignature(t *testing.T, params url.Values) {
	t.Helper()
	got := params.Get("api_sig")
	if got == "" {
		t.Errorf("request for %s is not signed", params.Get("method"))
		return
	}
	if expected := Sign(params, testSecret); got != expected {
		t.Errorf("api_sig = %q, expected %q", got, expected)
	}
}

func TestSign_OrderIndependent(t *testing.T) {
	first := url.Values{}
	first.Set("b", "2")
	first.Set("a", "1")

	second := url.Values{}
	second.Set("a", "1")
	second.Set("b", "2")

	if Sign(first, "secret") != Sign(second, "secret") {
		t.Error("Sign() depends on insertion order")
	}

	sum := md5.Sum([]byte("a1b2secret")) //nolint:gosec // see import
	if expected := hex.EncodeToString(sum[:]); Sign(first, "secret") != expected {
		t.Errorf("Sign() = %q, expected %q", Sign(first, "secret"), expected)
	}
}

func TestSign_IgnoresFormatCallbackAndSignature(t *testing.T) {
	base := url.Values{}
	base.Set("method", "auth.gettoken")
	base.Set("api_key", testAPIKey)

	extended := url.Values{}
	extended.Set("method", "auth.gettoken")
	extended.Set("api_key", testAPIKey)
	extended.Set("format", "json")
	extended.Set("callback", "cb")
	extended.Set("api_sig", "stale")

	if Sign(base, testSecret) != Sign(extended, testSecret) {
		t.Error("Sign() includes format, callback or api_sig")
	}
}

func TestClient_GetToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, expected GET", r.Method)
		}
		query := r.URL.Query()
		if query.Get("method") != "auth.gettoken" {
			t.Errorf("api method = %q, expected auth.gettoken", query.Get("method"))
		}
		if query.Get("api_key") != testAPIKey {
			t.Errorf("api_key = %q, expected %q", query.Get("api_key"), testAPIKey)
		}
		verifySignature(t, query)
		writeXML(w, http.StatusOK, `<lfm status="ok"><token>abc123</token></lfm>`)
	}))
	defer server.Close()

	token, err := newTestClient(server.URL).GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if token != "abc123" {
		t.Errorf("GetToken() = %q, expected %q", token, "abc123")
	}
}

func TestClient_GetSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("token") != "abc123" {
			t.Errorf("token = %q, expected abc123", query.Get("token"))
		}
		verifySignature(t, query)
		writeXML(w, http.StatusOK,
			`<lfm status="ok"><session><name>listener</name><key>sk-42</key><subscriber>0</subscriber></session></lfm>`)
	}))
	defer server.Close()

	key, err := newTestClient(server.URL).GetSession(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if key != "sk-42" {
		t.Errorf("GetSession() = %q, expected %q", key, "sk-42")
	}
}

func TestClient_GetSession_UnauthorizedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeXML(w, http.StatusForbidden,
			`<lfm status="failed"><error code="14">This token has not been authorized</error></lfm>`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetSession(context.Background(), "abc123")
	if !IsUnauthorizedToken(err) {
		t.Fatalf("GetSession() error = %v, expected unauthorized token", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("error is not an APIError")
	}
	if apiErr.Message != "This token has not been authorized" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if IsTransient(err) {
		t.Error("IsTransient() = true for unauthorized token")
	}
}

func TestClient_TrackInfo(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		query := r.URL.Query()
		if query.Get("api_sig") != "" {
			t.Error("track.getInfo must not be signed")
		}
		if query.Get("track") != "Believe" || query.Get("artist") != "Cher" {
			t.Errorf("lookup = %q by %q", query.Get("track"), query.Get("artist"))
		}
		writeXML(w, http.StatusOK, `<lfm status="ok"><track>
			<name>Believe</name>
			<duration>240000</duration>
			<artist><name>Cher</name><mbid>bfcc6d75-a6a5-4bc6-8282-47aec8531818</mbid></artist>
			<album artist="Cher"><artist>Cher</artist><title>Believe</title></album>
		</track></lfm>`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	info, err := client.TrackInfo(context.Background(), "Believe", "Cher")
	if err != nil {
		t.Fatalf("TrackInfo() error = %v", err)
	}

	if info.Duration != 4*time.Minute {
		t.Errorf("Duration = %v, expected %v", info.Duration, 4*time.Minute)
	}
	if info.Album != "Believe" {
		t.Errorf("Album = %q, expected %q", info.Album, "Believe")
	}
	if info.ArtistMBID != "bfcc6d75-a6a5-4bc6-8282-47aec8531818" {
		t.Errorf("ArtistMBID = %q", info.ArtistMBID)
	}

	if _, err := client.TrackInfo(context.Background(), "Believe", "Cher"); err != nil {
		t.Fatalf("cached TrackInfo() error = %v", err)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, expected 1 (second lookup cached)", requests.Load())
	}
}

func TestClient_TrackInfo_NotFound(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		writeXML(w, http.StatusOK, `<lfm status="failed"><error code="6">Track not found</error></lfm>`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for range 2 {
		_, err := client.TrackInfo(context.Background(), "Unknown", "Nobody")
		if !errors.Is(err, core.ErrTrackNotFound) {
			t.Fatalf("TrackInfo() error = %v, expected %v", err, core.ErrTrackNotFound)
		}
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, expected 1 (not found is cached)", requests.Load())
	}
}

func TestClient_TrackInfo_OtherErrorsPropagate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeXML(w, http.StatusOK, `<lfm status="failed"><error code="10">Invalid API key</error></lfm>`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).TrackInfo(context.Background(), "Song", "Band")
	if err == nil || errors.Is(err, core.ErrTrackNotFound) {
		t.Fatalf("TrackInfo() error = %v, expected API error", err)
	}
}

func TestClient_Scrobble(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	batch := []*core.TrackMetadata{
		{Track: "One", Artist: "Band", Album: "Record", Duration: 3 * time.Minute, PlayingSince: start, TrackNumber: 1},
		{Track: "Two", Artist: "Band", Duration: 200 * time.Second, PlayingSince: start.Add(3 * time.Minute)},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, expected POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
			return
		}
		form := r.PostForm
		verifySignature(t, form)

		expected := map[string]string{
			"method":         "track.scrobble",
			"sk":             "sk-42",
			"artist[0]":      "Band",
			"track[0]":       "One",
			"album[0]":       "Record",
			"trackNumber[0]": "1",
			"timestamp[0]":   fmt.Sprint(start.Unix()),
			"duration[0]":    "180",
			"track[1]":       "Two",
			"timestamp[1]":   fmt.Sprint(start.Add(3 * time.Minute).Unix()),
			"duration[1]":    "200",
		}
		for key, value := range expected {
			if form.Get(key) != value {
				t.Errorf("%s = %q, expected %q", key, form.Get(key), value)
			}
		}
		if _, ok := form["album[1]"]; ok {
			t.Error("album[1] sent for track without album")
		}

		writeXML(w, http.StatusOK, `<lfm status="ok"><scrobbles accepted="1" ignored="1">
			<scrobble><track corrected="0">One</track></scrobble>
			<scrobble><track corrected="0">Two</track></scrobble>
		</scrobbles></lfm>`)
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Scrobble(context.Background(), "sk-42", batch)
	if err != nil {
		t.Fatalf("Scrobble() error = %v", err)
	}
	if result.Accepted != 1 || result.Ignored != 1 {
		t.Errorf("Scrobble() = %+v, expected 1 accepted and 1 ignored", result)
	}
}

func TestClient_Scrobble_RejectsOversizedBatch(t *testing.T) {
	batch := make([]*core.TrackMetadata, MaxScrobbleBatch+1)
	for i := range batch {
		batch[i] = &core.TrackMetadata{Track: fmt.Sprint(i), Artist: "Band"}
	}

	if _, err := newTestClient("http://127.0.0.1:0").Scrobble(context.Background(), "sk", batch); err == nil {
		t.Error("Scrobble() error = nil for oversized batch")
	}
}

func TestClient_UpdateNowPlaying(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
			return
		}
		form := r.PostForm
		verifySignature(t, form)
		if form.Get("method") != "track.updateNowPlaying" {
			t.Errorf("method = %q", form.Get("method"))
		}
		if form.Get("albumArtist") != "Various Artists" {
			t.Errorf("albumArtist = %q", form.Get("albumArtist"))
		}
		if form.Get("duration") != "215" {
			t.Errorf("duration = %q, expected 215", form.Get("duration"))
		}
		writeXML(w, http.StatusOK, `<lfm status="ok"><nowplaying><track corrected="0">Song</track></nowplaying></lfm>`)
	}))
	defer server.Close()

	track := &core.TrackMetadata{
		Track:       "Song",
		Artist:      "Band",
		AlbumArtist: "Various Artists",
		Duration:    215 * time.Second,
	}
	if err := newTestClient(server.URL).UpdateNowPlaying(context.Background(), "sk-42", track); err != nil {
		t.Fatalf("UpdateNowPlaying() error = %v", err)
	}
}

func TestClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprint(w, "<html>bad gateway</html>")
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetToken(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("GetToken() error = %v, expected transport failure", err)
	}
	if !IsTransient(err) {
		t.Error("IsTransient() = false for transport failure")
	}
}

func TestClient_AuthorizationURL(t *testing.T) {
	client := newTestClient("http://example.invalid")
	expected := "https://www.last.fm/api/auth/?api_key=test-key&token=tok"
	if got := client.AuthorizationURL("tok"); got != expected {
		t.Errorf("AuthorizationURL() = %q, expected %q", got, expected)
	}
}
