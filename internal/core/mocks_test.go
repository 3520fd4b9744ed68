package core

import (
	"context"
	"sync"
	"time"
)

type mockRemote struct {
	mu            sync.Mutex
	tracks        map[string]*CatalogTrack
	lookupErr     error
	lookups       int
	nowPlaying    []*TrackMetadata
	nowPlayingErr error
	scrobbled     [][]*TrackMetadata
	scrobbleErr   error
	sessionKeys   []string
}

func newMockRemote() *mockRemote {
	return &mockRemote{tracks: make(map[string]*CatalogTrack)}
}

func (m *mockRemote) addTrack(info *CatalogTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[info.Artist+"|"+info.Name] = info
}

func (m *mockRemote) TrackInfo(_ context.Context, track, artist string) (*CatalogTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	info, ok := m.tracks[artist+"|"+track]
	if !ok {
		return nil, ErrTrackNotFound
	}
	return info, nil
}

func (m *mockRemote) UpdateNowPlaying(_ context.Context, sessionKey string, track *TrackMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionKeys = append(m.sessionKeys, sessionKey)
	if m.nowPlayingErr != nil {
		return m.nowPlayingErr
	}
	m.nowPlaying = append(m.nowPlaying, track)
	return nil
}

func (m *mockRemote) Scrobble(_ context.Context, sessionKey string, batch []*TrackMetadata) (*ScrobbleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionKeys = append(m.sessionKeys, sessionKey)
	if m.scrobbleErr != nil {
		return nil, m.scrobbleErr
	}
	m.scrobbled = append(m.scrobbled, batch)
	return &ScrobbleResult{Accepted: len(batch)}, nil
}

func (m *mockRemote) scrobbleCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scrobbled)
}

func (m *mockRemote) nowPlayingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nowPlaying)
}

type mockAuth struct {
	mu    sync.Mutex
	err   error
	calls int
	key   string
}

func (m *mockAuth) EnsureAuthenticated(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *mockAuth) SessionKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

type mockLedger struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMockLedger() *mockLedger {
	return &mockLedger{keys: make(map[string]struct{})}
}

func (m *mockLedger) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

func (m *mockLedger) Add(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
}

type mockSource struct {
	mu        sync.Mutex
	changes   chan PlaybackChange
	status    PlaybackStatus
	statusErr error
	closed    bool
}

func newMockSource() *mockSource {
	return &mockSource{changes: make(chan PlaybackChange, 8)}
}

func (m *mockSource) Subscribe(_ context.Context) (<-chan PlaybackChange, error) {
	return m.changes, nil
}

func (m *mockSource) Status(_ context.Context) (PlaybackStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.statusErr
}

func (m *mockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func musicChange(title, artist string, duration time.Duration) PlaybackChange {
	return PlaybackChange{
		Title:    title,
		Artist:   artist,
		Album:    "Album",
		Duration: duration,
		Type:     PlaybackTypeMusic,
	}
}

func catalogTrack(title, artist string, duration time.Duration) *CatalogTrack {
	return &CatalogTrack{
		Name:     title,
		Artist:   artist,
		Album:    "Album",
		Duration: duration,
	}
}
