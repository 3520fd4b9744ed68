// Package auth manages the Last.fm token and session key lifecycle, including the interactive
// authorization flow on first run.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"scrobbler/internal/lastfm"
)

const (
	// TokenLifetime is how long Last.fm honours a request token
	TokenLifetime = 60 * time.Minute
	// TokenSafetyMargin is subtracted from TokenLifetime so tokens are replaced before they expire
	TokenSafetyMargin = 5 * time.Minute
	// SessionKeySetting is the credential store key holding the session key
	SessionKeySetting = "session_key"
)

var (
	// ErrNotAuthorized means the user did not authorize the token before retries ran out.
	ErrNotAuthorized = errors.New("token was not authorized")
	// ErrAuthFailed means authentication could not be established; it is fatal for the service.
	ErrAuthFailed = errors.New("authentication failed")
)

// State is a step of the authentication state machine.
type State int

const (
	// StateNoToken means no request token is held
	StateNoToken State = iota
	// StateHasToken means a valid request token is held
	StateHasToken
	// StateNoSession means a session exchange is needed
	StateNoSession
	// StateAwaitingUserAuthorization means the user has been sent to the authorization page
	StateAwaitingUserAuthorization
	// StateHasSession means a session key is held
	StateHasSession
	// StateAuthFailed means authorization was never granted
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateHasToken:
		return "has_token"
	case StateNoSession:
		return "no_session"
	case StateAwaitingUserAuthorization:
		return "awaiting_user_authorization"
	case StateHasSession:
		return "has_session"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Provider is the remote side of the token and session exchange.
type Provider interface {
	GetToken(ctx context.Context) (string, error)
	GetSession(ctx context.Context, token string) (string, error)
	AuthorizationURL(token string) string
}

// CredentialStore persists settings across restarts.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Authorizer sends the user to the authorization page.
type Authorizer interface {
	Authorize(ctx context.Context, url string) error
}

type token struct {
	value      string
	grantedAt  time.Time
	validUntil time.Time
}

// SessionManager owns the token and session key. All methods are safe for concurrent use.
// The Ensure methods are serialized with each other; State, SessionKey and Authenticated never
// wait for an exchange in progress.
type SessionManager struct {
	provider   Provider
	store      CredentialStore
	authorizer Authorizer
	policy     RetryPolicy
	logger     *zap.Logger
	now        func() time.Time
	sleep      SleepFunc

	// mu serializes token and session exchanges.
	mu    sync.Mutex
	token *token

	// stateMu guards the fields below so they can be read during an exchange.
	stateMu       sync.RWMutex
	state         State
	sessionKey    string
	onStateChange func(State)
}

// DefaultRetryPolicy retries session exchange while the token is still unauthorized:
// 15 attempts, 5s doubling up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 15,
		BaseDelay:   5 * time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   lastfm.IsUnauthorizedToken,
	}
}

func NewSessionManager(
	provider Provider,
	store CredentialStore,
	authorizer Authorizer,
	policy RetryPolicy,
	logger *zap.Logger,
) *SessionManager {
	if policy.Retryable == nil {
		policy.Retryable = lastfm.IsUnauthorizedToken
	}
	return &SessionManager{
		provider:   provider,
		store:      store,
		authorizer: authorizer,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
		state:      StateNoToken,
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (m *SessionManager) OnStateChange(fn func(State)) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.onStateChange = fn
}

// State returns the current authentication state.
func (m *SessionManager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// SessionKey returns the held session key, or "" before authentication.
func (m *SessionManager) SessionKey() string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.sessionKey
}

// Authenticated reports whether a session key is held.
func (m *SessionManager) Authenticated() bool {
	return m.SessionKey() != ""
}

// EnsureToken requests a new token when none is held or the held one is past its validity window.
func (m *SessionManager) EnsureToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureTokenLocked(ctx)
}

// EnsureSession makes sure a session key is held, loading it from the credential store or
// exchanging the token for one. Returns ErrNotAuthorized if the user never authorized the token.
func (m *SessionManager) EnsureSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureSessionLocked(ctx)
}

// EnsureAuthenticated runs EnsureToken then EnsureSession. Any failure is wrapped in ErrAuthFailed.
func (m *SessionManager) EnsureAuthenticated(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureTokenLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if err := m.ensureSessionLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return nil
}

func (m *SessionManager) ensureTokenLocked(ctx context.Context) error {
	now := m.now()
	if m.token != nil && now.Before(m.token.validUntil) {
		return nil
	}

	value, err := m.provider.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to request token: %w", err)
	}

	m.token = &token{
		value:      value,
		grantedAt:  now,
		validUntil: now.Add(TokenLifetime - TokenSafetyMargin),
	}
	if m.sessionKey == "" {
		m.setStateLocked(StateHasToken)
	}
	m.logger.Debug("Obtained request token", zap.Time("validUntil", m.token.validUntil))
	return nil
}

func (m *SessionManager) ensureSessionLocked(ctx context.Context) error {
	if m.sessionKey != "" {
		return nil
	}

	if key, ok, err := m.store.Get(ctx, SessionKeySetting); err != nil {
		m.logger.Warn("Failed to read stored session key", zap.Error(err))
	} else if ok && key != "" {
		m.setSessionKeyLocked(key)
		m.setStateLocked(StateHasSession)
		m.logger.Info("Loaded stored session key")
		return nil
	}

	if err := m.ensureTokenLocked(ctx); err != nil {
		return err
	}
	m.setStateLocked(StateNoSession)

	key, err := m.provider.GetSession(ctx, m.token.value)
	if err == nil {
		return m.adoptLocked(ctx, key)
	}
	if !m.policy.Retryable(err) {
		return fmt.Errorf("failed to get session: %w", err)
	}

	return m.awaitAuthorizationLocked(ctx)
}

// awaitAuthorizationLocked sends the user to the authorization page and polls the session
// exchange until they approve the token.
func (m *SessionManager) awaitAuthorizationLocked(ctx context.Context) error {
	authURL := m.provider.AuthorizationURL(m.token.value)
	m.setStateLocked(StateAwaitingUserAuthorization)
	m.logger.Info("Waiting for user to authorize the application", zap.String("url", authURL))

	if err := m.authorizer.Authorize(ctx, authURL); err != nil {
		m.logger.Warn("Failed to open authorization page, open it manually",
			zap.String("url", authURL),
			zap.Error(err))
	}

	tokenValue := m.token.value
	var key string
	err := m.policy.Do(ctx, m.sleep, func(ctx context.Context, attempt int) error {
		var callErr error
		key, callErr = m.provider.GetSession(ctx, tokenValue)
		if callErr != nil && m.policy.Retryable(callErr) {
			m.logger.Info("Authorization still pending",
				zap.Int("attempt", attempt+1),
				zap.Int("maxAttempts", m.policy.MaxAttempts))
		}
		return callErr
	})

	switch {
	case err == nil:
		return m.adoptLocked(ctx, key)
	case errors.Is(err, ErrRetriesExhausted):
		m.setStateLocked(StateAuthFailed)
		m.logger.Error("User did not authorize the application in time",
			zap.Int("attempts", m.policy.MaxAttempts))
		return ErrNotAuthorized
	default:
		return fmt.Errorf("failed to get session: %w", err)
	}
}

func (m *SessionManager) adoptLocked(ctx context.Context, key string) error {
	m.setSessionKeyLocked(key)
	m.setStateLocked(StateHasSession)

	if err := m.store.Set(ctx, SessionKeySetting, key); err != nil {
		m.logger.Warn("Failed to persist session key", zap.Error(err))
	}
	m.logger.Info("Authenticated with Last.fm")
	return nil
}

func (m *SessionManager) setSessionKeyLocked(key string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.sessionKey = key
}

func (m *SessionManager) setStateLocked(state State) {
	m.stateMu.Lock()
	from := m.state
	if from == state {
		m.stateMu.Unlock()
		return
	}
	m.state = state
	onStateChange := m.onStateChange
	m.stateMu.Unlock()

	m.logger.Debug("Authentication state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", state))
	if onStateChange != nil {
		onStateChange(state)
	}
}
