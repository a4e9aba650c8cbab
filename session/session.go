// Package session owns the authentication token pair and the identity
// decoded from it, persisted under the storage.KeyAuthToken entry.
//
// The identity is always exactly the decoding of the stored access
// credential, or both are absent. Tokens are decoded without signature
// verification; expiry and validity are enforced by the remote API on
// subsequent calls.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/internal/util"
	"github.com/jmcleod/emporia/storage"
)

// ErrInvalidToken is returned when an access credential cannot be decoded
// into an identity.
var ErrInvalidToken = errors.New("invalid access token")

// Authenticator is the part of the remote API the manager delegates to.
type Authenticator interface {
	Login(ctx context.Context, creds api.Credentials) (api.TokenPair, error)
	Refresh(ctx context.Context, refresh string) (api.RefreshResponse, error)
	Register(ctx context.Context, reg api.Registration) (*api.Account, error)
}

// Identity is the set of claims decoded from the access credential.
type Identity struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// DisplayName is the name shown for the identity.
func (i Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	return i.Email
}

// AuthSession pairs the stored credentials with their decoded identity.
type AuthSession struct {
	Tokens   api.TokenPair
	Identity Identity
}

// Manager owns the current session. It is safe for concurrent use.
type Manager struct {
	store  storage.Store
	auth   Authenticator
	logger *zap.Logger

	mu      sync.RWMutex
	current *AuthSession
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a logged-out manager. Call Restore to load a persisted session.
func NewManager(store storage.Store, auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		auth:   auth,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "session"))
	return m
}

// Restore loads the persisted token pair. A missing entry leaves the manager
// logged out; a corrupt entry or undecodable token is discarded and also
// leaves it logged out. A failed read leaves it logged out without touching
// the stored entry.
func (m *Manager) Restore() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil

	var tokens api.TokenPair
	err := storage.LoadJSON(m.store, storage.KeyAuthToken, &tokens)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		m.logger.Warn("reading persisted session failed", zap.Error(err))
		return
	}
	if err != nil {
		m.discardLocked("unreadable persisted session", err)
		return
	}
	id, err := Decode(tokens.Access)
	if err != nil {
		m.discardLocked("persisted access token does not decode", err)
		return
	}
	m.current = &AuthSession{Tokens: tokens, Identity: id}
	m.logger.Debug("session restored", zap.String("user_id", id.UserID))
}

func (m *Manager) discardLocked(reason string, cause error) {
	m.logger.Warn("resetting session state", zap.String("reason", reason), zap.Error(cause))
	if err := m.store.Delete(storage.KeyAuthToken); err != nil {
		m.logger.Warn("removing persisted session failed", zap.Error(err))
	}
}

// Login verifies credentials with the API, then persists and adopts the
// returned token pair.
func (m *Manager) Login(ctx context.Context, creds api.Credentials) (*AuthSession, error) {
	creds.Email = util.NormalizeEmail(creds.Email)
	tokens, err := m.auth.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	id, err := Decode(tokens.Access)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := storage.SaveJSON(m.store, storage.KeyAuthToken, tokens); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	m.current = &AuthSession{Tokens: tokens, Identity: id}
	m.logger.Info("logged in", zap.String("user_id", id.UserID), zap.String("role", id.Role))
	s := *m.current
	return &s, nil
}

// Logout clears the session in memory and in storage. Calling it while
// logged out is a no-op.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(storage.KeyAuthToken); err != nil {
		return fmt.Errorf("removing persisted session: %w", err)
	}
	if m.current != nil {
		m.logger.Info("logged out", zap.String("user_id", m.current.Identity.UserID))
	}
	m.current = nil
	return nil
}

// Invalidate drops a session the API no longer accepts. Persisted state is
// cleared on a best-effort basis.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.logger.Info("session invalidated", zap.String("user_id", m.current.Identity.UserID))
	m.current = nil
	if err := m.store.Delete(storage.KeyAuthToken); err != nil {
		m.logger.Warn("removing persisted session failed", zap.Error(err))
	}
}

// CurrentIdentity returns the logged-in identity, if any.
func (m *Manager) CurrentIdentity() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Identity{}, false
	}
	return m.current.Identity, true
}

// Current returns a copy of the current session, if any.
func (m *Manager) Current() (AuthSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return AuthSession{}, false
	}
	return *m.current, true
}

// AccessToken implements api.TokenSource.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.Tokens.Access
}

// Refresh exchanges the refresh credential for a new access credential and
// persists the updated pair. An AuthenticationError from the API means the
// refresh credential is no longer valid; the session is dropped.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	if m.current == nil {
		m.mu.RUnlock()
		return &api.AuthenticationError{Message: "not logged in"}
	}
	refresh := m.current.Tokens.Refresh
	m.mu.RUnlock()

	resp, err := m.auth.Refresh(ctx, refresh)
	if err != nil {
		var authErr *api.AuthenticationError
		if errors.As(err, &authErr) {
			m.Invalidate()
		}
		return err
	}
	id, err := Decode(resp.Access)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	tokens := api.TokenPair{Access: resp.Access, Refresh: refresh}
	if resp.Refresh != "" {
		tokens.Refresh = resp.Refresh
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.Tokens.Refresh != refresh {
		// Logged out or replaced while the call was in flight.
		return &api.AuthenticationError{Message: "session changed during refresh"}
	}
	if err := storage.SaveJSON(m.store, storage.KeyAuthToken, tokens); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	m.current = &AuthSession{Tokens: tokens, Identity: id}
	return nil
}

// Register creates an account. It does not log in.
func (m *Manager) Register(ctx context.Context, reg api.Registration) (*api.Account, error) {
	reg.Email = util.NormalizeEmail(reg.Email)
	if reg.Role == "" {
		reg.Role = api.RoleCustomer
	}
	acct, err := m.auth.Register(ctx, reg)
	if err != nil {
		return nil, err
	}
	m.logger.Info("account registered", zap.String("username", acct.Username))
	return acct, nil
}

// claims are the access-token claims the storefront API issues.
type claims struct {
	UserID   flexID `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// flexID accepts a numeric or string user identifier.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("user_id %s is not an integer", n)
	}
	*f = flexID(n.String())
	return nil
}

// Decode extracts the identity from an access credential without verifying
// its signature. A token without a user identifier does not decode.
func Decode(access string) (Identity, error) {
	if access == "" {
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(access, &c); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := Identity{
		UserID:   string(c.UserID),
		Username: c.Username,
		Email:    c.Email,
		Role:     c.Role,
	}
	if id.UserID == "" {
		id.UserID = c.Subject
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("%w: no user identifier", ErrInvalidToken)
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}
