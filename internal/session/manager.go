// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/metrics"
	"github.com/jeranaias/rigrun-research/internal/tokenstore"
)

// Messages returned in LoginResult.Error when the server gives no detail.
const (
	MsgLoginFailed     = "Login failed"
	MsgNetworkError    = "Network error"
	MsgMissingFields   = "Username and password are required"
	MsgAuthDisabled    = "Authentication is disabled on this server"
	MsgCheckIncomplete = "Session check has not completed"
)

// AuthBackend is the server side of the session: posture, credential
// exchange, token validation and logout.
type AuthBackend interface {
	// Status reports whether the server requires authentication.
	Status(ctx context.Context) (enabled bool, err error)
	// Login exchanges credentials for a token.
	Login(ctx context.Context, username, password string) (token string, id Identity, err error)
	// Me validates token and returns its identity.
	Me(ctx context.Context, token string) (Identity, error)
	// Logout tells the server the current token is no longer in use.
	Logout(ctx context.Context) error
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager owns the session for the lifetime of the process.
type Manager struct {
	mu sync.Mutex

	backend AuthBackend
	store   tokenstore.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	state     State
	identity  *Identity
	token     string
	checkedAt time.Time

	// Callbacks
	listeners []func(Snapshot)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records state changes and login attempts.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a Manager in the Checking state.
func NewManager(backend AuthBackend, store tokenstore.Store, opts ...Option) *Manager {
	if store == nil {
		store = tokenstore.Unavailable{}
	}
	m := &Manager{
		backend: backend,
		store:   store,
		state:   StateChecking,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("session")
	m.metrics.SessionState(StateChecking.String(), stateNames())
	return m
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// CheckedAt returns when Init last completed, or the zero time.
func (m *Manager) CheckedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkedAt
}

// OnChange registers fn to be called with the new snapshot after every
// transition. Callbacks run synchronously on the goroutine that caused it.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// =============================================================================
// STARTUP
// =============================================================================

// Init determines the server posture and validates any cached token.
// It never fails: an unreachable server resolves to Disabled.
func (m *Manager) Init(ctx context.Context) Snapshot {
	m.transition(StateChecking, nil, "")

	enabled, err := m.backend.Status(ctx)
	if err != nil {
		// SECURITY: Fail-open. See package documentation.
		m.logger.Warn("auth status check failed; assuming authentication is disabled", zap.Error(err))
		return m.finishCheck(StateDisabled, anonymous(), "")
	}
	if !enabled {
		m.logger.Debug("authentication disabled on server")
		return m.finishCheck(StateDisabled, anonymous(), "")
	}

	token, ok := m.store.Get()
	if !ok {
		return m.finishCheck(StateUnauthenticated, nil, "")
	}

	id, err := m.backend.Me(ctx, token)
	if err != nil {
		m.logger.Info("cached token rejected; clearing",
			zap.String("fingerprint", tokenstore.Fingerprint(token)),
			zap.Error(err),
		)
		m.store.Clear()
		return m.finishCheck(StateUnauthenticated, nil, "")
	}

	m.logger.Debug("cached token validated", zap.String("username", id.Username))
	return m.finishCheck(StateAuthenticated, &id, token)
}

func (m *Manager) finishCheck(state State, id *Identity, token string) Snapshot {
	m.mu.Lock()
	m.checkedAt = time.Now()
	m.mu.Unlock()
	return m.transition(state, id, token)
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

// Login exchanges credentials for a token. On success the token is stored
// and the session becomes Authenticated. On failure the session is left
// unchanged and the result carries the reason.
func (m *Manager) Login(ctx context.Context, username, password string) LoginResult {
	switch m.Snapshot().State {
	case StateDisabled:
		return LoginResult{Error: MsgAuthDisabled}
	case StateChecking:
		return LoginResult{Error: MsgCheckIncomplete}
	}
	if strings.TrimSpace(username) == "" || password == "" {
		return LoginResult{Error: MsgMissingFields}
	}

	token, id, err := m.backend.Login(ctx, username, password)
	if err != nil {
		m.metrics.Login(false)
		m.logger.Info("login failed", zap.String("username", username), zap.Error(err))
		return LoginResult{Error: loginFailureMessage(err)}
	}

	m.store.Set(token)
	if id.Username == "" {
		id.Username = username
	}
	m.metrics.Login(true)
	m.logger.Info("login succeeded",
		zap.String("username", id.Username),
		zap.String("fingerprint", tokenstore.Fingerprint(token)),
	)
	m.transition(StateAuthenticated, &id, token)
	return LoginResult{Success: true}
}

func loginFailureMessage(err error) string {
	if errors.Is(err, apierr.ErrTransport) {
		return MsgNetworkError
	}
	if detail := apierr.Detail(err); detail != "" {
		return detail
	}
	return MsgLoginFailed
}

// Logout notifies the server on a best-effort basis, then clears the token
// store and the local identity. The server call's outcome never blocks the
// local logout.
func (m *Manager) Logout(ctx context.Context) {
	// The notification goes first so the gateway can still attach the token
	if err := m.backend.Logout(ctx); err != nil {
		m.logger.Debug("server logout failed; clearing local session anyway", zap.Error(err))
	}
	m.store.Clear()

	switch m.Snapshot().State {
	case StateDisabled:
		// Anonymous access continues; there was never a token
		return
	case StateChecking:
		return
	}
	m.transition(StateUnauthenticated, nil, "")
	m.logger.Info("logged out")
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (m *Manager) transition(state State, id *Identity, token string) Snapshot {
	m.mu.Lock()
	changed := m.state != state || m.token != token || !sameIdentity(m.identity, id)
	m.state = state
	m.identity = id
	m.token = token
	snap := m.snapshotLocked()
	listeners := append([]func(Snapshot){}, m.listeners...)
	m.mu.Unlock()

	if !changed {
		return snap
	}
	m.metrics.SessionState(state.String(), stateNames())
	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state, Token: m.token}
	if m.identity != nil {
		id := *m.identity
		snap.Identity = &id
	}
	return snap
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func anonymous() *Identity {
	id := Anonymous()
	return &id
}

func stateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = s.String()
	}
	return names
}
