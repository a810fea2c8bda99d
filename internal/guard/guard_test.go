// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-research/internal/session"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name          string
		posture       session.Posture
		authenticated bool
		public        bool
		want          Kind
	}{
		{"checking", session.PostureUnknown, false, false, Wait},
		{"checking public", session.PostureUnknown, false, true, Wait},
		{"disabled", session.PostureDisabled, false, false, Allow},
		{"enabled authenticated", session.PostureEnabled, true, false, Allow},
		{"enabled public", session.PostureEnabled, false, true, Allow},
		{"enabled private", session.PostureEnabled, false, false, Redirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.posture, tt.authenticated, tt.public))
		})
	}
}

func TestPolicy_Paths(t *testing.T) {
	p := DefaultPolicy()
	unauth := session.Snapshot{State: session.StateUnauthenticated}

	assert.Equal(t, Decision{Kind: Allow}, p.Decide(unauth, "/login"))
	assert.Equal(t, Decision{Kind: Redirect, Target: "/login"}, p.Decide(unauth, "/reports/1"))
	assert.True(t, p.IsPublic("/login/callback"))
	assert.False(t, p.IsPublic("/"))

	empty := Policy{LoginPath: "/login", PublicPaths: []string{""}}
	assert.False(t, empty.IsPublic("/anything"), "empty prefix never matches")
}

func TestGuard_RedirectIsIdempotent(t *testing.T) {
	var redirects []string
	g := New(DefaultPolicy(), func(target string) { redirects = append(redirects, target) })
	unauth := session.Snapshot{State: session.StateUnauthenticated}

	for i := 0; i < 3; i++ {
		assert.Equal(t, Redirect, g.Evaluate(unauth, "/reports/1").Kind)
	}
	assert.Equal(t, []string{"/login"}, redirects)

	// Leaving Redirect and coming back fires again
	g.Evaluate(unauth, "/login")
	g.Evaluate(unauth, "/reports/2")
	assert.Equal(t, []string{"/login", "/login"}, redirects)
}

func TestGuard_WaitDoesNotRedirect(t *testing.T) {
	fired := false
	g := New(DefaultPolicy(), func(string) { fired = true })
	d := g.Evaluate(session.Snapshot{State: session.StateChecking}, "/reports/1")
	assert.Equal(t, Wait, d.Kind)
	assert.False(t, fired)
}

// stubBackend accepts any credentials.
type stubBackend struct{ enabled bool }

func (s *stubBackend) Status(context.Context) (bool, error) { return s.enabled, nil }
func (s *stubBackend) Login(context.Context, string, string) (string, session.Identity, error) {
	return "tok", session.Identity{Username: "alice"}, nil
}
func (s *stubBackend) Me(context.Context, string) (session.Identity, error) {
	return session.Identity{Username: "alice"}, nil
}
func (s *stubBackend) Logout(context.Context) error { return nil }

func TestGuard_WatchFollowsSession(t *testing.T) {
	m := session.NewManager(&stubBackend{enabled: true}, nil)

	var redirects int
	g := New(DefaultPolicy(), func(string) { redirects++ })
	g.Watch(m)

	assert.Equal(t, Wait, g.Navigate(m, "/reports/1").Kind)

	m.Init(context.Background())
	assert.Equal(t, Redirect, g.Last().Kind)
	assert.Equal(t, 1, redirects)

	require.True(t, m.Login(context.Background(), "alice", "pw").Success)
	assert.Equal(t, Allow, g.Last().Kind)

	m.Logout(context.Background())
	assert.Equal(t, Redirect, g.Last().Kind)
	assert.Equal(t, 2, redirects)
}
