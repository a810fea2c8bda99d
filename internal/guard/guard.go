// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package guard decides whether a resource may be shown for the current
// session, must wait for the session check, or must redirect to login.
package guard

import (
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-research/internal/session"
)

// =============================================================================
// DECISION
// =============================================================================

// Kind is the outcome of a guard decision.
type Kind int

const (
	// Wait means the session check has not completed; show a placeholder
	// and do not redirect.
	Wait Kind = iota
	// Allow means the resource may be shown.
	Allow
	// Redirect means the user must log in first.
	Redirect
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Wait:
		return "wait"
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "invalid"
	}
}

// Decide is the pure guard function.
func Decide(posture session.Posture, authenticated, pathIsPublic bool) Kind {
	switch posture {
	case session.PostureUnknown:
		return Wait
	case session.PostureDisabled:
		return Allow
	}
	if authenticated || pathIsPublic {
		return Allow
	}
	return Redirect
}

// Decision is a Kind plus the redirect target, when there is one.
type Decision struct {
	Kind   Kind
	Target string
}

// =============================================================================
// POLICY
// =============================================================================

// Policy names the login surface and the paths reachable without a session.
type Policy struct {
	LoginPath   string
	PublicPaths []string
}

// DefaultPolicy returns a policy where only the login surface is public.
func DefaultPolicy() Policy {
	return Policy{LoginPath: "/login", PublicPaths: []string{"/login"}}
}

// IsPublic reports whether path starts with any public prefix.
func (p Policy) IsPublic(path string) bool {
	for _, prefix := range p.PublicPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Decide applies the policy to snap and path.
func (p Policy) Decide(snap session.Snapshot, path string) Decision {
	kind := Decide(snap.Posture(), snap.Authenticated(), p.IsPublic(path))
	if kind == Redirect {
		return Decision{Kind: Redirect, Target: p.LoginPath}
	}
	return Decision{Kind: kind}
}

// =============================================================================
// GUARD
// =============================================================================

// Guard re-evaluates the policy as its inputs change and fires the redirect
// action once per transition into Redirect.
type Guard struct {
	mu         sync.Mutex
	policy     Policy
	onRedirect func(target string)
	path       string
	last       Decision
	evaluated  bool
}

// New creates a Guard. onRedirect may be nil.
func New(policy Policy, onRedirect func(target string)) *Guard {
	return &Guard{policy: policy, onRedirect: onRedirect}
}

// Policy returns the guard's policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Evaluate decides for snap at path. Repeated evaluations that stay in
// Redirect do not repeat the redirect action.
func (g *Guard) Evaluate(snap session.Snapshot, path string) Decision {
	d := g.policy.Decide(snap, path)

	g.mu.Lock()
	fire := d.Kind == Redirect && (!g.evaluated || g.last != d)
	g.last = d
	g.path = path
	g.evaluated = true
	onRedirect := g.onRedirect
	g.mu.Unlock()

	if fire && onRedirect != nil {
		onRedirect(d.Target)
	}
	return d
}

// Last returns the most recent decision.
func (g *Guard) Last() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Navigate re-evaluates the current session for a new path.
func (g *Guard) Navigate(m *session.Manager, path string) Decision {
	return g.Evaluate(m.Snapshot(), path)
}

// Watch re-evaluates the last path whenever the session changes.
func (g *Guard) Watch(m *session.Manager) {
	m.OnChange(func(snap session.Snapshot) {
		g.mu.Lock()
		path := g.path
		g.mu.Unlock()
		g.Evaluate(snap, path)
	})
}
