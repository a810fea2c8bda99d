// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// =============================================================================
// POSTURE
// =============================================================================

// Posture is the server's declared requirement for authenticated access.
type Posture int

const (
	// PostureUnknown holds until the first status check completes.
	PostureUnknown Posture = iota
	// PostureDisabled means the server accepts anonymous access.
	PostureDisabled
	// PostureEnabled means credentials are required.
	PostureEnabled
)

// String implements fmt.Stringer.
func (p Posture) String() string {
	switch p {
	case PostureDisabled:
		return "disabled"
	case PostureEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// =============================================================================
// STATE
// =============================================================================

// State is the session's position in its lifecycle.
type State int

const (
	StateChecking State = iota
	StateDisabled
	StateUnauthenticated
	StateAuthenticated
)

// AllStates lists every state, for metrics.
var AllStates = []State{StateChecking, StateDisabled, StateUnauthenticated, StateAuthenticated}

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateDisabled:
		return "disabled"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "invalid"
	}
}

// Posture returns the server posture implied by s.
func (s State) Posture() Posture {
	switch s {
	case StateDisabled:
		return PostureDisabled
	case StateUnauthenticated, StateAuthenticated:
		return PostureEnabled
	default:
		return PostureUnknown
	}
}

// =============================================================================
// IDENTITY AND SNAPSHOT
// =============================================================================

// Identity is the authenticated user.
type Identity struct {
	Username string `json:"username"`
}

// AnonymousUsername is the identity used when authentication is disabled.
const AnonymousUsername = "anonymous"

// Anonymous returns the fixed identity used when the server has auth disabled.
func Anonymous() Identity {
	return Identity{Username: AnonymousUsername}
}

// Snapshot is a read-only copy of the session.
//
// Disabled always carries the anonymous identity and no token. Under an
// enabled posture identity and token are either both set or both empty.
type Snapshot struct {
	State    State
	Identity *Identity
	Token    string
}

// Posture returns the server posture.
func (s Snapshot) Posture() Posture {
	return s.State.Posture()
}

// Authenticated reports whether the user may access protected resources.
// True when auth is disabled or a validated identity is present.
func (s Snapshot) Authenticated() bool {
	return s.State == StateDisabled || s.State == StateAuthenticated
}

// Username returns the identity's name, or "" when there is none.
func (s Snapshot) Username() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Username
}

// LoginResult is the typed outcome of Login. Error is a human-readable
// reason and is empty on success.
type LoginResult struct {
	Success bool
	Error   string
}
