// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/gateway"
)

// Endpoints are the auth paths on the backend.
type Endpoints struct {
	Status string
	Login  string
	Me     string
	Logout string
}

// DefaultEndpoints returns the backend's auth routes.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Status: "/api/auth/status",
		Login:  "/api/auth/login",
		Me:     "/api/auth/me",
		Logout: "/api/auth/logout",
	}
}

type statusResponse struct {
	AuthEnabled bool `json:"auth_enabled"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// HTTPBackend implements AuthBackend over the gateway.
type HTTPBackend struct {
	gw        *gateway.Client
	endpoints Endpoints
}

var _ AuthBackend = (*HTTPBackend)(nil)

// NewHTTPBackend creates an HTTPBackend. Empty endpoint fields use the defaults.
func NewHTTPBackend(gw *gateway.Client, endpoints Endpoints) *HTTPBackend {
	defaults := DefaultEndpoints()
	if endpoints.Status == "" {
		endpoints.Status = defaults.Status
	}
	if endpoints.Login == "" {
		endpoints.Login = defaults.Login
	}
	if endpoints.Me == "" {
		endpoints.Me = defaults.Me
	}
	if endpoints.Logout == "" {
		endpoints.Logout = defaults.Logout
	}
	return &HTTPBackend{gw: gw, endpoints: endpoints}
}

// Status implements AuthBackend. A non-2xx response or an undecodable body
// is an error, which Manager treats like an unreachable server.
func (b *HTTPBackend) Status(ctx context.Context) (bool, error) {
	var out statusResponse
	if err := b.gw.DoJSON(ctx, http.MethodGet, b.endpoints.Status, nil, &out); err != nil {
		return false, err
	}
	return out.AuthEnabled, nil
}

// Login implements AuthBackend.
func (b *HTTPBackend) Login(ctx context.Context, username, password string) (string, Identity, error) {
	var out loginResponse
	in := loginRequest{Username: username, Password: password}
	if err := b.gw.DoJSON(ctx, http.MethodPost, b.endpoints.Login, in, &out); err != nil {
		return "", Identity{}, err
	}
	if out.Token == "" {
		return "", Identity{}, &apierr.ProtocolError{Op: "POST " + b.endpoints.Login, Detail: "response has no token"}
	}
	return out.Token, Identity{Username: out.Username}, nil
}

// Me implements AuthBackend. The token is sent explicitly so validation
// does not depend on what the store currently holds.
func (b *HTTPBackend) Me(ctx context.Context, token string) (Identity, error) {
	req, err := b.gw.NewRequest(ctx, http.MethodGet, b.endpoints.Me, nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := b.gw.Do(req)
	if err != nil {
		return Identity{}, err
	}
	defer resp.Body.Close()

	body, err := gateway.ReadBody(resp)
	if err != nil {
		return Identity{}, &apierr.TransportError{Op: "GET " + b.endpoints.Me, Err: err}
	}
	if !apierr.IsSuccess(resp.StatusCode) {
		return Identity{}, apierr.FromResponse(resp, body)
	}

	var id Identity
	if err := json.Unmarshal(body, &id); err != nil || id.Username == "" {
		return Identity{}, &apierr.ProtocolError{Op: "GET " + b.endpoints.Me, Detail: "response has no username", Err: err}
	}
	return id, nil
}

// Logout implements AuthBackend.
func (b *HTTPBackend) Logout(ctx context.Context) error {
	return b.gw.DoJSON(ctx, http.MethodPost, b.endpoints.Logout, nil, nil)
}
