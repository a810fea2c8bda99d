// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apierr defines the error taxonomy shared by every client that talks
// to the research backend.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// =============================================================================
// SENTINELS
// =============================================================================

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	// ErrTransport indicates the network was unreachable or the connection dropped.
	ErrTransport = errors.New("transport error")

	// ErrAuth indicates a missing, invalid or expired credential.
	ErrAuth = errors.New("authentication failed")

	// ErrProtocol indicates the server answered with an unexpected shape.
	ErrProtocol = errors.New("protocol error")

	// ErrValidation indicates the caller passed an empty or missing required field.
	ErrValidation = errors.New("validation error")

	// ErrStatus indicates a non-success status that is not an auth failure.
	ErrStatus = errors.New("unexpected status")
)

// =============================================================================
// TYPED ERRORS
// =============================================================================

// TransportError wraps a failure below the HTTP layer.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error so context cancellation stays visible.
func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// AuthError is returned for 401 and 403 responses.
type AuthError struct {
	Status     int
	StatusText string
	Detail     string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authentication failed (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.Status, e.StatusText)
}

// Is reports whether target is ErrAuth.
func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// ProtocolError describes a response that could not be understood.
type ProtocolError struct {
	Op     string
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// Unwrap returns the underlying decode error, if any.
func (e *ProtocolError) Unwrap() error { return e.Err }

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// ValidationError is returned before any network call when input is unusable.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Required builds the ValidationError for an empty required field.
func Required(field string) error {
	return &ValidationError{Field: field, Message: "must not be empty"}
}

// StatusError carries the status text of any other non-2xx response.
type StatusError struct {
	Status     int
	StatusText string
	Detail     string
}

// Error implements the error interface. The status text is the primary detail.
func (e *StatusError) Error() string {
	if e.Detail != "" && e.Detail != e.StatusText {
		return fmt.Sprintf("%s (HTTP %d): %s", e.StatusText, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.StatusText, e.Status)
}

// Is reports whether target is ErrStatus.
func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// =============================================================================
// RESPONSE MAPPING
// =============================================================================

// errorBody covers the two error shapes the backend and its proxy emit.
type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// FromResponse converts a non-2xx response and its (already read) body into
// an AuthError or StatusError.
func FromResponse(resp *http.Response, body []byte) error {
	text := StatusText(resp)
	detail := ParseDetail(body)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode, StatusText: text, Detail: detail}
	default:
		return &StatusError{Status: resp.StatusCode, StatusText: text, Detail: detail}
	}
}

// StatusText returns the reason phrase of resp, e.g. "Not Found" for "404 Not Found".
func StatusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// ParseDetail extracts the server-supplied message from an error body.
// Returns "" when the body is not a recognised JSON error object.
func ParseDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if eb.Detail != "" {
		return eb.Detail
	}
	return eb.Error
}

// Detail returns the server-supplied message carried by err, if any.
func Detail(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Detail
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Detail
	}
	return ""
}

// IsSuccess reports whether code is in the 2xx range.
func IsSuccess(code int) bool {
	return code >= 200 && code <= 299
}
