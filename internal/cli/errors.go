// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/config"
	"github.com/jeranaias/rigrun-research/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrLoginRequired is returned when the session guard redirects a command.
var ErrLoginRequired = errors.New("authentication required: run `research login`")

// ConfigError wraps a failure to load or validate configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoginError carries the message of a failed login result.
type LoginError struct {
	Message string
}

func (e *LoginError) Error() string {
	return e.Message
}

// UsageError reports invalid arguments.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	var (
		cfgErr   *ConfigError
		loginErr *LoginError
		usageErr *UsageError
		verrs    config.ValidateErrors
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usageErr), errors.Is(err, apierr.ErrValidation):
		return ExitUsageError
	case errors.As(err, &cfgErr), errors.As(err, &verrs):
		return ExitConfigError
	case errors.Is(err, ErrLoginRequired), errors.As(err, &loginErr), errors.Is(err, apierr.ErrAuth):
		return ExitAuthError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.Is(err, apierr.ErrTransport):
		return ExitNetworkError
	case errors.Is(err, storage.ErrEntryNotFound):
		return ExitNotFoundError
	default:
		return ExitGeneralError
	}
}

// FormatError renders err for the terminal.
func FormatError(err error) string {
	msg := err.Error()
	if detail := apierr.Detail(err); detail != "" && errors.Is(err, apierr.ErrAuth) {
		msg = detail
	}
	return ErrorStyle.Render("Error:") + " " + msg
}
