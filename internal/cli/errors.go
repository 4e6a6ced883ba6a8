// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes shared by every command.
//
// Commands always return errors; Execute decides how to display them and
// which exit code to use.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/azchat/internal/cloud"
	"github.com/jeranaias/azchat/internal/config"
	"github.com/jeranaias/azchat/internal/session"
	"github.com/jeranaias/azchat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitStorageError  = 9
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError represents invalid user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrNotFound returns a NotFoundError.
func ErrNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ErrUnsupportedFormat returns a ValidationError listing the valid formats.
func ErrUnsupportedFormat(format string, supported []string) error {
	return &ValidationError{
		Field:  "format",
		Value:  format,
		Reason: "must be one of " + strings.Join(supported, ", "),
	}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// ExitCode determines the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	var notFoundErr *NotFoundError
	var configErrs config.ValidateErrors
	var configErr config.ValidationError

	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, cloud.ErrInvalidModel),
		errors.Is(err, cloud.ErrInvalidInput):
		return ExitUsageError
	case errors.As(err, &notFoundErr):
		return ExitNotFoundError
	case errors.As(err, &configErrs),
		errors.As(err, &configErr),
		errors.Is(err, cloud.ErrNotConfigured):
		return ExitConfigError
	case errors.Is(err, session.ErrOffline),
		cloud.IsTransport(err),
		errors.Is(err, context.DeadlineExceeded):
		return ExitNetworkError
	case errors.Is(err, storage.ErrStorageFull),
		errors.Is(err, storage.ErrInvalidFormat):
		return ExitStorageError
	}
	if _, ok := cloud.IsUpstream(err); ok {
		return ExitNetworkError
	}
	return ExitGeneralError
}

// DisplayError prints err in the standard "[ERROR] ..." format. Session
// and completion errors are shown in their human-readable form.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), session.Describe(err))
}
