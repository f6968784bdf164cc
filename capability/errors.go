// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is one schema violation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return e.Reason
}

// ValidationErrors is the collected set of violations for one call.
// Validation never short-circuits, so a single response reports every
// problem at once.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	reasons := make([]string, len(e))
	for i, violation := range e {
		reasons[i] = violation.Reason
	}
	return "invalid arguments: " + strings.Join(reasons, "; ")
}

// ToolError is a handler failure, always caught by the registry and
// never allowed to propagate past it.
type ToolError struct {
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error: %s", e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// AsValidation extracts a ValidationErrors from err, if present.
func AsValidation(err error) (ValidationErrors, bool) {
	var violations ValidationErrors
	if errors.As(err, &violations) {
		return violations, true
	}
	return nil, false
}

// AsToolError extracts a *ToolError from err, if present.
func AsToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}
