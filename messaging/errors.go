// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	// ErrTimeout: no connection acknowledgment arrived within the
	// configured connect timeout.
	ErrTimeout ErrorKind = "timeout"

	// ErrRefused: the broker rejected the connection for a reason
	// other than authentication.
	ErrRefused ErrorKind = "refused"

	// ErrAuthFailed: the broker rejected the credentials.
	ErrAuthFailed ErrorKind = "auth_failed"
)

// TransportError is a structured connection failure. Callers can use
// errors.As to extract the kind:
//
//	var transportErr *TransportError
//	if errors.As(err, &transportErr) && transportErr.Kind == messaging.ErrAuthFailed { ... }
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("messaging: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("messaging: %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError checks whether err is a *TransportError of the
// given kind.
func IsTransportError(err error, kind ErrorKind) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Kind == kind
	}
	return false
}
