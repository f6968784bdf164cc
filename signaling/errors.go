// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a negotiation failure.
type ErrorKind string

const (
	// MediaAcquisitionFailed: local media could not be acquired; the
	// session never left connecting.
	MediaAcquisitionFailed ErrorKind = "media_acquisition_failed"

	// ConnectionFailed: the peer connection failed to establish or
	// was lost (includes an unanswered offer).
	ConnectionFailed ErrorKind = "connection_failed"

	// Terminated: the counterpart ended the session before it
	// connected.
	Terminated ErrorKind = "terminated"
)

// NegotiationError is a signaling session failure. It is reported
// exactly once, through the session's state callback; sessions are
// not retried automatically.
type NegotiationError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("negotiation failed (%s): %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("negotiation failed (%s)", e.Kind)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// AsNegotiationError extracts a *NegotiationError from err.
func AsNegotiationError(err error) (*NegotiationError, bool) {
	var negotiationErr *NegotiationError
	if errors.As(err, &negotiationErr) {
		return negotiationErr, true
	}
	return nil, false
}
