// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"fmt"
)

// Signaling envelope types on the wire.
const (
	TypeOffer      = "sdp_offer"
	TypeAnswer     = "sdp_answer"
	TypeICE        = "ice_candidate"
	TypeTerminated = "webrtc_terminated"
)

// Envelope is one signaling message: `{type, data?, reason?}`.
type Envelope struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// SDPData is the payload of sdp_offer and sdp_answer envelopes.
type SDPData struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICEData is the payload of ice_candidate envelopes.
type ICEData struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

// InboundTopic is where the session receives signaling from the
// counterpart.
func InboundTopic(sessionID string) string {
	return "$webrtc/" + sessionID
}

// OutboundTopic is where the session publishes its own signaling.
func OutboundTopic(sessionID string) string {
	return "$webrtc/" + sessionID + "/multimedia_proxy"
}

// TextTopic is the ancillary text channel for a session.
func TextTopic(sessionID string) string {
	return "$message/" + sessionID
}

func encodeEnvelope(envelopeType string, data any, reason string) ([]byte, error) {
	envelope := Envelope{Type: envelopeType, Reason: reason}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s data: %w", envelopeType, err)
		}
		envelope.Data = encoded
	}
	return json.Marshal(envelope)
}
