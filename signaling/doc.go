// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling negotiates a real-time media session with a
// counterpart peer using only pub/sub topics: no signaling server,
// no dedicated socket. A Session owns one pion PeerConnection and
// drives an explicit state machine (idle, connecting, negotiating,
// connected, with terminal failed and closed) from a single inbound
// dispatch entry point.
//
// The two signaling topics give no cross-topic ordering guarantee,
// so an ICE candidate may arrive before the SDP answer it belongs
// to. Early candidates are buffered in arrival order and applied
// after the remote description is set; they are never dropped.
package signaling
