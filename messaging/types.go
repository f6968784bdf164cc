// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"strings"
)

// Message is one pub/sub message. SenderID is the transport-level
// identity tag (an MQTT 5 user property on the wire) that lets a
// responder address its reply when the topic itself carries no
// requester identity.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	SenderID string
}

// Handler receives inbound messages for one subscribed filter.
// Handlers for a given subscription are invoked sequentially in
// publish order; they must not block indefinitely.
type Handler func(msg Message)

// Conn is the pub/sub surface shared by the protocol components. It
// is implemented by [Client] (real broker) and by the connections of
// [MemoryBroker] (tests).
type Conn interface {
	// Identity returns the peer identity this connection publishes
	// under. Outbound messages with an empty SenderID are tagged
	// with it.
	Identity() string

	// Publish sends one message. Publishing is fire-and-forget at
	// the component level; the connection serializes its own writes.
	Publish(ctx context.Context, msg Message) error

	// Subscribe registers handler for every message matching filter.
	// Subscribing the same filter again adds another handler without
	// duplicating broker-side subscriptions.
	Subscribe(ctx context.Context, filter string, handler Handler) error

	// Unsubscribe removes the filter and all its handlers.
	Unsubscribe(ctx context.Context, filter string) error
}

// Transport connection status values.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ConnectionState reports the transport connection status. It is
// independent of any signaling session state: the same transport
// serves every protocol concern.
type ConnectionState struct {
	Transport        Status
	ReconnectAttempt int
}

// StateHandler observes transport state changes. Invoked from the
// connection's own goroutines; implementations must return promptly.
type StateHandler func(state ConnectionState)

// MQTT 5 user property keys for the per-message identity tag.
const (
	ClientIDProperty      = "MCP-MQTT-CLIENT-ID"
	ComponentTypeProperty = "MCP-COMPONENT-TYPE"
)

// Component type values carried in the ComponentTypeProperty tag.
const (
	ComponentClient = "mcp-client"
	ComponentServer = "mcp-server"
)

// Namespace returns the first topic level with any "$" prefix
// stripped, used as the metrics label for a topic ("$mcp-rpc/a/b"
// yields "mcp-rpc").
func Namespace(topic string) string {
	first, _, _ := strings.Cut(topic, "/")
	return strings.TrimPrefix(first, "$")
}
