// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/peerlink-foundation/peerlink/capability"
	"github.com/peerlink-foundation/peerlink/lib/metrics"
	"github.com/peerlink-foundation/peerlink/messaging"
)

// Provider is the server side of the RPC endpoint: it announces the
// peer's presence, listens on the control topic and the per-consumer
// RPC topics, and dispatches requests to the capability registry.
//
// All inbound messages for the provider arrive on the connection's
// dispatch path in publish order; Provider keeps no mutable state of
// its own beyond the registry, so handlers need no locking.
type Provider struct {
	conn     messaging.Conn
	registry *capability.Registry
	name     string
	descr    string
	version  string
	qos      byte
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	// Name is the provider name embedded in topics and surfaced as
	// server_name in the presence record. Required; must not contain
	// topic separators or wildcards.
	Name string

	// Description is the human-readable description surfaced in the
	// presence record.
	Description string

	// Version is reported in the initialize response. Defaults to
	// "0.0.0" when empty.
	Version string

	// QoS for every published message.
	QoS byte
}

// NewProvider creates a provider endpoint over conn. The provider id
// is the connection's identity.
func NewProvider(conn messaging.Conn, registry *capability.Registry, config ProviderConfig, logger *slog.Logger, m *metrics.Metrics) (*Provider, error) {
	if conn == nil {
		return nil, fmt.Errorf("mcp: connection is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("mcp: registry is required")
	}
	if err := checkTopicSegment("provider name", config.Name); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	version := config.Version
	if version == "" {
		version = "0.0.0"
	}
	return &Provider{
		conn:     conn,
		registry: registry,
		name:     config.Name,
		descr:    config.Description,
		version:  version,
		qos:      config.QoS,
		logger:   logger,
		metrics:  m,
	}, nil
}

// ID returns the provider id (the connection identity).
func (p *Provider) ID() string { return p.conn.Identity() }

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// PresenceTopic returns the provider's retained presence topic. The
// transport's last-will should clear this topic so an ungraceful
// disconnect withdraws the announcement.
func (p *Provider) PresenceTopic() string {
	return PresenceTopic(p.ID(), p.name)
}

// Start subscribes the control topic and the RPC wildcard and
// publishes the presence announcement. Call Announce again after
// every reconnect: broker-side retained state survives, but a clean
// session start may not.
func (p *Provider) Start(ctx context.Context) error {
	control := ControlTopic(p.ID(), p.name)
	if err := p.conn.Subscribe(ctx, control, p.handleMessage); err != nil {
		return fmt.Errorf("subscribing control topic: %w", err)
	}
	rpc := RPCFilter(p.ID(), p.name)
	if err := p.conn.Subscribe(ctx, rpc, p.handleMessage); err != nil {
		return fmt.Errorf("subscribing rpc filter: %w", err)
	}
	return p.Announce(ctx)
}

// Stop withdraws the presence announcement and unsubscribes. The
// provider can be started again on the same connection.
func (p *Provider) Stop(ctx context.Context) error {
	withdrawErr := p.Withdraw(ctx)
	if err := p.conn.Unsubscribe(ctx, ControlTopic(p.ID(), p.name)); err != nil && withdrawErr == nil {
		withdrawErr = err
	}
	if err := p.conn.Unsubscribe(ctx, RPCFilter(p.ID(), p.name)); err != nil && withdrawErr == nil {
		withdrawErr = err
	}
	return withdrawErr
}

// Announce publishes the retained online announcement. Idempotent:
// republishing after a reconnect simply refreshes the retained
// record.
func (p *Provider) Announce(ctx context.Context) error {
	params, err := json.Marshal(presenceParams{
		ServerName:  p.name,
		Description: p.descr,
	})
	if err != nil {
		return fmt.Errorf("encoding presence params: %w", err)
	}
	envelope, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  onlineMethod,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding presence envelope: %w", err)
	}
	return p.conn.Publish(ctx, messaging.Message{
		Topic:   p.PresenceTopic(),
		Payload: envelope,
		QoS:     p.qos,
		Retain:  true,
	})
}

// Withdraw clears the retained announcement by publishing an empty
// retained payload.
func (p *Provider) Withdraw(ctx context.Context) error {
	return p.conn.Publish(ctx, messaging.Message{
		Topic:  p.PresenceTopic(),
		QoS:    p.qos,
		Retain: true,
	})
}

// handleMessage is the single inbound entry point for both the
// control topic and the RPC topics.
func (p *Provider) handleMessage(msg messaging.Message) {
	// The RPC topics are bidirectional; skip our own responses.
	if msg.SenderID == p.ID() {
		return
	}

	var req request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		p.logger.Warn("dropping malformed request", "topic", msg.Topic, "error", err)
		return
	}
	if req.Method == "" {
		// A response envelope from another consumer's exchange, or a
		// request with no method. Neither is addressable.
		return
	}
	if req.isNotification() {
		// Responses correlate by id; there is nothing to send back.
		p.logger.Debug("ignoring notification", "method", req.Method, "topic", msg.Topic)
		return
	}

	requester := p.requesterIdentity(msg)
	if requester == "" {
		p.logger.Warn("dropping request with no requester identity",
			"topic", msg.Topic, "method", req.Method)
		return
	}

	ctx := context.Background()
	switch req.Method {
	case "initialize":
		p.handleInitialize(ctx, requester, &req)
	case "ping":
		p.respond(ctx, requester, req.ID, json.RawMessage(`{}`), nil)
		p.count(req.Method, "ok")
	case "tools/list":
		p.handleToolsList(ctx, requester, &req)
	case "tools/call":
		p.handleToolsCall(ctx, requester, &req)
	default:
		// Unknown extension methods are ignored rather than answered
		// with -32601: counterparts probe with methods we do not
		// implement, and an error response would abort their session.
		p.logger.Warn("ignoring unknown method", "method", req.Method, "requester", requester)
		p.count(req.Method, "unknown")
	}
}

// requesterIdentity extracts who to respond to: the consumer segment
// of an RPC topic, or the per-message identity tag on the control
// topic (which embeds only the provider).
func (p *Provider) requesterIdentity(msg messaging.Message) string {
	if consumerID, _, _, err := ParseRPCTopic(msg.Topic); err == nil {
		return consumerID
	}
	return msg.SenderID
}

func (p *Provider) handleInitialize(ctx context.Context, requester string, req *request) {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			p.respond(ctx, requester, req.ID, nil, &rpcError{
				Code:    codeInvalidParams,
				Message: "invalid initialize params: " + err.Error(),
			})
			p.count(req.Method, "error")
			return
		}
	}
	p.logger.Info("consumer initialized",
		"requester", requester,
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version)

	p.respondResult(ctx, requester, req, InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    serverCapabilities{Tools: &toolCapability{}},
		ServerInfo:      ServerInfo{Name: p.name, Version: p.version},
	})
}

func (p *Provider) handleToolsList(ctx context.Context, requester string, req *request) {
	capabilities := p.registry.List()
	tools := make([]ToolDescription, len(capabilities))
	for i, c := range capabilities {
		tools[i] = ToolDescription{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: c.Schema,
		}
	}
	p.respondResult(ctx, requester, req, ToolsListResult{Tools: tools})
}

func (p *Provider) handleToolsCall(ctx context.Context, requester string, req *request) {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		p.respond(ctx, requester, req.ID, nil, &rpcError{
			Code:    codeInvalidParams,
			Message: "invalid tools/call params: " + err.Error(),
		})
		p.count(req.Method, "error")
		return
	}

	text, err := p.registry.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		if violations, ok := capability.AsValidation(err); ok {
			p.respond(ctx, requester, req.ID, nil, &rpcError{
				Code:    codeInvalidParams,
				Message: violations.Error(),
			})
			p.count(req.Method, "invalid")
			return
		}
		message := err.Error()
		if toolErr, ok := capability.AsToolError(err); ok {
			message = toolErr.Message
		}
		p.logger.Error("tool invocation failed", "tool", params.Name, "error", err)
		p.respond(ctx, requester, req.ID, nil, &rpcError{
			Code:    codeInternalError,
			Message: message,
		})
		p.count(req.Method, "error")
		return
	}

	p.respondResult(ctx, requester, req, ToolsCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	})
}

// respondResult marshals result and publishes exactly one response on
// the requester's RPC topic.
func (p *Provider) respondResult(ctx context.Context, requester string, req *request, result any) {
	encoded, err := json.Marshal(result)
	if err != nil {
		p.logger.Error("encoding result", "method", req.Method, "error", err)
		p.respond(ctx, requester, req.ID, nil, &rpcError{
			Code:    codeInternalError,
			Message: "encoding result: " + err.Error(),
		})
		p.count(req.Method, "error")
		return
	}
	p.respond(ctx, requester, req.ID, encoded, nil)
	p.count(req.Method, "ok")
}

func (p *Provider) respond(ctx context.Context, requester string, id json.RawMessage, result json.RawMessage, rpcErr *rpcError) {
	payload, err := json.Marshal(response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
		Error:   rpcErr,
	})
	if err != nil {
		p.logger.Error("encoding response", "error", err)
		return
	}
	topic := RPCTopic(requester, p.ID(), p.name)
	if err := p.conn.Publish(ctx, messaging.Message{
		Topic:   topic,
		Payload: payload,
		QoS:     p.qos,
	}); err != nil {
		p.logger.Error("publishing response", "topic", topic, "error", err)
	}
}

func (p *Provider) count(method, outcome string) {
	p.metrics.RPCRequest(method, outcome)
}

// checkTopicSegment rejects values that would corrupt topic routing.
func checkTopicSegment(what, value string) error {
	if value == "" {
		return fmt.Errorf("mcp: %s is required", what)
	}
	for _, r := range value {
		if r == '/' || r == '+' || r == '#' {
			return fmt.Errorf("mcp: %s %q contains topic separator or wildcard", what, value)
		}
	}
	return nil
}
