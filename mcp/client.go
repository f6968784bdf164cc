// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/peerlink-foundation/peerlink/lib/metrics"
	"github.com/peerlink-foundation/peerlink/messaging"
)

// Announcement is one provider's presence record as seen by a
// consumer.
type Announcement struct {
	ProviderID   string
	ProviderName string
	ServerName   string
	Description  string
}

// Consumer is the client side of the RPC endpoint: presence-based
// discovery plus correlated calls against a chosen provider.
//
// Calls carry fresh uuid request ids; the consumer subscribes to its
// own identity-qualified response topic before publishing so a fast
// response cannot be lost. No timeout is applied here — callers bound
// a call with ctx, and a response arriving after abandonment is
// discarded by id.
type Consumer struct {
	conn          messaging.Conn
	clientName    string
	clientVersion string
	qos           byte
	logger        *slog.Logger
	metrics       *metrics.Metrics

	mu         sync.Mutex
	pending    map[string]chan *response
	subscribed map[string]bool
	online     map[string]Announcement
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// ClientName identifies this consumer in initialize requests.
	ClientName string

	// ClientVersion accompanies ClientName. Optional.
	ClientVersion string

	// QoS for every published message.
	QoS byte
}

// NewConsumer creates a consumer endpoint over conn.
func NewConsumer(conn messaging.Conn, config ConsumerConfig, logger *slog.Logger, m *metrics.Metrics) (*Consumer, error) {
	if conn == nil {
		return nil, fmt.Errorf("mcp: connection is required")
	}
	if config.ClientName == "" {
		config.ClientName = "peerlink"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:          conn,
		clientName:    config.ClientName,
		clientVersion: config.ClientVersion,
		qos:           config.QoS,
		logger:        logger,
		metrics:       m,
		pending:       make(map[string]chan *response),
		subscribed:    make(map[string]bool),
		online:        make(map[string]Announcement),
	}, nil
}

// ID returns the consumer id (the connection identity).
func (c *Consumer) ID() string { return c.conn.Identity() }

// Discover subscribes the presence wildcard. onOnline fires once per
// provider per announcement cycle: a retained record republished
// after the provider reconnects does not fire again unless the
// announcement was withdrawn in between. onOffline fires when a
// provider's retained record is cleared; it may be nil.
func (c *Consumer) Discover(ctx context.Context, onOnline func(Announcement), onOffline func(providerID, providerName string)) error {
	if onOnline == nil {
		return fmt.Errorf("mcp: discovery callback is required")
	}
	return c.conn.Subscribe(ctx, PresenceFilter(), func(msg messaging.Message) {
		providerID, providerName, err := ParsePresenceTopic(msg.Topic)
		if err != nil {
			c.logger.Warn("ignoring malformed presence topic", "topic", msg.Topic)
			return
		}
		key := providerID + "/" + providerName

		if len(msg.Payload) == 0 {
			c.mu.Lock()
			_, wasOnline := c.online[key]
			delete(c.online, key)
			c.mu.Unlock()
			if wasOnline && onOffline != nil {
				onOffline(providerID, providerName)
			}
			return
		}

		var envelope request
		if err := json.Unmarshal(msg.Payload, &envelope); err != nil || envelope.Method != onlineMethod {
			c.logger.Warn("ignoring malformed presence record", "topic", msg.Topic, "error", err)
			return
		}
		var params presenceParams
		if len(envelope.Params) > 0 {
			if err := json.Unmarshal(envelope.Params, &params); err != nil {
				c.logger.Warn("ignoring malformed presence params", "topic", msg.Topic, "error", err)
				return
			}
		}

		announcement := Announcement{
			ProviderID:   providerID,
			ProviderName: providerName,
			ServerName:   params.ServerName,
			Description:  params.Description,
		}

		c.mu.Lock()
		_, already := c.online[key]
		c.online[key] = announcement
		c.mu.Unlock()
		if already {
			return
		}
		onOnline(announcement)
	})
}

// Providers returns the currently known online providers.
func (c *Consumer) Providers() []Announcement {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := make([]Announcement, 0, len(c.online))
	for _, a := range c.online {
		list = append(list, a)
	}
	return list
}

// Initialize performs the initialize handshake with a provider. The
// request travels on the control topic; the response arrives on the
// consumer's RPC topic like every other response.
func (c *Consumer) Initialize(ctx context.Context, providerID, providerName string) (*InitializeResult, error) {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: c.clientName, Version: c.clientVersion},
	}
	raw, err := c.roundTrip(ctx, providerID, providerName,
		ControlTopic(providerID, providerName), "initialize", params)
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding initialize result: %w", err)
	}
	return &result, nil
}

// Call publishes a request on the provider's RPC topic and waits for
// the correlated response. The returned bytes are the raw result;
// an error response is returned as a *CallError.
func (c *Consumer) Call(ctx context.Context, providerID, providerName, method string, params any) (json.RawMessage, error) {
	return c.roundTrip(ctx, providerID, providerName,
		RPCTopic(c.ID(), providerID, providerName), method, params)
}

// ListTools fetches the provider's tool catalog.
func (c *Consumer) ListTools(ctx context.Context, providerID, providerName string) (*ToolsListResult, error) {
	raw, err := c.Call(ctx, providerID, providerName, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var result ToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/list result: %w", err)
	}
	return &result, nil
}

// CallTool invokes a named tool with raw JSON arguments.
func (c *Consumer) CallTool(ctx context.Context, providerID, providerName, tool string, arguments json.RawMessage) (*ToolsCallResult, error) {
	raw, err := c.Call(ctx, providerID, providerName, "tools/call", toolsCallParams{
		Name:      tool,
		Arguments: arguments,
	})
	if err != nil {
		return nil, err
	}
	var result ToolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/call result: %w", err)
	}
	return &result, nil
}

// roundTrip is the correlation core: register a pending id, make sure
// the response topic is subscribed, publish, wait.
func (c *Consumer) roundTrip(ctx context.Context, providerID, providerName, requestTopic, method string, params any) (json.RawMessage, error) {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}

	id := uuid.NewString()
	encodedID, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("encoding request id: %w", err)
	}
	payload, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      encodedID,
		Method:  method,
		Params:  encodedParams,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	responseTopic := RPCTopic(c.ID(), providerID, providerName)
	if err := c.ensureSubscribed(ctx, responseTopic); err != nil {
		return nil, fmt.Errorf("subscribing response topic: %w", err)
	}

	waiter := make(chan *response, 1)
	c.mu.Lock()
	c.pending[id] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.metrics.RPCCallStarted()
	defer c.metrics.RPCCallFinished()

	if err := c.conn.Publish(ctx, messaging.Message{
		Topic:   requestTopic,
		Payload: payload,
		QoS:     c.qos,
	}); err != nil {
		return nil, fmt.Errorf("publishing %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-waiter:
		if resp.Error != nil {
			return nil, &CallError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	}
}

// ensureSubscribed subscribes the consumer's response topic once;
// the response-dispatch handler is shared by every call to the same
// provider.
func (c *Consumer) ensureSubscribed(ctx context.Context, topic string) error {
	c.mu.Lock()
	already := c.subscribed[topic]
	if !already {
		c.subscribed[topic] = true
	}
	c.mu.Unlock()
	if already {
		return nil
	}
	if err := c.conn.Subscribe(ctx, topic, c.handleResponse); err != nil {
		c.mu.Lock()
		delete(c.subscribed, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// handleResponse resolves a pending call by id. Our own outbound
// requests echo back on the bidirectional topic and are skipped;
// responses with no pending id (an abandoned call) are discarded.
func (c *Consumer) handleResponse(msg messaging.Message) {
	if msg.SenderID == c.ID() {
		return
	}

	var resp response
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		c.logger.Warn("dropping malformed response", "topic", msg.Topic, "error", err)
		return
	}

	var id string
	if err := json.Unmarshal(resp.ID, &id); err != nil {
		c.logger.Warn("dropping response with non-string id", "topic", msg.Topic)
		return
	}

	c.mu.Lock()
	waiter, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("discarding late response", "id", id, "topic", msg.Topic)
		return
	}
	waiter <- &resp
}

// CallError is a JSON-RPC error response surfaced to the caller.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
