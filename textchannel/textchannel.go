// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package textchannel carries the ancillary per-session text stream:
// speech-recognition results, synthesized-text notifications, and
// free-form chat. It rides the session's $message topic, outside the
// RPC correlation machinery — notifications carry no id and expect no
// response.
package textchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/peerlink-foundation/peerlink/lib/metrics"
	"github.com/peerlink-foundation/peerlink/messaging"
	"github.com/peerlink-foundation/peerlink/signaling"
)

// Notification methods on the text channel.
const (
	MethodRecognition = "asr_result"
	MethodSynthesis   = "tts_result"
)

// notification is the JSON-RPC style envelope for recognition and
// synthesis results.
type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// textParams carries the notification text.
type textParams struct {
	Text string `json:"text"`
}

// Handlers receives inbound text-channel traffic. Payloads that are
// not recognized notifications are delivered raw through OnChat; any
// handler may be nil.
type Handlers struct {
	OnRecognition func(text string)
	OnSynthesis   func(text string)
	OnChat        func(payload []byte)
}

// Channel is one session's text channel.
type Channel struct {
	conn      messaging.Conn
	sessionID string
	qos       byte
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a text channel for the session. Nothing is subscribed
// until Listen.
func New(conn messaging.Conn, sessionID string, qos byte, logger *slog.Logger, m *metrics.Metrics) (*Channel, error) {
	if conn == nil {
		return nil, fmt.Errorf("textchannel: connection is required")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("textchannel: session id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		conn:      conn,
		sessionID: sessionID,
		qos:       qos,
		logger:    logger.With("session", sessionID),
		metrics:   m,
	}, nil
}

// Topic returns the channel's topic.
func (c *Channel) Topic() string {
	return signaling.TextTopic(c.sessionID)
}

// Listen subscribes the channel topic and dispatches inbound traffic
// to the handlers. The channel's own publishes are skipped.
func (c *Channel) Listen(ctx context.Context, handlers Handlers) error {
	return c.conn.Subscribe(ctx, c.Topic(), func(msg messaging.Message) {
		if msg.SenderID == c.conn.Identity() {
			return
		}

		var envelope notification
		if err := json.Unmarshal(msg.Payload, &envelope); err == nil && envelope.Method != "" {
			var params textParams
			if len(envelope.Params) > 0 {
				if err := json.Unmarshal(envelope.Params, &params); err != nil {
					c.logger.Warn("malformed text notification params", "method", envelope.Method, "error", err)
					return
				}
			}
			switch envelope.Method {
			case MethodRecognition:
				if handlers.OnRecognition != nil {
					handlers.OnRecognition(params.Text)
				}
				return
			case MethodSynthesis:
				if handlers.OnSynthesis != nil {
					handlers.OnSynthesis(params.Text)
				}
				return
			}
			// Unknown notification methods fall through as chat.
		}

		if handlers.OnChat != nil {
			handlers.OnChat(msg.Payload)
		}
	})
}

// Stop unsubscribes the channel topic.
func (c *Channel) Stop(ctx context.Context) error {
	return c.conn.Unsubscribe(ctx, c.Topic())
}

// PublishRecognition sends a speech-recognition result.
func (c *Channel) PublishRecognition(ctx context.Context, text string) error {
	return c.publishNotification(ctx, MethodRecognition, text)
}

// PublishSynthesis sends a synthesized-text notification.
func (c *Channel) PublishSynthesis(ctx context.Context, text string) error {
	return c.publishNotification(ctx, MethodSynthesis, text)
}

// PublishChat sends a free-form payload.
func (c *Channel) PublishChat(ctx context.Context, payload []byte) error {
	return c.conn.Publish(ctx, messaging.Message{
		Topic:   c.Topic(),
		Payload: payload,
		QoS:     c.qos,
	})
}

func (c *Channel) publishNotification(ctx context.Context, method, text string) error {
	params, err := json.Marshal(textParams{Text: text})
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}
	payload, err := json.Marshal(notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding %s notification: %w", method, err)
	}
	return c.conn.Publish(ctx, messaging.Message{
		Topic:   c.Topic(),
		Payload: payload,
		QoS:     c.qos,
	})
}
