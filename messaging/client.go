// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/peerlink-foundation/peerlink/lib/metrics"
)

// Compile-time interface check.
var _ Conn = (*Client)(nil)

// Default connection tuning. Both are overridable through ClientConfig.
const (
	// DefaultConnectTimeout bounds the wait for the broker's CONNACK.
	DefaultConnectTimeout = 4 * time.Second

	// DefaultReconnectPeriod is the fixed delay between reconnect
	// attempts after an unexpected disconnect.
	DefaultReconnectPeriod = time.Second

	// DefaultKeepAlive is the MQTT keep-alive interval in seconds.
	DefaultKeepAlive = 30
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BrokerURL is the broker address (e.g., "mqtt://localhost:1883").
	BrokerURL string

	// ClientID is the MQTT client identifier. Required, unique per
	// connection.
	ClientID string

	// Identity is the peer identity tagged onto every published
	// message (user property). Defaults to ClientID.
	Identity string

	// ComponentType is the role tag published with every message:
	// ComponentServer for capability providers, ComponentClient for
	// consumers.
	ComponentType string

	// Username and Password authenticate the connection. Optional.
	Username string
	Password string

	// ConnectTimeout bounds the wait for the connection
	// acknowledgment. Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// ReconnectPeriod is the fixed reconnect delay. Zero means
	// DefaultReconnectPeriod.
	ReconnectPeriod time.Duration

	// KeepAlive is the MQTT keep-alive interval in seconds. Zero
	// means DefaultKeepAlive.
	KeepAlive uint16

	// SessionExpirySeconds is the MQTT 5 session expiry requested at
	// connect.
	SessionExpirySeconds uint32

	// DefaultQoS is used for messages published with QoS zero value
	// left untouched by the caller’s Message. (Messages carry their
	// own QoS; subscriptions use this level.)
	DefaultQoS byte

	// Will, when non-nil, is registered at connect time so that
	// ungraceful disconnects are observable by other peers.
	// Best-effort: the broker publishes it only on unclean
	// disconnect.
	Will *Message

	// OnStateChange observes transport state transitions. Optional.
	OnStateChange StateHandler

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Metrics records transport counters. Optional.
	Metrics *metrics.Metrics
}

// Client is the production Conn: one persistent MQTT 5 connection
// managed by autopaho. The manager reconnects automatically at the
// configured fixed period; the client re-issues all active
// subscriptions after every successful connect.
type Client struct {
	config ClientConfig
	logger *slog.Logger

	manager *autopaho.ConnectionManager

	mu       sync.Mutex
	handlers map[string][]Handler
	state    ConnectionState
	everUp   bool

	// lastConnectErr remembers the most recent connect rejection so
	// a connect timeout can be classified as auth failure vs refusal.
	lastConnectErr error
}

// NewClient creates a Client. Connect must be called before any
// publish or subscribe.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BrokerURL == "" {
		return nil, fmt.Errorf("messaging: BrokerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("messaging: ClientID is required")
	}
	if config.Identity == "" {
		config.Identity = config.ClientID
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.ReconnectPeriod <= 0 {
		config.ReconnectPeriod = DefaultReconnectPeriod
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = DefaultKeepAlive
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:   config,
		logger:   logger,
		handlers: make(map[string][]Handler),
		state:    ConnectionState{Transport: StatusDisconnected},
	}, nil
}

// Identity returns the peer identity this client publishes under.
func (c *Client) Identity() string { return c.config.Identity }

// Connect establishes the broker connection and blocks until the
// broker acknowledges it or the connect timeout elapses. After a
// successful return the manager keeps the connection alive,
// reconnecting at the fixed period on unexpected disconnects.
func (c *Client) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(c.config.BrokerURL)
	if err != nil {
		return fmt.Errorf("messaging: invalid broker URL %q: %w", c.config.BrokerURL, err)
	}

	managerConfig := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.config.KeepAlive,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         c.config.SessionExpirySeconds,
		ConnectRetryDelay:             c.config.ReconnectPeriod,
		ConnectTimeout:                c.config.ConnectTimeout,
		ConnectUsername:               c.config.Username,
		ConnectPassword:               []byte(c.config.Password),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError:                c.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID: c.config.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.onPublishReceived,
			},
			OnServerDisconnect: c.onServerDisconnect,
			OnClientError:      c.onClientError,
		},
	}
	if c.config.Password == "" {
		managerConfig.ConnectPassword = nil
	}
	if c.config.Will != nil {
		managerConfig.WillMessage = &paho.WillMessage{
			Topic:   c.config.Will.Topic,
			Payload: c.config.Will.Payload,
			QoS:     c.config.Will.QoS,
			Retain:  c.config.Will.Retain,
		}
	}

	c.setState(StatusConnecting, 0)

	manager, err := autopaho.NewConnection(ctx, managerConfig)
	if err != nil {
		return fmt.Errorf("messaging: starting connection manager: %w", err)
	}
	c.manager = manager

	waitCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()
	if err := manager.AwaitConnection(waitCtx); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), time.Second)
		defer disconnectCancel()
		_ = manager.Disconnect(disconnectCtx)
		return c.classifyConnectFailure(err)
	}
	return nil
}

// classifyConnectFailure maps an AwaitConnection failure to the
// TransportError taxonomy using the most recent broker rejection.
func (c *Client) classifyConnectFailure(waitErr error) error {
	c.mu.Lock()
	lastErr := c.lastConnectErr
	c.mu.Unlock()

	if lastErr != nil {
		var connack *autopaho.ConnackError
		if errors.As(lastErr, &connack) {
			switch connack.ReasonCode {
			case 0x86, 0x87: // bad username/password, not authorized
				return &TransportError{Kind: ErrAuthFailed, Err: lastErr}
			default:
				return &TransportError{Kind: ErrRefused, Err: lastErr}
			}
		}
		return &TransportError{Kind: ErrRefused, Err: lastErr}
	}
	return &TransportError{Kind: ErrTimeout, Err: waitErr}
}

// Publish sends one message, tagging it with the client identity and
// component type user properties.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	manager := c.manager
	if manager == nil {
		return fmt.Errorf("messaging: publish before Connect")
	}

	sender := msg.SenderID
	if sender == "" {
		sender = c.config.Identity
	}

	properties := &paho.PublishProperties{
		User: paho.UserProperties{},
	}
	properties.User.Add(ClientIDProperty, sender)
	if c.config.ComponentType != "" {
		properties.User.Add(ComponentTypeProperty, c.config.ComponentType)
	}

	_, err := manager.Publish(ctx, &paho.Publish{
		Topic:      msg.Topic,
		Payload:    msg.Payload,
		QoS:        msg.QoS,
		Retain:     msg.Retain,
		Properties: properties,
	})
	if err != nil {
		return fmt.Errorf("messaging: publishing to %s: %w", msg.Topic, err)
	}
	c.config.Metrics.MessagePublished(Namespace(msg.Topic))
	return nil
}

// Subscribe registers handler for filter. The broker-side
// subscription is issued once per filter; additional handlers on the
// same filter share it.
func (c *Client) Subscribe(ctx context.Context, filter string, handler Handler) error {
	manager := c.manager
	if manager == nil {
		return fmt.Errorf("messaging: subscribe before Connect")
	}

	c.mu.Lock()
	existing := len(c.handlers[filter])
	c.handlers[filter] = append(c.handlers[filter], handler)
	c.mu.Unlock()

	if existing > 0 {
		return nil
	}

	if err := c.subscribeFilter(ctx, filter); err != nil {
		c.mu.Lock()
		c.handlers[filter] = c.handlers[filter][:existing]
		if len(c.handlers[filter]) == 0 {
			delete(c.handlers, filter)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) subscribeFilter(ctx context.Context, filter string) error {
	_, err := c.manager.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: filter, QoS: c.config.DefaultQoS},
		},
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribing to %s: %w", filter, err)
	}
	return nil
}

// Unsubscribe removes the filter and all its handlers.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	manager := c.manager
	if manager == nil {
		return fmt.Errorf("messaging: unsubscribe before Connect")
	}

	c.mu.Lock()
	_, active := c.handlers[filter]
	delete(c.handlers, filter)
	c.mu.Unlock()

	if !active {
		return nil
	}

	_, err := manager.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	if err != nil {
		return fmt.Errorf("messaging: unsubscribing from %s: %w", filter, err)
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disconnect closes the connection cleanly. The last-will message is
// not published on a clean disconnect.
func (c *Client) Disconnect(ctx context.Context) error {
	manager := c.manager
	if manager == nil {
		return nil
	}
	err := manager.Disconnect(ctx)
	c.setState(StatusDisconnected, 0)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("messaging: disconnect: %w", err)
	}
	return nil
}

// onConnectionUp runs after every successful connect. Re-issuing the
// active filters here keeps subscriptions alive across broker-side
// session cleanup; the handler table is untouched, so delivery is
// never duplicated.
func (c *Client) onConnectionUp(manager *autopaho.ConnectionManager, connack *paho.Connack) {
	c.mu.Lock()
	filters := make([]string, 0, len(c.handlers))
	for filter := range c.handlers {
		filters = append(filters, filter)
	}
	reconnect := c.everUp
	c.everUp = true
	c.lastConnectErr = nil
	c.mu.Unlock()

	c.logger.Info("broker connection up",
		"session_present", connack.SessionPresent,
		"reconnect", reconnect,
	)
	if reconnect {
		c.config.Metrics.Reconnected()
	}
	c.setState(StatusConnected, 0)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()
	for _, filter := range filters {
		if err := c.subscribeFilter(ctx, filter); err != nil {
			c.logger.Warn("re-subscribe after reconnect failed",
				"filter", filter,
				"error", err,
			)
		}
	}
}

func (c *Client) onConnectError(err error) {
	c.mu.Lock()
	c.lastConnectErr = err
	attempt := c.state.ReconnectAttempt + 1
	c.mu.Unlock()

	c.logger.Warn("broker connect attempt failed", "attempt", attempt, "error", err)
	c.setState(StatusError, attempt)
}

func (c *Client) onServerDisconnect(disconnect *paho.Disconnect) {
	c.logger.Warn("broker initiated disconnect", "reason_code", disconnect.ReasonCode)
	c.setState(StatusConnecting, 0)
}

func (c *Client) onClientError(err error) {
	c.logger.Warn("connection lost", "error", err)
	c.setState(StatusConnecting, 0)
}

// onPublishReceived is the single inbound dispatch path: every
// delivered message is matched against the active filters and handed
// to their handlers in order.
func (c *Client) onPublishReceived(received paho.PublishReceived) (bool, error) {
	packet := received.Packet

	msg := Message{
		Topic:   packet.Topic,
		Payload: packet.Payload,
		QoS:     packet.QoS,
		Retain:  packet.Retain,
	}
	if packet.Properties != nil {
		msg.SenderID = packet.Properties.User.Get(ClientIDProperty)
	}

	c.mu.Lock()
	var matched []Handler
	for filter, handlers := range c.handlers {
		if MatchTopic(filter, packet.Topic) {
			matched = append(matched, handlers...)
		}
	}
	c.mu.Unlock()

	if len(matched) == 0 {
		return false, nil
	}

	c.config.Metrics.MessageReceived(Namespace(packet.Topic))
	for _, handler := range matched {
		handler(msg)
	}
	return true, nil
}

func (c *Client) setState(status Status, attempt int) {
	c.mu.Lock()
	changed := c.state.Transport != status || c.state.ReconnectAttempt != attempt
	c.state = ConnectionState{Transport: status, ReconnectAttempt: attempt}
	state := c.state
	onChange := c.config.OnStateChange
	c.mu.Unlock()

	if changed && onChange != nil {
		onChange(state)
	}
}
