// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peerlink-foundation/peerlink/capability"
	"github.com/peerlink-foundation/peerlink/lib/testutil"
	"github.com/peerlink-foundation/peerlink/messaging"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type cameraParams struct {
	Enabled bool `json:"enabled"`
}

type emotionParams struct {
	Emotion string `json:"emotion"`
}

// deviceRegistry registers the two device tools the end-to-end tests
// exercise, recording every handler invocation in invoked.
func deviceRegistry(t *testing.T, invoked *[]string) *capability.Registry {
	t.Helper()
	registry := capability.NewRegistry()

	if err := registry.Register(capability.Capability{
		Name:        "control_camera",
		Description: "Enable or disable the camera",
		Schema: capability.Schema{
			Type: "object",
			Properties: map[string]*capability.Property{
				"enabled": {Type: "boolean"},
			},
			Required: []string{"enabled"},
		},
		Params: func() any { return &cameraParams{} },
		Handler: func(ctx context.Context, params any) (string, error) {
			p := params.(*cameraParams)
			if invoked != nil {
				*invoked = append(*invoked, fmt.Sprintf("control_camera:%v", p.Enabled))
			}
			return fmt.Sprintf("camera enabled: %v", p.Enabled), nil
		},
	}); err != nil {
		t.Fatalf("registering control_camera: %v", err)
	}

	if err := registry.Register(capability.Capability{
		Name:        "change_emotion",
		Description: "Change the avatar's facial expression",
		Schema: capability.Schema{
			Type: "object",
			Properties: map[string]*capability.Property{
				"emotion": {Type: "string"},
			},
			Required: []string{"emotion"},
		},
		Params: func() any { return &emotionParams{} },
		Handler: func(ctx context.Context, params any) (string, error) {
			p := params.(*emotionParams)
			if invoked != nil {
				*invoked = append(*invoked, "change_emotion:"+p.Emotion)
			}
			return "emotion changed to " + p.Emotion, nil
		},
	}); err != nil {
		t.Fatalf("registering change_emotion: %v", err)
	}

	return registry
}

// startEndpoint wires a provider and a consumer over one in-memory
// broker and starts the provider.
func startEndpoint(t *testing.T, invoked *[]string) (*Provider, *Consumer) {
	t.Helper()
	broker := messaging.NewMemoryBroker()
	t.Cleanup(broker.Close)

	provider, err := NewProvider(
		broker.Conn(testutil.UniqueID("provider")),
		deviceRegistry(t, invoked),
		ProviderConfig{Name: "device", Description: "test device", Version: "1.0.0"},
		testLogger(), nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("provider.Start: %v", err)
	}

	consumer, err := NewConsumer(
		broker.Conn(testutil.UniqueID("consumer")),
		ConsumerConfig{ClientName: "test-client"},
		testLogger(), nil)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	return provider, consumer
}

func TestInitializeHandshake(t *testing.T) {
	provider, consumer := startEndpoint(t, nil)

	result, err := consumer.Initialize(context.Background(), provider.ID(), provider.Name())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("ProtocolVersion = %q, want %q", result.ProtocolVersion, protocolVersion)
	}
	if result.ServerInfo.Name != "device" {
		t.Errorf("ServerInfo.Name = %q, want device", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil {
		t.Error("Capabilities.Tools is nil, want tool support declared")
	}
}

func TestToolsListReturnsRegisteredTools(t *testing.T) {
	provider, consumer := startEndpoint(t, nil)

	result, err := consumer.ListTools(context.Background(), provider.ID(), provider.Name())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(result.Tools))
	}
	if result.Tools[0].Name != "control_camera" || result.Tools[1].Name != "change_emotion" {
		t.Errorf("tools = [%s, %s], want [control_camera, change_emotion]",
			result.Tools[0].Name, result.Tools[1].Name)
	}
	for _, tool := range result.Tools {
		if tool.InputSchema == nil {
			t.Errorf("tool %s has no input schema", tool.Name)
		}
	}
}

func TestToolsCallInvokesHandler(t *testing.T) {
	var invoked []string
	provider, consumer := startEndpoint(t, &invoked)

	result, err := consumer.CallTool(context.Background(), provider.ID(), provider.Name(),
		"change_emotion", json.RawMessage(`{"emotion":"happy"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "emotion changed to happy" {
		t.Errorf("result content = %+v, want single text block with success message", result.Content)
	}
	if len(invoked) != 1 || invoked[0] != "change_emotion:happy" {
		t.Errorf("handler invocations = %v, want exactly one with happy", invoked)
	}
}

func TestToolsCallValidationFailure(t *testing.T) {
	var invoked []string
	provider, consumer := startEndpoint(t, &invoked)

	_, err := consumer.CallTool(context.Background(), provider.ID(), provider.Name(),
		"change_emotion", json.RawMessage(`{}`))
	callErr, ok := err.(*CallError)
	if !ok {
		t.Fatalf("CallTool error = %v, want *CallError", err)
	}
	if callErr.Code != codeInvalidParams {
		t.Errorf("error code = %d, want %d", callErr.Code, codeInvalidParams)
	}
	if !strings.Contains(callErr.Message, "missing required field: emotion") {
		t.Errorf("error message = %q, want missing-field violation", callErr.Message)
	}
	if len(invoked) != 0 {
		t.Errorf("handler invoked %v despite validation failure", invoked)
	}
}

func TestToolsCallHandlerFailure(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	t.Cleanup(broker.Close)

	registry := capability.NewRegistry()
	if err := registry.Register(capability.Capability{
		Name: "failing",
		Handler: func(ctx context.Context, params any) (string, error) {
			return "", fmt.Errorf("hardware fault")
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider, err := NewProvider(broker.Conn("provider"), registry,
		ProviderConfig{Name: "device"}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	consumer, err := NewConsumer(broker.Conn("consumer"), ConsumerConfig{}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	_, err = consumer.CallTool(context.Background(), provider.ID(), provider.Name(), "failing", nil)
	callErr, ok := err.(*CallError)
	if !ok {
		t.Fatalf("CallTool error = %v, want *CallError", err)
	}
	if callErr.Code != codeInternalError {
		t.Errorf("error code = %d, want %d", callErr.Code, codeInternalError)
	}
	if !strings.Contains(callErr.Message, "hardware fault") {
		t.Errorf("error message = %q, want handler failure text", callErr.Message)
	}
}

func TestConcurrentCallsCorrelateByID(t *testing.T) {
	provider, consumer := startEndpoint(t, nil)

	const calls = 8
	results := make([]*ToolsCallResult, calls)
	errs := make([]error, calls)

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			enabled := i%2 == 0
			results[i], errs[i] = consumer.CallTool(context.Background(),
				provider.ID(), provider.Name(), "control_camera",
				json.RawMessage(fmt.Sprintf(`{"enabled":%v}`, enabled)))
		}()
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		want := fmt.Sprintf("camera enabled: %v", i%2 == 0)
		if got := results[i].Content[0].Text; got != want {
			t.Errorf("call %d result = %q, want %q (response crossed ids)", i, got, want)
		}
	}
}

func TestUnknownMethodProducesNoResponse(t *testing.T) {
	provider, consumer := startEndpoint(t, nil)
	ctx := context.Background()

	// Observe every message on the consumer's response topic.
	responseTopic := RPCTopic(consumer.ID(), provider.ID(), provider.Name())
	received := make(chan messaging.Message, 8)
	observerConn := consumerBrokerConn(t, consumer)
	if err := observerConn.Subscribe(ctx, responseTopic, func(msg messaging.Message) {
		if msg.SenderID == provider.ID() {
			received <- msg
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	unknown, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`"req-unknown"`),
		Method:  "unsupported/thing",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := observerConn.Publish(ctx, messaging.Message{
		Topic:   responseTopic,
		Payload: unknown,
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Per-topic ordering: had the unknown method been answered, its
	// response would arrive before the ping response.
	ping, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`"req-ping"`),
		Method:  "ping",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := observerConn.Publish(ctx, messaging.Message{
		Topic:   responseTopic,
		Payload: ping,
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	first := testutil.RequireReceive(t, received, 5*time.Second, "response to ping")
	var resp response
	if err := json.Unmarshal(first.Payload, &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(resp.ID) != `"req-ping"` {
		t.Errorf("first response id = %s, want req-ping (unknown method was answered)", resp.ID)
	}
	select {
	case extra := <-received:
		t.Errorf("unexpected extra response: %s", extra.Payload)
	default:
	}
}

// consumerBrokerConn opens a raw connection with the consumer's
// identity on the consumer's broker, for publishing hand-built
// envelopes.
func consumerBrokerConn(t *testing.T, c *Consumer) messaging.Conn {
	t.Helper()
	conn, ok := c.conn.(*messaging.MemoryConn)
	if !ok {
		t.Fatalf("consumer connection is %T, want *messaging.MemoryConn", c.conn)
	}
	return conn
}

func TestDiscoveryIsIdempotentPerProvider(t *testing.T) {
	provider, consumer := startEndpoint(t, nil)
	ctx := context.Background()

	onlineEvents := make(chan Announcement, 8)
	offlineEvents := make(chan string, 8)
	err := consumer.Discover(ctx,
		func(a Announcement) { onlineEvents <- a },
		func(providerID, providerName string) { offlineEvents <- providerID })
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	// The provider announced at Start; its record is retained, so the
	// late subscriber still sees it.
	announcement := testutil.RequireReceive(t, onlineEvents, 5*time.Second, "initial discovery")
	if announcement.ProviderID != provider.ID() || announcement.ServerName != "device" {
		t.Errorf("announcement = %+v, want provider %s named device", announcement, provider.ID())
	}

	// A re-announce (as after reconnect) must not fire again.
	if err := provider.Announce(ctx); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := provider.Announce(ctx); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	// Withdrawal clears the retained record and fires offline.
	if err := provider.Withdraw(ctx); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	gone := testutil.RequireReceive(t, offlineEvents, 5*time.Second, "withdrawal")
	if gone != provider.ID() {
		t.Errorf("offline provider = %s, want %s", gone, provider.ID())
	}

	// Coming back online fires once more.
	if err := provider.Announce(ctx); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	testutil.RequireReceive(t, onlineEvents, 5*time.Second, "re-announcement after withdrawal")

	select {
	case extra := <-onlineEvents:
		t.Errorf("unexpected duplicate online event: %+v", extra)
	default:
	}
}

func TestProviderNameValidation(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	t.Cleanup(broker.Close)
	registry := capability.NewRegistry()

	for _, name := range []string{"", "a/b", "a+b", "a#b"} {
		_, err := NewProvider(broker.Conn("p"), registry,
			ProviderConfig{Name: name}, testLogger(), nil)
		if err == nil {
			t.Errorf("NewProvider accepted name %q, want error", name)
		}
	}
}
