// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/peerlink-foundation/peerlink/lib/testutil"
)

func TestMemoryBrokerDeliversInPublishOrder(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	publisher := broker.Conn("pub")
	subscriber := broker.Conn("sub")

	received := make(chan string, 8)
	ctx := context.Background()
	if err := subscriber.Subscribe(ctx, "$message/+", func(msg Message) {
		received <- string(msg.Payload)
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for _, payload := range []string{"one", "two", "three"} {
		if err := publisher.Publish(ctx, Message{Topic: "$message/s1", Payload: []byte(payload)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		got := testutil.RequireReceive(t, received, 5*time.Second, "waiting for %q", want)
		if got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	}
}

func TestMemoryBrokerTagsSenderIdentity(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	publisher := broker.Conn("peer-a")
	subscriber := broker.Conn("peer-b")

	senders := make(chan string, 1)
	ctx := context.Background()
	if err := subscriber.Subscribe(ctx, "t", func(msg Message) {
		senders <- msg.SenderID
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := publisher.Publish(ctx, Message{Topic: "t", Payload: []byte("x")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := testutil.RequireReceive(t, senders, 5*time.Second, "sender id"); got != "peer-a" {
		t.Errorf("SenderID = %q, want peer-a", got)
	}
}

func TestMemoryBrokerRetainedDeliveredToLateSubscriber(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	ctx := context.Background()
	provider := broker.Conn("provider")
	if err := provider.Publish(ctx, Message{
		Topic:   "$mcp-server/presence/provider/name",
		Payload: []byte("online"),
		Retain:  true,
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	late := broker.Conn("late")
	received := make(chan Message, 1)
	if err := late.Subscribe(ctx, "$mcp-server/presence/+/+", func(msg Message) {
		received <- msg
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	msg := testutil.RequireReceive(t, received, 5*time.Second, "retained presence")
	if string(msg.Payload) != "online" {
		t.Errorf("payload = %q, want online", msg.Payload)
	}
	if !msg.Retain {
		t.Error("retained flag not set on redelivery")
	}
}

func TestMemoryBrokerEmptyRetainedPayloadClears(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	ctx := context.Background()
	provider := broker.Conn("provider")
	topic := "$mcp-server/presence/provider/name"

	if err := provider.Publish(ctx, Message{Topic: topic, Payload: []byte("online"), Retain: true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := provider.Publish(ctx, Message{Topic: topic, Retain: true}); err != nil {
		t.Fatalf("clearing publish: %v", err)
	}

	late := broker.Conn("late")
	received := make(chan Message, 1)
	if err := late.Subscribe(ctx, "$mcp-server/presence/+/+", func(msg Message) {
		received <- msg
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case msg := <-received:
		t.Fatalf("received cleared retained message %q", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryConnUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	ctx := context.Background()
	publisher := broker.Conn("pub")
	subscriber := broker.Conn("sub")

	received := make(chan Message, 1)
	if err := subscriber.Subscribe(ctx, "t", func(msg Message) {
		received <- msg
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := subscriber.Unsubscribe(ctx, "t"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	if err := publisher.Publish(ctx, Message{Topic: "t", Payload: []byte("x")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-received:
		t.Fatal("message delivered after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
