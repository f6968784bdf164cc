// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{ClientID: "c"}); err == nil {
		t.Error("NewClient accepted empty BrokerURL")
	}
	if _, err := NewClient(ClientConfig{BrokerURL: "mqtt://localhost:1883"}); err == nil {
		t.Error("NewClient accepted empty ClientID")
	}
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(ClientConfig{
		BrokerURL: "mqtt://localhost:1883",
		ClientID:  "peerlink-test",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if client.config.Identity != "peerlink-test" {
		t.Errorf("Identity = %q, want ClientID fallback", client.config.Identity)
	}
	if client.config.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", client.config.ConnectTimeout, DefaultConnectTimeout)
	}
	if client.config.ReconnectPeriod != DefaultReconnectPeriod {
		t.Errorf("ReconnectPeriod = %v, want %v", client.config.ReconnectPeriod, DefaultReconnectPeriod)
	}
	if client.config.KeepAlive != DefaultKeepAlive {
		t.Errorf("KeepAlive = %d, want %d", client.config.KeepAlive, DefaultKeepAlive)
	}
	if got := client.State().Transport; got != StatusDisconnected {
		t.Errorf("initial state = %s, want %s", got, StatusDisconnected)
	}
}

func TestClassifyConnectFailure(t *testing.T) {
	tests := []struct {
		name    string
		lastErr error
		want    ErrorKind
	}{
		{
			name: "no broker response",
			want: ErrTimeout,
		},
		{
			name:    "bad credentials",
			lastErr: &autopaho.ConnackError{ReasonCode: 0x86, Reason: "bad user name or password"},
			want:    ErrAuthFailed,
		},
		{
			name:    "not authorized",
			lastErr: &autopaho.ConnackError{ReasonCode: 0x87, Reason: "not authorized"},
			want:    ErrAuthFailed,
		},
		{
			name:    "server unavailable",
			lastErr: &autopaho.ConnackError{ReasonCode: 0x88, Reason: "server unavailable"},
			want:    ErrRefused,
		},
		{
			name:    "dial failure",
			lastErr: fmt.Errorf("dial tcp: connection refused"),
			want:    ErrRefused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(ClientConfig{
				BrokerURL: "mqtt://localhost:1883",
				ClientID:  "peerlink-test",
			})
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			client.lastConnectErr = tt.lastErr

			classified := client.classifyConnectFailure(errors.New("await: context deadline exceeded"))
			var transportErr *TransportError
			if !errors.As(classified, &transportErr) {
				t.Fatalf("classified error = %v, want *TransportError", classified)
			}
			if transportErr.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", transportErr.Kind, tt.want)
			}
		})
	}
}

func TestPublishBeforeConnectFails(t *testing.T) {
	client, err := NewClient(ClientConfig{
		BrokerURL: "mqtt://localhost:1883",
		ClientID:  "peerlink-test",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Publish(ctx, Message{Topic: "a/b"}); err == nil {
		t.Error("Publish before Connect succeeded")
	}
	if err := client.Subscribe(ctx, "a/+", func(Message) {}); err == nil {
		t.Error("Subscribe before Connect succeeded")
	}
	if err := client.Unsubscribe(ctx, "a/+"); err == nil {
		t.Error("Unsubscribe before Connect succeeded")
	}
}
