// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "testing"

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"$mcp-server/presence/+/+", "$mcp-server/presence/peer-1/controller", true},
		{"$mcp-server/presence/+/+", "$mcp-server/presence/peer-1", false},
		{"$mcp-server/presence/+/+", "$mcp-server/presence/peer-1/controller/extra", false},
		{"$mcp-rpc/consumer-1/provider-1/controller", "$mcp-rpc/consumer-1/provider-1/controller", true},
		{"$mcp-rpc/consumer-1/provider-1/controller", "$mcp-rpc/consumer-2/provider-1/controller", false},
		{"$mcp-rpc/+/provider-1/controller", "$mcp-rpc/consumer-9/provider-1/controller", true},
		{"$webrtc/session-1", "$webrtc/session-1", true},
		{"$webrtc/session-1", "$webrtc/session-1/multimedia_proxy", false},
		{"$webrtc/#", "$webrtc/session-1/multimedia_proxy", true},
		{"$webrtc/#", "$webrtc", true},
		{"$webrtc/#/extra", "$webrtc/session-1/extra", false},
		{"+", "$webrtc", true},
		{"#", "a/b/c", true},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestNamespace(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"$mcp-rpc/a/b/c", "mcp-rpc"},
		{"$webrtc/session-1", "webrtc"},
		{"$message/session-1", "message"},
		{"plain/topic", "plain"},
	}
	for _, tt := range tests {
		if got := Namespace(tt.topic); got != tt.want {
			t.Errorf("Namespace(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
