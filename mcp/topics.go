// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"fmt"
	"strings"
)

// Topic namespaces. Each carries a distinct message family; nothing
// is multiplexed across namespaces.
const (
	controlPrefix  = "$mcp-server"
	presencePrefix = "$mcp-server/presence"
	rpcPrefix      = "$mcp-rpc"
)

// ControlTopic is the provider's control topic. It carries
// initialize requests; the requester identity arrives as the
// per-message tag because the topic embeds only the provider.
func ControlTopic(providerID, providerName string) string {
	return fmt.Sprintf("%s/%s/%s", controlPrefix, providerID, providerName)
}

// PresenceTopic is the provider's retained presence topic.
func PresenceTopic(providerID, providerName string) string {
	return fmt.Sprintf("%s/%s/%s", presencePrefix, providerID, providerName)
}

// PresenceFilter matches every provider's presence topic.
func PresenceFilter() string {
	return presencePrefix + "/+/+"
}

// RPCTopic is the bidirectional request/response topic between one
// consumer and one provider. Both tools/list and tools/call requests
// and all responses travel on it.
func RPCTopic(consumerID, providerID, providerName string) string {
	return fmt.Sprintf("%s/%s/%s/%s", rpcPrefix, consumerID, providerID, providerName)
}

// RPCFilter matches the RPC topics of every consumer talking to the
// given provider.
func RPCFilter(providerID, providerName string) string {
	return fmt.Sprintf("%s/+/%s/%s", rpcPrefix, providerID, providerName)
}

// ParsePresenceTopic extracts the provider identity from a presence
// topic.
func ParsePresenceTopic(topic string) (providerID, providerName string, err error) {
	rest, ok := strings.CutPrefix(topic, presencePrefix+"/")
	if !ok {
		return "", "", fmt.Errorf("not a presence topic: %s", topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed presence topic: %s", topic)
	}
	return parts[0], parts[1], nil
}

// ParseRPCTopic extracts the consumer and provider identities from
// an RPC topic.
func ParseRPCTopic(topic string) (consumerID, providerID, providerName string, err error) {
	rest, ok := strings.CutPrefix(topic, rpcPrefix+"/")
	if !ok {
		return "", "", "", fmt.Errorf("not an rpc topic: %s", topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed rpc topic: %s", topic)
	}
	return parts[0], parts[1], parts[2], nil
}
