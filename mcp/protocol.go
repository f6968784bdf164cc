// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import "encoding/json"

// protocolVersion is the MCP protocol version this endpoint speaks.
// The provider responds with this version during initialization
// regardless of what the consumer requests; the consumer then decides
// whether it can work with it.
const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 standard error codes used on the wire.
const (
	codeInvalidParams = -32602
	codeInternalError = -32603
)

// onlineMethod is the notification method carried by the retained
// presence record.
const onlineMethod = "notifications/server/online"

// request is a JSON-RPC 2.0 request or notification. Notifications
// are distinguished by having no ID.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *request) isNotification() bool {
	return len(r.ID) == 0
}

// response is a JSON-RPC 2.0 response. Exactly one of Result or
// Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// presenceParams is the payload of the retained online announcement.
type presenceParams struct {
	ServerName  string `json:"server_name"`
	Description string `json:"description,omitempty"`
}

// initializeParams is the consumer's initialize request parameters.
type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities,omitempty"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

// clientInfo identifies the consumer.
type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is the provider's initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// serverCapabilities declares what the provider supports. The
// presence of Tools signals tool support.
type serverCapabilities struct {
	Tools *toolCapability `json:"tools,omitempty"`
}

type toolCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerInfo identifies the provider.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsListResult is the result for tools/list.
type ToolsListResult struct {
	Tools []ToolDescription `json:"tools"`
}

// ToolDescription describes a single tool in the tools/list response.
type ToolDescription struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// toolsCallParams is the consumer's tools/call request parameters.
type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolsCallResult is the provider's tools/call response.
type ToolsCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one content block within a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
