// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp implements the peer's RPC surface over the pub/sub
// transport: a provider endpoint that announces itself with a
// retained presence record and dispatches JSON-RPC 2.0 requests to
// registered capabilities, and a consumer side that discovers
// providers and correlates calls to responses by request id.
//
// There is no dedicated request/reply primitive on the transport.
// Correlation is built from three pieces: a per-consumer response
// topic that embeds the requester's identity, a per-message identity
// tag for the one topic shape (the control topic) that carries no
// requester segment, and fresh-per-call request ids on the consumer
// side. The consumer subscribes to its own response topic before
// publishing, so a fast response cannot be lost.
package mcp
