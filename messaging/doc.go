// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging owns the persistent MQTT 5 connection that every
// Peerlink protocol component shares: presence, the RPC endpoint, the
// signaling session, and the ancillary text channel all publish and
// subscribe through one [Conn].
//
// The production implementation is [Client], built on
// github.com/eclipse/paho.golang's autopaho connection manager:
// bounded connect, automatic reconnect at a fixed period, last-will
// registration, and MQTT 5 user properties carrying the publisher's
// identity tag. Subscriptions survive reconnects — the client
// re-issues every active filter after each successful connect, and
// re-subscribing an already-active filter never duplicates delivery.
//
// Tests use [MemoryBroker], an in-process broker that honors topic
// wildcards and retained messages without any network. Two peers
// sharing a MemoryBroker exchange the full protocol exactly as they
// would through a real broker.
//
// Inbound demultiplexing is by topic filter: each Subscribe call
// registers a handler for one filter, and every message matching that
// filter is delivered to the handler in publish order. There is no
// ordering guarantee across different topics.
package messaging
