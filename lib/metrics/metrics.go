// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus instrumentation shared by
// the Peerlink components. All methods are nil-safe: a component
// constructed without metrics simply records nothing, so tests and
// embedders that don't scrape stay free of registry plumbing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Peerlink instrument set, registered on a single
// Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	messagesPublished *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	reconnects        prometheus.Counter

	rpcRequests *prometheus.CounterVec
	rpcInFlight prometheus.Gauge

	signalingTransitions *prometheus.CounterVec
}

// New creates a Metrics set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		messagesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_messages_published_total",
			Help: "Messages published to the broker, by topic namespace.",
		}, []string{"namespace"}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_messages_received_total",
			Help: "Messages received from the broker, by topic namespace.",
		}, []string{"namespace"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_broker_reconnects_total",
			Help: "Broker connections established after the initial connect.",
		}),

		rpcRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_rpc_requests_total",
			Help: "RPC requests dispatched, by method and outcome.",
		}, []string{"method", "outcome"}),

		rpcInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_rpc_in_flight",
			Help: "Consumer-side RPC calls awaiting a correlated response.",
		}),

		signalingTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_signaling_transitions_total",
			Help: "Signaling session state transitions, by target state.",
		}, []string{"state"}),
	}
}

// Handler returns the HTTP handler serving the registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MessagePublished records one published message under a topic
// namespace ("mcp-server", "mcp-rpc", "webrtc", "message").
func (m *Metrics) MessagePublished(namespace string) {
	if m == nil {
		return
	}
	m.messagesPublished.WithLabelValues(namespace).Inc()
}

// MessageReceived records one delivered inbound message.
func (m *Metrics) MessageReceived(namespace string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(namespace).Inc()
}

// Reconnected records a broker connection established after the
// initial connect.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// RPCRequest records a dispatched request. Outcome is one of "ok",
// "invalid", "error", "unknown".
func (m *Metrics) RPCRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
}

// RPCCallStarted and RPCCallFinished track the consumer-side pending
// call gauge.
func (m *Metrics) RPCCallStarted() {
	if m == nil {
		return
	}
	m.rpcInFlight.Inc()
}

func (m *Metrics) RPCCallFinished() {
	if m == nil {
		return
	}
	m.rpcInFlight.Dec()
}

// SignalingTransition records a session state change.
func (m *Metrics) SignalingTransition(state string) {
	if m == nil {
		return
	}
	m.signalingTransitions.WithLabelValues(state).Inc()
}
