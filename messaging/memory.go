// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ Conn = (*MemoryConn)(nil)

// MemoryBroker is an in-process broker for tests. It honors topic
// wildcards and retained messages; delivery to each subscription is
// asynchronous through a per-subscription queue, so a handler that
// publishes in reaction to a message never re-enters itself.
type MemoryBroker struct {
	mu       sync.Mutex
	retained map[string]Message
	subs     map[*memorySub]struct{}
	closed   bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		retained: make(map[string]Message),
		subs:     make(map[*memorySub]struct{}),
	}
}

// Conn returns a connection publishing under the given peer identity.
func (b *MemoryBroker) Conn(identity string) *MemoryConn {
	return &MemoryConn{
		broker:   b,
		identity: identity,
		filters:  make(map[string][]*memorySub),
	}
}

// Close stops every subscription. Subsequent publishes are dropped.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	subs := make([]*memorySub, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*memorySub]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (b *MemoryBroker) publish(msg Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	if msg.Retain {
		if len(msg.Payload) == 0 {
			// An empty retained publish clears the retained message,
			// matching MQTT semantics.
			delete(b.retained, msg.Topic)
		} else {
			b.retained[msg.Topic] = msg
		}
	}

	var targets []*memorySub
	for sub := range b.subs {
		if MatchTopic(sub.filter, msg.Topic) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(msg)
	}
}

func (b *MemoryBroker) addSub(sub *memorySub) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs[sub] = struct{}{}

	// Deliver matching retained messages, in stable topic order so
	// repeated subscriptions observe a deterministic sequence.
	var topics []string
	for topic := range b.retained {
		if MatchTopic(sub.filter, topic) {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	retained := make([]Message, 0, len(topics))
	for _, topic := range topics {
		retained = append(retained, b.retained[topic])
	}
	b.mu.Unlock()

	for _, msg := range retained {
		sub.deliver(msg)
	}
}

func (b *MemoryBroker) removeSub(sub *memorySub) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.stop()
}

// memorySub is one subscription: a buffered queue drained by a single
// goroutine, preserving publish order per subscription.
type memorySub struct {
	filter  string
	handler Handler
	queue   chan Message
	done    chan struct{}
	once    sync.Once
}

func newMemorySub(filter string, handler Handler) *memorySub {
	sub := &memorySub{
		filter:  filter,
		handler: handler,
		queue:   make(chan Message, 256),
		done:    make(chan struct{}),
	}
	go sub.run()
	return sub
}

func (s *memorySub) run() {
	for {
		select {
		case msg := <-s.queue:
			s.handler(msg)
		case <-s.done:
			return
		}
	}
}

func (s *memorySub) deliver(msg Message) {
	select {
	case s.queue <- msg:
	case <-s.done:
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

// MemoryConn is one peer's connection to a MemoryBroker.
type MemoryConn struct {
	broker   *MemoryBroker
	identity string

	mu      sync.Mutex
	filters map[string][]*memorySub
}

// Identity returns the peer identity this connection publishes under.
func (c *MemoryConn) Identity() string { return c.identity }

// Publish delivers msg to every matching subscription on the broker.
func (c *MemoryConn) Publish(_ context.Context, msg Message) error {
	if msg.SenderID == "" {
		msg.SenderID = c.identity
	}
	c.broker.publish(msg)
	return nil
}

// Subscribe registers handler for filter.
func (c *MemoryConn) Subscribe(_ context.Context, filter string, handler Handler) error {
	sub := newMemorySub(filter, handler)

	c.mu.Lock()
	c.filters[filter] = append(c.filters[filter], sub)
	c.mu.Unlock()

	c.broker.addSub(sub)
	return nil
}

// Unsubscribe removes the filter and all its handlers.
func (c *MemoryConn) Unsubscribe(_ context.Context, filter string) error {
	c.mu.Lock()
	subs := c.filters[filter]
	delete(c.filters, filter)
	c.mu.Unlock()

	for _, sub := range subs {
		c.broker.removeSub(sub)
	}
	return nil
}

// Close removes every subscription held by this connection.
func (c *MemoryConn) Close() {
	c.mu.Lock()
	var subs []*memorySub
	for _, filterSubs := range c.filters {
		subs = append(subs, filterSubs...)
	}
	c.filters = make(map[string][]*memorySub)
	c.mu.Unlock()

	for _, sub := range subs {
		c.broker.removeSub(sub)
	}
}
