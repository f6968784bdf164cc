// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability implements the provider-side tool registry: a
// mapping from tool name to a schema-validated handler. The registry
// is append-only for the life of the process; lookup is O(1) and
// List returns capabilities in registration order so repeated calls
// are deterministic.
//
// Handlers declare their own argument shape through a Params struct
// rather than consuming an untyped argument bag: arguments are
// validated against the declared schema first, then decoded onto a
// fresh Params value before the handler runs. Handler failures —
// including panics — are converted to [ToolError] and never propagate
// to the RPC endpoint.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes a tool call. The params argument is the value
// returned by the capability's Params function with the request
// arguments decoded onto it (or nil when the capability declares no
// Params). The returned string is the human-readable result text.
type Handler func(ctx context.Context, params any) (string, error)

// Capability is one registered tool.
type Capability struct {
	// Name uniquely identifies the tool (e.g., "change_emotion").
	Name string

	// Description is the human-readable tool description surfaced
	// through tools/list.
	Description string

	// Schema declares the tool's argument shape. Validated at
	// registration time.
	Schema Schema

	// Params returns a fresh pointer to the handler's declared
	// argument struct. Optional: when nil the handler receives nil.
	Params func() any

	// Handler executes the call. Required.
	Handler Handler
}

// Registry is the append-only capability table.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Capability)}
}

// Register adds a capability. The name must be unique and the schema
// well-formed; both are checked here so malformed tools fail at
// startup, not at call time.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return fmt.Errorf("capability: name is required")
	}
	if c.Handler == nil {
		return fmt.Errorf("capability: %s: handler is required", c.Name)
	}
	if err := c.Schema.check(); err != nil {
		return fmt.Errorf("capability: %s: %w", c.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[c.Name]; exists {
		return fmt.Errorf("capability: %s: already registered", c.Name)
	}
	stored := c
	r.byName[c.Name] = &stored
	r.order = append(r.order, c.Name)
	return nil
}

// List returns the capabilities in registration order.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Capability, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, *r.byName[name])
	}
	return list
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Validate checks arguments against the named capability's schema.
// All violations are collected so a single response can report every
// problem at once; the returned error is a [ValidationErrors] (or nil
// when the arguments are valid).
func (r *Registry) Validate(name string, args map[string]any) error {
	c, ok := r.Lookup(name)
	if !ok {
		return ValidationErrors{{Field: "name", Reason: fmt.Sprintf("unknown tool: %s", name)}}
	}
	if violations := c.Schema.validate(args); len(violations) > 0 {
		return violations
	}
	return nil
}

// Invoke validates the raw JSON arguments and runs the handler. On
// validation failure the handler is never called and the returned
// error is a [ValidationErrors]. Handler errors and panics are
// converted to [*ToolError].
func (r *Registry) Invoke(ctx context.Context, name string, arguments json.RawMessage) (result string, err error) {
	args, decodeErr := decodeArguments(arguments)
	if decodeErr != nil {
		return "", ValidationErrors{{Field: "arguments", Reason: decodeErr.Error()}}
	}

	if err := r.Validate(name, args); err != nil {
		return "", err
	}
	c, _ := r.Lookup(name)

	var params any
	if c.Params != nil {
		params = c.Params()
		if len(arguments) > 0 {
			if decodeErr := json.Unmarshal(arguments, params); decodeErr != nil {
				return "", ValidationErrors{{Field: "arguments", Reason: decodeErr.Error()}}
			}
		}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = ""
			err = &ToolError{Message: fmt.Sprintf("handler panic: %v", recovered)}
		}
	}()

	text, runErr := c.Handler(ctx, params)
	if runErr != nil {
		return "", &ToolError{Message: runErr.Error(), Err: runErr}
	}
	return text, nil
}

// decodeArguments parses the raw argument object into a map for
// schema validation. Absent or null arguments validate as an empty
// object, so tools without required fields accept bare calls.
func decodeArguments(arguments json.RawMessage) (map[string]any, error) {
	if len(arguments) == 0 || string(arguments) == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil, fmt.Errorf("arguments must be an object: %v", err)
	}
	return args, nil
}
