// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

type emotionParams struct {
	Emotion string `json:"emotion"`
}

type cameraParams struct {
	Enabled bool `json:"enabled"`
}

// testRegistry builds the device-control registry used across tests:
// the same two tools the protocol scenarios exercise.
func testRegistry(t *testing.T, invoked *[]string) *Registry {
	t.Helper()
	registry := NewRegistry()

	err := registry.Register(Capability{
		Name:        "change_emotion",
		Description: "Change the avatar's facial expression",
		Schema: Schema{
			Type: "object",
			Properties: map[string]*Property{
				"emotion": {
					Type: "string",
					Enum: []any{"happy", "sad", "angry", "neutral"},
				},
			},
			Required: []string{"emotion"},
		},
		Params: func() any { return &emotionParams{} },
		Handler: func(ctx context.Context, params any) (string, error) {
			p := params.(*emotionParams)
			if invoked != nil {
				*invoked = append(*invoked, "change_emotion:"+p.Emotion)
			}
			return "emotion changed to " + p.Emotion, nil
		},
	})
	if err != nil {
		t.Fatalf("registering change_emotion: %v", err)
	}

	err = registry.Register(Capability{
		Name:        "control_camera",
		Description: "Enable or disable the camera",
		Schema: Schema{
			Type: "object",
			Properties: map[string]*Property{
				"enabled": {Type: "boolean"},
			},
			Required: []string{"enabled"},
		},
		Params: func() any { return &cameraParams{} },
		Handler: func(ctx context.Context, params any) (string, error) {
			p := params.(*cameraParams)
			if invoked != nil {
				*invoked = append(*invoked, fmt.Sprintf("control_camera:%v", p.Enabled))
			}
			return fmt.Sprintf("camera enabled: %v", p.Enabled), nil
		},
	})
	if err != nil {
		t.Fatalf("registering control_camera: %v", err)
	}

	return registry
}

func TestRegistryRoundTrip(t *testing.T) {
	registry := testRegistry(t, nil)

	valid := map[string]json.RawMessage{
		"change_emotion": json.RawMessage(`{"emotion":"happy"}`),
		"control_camera": json.RawMessage(`{"enabled":true}`),
	}

	for _, c := range registry.List() {
		args := valid[c.Name]

		var decoded map[string]any
		if err := json.Unmarshal(args, &decoded); err != nil {
			t.Fatalf("decoding args for %s: %v", c.Name, err)
		}
		if err := registry.Validate(c.Name, decoded); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", c.Name, err)
		}

		result, err := registry.Invoke(context.Background(), c.Name, args)
		if err != nil {
			t.Errorf("Invoke(%s) = %v, want nil", c.Name, err)
		}
		if result == "" {
			t.Errorf("Invoke(%s) returned empty result", c.Name)
		}
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	registry := testRegistry(t, nil)

	var names []string
	for _, c := range registry.List() {
		names = append(names, c.Name)
	}
	want := []string{"change_emotion", "control_camera"}
	if len(names) != len(want) {
		t.Fatalf("List returned %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("List order = %v, want %v", names, want)
		}
	}
}

func TestValidateMissingRequiredField(t *testing.T) {
	registry := testRegistry(t, nil)

	err := registry.Validate("control_camera", map[string]any{})
	violations, ok := AsValidation(err)
	if !ok {
		t.Fatalf("Validate = %v, want ValidationErrors", err)
	}
	found := false
	for _, v := range violations {
		if v.Field == "enabled" && strings.Contains(v.Reason, "missing required field: enabled") {
			found = true
		}
	}
	if !found {
		t.Errorf("violations %v missing required-field entry for enabled", violations)
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Capability{
		Name: "multi",
		Schema: Schema{
			Type: "object",
			Properties: map[string]*Property{
				"a": {Type: "string"},
				"b": {Type: "integer"},
				"c": {Type: "string", Enum: []any{"x", "y"}},
			},
			Required: []string{"a", "b", "c"},
		},
		Handler: func(ctx context.Context, params any) (string, error) { return "", nil },
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	verr := registry.Validate("multi", map[string]any{
		"b": 1.5, // not integral
		"c": "z", // not in enum
	})
	violations, ok := AsValidation(verr)
	if !ok {
		t.Fatalf("Validate = %v, want ValidationErrors", verr)
	}
	if len(violations) != 3 {
		t.Errorf("got %d violations %v, want 3 (missing a, type b, enum c)", len(violations), violations)
	}
}

func TestValidateUnknownTool(t *testing.T) {
	registry := testRegistry(t, nil)
	err := registry.Validate("no_such_tool", map[string]any{})
	if _, ok := AsValidation(err); !ok {
		t.Fatalf("Validate(unknown) = %v, want ValidationErrors", err)
	}
}

func TestInvokeNeverCallsHandlerOnValidationFailure(t *testing.T) {
	var invoked []string
	registry := testRegistry(t, &invoked)

	_, err := registry.Invoke(context.Background(), "change_emotion", json.RawMessage(`{}`))
	if _, ok := AsValidation(err); !ok {
		t.Fatalf("Invoke = %v, want ValidationErrors", err)
	}
	if len(invoked) != 0 {
		t.Errorf("handler invoked %v despite validation failure", invoked)
	}
}

func TestInvokeConvertsHandlerError(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Capability{
		Name: "failing",
		Handler: func(ctx context.Context, params any) (string, error) {
			return "", fmt.Errorf("device unreachable")
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := registry.Invoke(context.Background(), "failing", nil)
	toolErr, ok := AsToolError(err)
	if !ok {
		t.Fatalf("Invoke = %v, want ToolError", err)
	}
	if toolErr.Message != "device unreachable" {
		t.Errorf("ToolError.Message = %q", toolErr.Message)
	}
}

func TestInvokeConvertsHandlerPanic(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Capability{
		Name: "panicking",
		Handler: func(ctx context.Context, params any) (string, error) {
			panic("boom")
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := registry.Invoke(context.Background(), "panicking", nil)
	toolErr, ok := AsToolError(err)
	if !ok {
		t.Fatalf("Invoke = %v, want ToolError", err)
	}
	if !strings.Contains(toolErr.Message, "boom") {
		t.Errorf("ToolError.Message = %q, want panic text", toolErr.Message)
	}
}

func TestRegisterRejectsDuplicatesAndBadSchemas(t *testing.T) {
	registry := testRegistry(t, nil)

	if err := registry.Register(Capability{
		Name:    "change_emotion",
		Handler: func(ctx context.Context, params any) (string, error) { return "", nil },
	}); err == nil {
		t.Error("duplicate registration succeeded, want error")
	}

	if err := registry.Register(Capability{
		Name: "bad_required",
		Schema: Schema{
			Type:     "object",
			Required: []string{"ghost"},
		},
		Handler: func(ctx context.Context, params any) (string, error) { return "", nil },
	}); err == nil {
		t.Error("schema with undeclared required field accepted, want error")
	}

	if err := registry.Register(Capability{
		Name: "bad_type",
		Schema: Schema{
			Type: "object",
			Properties: map[string]*Property{
				"x": {Type: "decimal"},
			},
		},
		Handler: func(ctx context.Context, params any) (string, error) { return "", nil },
	}); err == nil {
		t.Error("schema with unknown property type accepted, want error")
	}
}
