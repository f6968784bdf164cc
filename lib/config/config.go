// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Peerlink peers.
//
// Configuration is loaded from a single YAML file specified by:
//   - PEERLINK_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// The only expansion performed is ${VAR} and ${VAR:-default} patterns
// in string values, for portability of credentials and paths.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a Peerlink peer.
type Config struct {
	// Broker configures the MQTT connection.
	Broker BrokerConfig `yaml:"broker"`

	// Provider configures the capability provider identity.
	Provider ProviderConfig `yaml:"provider"`

	// Signaling configures WebRTC negotiation.
	Signaling SignalingConfig `yaml:"signaling"`
}

// BrokerConfig configures the MQTT broker connection.
type BrokerConfig struct {
	// URL is the broker address (e.g., "mqtt://localhost:1883" or
	// "tls://broker.example.com:8883").
	URL string `yaml:"url"`

	// Username and Password authenticate the MQTT connection.
	// Optional; anonymous connections are allowed by some brokers.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ClientIDPrefix is prepended to the generated peer id to form
	// the MQTT client identifier. Default: "peerlink".
	ClientIDPrefix string `yaml:"client_id_prefix"`

	// ConnectTimeout bounds the wait for the broker's connection
	// acknowledgment. Default: 4s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReconnectPeriod is the fixed delay between reconnect attempts
	// after an unexpected disconnect. Default: 1s.
	ReconnectPeriod time.Duration `yaml:"reconnect_period"`

	// KeepAlive is the MQTT keep-alive interval in seconds.
	// Default: 30.
	KeepAlive uint16 `yaml:"keep_alive"`

	// SessionExpirySeconds is the MQTT 5 session expiry interval
	// requested at connect. Default: 60.
	SessionExpirySeconds uint32 `yaml:"session_expiry_seconds"`

	// QoS is the quality-of-service level for published messages.
	// Default: 1 (at least once).
	QoS byte `yaml:"qos"`
}

// ProviderConfig identifies the capability provider.
type ProviderConfig struct {
	// Name is the provider name segment used in topic construction
	// (e.g., "hardware-controller-dev-1"). Must be a single topic
	// segment: no separators or wildcards.
	Name string `yaml:"name"`

	// Description is the human-readable description published in the
	// presence announcement.
	Description string `yaml:"description"`
}

// SignalingConfig configures WebRTC negotiation.
type SignalingConfig struct {
	// ICEServers lists STUN/TURN endpoints for candidate gathering.
	// Order matters: pion tries them in sequence.
	ICEServers []ICEServerConfig `yaml:"ice_servers"`

	// AnswerTimeout bounds the wait for an SDP answer after the
	// offer is published. Default: 30s.
	AnswerTimeout time.Duration `yaml:"answer_timeout"`
}

// ICEServerConfig is one STUN or TURN endpoint with optional
// credentials.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// Default returns the default configuration. These defaults exist to
// give every field a sensible zero value, not as a fallback — the
// config file is required for anything beyond local development.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:                  "mqtt://localhost:1883",
			ClientIDPrefix:       "peerlink",
			ConnectTimeout:       4 * time.Second,
			ReconnectPeriod:      time.Second,
			KeepAlive:            30,
			SessionExpirySeconds: 60,
			QoS:                  1,
		},
		Provider: ProviderConfig{
			Name:        "peerlink-peer",
			Description: "Peerlink capability provider",
		},
		Signaling: SignalingConfig{
			AnswerTimeout: 30 * time.Second,
		},
	}
}

// Load loads configuration from the PEERLINK_CONFIG environment
// variable. There is no fallback: if PEERLINK_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	path := os.Getenv("PEERLINK_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("PEERLINK_CONFIG environment variable not set; " +
			"set it to the path of your peerlink.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults and expanding ${VAR} patterns in string values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// string fields that commonly carry environment-provided values.
func (c *Config) expandVariables() {
	c.Broker.URL = expandVars(c.Broker.URL)
	c.Broker.Username = expandVars(c.Broker.Username)
	c.Broker.Password = expandVars(c.Broker.Password)
	for i := range c.Signaling.ICEServers {
		server := &c.Signaling.ICEServers[i]
		server.Username = expandVars(server.Username)
		server.Credential = expandVars(server.Credential)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors. All violations are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Broker.URL == "" {
		errs = append(errs, fmt.Errorf("broker.url is required"))
	} else if _, err := url.Parse(c.Broker.URL); err != nil {
		errs = append(errs, fmt.Errorf("broker.url: %w", err))
	}

	if c.Broker.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("broker.connect_timeout must be positive"))
	}
	if c.Broker.ReconnectPeriod <= 0 {
		errs = append(errs, fmt.Errorf("broker.reconnect_period must be positive"))
	}
	if c.Broker.QoS > 2 {
		errs = append(errs, fmt.Errorf("broker.qos must be 0, 1, or 2"))
	}

	if c.Provider.Name == "" {
		errs = append(errs, fmt.Errorf("provider.name is required"))
	}

	if c.Signaling.AnswerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("signaling.answer_timeout must be positive"))
	}
	for i, server := range c.Signaling.ICEServers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("signaling.ice_servers[%d].urls is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
