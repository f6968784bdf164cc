// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// peerlink-peer is the provider-side daemon: it connects to the MQTT
// broker, announces the peer's presence with a retained record,
// serves the device-control capabilities over topic-routed RPC, and
// opens media signaling sessions on request.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/peerlink-foundation/peerlink/capability"
	"github.com/peerlink-foundation/peerlink/lib/config"
	"github.com/peerlink-foundation/peerlink/lib/metrics"
	"github.com/peerlink-foundation/peerlink/mcp"
	"github.com/peerlink-foundation/peerlink/messaging"
	"github.com/peerlink-foundation/peerlink/signaling"
	"github.com/peerlink-foundation/peerlink/textchannel"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "peerlink-peer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var metricsListen string

	flagSet := pflag.NewFlagSet("peerlink-peer", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML configuration (overrides PEERLINK_CONFIG)")
	flagSet.StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (e.g., :9090)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	peerID := uuid.NewString()
	presenceTopic := mcp.PresenceTopic(peerID, cfg.Provider.Name)

	announceAgain := make(chan struct{}, 1)
	var connects int
	client, err := messaging.NewClient(messaging.ClientConfig{
		BrokerURL:            cfg.Broker.URL,
		ClientID:             cfg.Broker.ClientIDPrefix + "-" + peerID,
		Identity:             peerID,
		ComponentType:        messaging.ComponentServer,
		Username:             cfg.Broker.Username,
		Password:             cfg.Broker.Password,
		ConnectTimeout:       cfg.Broker.ConnectTimeout,
		ReconnectPeriod:      cfg.Broker.ReconnectPeriod,
		KeepAlive:            cfg.Broker.KeepAlive,
		SessionExpirySeconds: cfg.Broker.SessionExpirySeconds,
		DefaultQoS:           cfg.Broker.QoS,
		// Ungraceful disconnects clear the retained announcement.
		Will: &messaging.Message{
			Topic:  presenceTopic,
			QoS:    cfg.Broker.QoS,
			Retain: true,
		},
		OnStateChange: func(state messaging.ConnectionState) {
			if state.Transport != messaging.StatusConnected {
				return
			}
			connects++
			if connects > 1 {
				select {
				case announceAgain <- struct{}{}:
				default:
				}
			}
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer client.Disconnect(context.Background())

	sessions := newSessionManager(client, cfg, logger, m)
	defer sessions.closeAll()

	registry := capability.NewRegistry()
	if err := registerDeviceTools(registry, logger); err != nil {
		return err
	}
	if err := sessions.registerTool(registry); err != nil {
		return err
	}

	provider, err := mcp.NewProvider(client, registry, mcp.ProviderConfig{
		Name:        cfg.Provider.Name,
		Description: cfg.Provider.Description,
		Version:     version,
		QoS:         cfg.Broker.QoS,
	}, logger, m)
	if err != nil {
		return err
	}
	if err := provider.Start(ctx); err != nil {
		return fmt.Errorf("starting provider: %w", err)
	}

	if metricsListen != "" {
		go serveMetrics(metricsListen, m, logger)
	}

	logger.Info("peer online",
		"provider_id", peerID,
		"provider_name", cfg.Provider.Name,
		"broker", cfg.Broker.URL)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Stop(shutdownCtx); err != nil {
				logger.Warn("withdrawing presence", "error", err)
			}
			return nil
		case <-announceAgain:
			// The broker drops in-flight subscriptions' retained
			// state guarantees across a session expiry; republishing
			// keeps the announcement live after every reconnect.
			if err := provider.Announce(ctx); err != nil {
				logger.Warn("re-announcing presence", "error", err)
			}
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("PEERLINK_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registerDeviceTools registers the device-control capabilities. The
// handlers log the requested action; the hardware binding is supplied
// by the embedding deployment.
func registerDeviceTools(registry *capability.Registry, logger *slog.Logger) error {
	type cameraParams struct {
		Enabled bool `json:"enabled"`
	}
	if err := registry.Register(capability.Capability{
		Name:        "control_camera",
		Description: "Enable or disable the device camera",
		Schema: capability.Schema{
			Type: "object",
			Properties: map[string]*capability.Property{
				"enabled": {Type: "boolean", Description: "true to enable the camera"},
			},
			Required: []string{"enabled"},
		},
		Params: func() any { return &cameraParams{} },
		Handler: func(ctx context.Context, params any) (string, error) {
			p := params.(*cameraParams)
			logger.Info("camera control", "enabled", p.Enabled)
			return fmt.Sprintf("camera enabled: %v", p.Enabled), nil
		},
	}); err != nil {
		return err
	}

	type emotionParams struct {
		Emotion string `json:"emotion"`
	}
	if err := registry.Register(capability.Capability{
		Name:        "change_emotion",
		Description: "Change the avatar's facial expression",
		Schema: capability.Schema{
			Type: "object",
			Properties: map[string]*capability.Property{
				"emotion": {
					Type:        "string",
					Description: "expression to display",
					Enum:        []any{"happy", "sad", "angry", "surprised", "neutral"},
				},
			},
			Required: []string{"emotion"},
		},
		Params: func() any { return &emotionParams{} },
		Handler: func(ctx context.Context, params any) (string, error) {
			p := params.(*emotionParams)
			logger.Info("emotion change", "emotion", p.Emotion)
			return "emotion changed to " + p.Emotion, nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(capability.Capability{
		Name:        "take_photo",
		Description: "Capture a still photo with the device camera",
		Schema:      capability.Schema{Type: "object"},
		Handler: func(ctx context.Context, params any) (string, error) {
			logger.Info("photo capture requested")
			return "photo captured", nil
		},
	}); err != nil {
		return err
	}

	return nil
}

// sessionManager owns the daemon's media signaling sessions, opened
// on request through the open_media_session tool.
type sessionManager struct {
	conn   messaging.Conn
	cfg    *config.Config
	logger *slog.Logger
	m      *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*signaling.Session
	channels map[string]*textchannel.Channel
}

func newSessionManager(conn messaging.Conn, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *sessionManager {
	return &sessionManager{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		m:        m,
		sessions: make(map[string]*signaling.Session),
		channels: make(map[string]*textchannel.Channel),
	}
}

func (sm *sessionManager) registerTool(registry *capability.Registry) error {
	type openParams struct {
		SessionID string `json:"session_id"`
	}
	return registry.Register(capability.Capability{
		Name:        "open_media_session",
		Description: "Open a media signaling session toward the multimedia proxy",
		Schema: capability.Schema{
			Type: "object",
			Properties: map[string]*capability.Property{
				"session_id": {Type: "string", Description: "session identifier shared with the proxy"},
			},
			Required: []string{"session_id"},
		},
		Params: func() any { return &openParams{} },
		Handler: func(ctx context.Context, params any) (string, error) {
			p := params.(*openParams)
			if err := sm.open(ctx, p.SessionID); err != nil {
				return "", err
			}
			return "media session opened: " + p.SessionID, nil
		},
	})
}

func (sm *sessionManager) open(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	if _, exists := sm.sessions[sessionID]; exists {
		sm.mu.Unlock()
		return fmt.Errorf("session %s already open", sessionID)
	}
	sm.mu.Unlock()

	track, err := signaling.NewStaticTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "peerlink")
	if err != nil {
		return fmt.Errorf("creating audio track: %w", err)
	}

	session, err := signaling.NewSession(sm.conn, signaling.SessionConfig{
		ID:            sessionID,
		Source:        signaling.NewStaticSource(track),
		ICEServers:    iceServers(sm.cfg.Signaling.ICEServers),
		AnswerTimeout: sm.cfg.Signaling.AnswerTimeout,
		QoS:           sm.cfg.Broker.QoS,
		OnStateChange: func(state signaling.State, err error) {
			if err != nil {
				sm.logger.Error("media session failed", "session", sessionID, "error", err)
			}
			if state == signaling.StateFailed || state == signaling.StateClosed {
				sm.remove(sessionID)
			}
		},
	}, nil, sm.logger, sm.m)
	if err != nil {
		return err
	}

	channel, err := textchannel.New(sm.conn, sessionID, sm.cfg.Broker.QoS, sm.logger, sm.m)
	if err != nil {
		return err
	}
	if err := channel.Listen(ctx, textchannel.Handlers{
		OnRecognition: func(text string) {
			sm.logger.Info("speech recognized", "session", sessionID, "text", text)
		},
		OnSynthesis: func(text string) {
			sm.logger.Info("speech synthesized", "session", sessionID, "text", text)
		},
		OnChat: func(payload []byte) {
			sm.logger.Info("chat message", "session", sessionID, "payload", string(payload))
		},
	}); err != nil {
		return fmt.Errorf("listening on text channel: %w", err)
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.channels[sessionID] = channel
	sm.mu.Unlock()

	if err := session.Open(ctx); err != nil {
		sm.remove(sessionID)
		return err
	}
	return nil
}

func (sm *sessionManager) remove(sessionID string) {
	sm.mu.Lock()
	channel := sm.channels[sessionID]
	delete(sm.sessions, sessionID)
	delete(sm.channels, sessionID)
	sm.mu.Unlock()
	if channel != nil {
		if err := channel.Stop(context.Background()); err != nil {
			sm.logger.Warn("stopping text channel", "session", sessionID, "error", err)
		}
	}
}

func (sm *sessionManager) closeAll() {
	sm.mu.Lock()
	sessions := make([]*signaling.Session, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		sessions = append(sessions, session)
	}
	sm.mu.Unlock()
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			sm.logger.Warn("closing media session", "session", session.ID(), "error", err)
		}
	}
}

func iceServers(configs []config.ICEServerConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(configs))
	for _, c := range configs {
		server := webrtc.ICEServer{URLs: c.URLs, Username: c.Username}
		if c.Credential != "" {
			server.Credential = c.Credential
		}
		servers = append(servers, server)
	}
	return servers
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server", "error", err)
	}
}
