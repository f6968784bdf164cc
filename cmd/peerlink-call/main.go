// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

// peerlink-call is the operator CLI for talking to Peerlink providers:
// discover who is online, inspect a provider's tool catalog, and
// invoke tools.
//
// Usage:
//
//	peerlink-call discover
//	peerlink-call list [--provider NAME]
//	peerlink-call call TOOL [JSON-ARGS] [--provider NAME]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/peerlink-foundation/peerlink/lib/config"
	"github.com/peerlink-foundation/peerlink/mcp"
	"github.com/peerlink-foundation/peerlink/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "peerlink-call: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var providerName string
	var timeout time.Duration
	var verbose bool

	flagSet := pflag.NewFlagSet("peerlink-call", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML configuration (overrides PEERLINK_CONFIG)")
	flagSet.StringVar(&providerName, "provider", "", "provider name to target (default: first discovered)")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "per-operation timeout")
	flagSet.BoolVar(&verbose, "verbose", false, "log transport activity to stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		return fmt.Errorf("usage: peerlink-call <discover|list|call> [args]")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	consumerID := uuid.NewString()
	client, err := messaging.NewClient(messaging.ClientConfig{
		BrokerURL:            cfg.Broker.URL,
		ClientID:             cfg.Broker.ClientIDPrefix + "-call-" + consumerID,
		Identity:             consumerID,
		ComponentType:        messaging.ComponentClient,
		Username:             cfg.Broker.Username,
		Password:             cfg.Broker.Password,
		ConnectTimeout:       cfg.Broker.ConnectTimeout,
		ReconnectPeriod:      cfg.Broker.ReconnectPeriod,
		KeepAlive:            cfg.Broker.KeepAlive,
		SessionExpirySeconds: cfg.Broker.SessionExpirySeconds,
		DefaultQoS:           cfg.Broker.QoS,
		Logger:               logger,
	})
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer client.Disconnect(context.Background())

	consumer, err := mcp.NewConsumer(client, mcp.ConsumerConfig{
		ClientName: "peerlink-call",
		QoS:        cfg.Broker.QoS,
	}, logger, nil)
	if err != nil {
		return err
	}

	switch args[0] {
	case "discover":
		return discover(ctx, consumer)
	case "list":
		return listTools(ctx, consumer, providerName)
	case "call":
		if len(args) < 2 {
			return fmt.Errorf("usage: peerlink-call call TOOL [JSON-ARGS]")
		}
		arguments := json.RawMessage(`{}`)
		if len(args) > 2 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("arguments are not valid JSON: %s", args[2])
			}
			arguments = json.RawMessage(args[2])
		}
		return callTool(ctx, consumer, providerName, args[1], arguments)
	default:
		return fmt.Errorf("unknown command %q (want discover, list, or call)", args[0])
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

// discover prints presence announcements until the timeout elapses.
func discover(ctx context.Context, consumer *mcp.Consumer) error {
	announcements := make(chan mcp.Announcement, 16)
	err := consumer.Discover(ctx,
		func(a mcp.Announcement) { announcements <- a },
		func(providerID, providerName string) {
			fmt.Printf("offline  %s (%s)\n", providerName, providerID)
		})
	if err != nil {
		return err
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			if seen == 0 {
				return fmt.Errorf("no providers discovered")
			}
			return nil
		case a := <-announcements:
			seen++
			fmt.Printf("online   %s (%s)  %s\n", a.ServerName, a.ProviderID, a.Description)
		}
	}
}

// pickProvider waits for a provider announcement, matching name when
// given, otherwise taking the first provider seen.
func pickProvider(ctx context.Context, consumer *mcp.Consumer, name string) (mcp.Announcement, error) {
	matched := make(chan mcp.Announcement, 1)
	err := consumer.Discover(ctx, func(a mcp.Announcement) {
		if name != "" && a.ProviderName != name && a.ServerName != name {
			return
		}
		select {
		case matched <- a:
		default:
		}
	}, nil)
	if err != nil {
		return mcp.Announcement{}, err
	}

	select {
	case <-ctx.Done():
		if name != "" {
			return mcp.Announcement{}, fmt.Errorf("provider %q not found", name)
		}
		return mcp.Announcement{}, fmt.Errorf("no providers discovered")
	case a := <-matched:
		return a, nil
	}
}

func listTools(ctx context.Context, consumer *mcp.Consumer, providerName string) error {
	provider, err := pickProvider(ctx, consumer, providerName)
	if err != nil {
		return err
	}
	if _, err := consumer.Initialize(ctx, provider.ProviderID, provider.ProviderName); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	result, err := consumer.ListTools(ctx, provider.ProviderID, provider.ProviderName)
	if err != nil {
		return err
	}
	for _, tool := range result.Tools {
		fmt.Printf("%-24s %s\n", tool.Name, tool.Description)
	}
	return nil
}

func callTool(ctx context.Context, consumer *mcp.Consumer, providerName, tool string, arguments json.RawMessage) error {
	provider, err := pickProvider(ctx, consumer, providerName)
	if err != nil {
		return err
	}
	if _, err := consumer.Initialize(ctx, provider.ProviderID, provider.ProviderName); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	result, err := consumer.CallTool(ctx, provider.ProviderID, provider.ProviderName, tool, arguments)
	if err != nil {
		return err
	}
	for _, block := range result.Content {
		fmt.Println(block.Text)
	}
	return nil
}
