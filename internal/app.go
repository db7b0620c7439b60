// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aitbus/broker/internal/api"
	"github.com/aitbus/broker/internal/backoff"
	"github.com/aitbus/broker/internal/broker"
	"github.com/aitbus/broker/internal/bus"
	"github.com/aitbus/broker/internal/config"
	"github.com/aitbus/broker/internal/ingest"
	"github.com/aitbus/broker/internal/logger"
	"github.com/aitbus/broker/internal/relay"
	"github.com/aitbus/broker/internal/stream"
	"github.com/aitbus/broker/internal/transport"
)

type (
	App struct {
		handlers *stream.HandlerRegistry
		started  func(*Broker)
		commit   string
		version  string
	}

	// Broker is the running topology, handed to the started hook.
	Broker struct {
		Registry *broker.Registry
		Relay    *relay.Relay
		Gatherer prometheus.Gatherer
		API      *api.Server
	}

	AppOption func(*App)
)

// WithHandlers sets the handlers streams may name in their configuration.
func WithHandlers(handlers *stream.HandlerRegistry) AppOption {
	return func(a *App) {
		a.handlers = handlers
	}
}

// WithStartedHook is called once the streams are loaded and subscribed.
func WithStartedHook(started func(*Broker)) AppOption {
	return func(a *App) {
		a.started = started
	}
}

func NewApp(commit, version string, opts ...AppOption) *App {
	a := &App{
		commit:   commit,
		version:  version,
		handlers: stream.NewHandlerRegistry(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Run parses flags and the configuration file, then runs the broker until ctx
// is done.
func (a *App) Run(ctx context.Context) error {
	config.Init(a.version, a.commit)

	var runErr error
	config.RegisterRunner(func(cmd *cobra.Command, _ []string) {
		if err := config.RegisterConfigFile(); err != nil {
			slog.WarnContext(ctx, "Unable to load configuration file", "error", err)
		}

		brokerConfig, err := config.ResolveConfig()
		if err != nil {
			runErr = err
			return
		}

		slog.SetDefault(logger.New(logger.Parameters{
			Level:  brokerConfig.Log.Level,
			Path:   brokerConfig.Log.Path,
			Format: brokerConfig.Log.Format,
		}))
		slog.InfoContext(ctx, "Starting aitbus", "version", a.version, "commit", a.commit)

		runErr = a.Start(cmd.Context(), brokerConfig)
	})

	if err := config.Execute(ctx); err != nil {
		return err
	}

	return runErr
}

// Start builds the relay, the registry and the bus plugins from cfg and blocks
// until ctx is done or the relay fails.
func (a *App) Start(ctx context.Context, cfg *config.Config) error {
	ctx = logger.WithCorrelationID(ctx, logger.GenerateCorrelationID().Value.String())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	relayMetrics, err := relay.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register relay metrics: %w", err)
	}

	ingestMetrics, err := ingest.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register ingest metrics: %w", err)
	}

	transportCtx := transport.NewContext(
		transport.WithQueueSize(cfg.Relay.QueueSize),
		transport.WithBackoff(backoffSettings(cfg.Client)),
	)

	relayCore := relay.New(transportCtx, cfg.Relay.IntakeAddress, cfg.Relay.ServingAddress,
		relay.WithMetrics(relayMetrics), relay.WithQueueSize(cfg.Relay.QueueSize))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return relayCore.Run(groupCtx)
	})

	select {
	case <-relayCore.Ready():
	case <-groupCtx.Done():
		return group.Wait()
	}

	intakeAddress := relayCore.IntakeAddr().String()
	servingAddress := relayCore.ServingAddr().String()

	messagePipe := bus.NewMessagePipe(cfg.Bus.QueueSize)

	server := cfg.Server
	if server == nil {
		server = &config.Server{}
	}

	streams := broker.NewRegistry(&broker.RegistryParameters{
		Transport:      transportCtx,
		Factory:        stream.NewFactory(a.handlers),
		MessagePipe:    messagePipe,
		IntakeAddress:  intakeAddress,
		ServingAddress: servingAddress,
		Plugins:        server.Plugins,
	})

	running := &Broker{
		Registry: streams,
		Relay:    relayCore,
		Gatherer: registry,
	}

	plugins := []bus.Plugin{
		stream.NewRunner(),
		ingest.NewPortServer(transportCtx, cfg.Ingest.Host, intakeAddress, ingest.WithMetrics(ingestMetrics)),
	}

	if cfg.API.Port > 0 {
		running.API = api.NewServer(&api.ServerParameters{
			Broker:   streams,
			Gatherer: registry,
			Logger:   slog.Default(),
			Host:     cfg.API.Host,
			Port:     cfg.API.Port,
		})
		plugins = append(plugins, running.API)
	}

	if err = messagePipe.Register(cfg.Bus.QueueSize, plugins); err != nil {
		cancel()

		return errors.Join(fmt.Errorf("register plugins: %w", err), group.Wait())
	}

	group.Go(func() error {
		messagePipe.Run(groupCtx)
		return nil
	})

	streams.LoadStreams(groupCtx, server.InboundStreams, server.OutboundStreams)

	if err = streams.SubscribeStreams(groupCtx); err != nil {
		slog.ErrorContext(groupCtx, "Failed to subscribe streams", "error", err)
	}

	if a.started != nil {
		a.started(running)
	}

	err = group.Wait()

	if closeErr := streams.Close(); closeErr != nil {
		slog.WarnContext(ctx, "Failed to close streams", "error", closeErr)
	}

	slog.InfoContext(ctx, "aitbus stopped")

	return err
}

func backoffSettings(client *config.Client) *backoff.Settings {
	if client == nil || client.Backoff == nil {
		return nil
	}

	return &backoff.Settings{
		InitialInterval: client.Backoff.InitialInterval,
		MaxInterval:     client.Backoff.MaxInterval,
		MaxElapsedTime:  client.Backoff.MaxElapsedTime,
		Multiplier:      client.Backoff.Multiplier,
		Jitter:          client.Backoff.Jitter,
	}
}
