// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/aitbus/broker/internal/bus"
	"github.com/aitbus/broker/internal/config"
	"github.com/aitbus/broker/internal/stream"
	"github.com/aitbus/broker/internal/transport"
)

const (
	inboundDegraded  = "No telemetry will be received (or displayed)."
	outboundDegraded = "No telemetry will be published."
)

type RegistryParameters struct {
	Transport *transport.Context
	Factory   stream.Factory
	// MessagePipe receives topology events. It may be nil.
	MessagePipe    bus.MessagePipeInterface
	IntakeAddress  string
	ServingAddress string
	Plugins        []string
}

// Registry resolves stream configurations into handles and wires their
// subscriptions. It owns the handles for its lifetime.
type Registry struct {
	transport      *transport.Context
	factory        stream.Factory
	messagePipe    bus.MessagePipeInterface
	ports          *PortTable
	intakeAddress  string
	servingAddress string
	inbound        []stream.Handle
	outbound       []stream.Handle
	plugins        []string
	mu             sync.RWMutex
}

func NewRegistry(params *RegistryParameters) *Registry {
	return &Registry{
		transport:      params.Transport,
		factory:        params.Factory,
		messagePipe:    params.MessagePipe,
		ports:          NewPortTable(),
		intakeAddress:  params.IntakeAddress,
		servingAddress: params.ServingAddress,
		plugins:        slices.Clone(params.Plugins),
	}
}

// LoadStreams resolves both stream groups. A nil group is reported as missing
// configuration. Entries are resolved independently: a failing entry is logged
// and skipped. The accepted handles are returned in registration order.
func (r *Registry) LoadStreams(ctx context.Context, inbound, outbound []config.StreamEntry) (
	[]stream.Handle, []error,
) {
	var (
		accepted []stream.Handle
		errs     []error
	)

	groups := []struct {
		entries    []config.StreamEntry
		streamType string
		degraded   string
	}{
		{streamType: "inbound", entries: inbound, degraded: inboundDegraded},
		{streamType: "outbound", entries: outbound, degraded: outboundDegraded},
	}

	for _, group := range groups {
		groupPath := fmt.Sprintf("server.%s-streams", group.streamType)

		if group.entries == nil {
			slog.ErrorContext(ctx, "Missing configuration", "config_path", groupPath,
				"degraded", group.degraded)
			errs = append(errs, fmt.Errorf("%w: %s", ErrConfigurationMissing, groupPath))
		}

		groupAccepted := 0
		for index, entry := range group.entries {
			path := fmt.Sprintf("%s[%d].stream", groupPath, index)

			handle, err := r.loadEntry(entry, path, group.streamType)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to create stream", "config_path", path,
					"stream_type", group.streamType, "error", err)
				errs = append(errs, err)

				continue
			}

			accepted = append(accepted, handle)
			groupAccepted++
			slog.InfoContext(ctx, "Added stream", "stream_type", group.streamType,
				"stream", handle.Name(), "input", handle.Input().String())
			r.publish(ctx, bus.StreamAddedTopic, handle)
		}

		if groupAccepted == 0 {
			slog.WarnContext(ctx, fmt.Sprintf("No valid %s telemetry stream configurations found.", group.streamType),
				"degraded", group.degraded)
		}
	}

	return accepted, errs
}

func (r *Registry) loadEntry(entry config.StreamEntry, path, streamType string) (stream.Handle, error) {
	if entry.Err != nil {
		return nil, invalidError(entry.Err, path)
	}

	handle, err := r.CreateStream(entry.Stream, path, streamType)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// the name may have been taken while the handle was built
	if r.nameTaken(handle.Name()) {
		handle.Close()
		return nil, invalidError(ErrDuplicateName, handle.Name())
	}

	if handle.Direction() == stream.Inbound {
		r.inbound = append(r.inbound, handle)
	} else {
		r.outbound = append(r.outbound, handle)
	}

	return handle, nil
}

// CreateStream validates spec against the current registry state, resolves its
// input and builds the handle. The handle is not registered.
func (r *Registry) CreateStream(spec *config.StreamSpec, path, streamType string) (stream.Handle, error) {
	direction, err := stream.ParseDirection(streamType)
	if err != nil {
		return nil, invalidError(ErrInvalidStreamType, strconv.Quote(streamType))
	}

	if spec == nil {
		return nil, missingError(path)
	}

	if spec.Name == nil {
		return nil, missingError(path + ".name")
	}

	if *spec.Name == "" {
		return nil, invalidError(ErrEmptyValue, path+".name")
	}
	name := *spec.Name

	r.mu.RLock()
	taken := r.nameTaken(name)
	r.mu.RUnlock()

	if taken {
		return nil, invalidError(ErrDuplicateName, name)
	}

	if spec.Input == nil {
		return nil, missingError(path + ".input")
	}

	// an empty input would subscribe to every topic, including the stream's own
	if *spec.Input == "" {
		return nil, invalidError(ErrEmptyValue, path+".input")
	}

	input, err := r.resolveInput(direction, *spec.Input)
	if err != nil {
		return nil, err
	}

	handle, err := r.factory.Create(&stream.Parameters{
		Transport:      r.transport,
		Name:           name,
		ServingAddress: r.servingAddress,
		IntakeAddress:  r.intakeAddress,
		Handlers:       spec.Handlers,
		Input:          input,
		Direction:      direction,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigurationInvalid, path, err)
	}

	return handle, nil
}

// resolveInput classifies a raw input. Outbound inputs name a plugin or an
// already registered stream, in that order. Inbound inputs are a port when
// they parse as an integer and a stream name otherwise.
func (r *Registry) resolveInput(direction stream.Direction, raw string) (stream.Input, error) {
	if direction == stream.Inbound {
		if port, err := strconv.Atoi(raw); err == nil {
			return stream.NewPortInput(port), nil
		}

		return stream.NewStreamInput(raw), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if slices.Contains(r.plugins, raw) {
		return stream.NewPluginInput(raw), nil
	}

	if r.streamByName(raw) != nil {
		return stream.NewStreamInput(raw), nil
	}

	return stream.Input{}, invalidError(ErrUnresolvedInput, strconv.Quote(raw))
}

// SubscribeStreams issues one subscription per registered handle, inbound
// handles first, in registration order.
func (r *Registry) SubscribeStreams(ctx context.Context) error {
	var err error

	for _, handle := range r.Streams() {
		input := handle.Input()

		if input.Kind == stream.PortInput && r.ports.Add(input.Port) {
			r.publish(ctx, bus.PortAddedTopic, input.Port)
		}

		if subscribeErr := r.subscribe(ctx, handle, input.Topic()); subscribeErr != nil {
			err = errors.Join(err, subscribeErr)
		}
	}

	return err
}

// Subscribe adds a filter for publisher's string form to subscriber. No other
// handle is affected.
func (r *Registry) Subscribe(ctx context.Context, subscriber stream.Handle, publisher any) error {
	return r.subscribe(ctx, subscriber, fmt.Sprint(publisher))
}

func (r *Registry) SubscribeByName(ctx context.Context, subscriber, publisher string) error {
	handle, ok := r.Stream(subscriber)
	if !ok {
		return fmt.Errorf("%w: %q", ErrStreamNotFound, subscriber)
	}

	return r.Subscribe(ctx, handle, publisher)
}

func (r *Registry) subscribe(ctx context.Context, handle stream.Handle, topic string) error {
	if err := handle.Subscribe(topic); err != nil {
		return fmt.Errorf("subscribe %s to %q: %w", handle.Name(), topic, err)
	}

	slog.DebugContext(ctx, "Subscribed stream", "stream", handle.Name(), "topic", topic)
	r.publish(ctx, bus.SubscriptionAddedTopic, bus.Subscription{Stream: handle.Name(), Topic: topic})

	return nil
}

// RegisterPlugin makes name available as an outbound stream input.
func (r *Registry) RegisterPlugin(ctx context.Context, name string) error {
	if name == "" {
		return missingError("server.plugins.plugin.name")
	}

	r.mu.Lock()
	if r.nameTaken(name) {
		r.mu.Unlock()
		return invalidError(ErrDuplicateName, name)
	}
	r.plugins = append(r.plugins, name)
	r.mu.Unlock()

	slog.InfoContext(ctx, "Registered plugin", "plugin", name)
	r.publish(ctx, bus.PluginRegisteredTopic, name)

	return nil
}

// Streams returns the inbound handles followed by the outbound handles.
func (r *Registry) Streams() []stream.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]stream.Handle, 0, len(r.inbound)+len(r.outbound))
	handles = append(handles, r.inbound...)

	return append(handles, r.outbound...)
}

func (r *Registry) InboundStreams() []stream.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.inbound)
}

func (r *Registry) OutboundStreams() []stream.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.outbound)
}

func (r *Registry) Stream(name string) (stream.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle := r.streamByName(name)

	return handle, handle != nil
}

func (r *Registry) Ports() []int {
	return r.ports.Ports()
}

func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.plugins)
}

// Close closes every registered handle.
func (r *Registry) Close() error {
	var err error
	for _, handle := range r.Streams() {
		err = errors.Join(err, handle.Close())
	}

	return err
}

// nameTaken must be called with mu held.
func (r *Registry) nameTaken(name string) bool {
	return r.streamByName(name) != nil || slices.Contains(r.plugins, name)
}

// streamByName must be called with mu held.
func (r *Registry) streamByName(name string) stream.Handle {
	for _, handle := range r.inbound {
		if handle.Name() == name {
			return handle
		}
	}

	for _, handle := range r.outbound {
		if handle.Name() == name {
			return handle
		}
	}

	return nil
}

func (r *Registry) publish(ctx context.Context, topic string, data bus.Payload) {
	if r.messagePipe == nil {
		return
	}

	r.messagePipe.Process(ctx, &bus.Message{Topic: topic, Data: data})
}
