// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mitchellh/mapstructure"
)

var ErrUnknownHandler = errors.New("unknown handler")

// Handler transforms a message payload. Returning a nil payload drops the message.
type Handler interface {
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// HandlerBuilder creates a handler from the options given next to its name.
type HandlerBuilder func(options map[string]any) (Handler, error)

type HandlerSpec struct {
	Options map[string]any `mapstructure:",remain"`
	Name    string         `mapstructure:"name"`
}

// opaqueHandler stands in for a configured handler with no registered builder.
// Payloads pass through it unchanged.
type opaqueHandler struct {
	name string
}

func (opaqueHandler) Handle(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

type Pipeline []Handler

func (p Pipeline) Process(ctx context.Context, payload []byte) ([]byte, error) {
	var err error
	for index, handler := range p {
		payload, err = handler.Handle(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("handler %d: %w", index, err)
		}
		if payload == nil {
			return nil, nil
		}
	}

	return payload, nil
}

type HandlerRegistry struct {
	builders map[string]HandlerBuilder
	warned   map[string]struct{}
	mu       sync.RWMutex
	strict   bool
}

type HandlerRegistryOption func(*HandlerRegistry)

// WithStrictHandlers makes Build fail with ErrUnknownHandler for handler names
// that have no registered builder.
func WithStrictHandlers() HandlerRegistryOption {
	return func(r *HandlerRegistry) {
		r.strict = true
	}
}

func NewHandlerRegistry(opts ...HandlerRegistryOption) *HandlerRegistry {
	r := &HandlerRegistry{
		builders: make(map[string]HandlerBuilder),
		warned:   make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *HandlerRegistry) Register(name string, builder HandlerBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.builders[name] = builder
}

// Build turns the configured handler list into a pipeline. Each entry is either
// a handler name or a map holding a name and the handler's options. Names with
// no registered builder become pass-through stages unless the registry is
// strict.
func (r *HandlerRegistry) Build(handlers []any) (Pipeline, error) {
	pipeline := make(Pipeline, 0, len(handlers))

	for index, raw := range handlers {
		spec, err := decodeHandlerSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("handlers[%d]: %w", index, err)
		}

		r.mu.RLock()
		builder, ok := r.builders[spec.Name]
		r.mu.RUnlock()

		if !ok {
			if r.strict {
				return nil, fmt.Errorf("handlers[%d]: %w: %q", index, ErrUnknownHandler, spec.Name)
			}

			r.warnUnknown(spec.Name)
			pipeline = append(pipeline, opaqueHandler{name: spec.Name})

			continue
		}

		handler, err := builder(spec.Options)
		if err != nil {
			return nil, fmt.Errorf("handlers[%d] %s: %w", index, spec.Name, err)
		}

		pipeline = append(pipeline, handler)
	}

	return pipeline, nil
}

// warnUnknown logs once per handler name.
func (r *HandlerRegistry) warnUnknown(name string) {
	r.mu.Lock()
	_, seen := r.warned[name]
	r.warned[name] = struct{}{}
	r.mu.Unlock()

	if !seen {
		slog.Warn("No handler registered under this name, messages pass through it unchanged",
			"handler", name)
	}
}

func decodeHandlerSpec(raw any) (HandlerSpec, error) {
	if name, ok := raw.(string); ok {
		return HandlerSpec{Name: name}, nil
	}

	var spec HandlerSpec
	if err := mapstructure.Decode(raw, &spec); err != nil {
		return spec, err
	}

	if spec.Name == "" {
		return spec, errors.New("handler name is missing")
	}

	return spec, nil
}
