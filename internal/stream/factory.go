// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package stream

import (
	"errors"
	"fmt"

	"github.com/aitbus/broker/internal/transport"
)

// Parameters carries everything needed to build a stream handle bound to the
// shared transport context.
type Parameters struct {
	Transport      *transport.Context
	Name           string
	ServingAddress string
	IntakeAddress  string
	Handlers       []any
	Input          Input
	Direction      Direction
}

type Factory interface {
	Create(params *Parameters) (Handle, error)
}

type DefaultFactory struct {
	handlers *HandlerRegistry
}

var _ Factory = (*DefaultFactory)(nil)

func NewFactory(handlers *HandlerRegistry) *DefaultFactory {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}

	return &DefaultFactory{
		handlers: handlers,
	}
}

// Create builds a stream that subscribes against the serving address and
// publishes toward the intake address.
func (f *DefaultFactory) Create(params *Parameters) (Handle, error) {
	if params.Transport == nil {
		return nil, errors.New("transport context is required")
	}

	pipeline, err := f.handlers.Build(params.Handlers)
	if err != nil {
		return nil, err
	}

	subscriber, err := params.Transport.NewSubscriber(params.ServingAddress)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	publisher, err := params.Transport.NewPublisher(params.IntakeAddress)
	if err != nil {
		subscriber.Close()
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	return New(params.Name, params.Direction, params.Input, pipeline, publisher, subscriber), nil
}
