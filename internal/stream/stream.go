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

	"github.com/aitbus/broker/internal/logger"
	"github.com/aitbus/broker/internal/transport"
)

type (
	// Publisher sends on the relay intake side.
	Publisher interface {
		Send(topic string, payload []byte) error
		Close() error
	}

	// Subscriber receives from the relay serving side.
	Subscriber interface {
		Subscribe(filter string) error
		Filters() []string
		Messages() <-chan transport.Frame
		Close() error
	}

	// Stream consumes the frames selected by its subscriptions, runs them through
	// its handler pipeline and republishes the result using its own name as topic.
	Stream struct {
		publisher  Publisher
		subscriber Subscriber
		input      Input
		name       string
		pipeline   Pipeline
		direction  Direction
	}
)

var _ Handle = (*Stream)(nil)

func New(name string, direction Direction, input Input, pipeline Pipeline,
	publisher Publisher, subscriber Subscriber,
) *Stream {
	return &Stream{
		publisher:  publisher,
		subscriber: subscriber,
		input:      input,
		name:       name,
		pipeline:   pipeline,
		direction:  direction,
	}
}

func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) Direction() Direction {
	return s.direction
}

func (s *Stream) Input() Input {
	return s.input
}

func (s *Stream) Subscribe(topic string) error {
	return s.subscriber.Subscribe(topic)
}

func (s *Stream) Subscriptions() []string {
	return s.subscriber.Filters()
}

func (s *Stream) String() string {
	return fmt.Sprintf("%s (%s %s)", s.name, s.direction, s.input)
}

// Run processes frames until ctx is done or the subscriber is closed.
func (s *Stream) Run(ctx context.Context) error {
	ctx = logger.WithStreamName(ctx, s.name)
	slog.DebugContext(ctx, "Stream running", "input", s.input.String())

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-s.subscriber.Messages():
			if !ok {
				slog.DebugContext(ctx, "Stream subscriber closed")
				return nil
			}

			if err := s.process(ctx, frame); err != nil {
				if errors.Is(err, transport.ErrClosed) {
					return nil
				}
				slog.WarnContext(ctx, "Unable to process message", "topic", frame.Topic, "error", err)
			}
		}
	}
}

func (s *Stream) process(ctx context.Context, frame transport.Frame) error {
	payload, err := s.pipeline.Process(ctx, frame.Payload)
	if err != nil {
		return err
	}

	if payload == nil {
		return nil
	}

	return s.publisher.Send(s.name, payload)
}

func (s *Stream) Close() error {
	return errors.Join(
		ignoreClosed(s.subscriber.Close()),
		ignoreClosed(s.publisher.Close()),
	)
}

func ignoreClosed(err error) error {
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}

	return err
}
