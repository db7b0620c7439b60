// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitbus/broker/internal/backoff"
	"github.com/aitbus/broker/internal/transport"
)

type fakePublisher struct {
	sent   []transport.Frame
	mu     sync.Mutex
	closed bool
}

func (p *fakePublisher) Send(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return transport.ErrClosed
	}
	p.sent = append(p.sent, transport.Frame{Topic: topic, Payload: payload})

	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return transport.ErrClosed
	}
	p.closed = true

	return nil
}

func (p *fakePublisher) Sent() []transport.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]transport.Frame(nil), p.sent...)
}

type fakeSubscriber struct {
	messages chan transport.Frame
	filters  []string
	mu       sync.Mutex
	closed   bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{messages: make(chan transport.Frame, 10)}
}

func (s *fakeSubscriber) Subscribe(filter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filters = append(s.filters, filter)

	return nil
}

func (s *fakeSubscriber) Filters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.filters...)
}

func (s *fakeSubscriber) Messages() <-chan transport.Frame {
	return s.messages
}

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrClosed
	}
	s.closed = true
	close(s.messages)

	return nil
}

func TestStream_Accessors(t *testing.T) {
	sub := newFakeSubscriber()
	s := New("decoded", Outbound, NewPluginInput("plugin-y"), nil, &fakePublisher{}, sub)

	assert.Equal(t, "decoded", s.Name())
	assert.Equal(t, Outbound, s.Direction())
	assert.Equal(t, NewPluginInput("plugin-y"), s.Input())
	assert.Equal(t, "decoded (outbound plugin:plugin-y)", s.String())

	require.NoError(t, s.Subscribe("plugin-y"))
	require.NoError(t, s.Subscribe("other"))
	assert.Equal(t, []string{"plugin-y", "other"}, s.Subscriptions())
}

func TestStream_Run(t *testing.T) {
	pipeline, err := testHandlerRegistry().Build([]any{"upper"})
	require.NoError(t, err)

	pub := &fakePublisher{}
	sub := newFakeSubscriber()
	s := New("decoded", Inbound, NewPortInput(12345), pipeline, pub, sub)

	sub.messages <- transport.Frame{Topic: "12345", Payload: []byte("first")}
	sub.messages <- transport.Frame{Topic: "12345", Payload: []byte("second")}

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	assert.Eventually(t, func() bool {
		return len(pub.Sent()) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(time.Second):
		assert.Fail(t, "stream did not stop after close")
	}

	assert.Equal(t, []transport.Frame{
		{Topic: "decoded", Payload: []byte("FIRST")},
		{Topic: "decoded", Payload: []byte("SECOND")},
	}, pub.Sent())

	require.NoError(t, s.Close())
}

func TestStream_RunSkipsDroppedAndFailedMessages(t *testing.T) {
	pipeline := Pipeline{HandlerFunc(func(_ context.Context, payload []byte) ([]byte, error) {
		switch string(payload) {
		case "drop":
			return nil, nil
		case "fail":
			return nil, errors.New("bad packet")
		default:
			return payload, nil
		}
	})}

	pub := &fakePublisher{}
	sub := newFakeSubscriber()
	s := New("filtered", Inbound, NewStreamInput("raw"), pipeline, pub, sub)

	sub.messages <- transport.Frame{Topic: "raw", Payload: []byte("drop")}
	sub.messages <- transport.Frame{Topic: "raw", Payload: []byte("fail")}
	sub.messages <- transport.Frame{Topic: "raw", Payload: []byte("keep")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return len(pub.Sent()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []transport.Frame{{Topic: "filtered", Payload: []byte("keep")}}, pub.Sent())
	require.NoError(t, s.Close())
}

func TestDefaultFactory_Create(t *testing.T) {
	transportCtx := transport.NewContext(transport.WithBackoff(&backoff.Settings{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Jitter:          backoff.Jitter,
		Multiplier:      backoff.Multiplier,
	}))
	defer transportCtx.Term()

	factory := NewFactory(testHandlerRegistry())
	strictFactory := NewFactory(NewHandlerRegistry(WithStrictHandlers()))

	tests := []struct {
		factory       *DefaultFactory
		name          string
		params        *Parameters
		expectedError error
	}{
		{
			name:    "Test 1: stream created",
			factory: factory,
			params: &Parameters{
				Transport:      transportCtx,
				Name:           "decoded",
				ServingAddress: "127.0.0.1:1",
				IntakeAddress:  "127.0.0.1:1",
				Handlers:       []any{"upper"},
				Input:          NewPortInput(12345),
				Direction:      Inbound,
			},
		},
		{
			name:    "Test 2: unregistered handler kept as a pass-through stage",
			factory: NewFactory(nil),
			params: &Parameters{
				Transport:      transportCtx,
				Name:           "telem_stream",
				ServingAddress: "127.0.0.1:1",
				IntakeAddress:  "127.0.0.1:1",
				Handlers:       []any{"ait.server.handlers.PacketHandler"},
				Input:          NewPortInput(12346),
				Direction:      Inbound,
			},
		},
		{
			name:    "Test 3: unregistered handler with strict handlers",
			factory: strictFactory,
			params: &Parameters{
				Transport:      transportCtx,
				Name:           "broken",
				ServingAddress: "127.0.0.1:1",
				IntakeAddress:  "127.0.0.1:1",
				Handlers:       []any{"PacketHandler"},
				Input:          NewPortInput(12347),
				Direction:      Inbound,
			},
			expectedError: ErrUnknownHandler,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(tt *testing.T) {
			handle, err := test.factory.Create(test.params)

			if test.expectedError != nil {
				require.ErrorIs(tt, err, test.expectedError)
				assert.Nil(tt, handle)

				return
			}

			require.NoError(tt, err)
			assert.Equal(tt, test.params.Name, handle.Name())
			assert.Equal(tt, test.params.Direction, handle.Direction())
			assert.Equal(tt, test.params.Input, handle.Input())
			require.NoError(tt, handle.Close())
		})
	}

	_, err := factory.Create(&Parameters{Name: "orphan"})
	require.Error(t, err)

	require.NoError(t, transportCtx.Term())
	_, err = factory.Create(&Parameters{Transport: transportCtx, Name: "late"})
	require.ErrorIs(t, err, transport.ErrTerminated)
}
