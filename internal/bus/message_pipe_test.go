// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aitbus/broker/internal/logger"
)

type testPlugin struct {
	processed chan *Message
	mock.Mock
}

func (p *testPlugin) Init(ctx context.Context, _ MessagePipeInterface) error {
	p.Called(logger.PluginName(ctx))
	return nil
}

func (p *testPlugin) Process(_ context.Context, msg *Message) {
	p.Called()
	if p.processed != nil {
		p.processed <- msg
	}
}

func (p *testPlugin) Close(ctx context.Context) error {
	p.Called(logger.PluginName(ctx))
	return nil
}

func (*testPlugin) Info() *Info {
	return &Info{"test"}
}

func (*testPlugin) Subscriptions() []string {
	return []string{PortAddedTopic}
}

func TestMessagePipe(t *testing.T) {
	messages := []*Message{
		{Topic: PortAddedTopic, Data: 3076},
		{Topic: PortAddedTopic, Data: 3077},
		{Topic: StreamAddedTopic, Data: "ignored"},
		{Topic: PortAddedTopic, Data: 3078},
	}

	plugin := &testPlugin{processed: make(chan *Message, len(messages))}
	plugin.On("Init", "test").Times(1)
	plugin.On("Process").Times(3)
	plugin.On("Close", "test").Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	pipelineDone := make(chan bool)

	messagePipe := NewMessagePipe(100)
	err := messagePipe.Register(10, []Plugin{plugin})

	require.NoError(t, err)

	go func() {
		messagePipe.Run(ctx)
		pipelineDone <- true
	}()

	messagePipe.Process(ctx, messages...)

	var ports []any
	for len(ports) < 3 {
		select {
		case msg := <-plugin.processed:
			ports = append(ports, msg.Data)
		case <-time.After(time.Second):
			require.Fail(t, "plugin did not receive the port-added messages")
		}
	}
	assert.ElementsMatch(t, []any{3076, 3077, 3078}, ports)

	cancel()
	<-pipelineDone

	plugin.AssertExpectations(t)

	// the pipe no longer accepts messages once stopped
	messagePipe.Process(context.Background(), &Message{Topic: PortAddedTopic, Data: 1})
}

func TestMessagePipe_DeRegister(t *testing.T) {
	plugin := new(testPlugin)
	plugin.On("Close", "test").Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messagePipe := NewMessagePipe(100)
	err := messagePipe.Register(100, []Plugin{plugin})

	require.NoError(t, err)
	assert.Len(t, messagePipe.Plugins(), 1)

	err = messagePipe.DeRegister(ctx, []string{plugin.Info().Name, "unknown"})

	require.NoError(t, err)
	assert.Empty(t, messagePipe.Plugins())
	plugin.AssertExpectations(t)
}

func TestMessagePipe_IsPluginRegistered(t *testing.T) {
	plugin := new(testPlugin)
	plugin.On("Init", "test").Times(1)
	plugin.On("Close", "test").Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	pipelineDone := make(chan bool)

	messagePipe := NewMessagePipe(100)
	err := messagePipe.Register(10, []Plugin{plugin})

	require.NoError(t, err)

	go func() {
		messagePipe.Run(ctx)
		pipelineDone <- true
	}()

	cancel()
	<-pipelineDone

	assert.True(t, messagePipe.IsPluginRegistered(plugin.Info().Name))
	assert.False(t, messagePipe.IsPluginRegistered("ingest"))
}
