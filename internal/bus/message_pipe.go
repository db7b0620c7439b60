// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	messagebus "github.com/vardius/message-bus"

	"github.com/aitbus/broker/internal/logger"
)

type (
	Payload interface{}

	Message struct {
		Data  Payload
		Topic string
	}

	Info struct {
		Name string
	}

	// Plugin reacts to internal broker events published on the topics it
	// subscribes to.
	Plugin interface {
		Init(ctx context.Context, messagePipe MessagePipeInterface) error
		Close(ctx context.Context) error
		Info() *Info
		Process(ctx context.Context, msg *Message)
		Subscriptions() []string
	}

	MessagePipeInterface interface {
		Register(size int, plugins []Plugin) error
		DeRegister(ctx context.Context, plugins []string) error
		Process(ctx context.Context, messages ...*Message)
		Run(ctx context.Context)
		Plugins() []Plugin
		IsPluginRegistered(pluginName string) bool
	}

	MessagePipe struct {
		bus            messagebus.MessageBus
		messageChannel chan *Message
		done           chan struct{}
		plugins        []Plugin
		pluginsMutex   sync.RWMutex
	}
)

var _ MessagePipeInterface = (*MessagePipe)(nil)

func NewMessagePipe(size int) *MessagePipe {
	return &MessagePipe{
		messageChannel: make(chan *Message, size),
		done:           make(chan struct{}),
		pluginsMutex:   sync.RWMutex{},
	}
}

// Register subscribes plugins to their topics. size is the queue length of each
// subscription.
func (p *MessagePipe) Register(size int, plugins []Plugin) error {
	p.pluginsMutex.Lock()
	defer p.pluginsMutex.Unlock()

	if p.bus == nil {
		p.bus = messagebus.New(size)
	}

	pluginsRegistered := []string{}

	for _, plugin := range plugins {
		for _, subscription := range plugin.Subscriptions() {
			err := p.bus.Subscribe(subscription, plugin.Process)
			if err != nil {
				return err
			}
		}
		p.plugins = append(p.plugins, plugin)
		pluginsRegistered = append(pluginsRegistered, plugin.Info().Name)
	}

	slog.Info("Finished registering plugins", "plugins", pluginsRegistered)

	return nil
}

func (p *MessagePipe) DeRegister(ctx context.Context, pluginNames []string) error {
	p.pluginsMutex.Lock()
	defer p.pluginsMutex.Unlock()

	var err error
	for _, name := range pluginNames {
		index := getIndex(name, p.plugins)
		if index == -1 {
			continue
		}

		plugin := p.plugins[index]
		p.plugins = append(p.plugins[:index], p.plugins[index+1:]...)

		for _, subscription := range plugin.Subscriptions() {
			err = errors.Join(err, p.bus.Unsubscribe(subscription, plugin.Process))
		}

		err = errors.Join(err, plugin.Close(logger.WithPluginName(ctx, name)))
	}

	return err
}

func getIndex(pluginName string, plugins []Plugin) int {
	for index, plugin := range plugins {
		if pluginName == plugin.Info().Name {
			return index
		}
	}

	return -1
}

// Process queues messages for delivery. It gives up when ctx is done or the
// pipe has stopped running.
func (p *MessagePipe) Process(ctx context.Context, messages ...*Message) {
	for _, m := range messages {
		select {
		case p.messageChannel <- m:
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}

// Run initialises the registered plugins and delivers queued messages until ctx
// is done, then closes the plugins.
func (p *MessagePipe) Run(ctx context.Context) {
	defer close(p.done)

	p.initPlugins(ctx)

	for {
		select {
		case <-ctx.Done():
			closeCtx := context.WithoutCancel(ctx)
			for _, plugin := range p.Plugins() {
				if err := plugin.Close(logger.WithPluginName(closeCtx, plugin.Info().Name)); err != nil {
					slog.ErrorContext(ctx, "Failed to close plugin", "plugin", plugin.Info().Name, "error", err)
				}
			}

			return
		case m := <-p.messageChannel:
			if m == nil {
				continue
			}

			p.pluginsMutex.RLock()
			if p.bus != nil {
				p.bus.Publish(m.Topic, ctx, m)
			}
			p.pluginsMutex.RUnlock()
		}
	}
}

func (p *MessagePipe) Plugins() []Plugin {
	p.pluginsMutex.RLock()
	defer p.pluginsMutex.RUnlock()

	return append([]Plugin(nil), p.plugins...)
}

func (p *MessagePipe) IsPluginRegistered(pluginName string) bool {
	return getIndex(pluginName, p.Plugins()) != -1
}

func (p *MessagePipe) initPlugins(ctx context.Context) {
	for _, plugin := range p.Plugins() {
		if err := plugin.Init(logger.WithPluginName(ctx, plugin.Info().Name), p); err != nil {
			slog.ErrorContext(ctx, "Failed to initialize plugin", "plugin", plugin.Info().Name, "error", err)
		}
	}
}
