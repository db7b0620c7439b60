// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package busfakes

import (
	"context"
	"sync"

	"github.com/aitbus/broker/internal/bus"
)

// FakeMessagePipe records processed messages and delivers them synchronously
// on RunWithoutInit.
type FakeMessagePipe struct {
	plugins           []bus.Plugin
	messages          []*bus.Message
	processedMessages []*bus.Message
	messagesLock      sync.Mutex
}

var _ bus.MessagePipeInterface = &FakeMessagePipe{}

func NewFakeMessagePipe() *FakeMessagePipe {
	return &FakeMessagePipe{
		messagesLock: sync.Mutex{},
	}
}

func (p *FakeMessagePipe) Register(_ int, plugins []bus.Plugin) error {
	p.plugins = append(p.plugins, plugins...)
	return nil
}

func (p *FakeMessagePipe) DeRegister(ctx context.Context, pluginNames []string) error {
	for _, name := range pluginNames {
		for index, plugin := range p.plugins {
			if plugin.Info().Name != name {
				continue
			}
			p.plugins = append(p.plugins[:index], p.plugins[index+1:]...)
			if err := plugin.Close(ctx); err != nil {
				return err
			}

			break
		}
	}

	return nil
}

func (p *FakeMessagePipe) Process(_ context.Context, msgs ...*bus.Message) {
	p.messagesLock.Lock()
	defer p.messagesLock.Unlock()

	p.messages = append(p.messages, msgs...)
}

// Messages returns the messages not yet delivered.
func (p *FakeMessagePipe) Messages() []*bus.Message {
	p.messagesLock.Lock()
	defer p.messagesLock.Unlock()

	return append([]*bus.Message(nil), p.messages...)
}

// Topics returns the topics of the messages not yet delivered, in order.
func (p *FakeMessagePipe) Topics() []string {
	messages := p.Messages()
	topics := make([]string, 0, len(messages))
	for _, message := range messages {
		topics = append(topics, message.Topic)
	}

	return topics
}

func (p *FakeMessagePipe) ProcessedMessages() []*bus.Message {
	p.messagesLock.Lock()
	defer p.messagesLock.Unlock()

	return append([]*bus.Message(nil), p.processedMessages...)
}

func (p *FakeMessagePipe) ClearMessages() {
	p.messagesLock.Lock()
	defer p.messagesLock.Unlock()

	p.processedMessages = []*bus.Message{}
	p.messages = []*bus.Message{}
}

func (p *FakeMessagePipe) Run(ctx context.Context) {
	for _, plugin := range p.plugins {
		if err := plugin.Init(ctx, p); err != nil {
			return
		}
	}

	p.RunWithoutInit(ctx)
}

// RunWithoutInit delivers every queued message to the plugins subscribed to
// its topic.
func (p *FakeMessagePipe) RunWithoutInit(ctx context.Context) {
	for {
		p.messagesLock.Lock()
		if len(p.messages) == 0 {
			p.messagesLock.Unlock()
			return
		}
		message := p.messages[0]
		p.messages = p.messages[1:]
		p.messagesLock.Unlock()

		for _, plugin := range p.plugins {
			for _, subscription := range plugin.Subscriptions() {
				if subscription == message.Topic {
					plugin.Process(ctx, message)
				}
			}
		}

		p.messagesLock.Lock()
		p.processedMessages = append(p.processedMessages, message)
		p.messagesLock.Unlock()
	}
}

func (p *FakeMessagePipe) Plugins() []bus.Plugin {
	return p.plugins
}

func (p *FakeMessagePipe) IsPluginRegistered(pluginName string) bool {
	for _, plugin := range p.plugins {
		if plugin.Info().Name == pluginName {
			return true
		}
	}

	return false
}
