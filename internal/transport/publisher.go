// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Publisher sends frames to the relay intake address. Frames are queued while
// the connection is being (re)established and dropped once the queue is full.
type Publisher struct {
	ctx       context.Context
	context   *Context
	cancel    context.CancelFunc
	frames    chan []byte
	id        string
	url       string
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

func (c *Context) NewPublisher(address string) (*Publisher, error) {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		ctx:     ctx,
		context: c,
		cancel:  cancel,
		frames:  make(chan []byte, c.queueSize),
		id:      uuid.NewString(),
		url:     websocketURL(address),
	}

	if err := c.register(p); err != nil {
		cancel()
		return nil, err
	}

	p.wg.Add(1)
	go p.run()

	return p, nil
}

func (p *Publisher) ID() string {
	return p.id
}

func (p *Publisher) Send(topic string, payload []byte) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case p.frames <- EncodeFrame(Frame{Topic: topic, Payload: payload}):
	default:
		p.dropped.Add(1)
		slog.Debug("Publisher queue full, dropping frame", "socket_id", p.id, "topic", topic)
	}

	return nil
}

// Dropped reports how many frames were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) Close() error {
	err := ErrClosed
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.context.unregister(p.id)
		err = nil
	})

	return err
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		conn, err := p.context.dial(p.ctx, p.url, p.id)
		if err != nil {
			return
		}

		slog.Debug("Publisher connected", "socket_id", p.id, "url", p.url)
		p.pump(conn)

		if p.ctx.Err() != nil {
			return
		}
	}
}

func (p *Publisher) pump(conn *websocket.Conn) {
	broken := make(chan struct{})
	go func() {
		defer close(broken)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	defer func() {
		conn.Close()
		<-broken
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-broken:
			return
		case data := <-p.frames:
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				slog.Debug("Publisher write failed", "socket_id", p.id, "error", err)
				return
			}
		}
	}
}
