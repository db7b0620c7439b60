// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package transport

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Subscriber receives frames from the relay serving address. Filters are kept
// across reconnects and replayed to the relay each time a connection is made.
type Subscriber struct {
	ctx       context.Context
	context   *Context
	cancel    context.CancelFunc
	conn      *websocket.Conn
	filterSet map[string]struct{}
	messages  chan Frame
	id        string
	url       string
	filters   []string
	wg        sync.WaitGroup
	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *Context) NewSubscriber(address string) (*Subscriber, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Subscriber{
		ctx:       ctx,
		context:   c,
		cancel:    cancel,
		filterSet: make(map[string]struct{}),
		messages:  make(chan Frame, c.queueSize),
		id:        uuid.NewString(),
		url:       websocketURL(address),
	}

	if err := c.register(s); err != nil {
		cancel()
		return nil, err
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *Subscriber) ID() string {
	return s.id
}

// Subscribe adds a topic prefix filter. Subscribing to a filter that is already
// present is a no-op.
func (s *Subscriber) Subscribe(filter string) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.filterSet[filter]; ok {
		return nil
	}

	s.filterSet[filter] = struct{}{}
	s.filters = append(s.filters, filter)

	if s.conn != nil {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, EncodeSubscription(true, filter)); err != nil {
			// the filter is replayed on reconnect
			slog.Debug("Unable to send subscription to relay", "socket_id", s.id, "filter", filter, "error", err)
		}
	}

	return nil
}

func (s *Subscriber) Filters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.filters)
}

// Messages is closed once the subscriber is closed.
func (s *Subscriber) Messages() <-chan Frame {
	return s.messages
}

func (s *Subscriber) Close() error {
	err := ErrClosed
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.context.unregister(s.id)
		err = nil
	})

	return err
}

func (s *Subscriber) run() {
	defer s.wg.Done()
	defer close(s.messages)

	for {
		conn, err := s.context.dial(s.ctx, s.url, s.id)
		if err != nil {
			return
		}

		if !s.attach(conn) {
			conn.Close()
			return
		}

		slog.Debug("Subscriber connected", "socket_id", s.id, "url", s.url)
		s.receive(conn)
		s.detach(conn)

		if s.ctx.Err() != nil {
			return
		}
	}
}

func (s *Subscriber) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}

	s.conn = conn
	for _, filter := range s.filters {
		if err := conn.WriteMessage(websocket.BinaryMessage, EncodeSubscription(true, filter)); err != nil {
			slog.Debug("Unable to replay subscription to relay", "socket_id", s.id, "filter", filter, "error", err)
			break
		}
	}

	return true
}

func (s *Subscriber) detach(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn.Close()
	s.conn = nil
}

func (s *Subscriber) receive(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			slog.Warn("Discarding malformed frame", "socket_id", s.id, "error", err)
			continue
		}

		if !s.matches(frame) {
			continue
		}

		select {
		case s.messages <- frame:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Subscriber) matches(frame Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, filter := range s.filters {
		if frame.Matches(filter) {
			return true
		}
	}

	return false
}
