// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aitbus/broker/internal/backoff"
)

const (
	IdentityHeader   = "X-Aitbus-Identity"
	DefaultQueueSize = 1000

	defaultHandshakeTimeout = 5 * time.Second
)

var (
	ErrTerminated = errors.New("transport context terminated")
	ErrClosed     = errors.New("socket closed")
)

type socket interface {
	ID() string
	Close() error
}

// Context is the process wide transport resource shared by every socket.
// Terminating it closes all sockets created from it; no new sockets can be
// created afterwards.
type Context struct {
	dialer     *websocket.Dialer
	backoff    *backoff.Settings
	queueSize  int
	sockets    map[string]socket
	done       chan struct{}
	mu         sync.Mutex
	terminated bool
}

type ContextOption func(*Context)

func WithBackoff(settings *backoff.Settings) ContextOption {
	return func(c *Context) {
		if settings != nil {
			c.backoff = settings
		}
	}
}

func WithQueueSize(size int) ContextOption {
	return func(c *Context) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

func WithDialer(dialer *websocket.Dialer) ContextOption {
	return func(c *Context) {
		c.dialer = dialer
	}
}

func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		backoff: &backoff.Settings{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Jitter:          backoff.Jitter,
			Multiplier:      backoff.Multiplier,
		},
		queueSize: DefaultQueueSize,
		sockets:   make(map[string]socket),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Term closes every socket owned by the context. Only the first call does any
// work; later calls return ErrTerminated.
func (c *Context) Term() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return ErrTerminated
	}

	c.terminated = true
	close(c.done)

	sockets := make([]socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.sockets = make(map[string]socket)
	c.mu.Unlock()

	var err error
	for _, s := range sockets {
		if closeErr := s.Close(); closeErr != nil && !errors.Is(closeErr, ErrClosed) {
			err = errors.Join(err, fmt.Errorf("close socket %s: %w", s.ID(), closeErr))
		}
	}

	slog.Debug("Transport context terminated", "sockets", len(sockets))

	return err
}

func (c *Context) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.terminated
}

func (c *Context) Done() <-chan struct{} {
	return c.done
}

func (c *Context) QueueSize() int {
	return c.queueSize
}

func (c *Context) register(s socket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return ErrTerminated
	}

	c.sockets[s.ID()] = s

	return nil
}

func (c *Context) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sockets, id)
}

// dial keeps trying to reach url until it succeeds or ctx is done.
func (c *Context) dial(ctx context.Context, url, id string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(IdentityHeader, id)

	return backoff.WaitUntilWithData(ctx, c.backoff, func() (*websocket.Conn, error) {
		conn, resp, err := c.dialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			slog.Debug("Unable to connect to relay, retrying", "url", url, "socket_id", id, "error", err)

			return nil, err
		}

		return conn, nil
	})
}

// DialAddress turns a bind address into one a local peer can connect to.
func DialAddress(bindAddress string) string {
	host, port, err := net.SplitHostPort(bindAddress)
	if err != nil {
		return bindAddress
	}

	switch host {
	case "", "*", "0.0.0.0", "::":
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}

func websocketURL(address string) string {
	return "ws://" + DialAddress(address) + "/"
}
