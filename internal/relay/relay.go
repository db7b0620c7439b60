// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aitbus/broker/internal/transport"
)

const (
	DefaultIntakeAddress  = "0.0.0.0:5559"
	DefaultServingAddress = "0.0.0.0:5560"
	DefaultQueueSize      = 1000
	DefaultWriteTimeout   = 10 * time.Second

	readHeaderTimeout = 5 * time.Second
)

var (
	ErrTransportFatal = errors.New("relay transport failure")
	ErrAlreadyRunning = errors.New("relay already running")
)

// TransportContext is the shared resource torn down when the relay exits.
type TransportContext interface {
	Term() error
}

type ListenFunc func(network, address string) (net.Listener, error)

type Option func(*Relay)

func WithListenFunc(listen ListenFunc) Option {
	return func(r *Relay) {
		r.listen = listen
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(r *Relay) {
		r.metrics = metrics
	}
}

// WithWriteTimeout bounds each write to a subscriber. A subscriber that stops
// reading is disconnected once a write exceeds it.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(r *Relay) {
		if timeout > 0 {
			r.writeTimeout = timeout
		}
	}
}

func WithQueueSize(size int) Option {
	return func(r *Relay) {
		if size > 0 {
			r.queueSize = size
		}
	}
}

// Relay accepts frames on the intake address and forwards each one, unchanged,
// to every subscriber on the serving address holding a filter that prefixes the
// frame topic.
type Relay struct {
	transport      TransportContext
	listen         ListenFunc
	metrics        *Metrics
	subscribers    *subscriptionTable
	conns          map[*websocket.Conn]struct{}
	ready          chan struct{}
	intakeAddr     net.Addr
	servingAddr    net.Addr
	upgrader       websocket.Upgrader
	intakeAddress  string
	servingAddress string
	queueSize      int
	writeTimeout   time.Duration
	peers          sync.WaitGroup
	mu             sync.Mutex
	closing        bool
	started        atomic.Bool
}

func New(transportContext TransportContext, intakeAddress, servingAddress string, opts ...Option) *Relay {
	r := &Relay{
		transport:      transportContext,
		listen:         net.Listen,
		subscribers:    newSubscriptionTable(),
		conns:          make(map[*websocket.Conn]struct{}),
		ready:          make(chan struct{}),
		intakeAddress:  intakeAddress,
		servingAddress: servingAddress,
		queueSize:      DefaultQueueSize,
		writeTimeout:   DefaultWriteTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run binds both addresses and forwards frames until ctx is cancelled or the
// transport fails. Whatever the outcome, both addresses are released and the
// transport context is terminated before Run returns.
func (r *Relay) Run(ctx context.Context) (err error) {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var listeners []net.Listener
	defer func() {
		r.release(listeners)
	}()

	intake, err := r.listen("tcp", r.intakeAddress)
	if err != nil {
		return r.fatal(fmt.Errorf("bind intake address %s: %w", r.intakeAddress, err))
	}
	listeners = append(listeners, intake)

	serving, err := r.listen("tcp", r.servingAddress)
	if err != nil {
		return r.fatal(fmt.Errorf("bind serving address %s: %w", r.servingAddress, err))
	}
	listeners = append(listeners, serving)

	r.mu.Lock()
	r.intakeAddr = intake.Addr()
	r.servingAddr = serving.Addr()
	r.mu.Unlock()
	close(r.ready)

	slog.Info("Relay started", "intake_address", intake.Addr().String(),
		"serving_address", serving.Addr().String())

	servers := []*http.Server{
		{Handler: http.HandlerFunc(r.handlePublisher), ReadHeaderTimeout: readHeaderTimeout},
		{Handler: http.HandlerFunc(r.handleSubscriber), ReadHeaderTimeout: readHeaderTimeout},
	}

	errs := make(chan error, len(servers))
	for i, server := range servers {
		go func(server *http.Server, listener net.Listener) {
			errs <- server.Serve(listener)
		}(server, listeners[i])
	}

	pending := len(servers)
	select {
	case <-ctx.Done():
		slog.Info("Relay stopping")
	case serveErr := <-errs:
		pending--
		err = r.fatal(serveErr)
	}

	for _, server := range servers {
		server.Close()
	}

	for ; pending > 0; pending-- {
		<-errs
	}

	return err
}

// Ready is closed once both addresses are bound.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

func (r *Relay) IntakeAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.intakeAddr
}

func (r *Relay) ServingAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.servingAddr
}

func (r *Relay) fatal(err error) error {
	slog.Error("Fatal relay error", "error", err)

	return fmt.Errorf("%w: %w", ErrTransportFatal, err)
}

func (r *Relay) release(listeners []net.Listener) {
	for _, listener := range listeners {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("Error closing relay listener", "address", listener.Addr(), "error", err)
		}
	}

	r.mu.Lock()
	r.closing = true
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	r.peers.Wait()

	if err := r.transport.Term(); err != nil {
		slog.Warn("Unable to terminate transport context", "error", err)
	}

	slog.Info("Relay stopped")
}

func (r *Relay) accept(w http.ResponseWriter, req *http.Request) (*websocket.Conn, bool) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Debug("Relay websocket upgrade failed", "remote_address", req.RemoteAddr, "error", err)
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		conn.Close()
		return nil, false
	}

	r.conns[conn] = struct{}{}
	r.peers.Add(1)

	return conn, true
}

func (r *Relay) drop(conn *websocket.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()

	conn.Close()
	r.peers.Done()
}

func (r *Relay) handlePublisher(w http.ResponseWriter, req *http.Request) {
	conn, ok := r.accept(w, req)
	if !ok {
		return
	}
	defer r.drop(conn)

	id := req.Header.Get(transport.IdentityHeader)
	slog.Debug("Publisher attached", "socket_id", id, "remote_address", req.RemoteAddr)

	r.metrics.publisherDelta(1)
	defer r.metrics.publisherDelta(-1)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("Publisher detached", "socket_id", id, "error", err)
			return
		}

		r.forward(data)
	}
}

func (r *Relay) handleSubscriber(w http.ResponseWriter, req *http.Request) {
	conn, ok := r.accept(w, req)
	if !ok {
		return
	}
	defer r.drop(conn)

	p := newPeer(req.Header.Get(transport.IdentityHeader), conn, r.queueSize, r.writeTimeout)
	slog.Debug("Subscriber attached", "socket_id", p.id, "remote_address", req.RemoteAddr)

	r.subscribers.add(p)
	r.metrics.subscriberDelta(1)
	defer func() {
		r.subscribers.remove(p)
		r.metrics.subscriberDelta(-1)
		r.metrics.subscriptionDelta(-float64(p.filterCount()))
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writeLoop()
	}()
	defer func() {
		p.stop()
		<-writerDone
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("Subscriber detached", "socket_id", p.id, "error", err)
			return
		}

		subscribe, filter, err := transport.DecodeSubscription(data)
		if err != nil {
			slog.Warn("Discarding malformed subscription message", "socket_id", p.id, "error", err)
			continue
		}

		if subscribe {
			if p.subscribe(filter) {
				r.metrics.subscriptionDelta(1)
			}
			slog.Debug("Subscription added", "socket_id", p.id, "filter", filter)
		} else if p.unsubscribe(filter) {
			r.metrics.subscriptionDelta(-1)
			slog.Debug("Subscription removed", "socket_id", p.id, "filter", filter)
		}
	}
}

func (r *Relay) forward(data []byte) {
	topic, err := transport.FrameTopic(data)
	if err != nil {
		r.metrics.malformed()
		slog.Warn("Discarding malformed frame", "error", err)

		return
	}

	r.metrics.received()

	forwarded, dropped := 0, 0
	for _, p := range r.subscribers.match(topic) {
		if p.enqueue(data) {
			forwarded++
		} else {
			dropped++
		}
	}

	r.metrics.forwarded(forwarded)
	if dropped > 0 {
		r.metrics.dropped(dropped)
		slog.Debug("Subscriber queues full, dropped frame", "topic", topic, "subscribers", dropped)
	}
}
