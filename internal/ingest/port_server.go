// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/aitbus/broker/internal/bus"
	"github.com/aitbus/broker/internal/transport"
)

const maxDatagramSize = 65535

type (
	// Publisher hands datagrams to the relay intake.
	Publisher interface {
		Send(topic string, payload []byte) error
		Close() error
	}

	// PublisherFunc opens the publisher when the plugin is initialised.
	PublisherFunc func() (Publisher, error)

	Option func(*PortServer)

	// PortServer is a bus plugin that opens a UDP listener for every port
	// entering the port table and publishes each datagram under the port
	// number as topic.
	PortServer struct {
		ctx          context.Context
		publisher    Publisher
		newPublisher PublisherFunc
		metrics      *Metrics
		cancel       context.CancelFunc
		listeners    map[int]net.PacketConn
		host         string
		wg           sync.WaitGroup
		mu           sync.Mutex
	}
)

var _ bus.Plugin = (*PortServer)(nil)

func WithMetrics(metrics *Metrics) Option {
	return func(s *PortServer) {
		s.metrics = metrics
	}
}

func WithPublisherFunc(newPublisher PublisherFunc) Option {
	return func(s *PortServer) {
		s.newPublisher = newPublisher
	}
}

// NewPortServer binds listeners on host and publishes through a publisher
// attached to intakeAddress on transportCtx.
func NewPortServer(transportCtx *transport.Context, host, intakeAddress string, opts ...Option) *PortServer {
	s := &PortServer{
		host:      host,
		listeners: make(map[int]net.PacketConn),
		newPublisher: func() (Publisher, error) {
			return transportCtx.NewPublisher(intakeAddress)
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *PortServer) Init(ctx context.Context, _ bus.MessagePipeInterface) error {
	slog.DebugContext(ctx, "Starting port ingest plugin")

	publisher, err := s.newPublisher()
	if err != nil {
		return fmt.Errorf("create ingest publisher: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.publisher = publisher
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	return nil
}

func (s *PortServer) Close(ctx context.Context) error {
	slog.DebugContext(ctx, "Closing port ingest plugin")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	for port, conn := range s.listeners {
		err = errors.Join(err, conn.Close())
		delete(s.listeners, port)
		s.metrics.listenerDelta(-1)
	}
	publisher := s.publisher
	s.publisher = nil
	s.mu.Unlock()

	s.wg.Wait()

	if publisher != nil {
		if closeErr := publisher.Close(); closeErr != nil && !errors.Is(closeErr, transport.ErrClosed) {
			err = errors.Join(err, closeErr)
		}
	}

	return err
}

func (*PortServer) Info() *bus.Info {
	return &bus.Info{
		Name: "ingest",
	}
}

func (s *PortServer) Process(ctx context.Context, msg *bus.Message) {
	port, ok := msg.Data.(int)
	if !ok {
		slog.ErrorContext(ctx, "Unable to cast message payload to port", "payload", msg.Data)
		return
	}

	if err := s.listen(ctx, port); err != nil {
		slog.ErrorContext(ctx, "Unable to open port input", "port", port, "error", err)
	}
}

func (*PortServer) Subscriptions() []string {
	return []string{bus.PortAddedTopic}
}

// Ports returns the ports with an open listener, sorted.
func (s *PortServer) Ports() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ports := make([]int, 0, len(s.listeners))
	for port := range s.listeners {
		ports = append(ports, port)
	}
	slices.Sort(ports)

	return ports
}

func (s *PortServer) listen(ctx context.Context, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publisher == nil || s.ctx.Err() != nil {
		return errors.New("port ingest plugin is not running")
	}

	if _, ok := s.listeners[port]; ok {
		return nil
	}

	conn, err := net.ListenPacket("udp", net.JoinHostPort(s.host, strconv.Itoa(port)))
	if err != nil {
		return err
	}

	s.listeners[port] = conn
	s.metrics.listenerDelta(1)
	slog.InfoContext(ctx, "Listening for port input", "port", port, "address", conn.LocalAddr().String())

	s.wg.Add(1)
	go s.serve(port, conn, s.publisher)

	return nil
}

func (s *PortServer) serve(port int, conn net.PacketConn, publisher Publisher) {
	defer s.wg.Done()

	topic := strconv.Itoa(port)
	buffer := make([]byte, maxDatagramSize)

	for {
		n, _, err := conn.ReadFrom(buffer)
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				slog.ErrorContext(s.ctx, "Port input stopped", "port", port, "error", err)
			}

			return
		}

		s.metrics.datagram(port)

		payload := make([]byte, n)
		copy(payload, buffer[:n])

		if err := publisher.Send(topic, payload); err != nil {
			s.metrics.failure(port)
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			slog.WarnContext(s.ctx, "Unable to publish datagram", "port", port, "error", err)
		}
	}
}
