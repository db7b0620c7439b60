// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package ingest

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitbus/broker/internal/bus"
	"github.com/aitbus/broker/internal/bus/busfakes"
	"github.com/aitbus/broker/internal/transport"
	"github.com/aitbus/broker/test/helpers"
)

type sent struct {
	topic   string
	payload string
}

type fakePublisher struct {
	sent   []sent
	mu     sync.Mutex
	closed bool
}

func (p *fakePublisher) Send(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return transport.ErrClosed
	}
	p.sent = append(p.sent, sent{topic: topic, payload: string(payload)})

	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

func (p *fakePublisher) Sent() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]sent(nil), p.sent...)
}

func newTestPortServer(t *testing.T, publisher *fakePublisher, opts ...Option) *PortServer {
	t.Helper()

	opts = append(opts, WithPublisherFunc(func() (Publisher, error) {
		return publisher, nil
	}))

	return NewPortServer(nil, "127.0.0.1", "", opts...)
}

func sendDatagram(t *testing.T, port int, payload string) {
	t.Helper()

	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

func TestPortServer_PublishesDatagrams(t *testing.T) {
	ctx := context.Background()
	port := helpers.GetAvailablePort(t, "udp")

	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	publisher := &fakePublisher{}
	server := newTestPortServer(t, publisher, WithMetrics(metrics))

	pipe := busfakes.NewFakeMessagePipe()
	require.NoError(t, pipe.Register(10, []bus.Plugin{server}))

	pipe.Process(ctx,
		&bus.Message{Topic: bus.PortAddedTopic, Data: port},
		&bus.Message{Topic: bus.PortAddedTopic, Data: port},
		&bus.Message{Topic: bus.PortAddedTopic, Data: "3076"},
	)
	pipe.Run(ctx)

	assert.Equal(t, []int{port}, server.Ports())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.listeners), 0)

	sendDatagram(t, port, "ccsds-packet")

	assert.Eventually(t, func() bool {
		return len(publisher.Sent()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []sent{{topic: strconv.Itoa(port), payload: "ccsds-packet"}}, publisher.Sent())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.datagrams.WithLabelValues(strconv.Itoa(port))), 0)

	require.NoError(t, server.Close(ctx))
	assert.Empty(t, server.Ports())
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.listeners), 0)

	publisher.mu.Lock()
	assert.True(t, publisher.closed)
	publisher.mu.Unlock()

	// the port is released
	conn, err := net.ListenPacket("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestPortServer_NotInitialised(t *testing.T) {
	server := newTestPortServer(t, &fakePublisher{})

	server.Process(context.Background(), &bus.Message{Topic: bus.PortAddedTopic, Data: 3076})

	assert.Empty(t, server.Ports())
	require.NoError(t, server.Close(context.Background()))
}

func TestPortServer_PortInUse(t *testing.T) {
	ctx := context.Background()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	port := conn.LocalAddr().(*net.UDPAddr).Port

	server := newTestPortServer(t, &fakePublisher{})
	require.NoError(t, server.Init(ctx, busfakes.NewFakeMessagePipe()))

	server.Process(ctx, &bus.Message{Topic: bus.PortAddedTopic, Data: port})

	assert.Empty(t, server.Ports())
	require.NoError(t, server.Close(ctx))
}

func TestPortServer_Info(t *testing.T) {
	server := newTestPortServer(t, &fakePublisher{})

	assert.Equal(t, "ingest", server.Info().Name)
	assert.Equal(t, []string{bus.PortAddedTopic}, server.Subscriptions())
}
