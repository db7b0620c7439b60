// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package relay

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "aitbus"
	metricsSubsystem = "relay"
)

// Metrics holds the relay counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesReceived  prometheus.Counter
	framesForwarded prometheus.Counter
	framesDropped   prometheus.Counter
	framesMalformed prometheus.Counter
	publishers      prometheus.Gauge
	subscribers     prometheus.Gauge
	subscriptions   prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		return nil, nil
	}

	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_received_total",
			Help:      "Frames accepted on the intake address",
		}),
		framesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_forwarded_total",
			Help:      "Frame deliveries queued to subscribers",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_dropped_total",
			Help:      "Frame deliveries dropped because a subscriber queue was full",
		}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_malformed_total",
			Help:      "Frames discarded because they could not be decoded",
		}),
		publishers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "publishers",
			Help:      "Connected publishers",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subscribers",
			Help:      "Connected subscribers",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subscriptions",
			Help:      "Active subscription filters across all subscribers",
		}),
	}

	var err error
	for _, collector := range []prometheus.Collector{
		m.framesReceived, m.framesForwarded, m.framesDropped, m.framesMalformed,
		m.publishers, m.subscribers, m.subscriptions,
	} {
		err = errors.Join(err, registerer.Register(collector))
	}

	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) received() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *Metrics) forwarded(n int) {
	if m != nil {
		m.framesForwarded.Add(float64(n))
	}
}

func (m *Metrics) dropped(n int) {
	if m != nil {
		m.framesDropped.Add(float64(n))
	}
}

func (m *Metrics) malformed() {
	if m != nil {
		m.framesMalformed.Inc()
	}
}

func (m *Metrics) publisherDelta(delta float64) {
	if m != nil {
		m.publishers.Add(delta)
	}
}

func (m *Metrics) subscriberDelta(delta float64) {
	if m != nil {
		m.subscribers.Add(delta)
	}
}

func (m *Metrics) subscriptionDelta(delta float64) {
	if m != nil {
		m.subscriptions.Add(delta)
	}
}
