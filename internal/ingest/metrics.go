// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package ingest

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingest counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	datagrams *prometheus.CounterVec
	failures  *prometheus.CounterVec
	listeners prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		return nil, nil
	}

	m := &Metrics{
		datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aitbus",
			Subsystem: "ingest",
			Name:      "datagrams_total",
			Help:      "Datagrams read from port inputs",
		}, []string{"port"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aitbus",
			Subsystem: "ingest",
			Name:      "publish_failures_total",
			Help:      "Datagrams that could not be handed to the relay",
		}, []string{"port"}),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aitbus",
			Subsystem: "ingest",
			Name:      "listeners",
			Help:      "Open UDP port listeners",
		}),
	}

	err := errors.Join(
		registerer.Register(m.datagrams),
		registerer.Register(m.failures),
		registerer.Register(m.listeners),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) datagram(port int) {
	if m != nil {
		m.datagrams.WithLabelValues(strconv.Itoa(port)).Inc()
	}
}

func (m *Metrics) failure(port int) {
	if m != nil {
		m.failures.WithLabelValues(strconv.Itoa(port)).Inc()
	}
}

func (m *Metrics) listenerDelta(delta float64) {
	if m != nil {
		m.listeners.Add(delta)
	}
}
