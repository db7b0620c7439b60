// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitbus/broker/internal/broker"
	"github.com/aitbus/broker/internal/bus/busfakes"
	"github.com/aitbus/broker/internal/config"
	"github.com/aitbus/broker/internal/stream"
)

type fakeHandle struct {
	name          string
	input         stream.Input
	direction     stream.Direction
	subscriptions []string
}

func (h *fakeHandle) Name() string                { return h.name }
func (h *fakeHandle) Direction() stream.Direction { return h.direction }
func (h *fakeHandle) Input() stream.Input         { return h.input }
func (h *fakeHandle) Run(context.Context) error   { return nil }
func (h *fakeHandle) Close() error                { return nil }
func (h *fakeHandle) Subscriptions() []string     { return h.subscriptions }

func (h *fakeHandle) Subscribe(topic string) error {
	h.subscriptions = append(h.subscriptions, topic)
	return nil
}

type fakeFactory struct{}

func (fakeFactory) Create(params *stream.Parameters) (stream.Handle, error) {
	return &fakeHandle{name: params.Name, input: params.Input, direction: params.Direction}, nil
}

func strPtr(value string) *string {
	return &value
}

func newTestRegistry(t *testing.T) *broker.Registry {
	t.Helper()

	registry := broker.NewRegistry(&broker.RegistryParameters{
		Factory:     fakeFactory{},
		MessagePipe: busfakes.NewFakeMessagePipe(),
		Plugins:     []string{"plugin-y"},
	})

	_, errs := registry.LoadStreams(context.Background(),
		[]config.StreamEntry{{Stream: &config.StreamSpec{Name: strPtr("raw"), Input: strPtr("3076")}}},
		[]config.StreamEntry{{Stream: &config.StreamSpec{Name: strPtr("out"), Input: strPtr("plugin-y")}}},
	)
	require.Empty(t, errs)
	require.NoError(t, registry.SubscribeStreams(context.Background()))

	return registry
}

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "aitbus_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	return NewServer(&ServerParameters{
		Broker:   newTestRegistry(t),
		Gatherer: registry,
		Logger:   slog.Default(),
		Host:     "127.0.0.1",
		Port:     0,
	}), registry
}

func serve(t *testing.T, server *Server, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	return recorder
}

func TestServer_GetStreams(t *testing.T) {
	server, _ := newTestServer(t)

	res := serve(t, server, http.MethodGet, "/api/v1/streams", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var result []map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	require.Len(t, result, 2)

	assert.Equal(t, "raw", result[0]["name"])
	assert.Equal(t, "inbound", result[0]["direction"])
	assert.Equal(t, "port", result[0]["input_type"])
	assert.InDelta(t, 3076, result[0]["input"], 0)
	assert.Equal(t, []any{"3076"}, result[0]["subscriptions"])

	assert.Equal(t, "out", result[1]["name"])
	assert.Equal(t, "plugin", result[1]["input_type"])
	assert.Equal(t, "plugin-y", result[1]["input"])
}

func TestServer_GetPortsAndPlugins(t *testing.T) {
	server, _ := newTestServer(t)

	res := serve(t, server, http.MethodGet, "/api/v1/ports", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `[3076]`, res.Body.String())

	res = serve(t, server, http.MethodGet, "/api/v1/plugins", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `["plugin-y"]`, res.Body.String())
}

func TestServer_RegisterPlugin(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{
			name:           "Test 1: new plugin",
			body:           `{"name": "plugin-z"}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Test 2: plugin name already used",
			body:           `{"name": "plugin-y"}`,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "Test 3: stream name already used",
			body:           `{"name": "raw"}`,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "Test 4: missing name",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Test 5: malformed body",
			body:           `{"name":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(tt *testing.T) {
			server, _ := newTestServer(tt)

			res := serve(tt, server, http.MethodPost, "/api/v1/plugins", test.body, nil)

			assert.Equal(tt, test.expectedStatus, res.Code)
		})
	}
}

func TestServer_AddSubscription(t *testing.T) {
	tests := []struct {
		name                  string
		body                  string
		expectedSubscriptions []string
		expectedStatus        int
	}{
		{
			name:                  "Test 1: subscribe stream to plugin",
			body:                  `{"subscriber": "raw", "publisher": "plugin-z"}`,
			expectedStatus:        http.StatusCreated,
			expectedSubscriptions: []string{"3076", "plugin-z"},
		},
		{
			name:                  "Test 2: unknown subscriber",
			body:                  `{"subscriber": "missing", "publisher": "plugin-z"}`,
			expectedStatus:        http.StatusNotFound,
			expectedSubscriptions: []string{"3076"},
		},
		{
			name:                  "Test 3: missing publisher",
			body:                  `{"subscriber": "raw"}`,
			expectedStatus:        http.StatusBadRequest,
			expectedSubscriptions: []string{"3076"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(tt *testing.T) {
			server, _ := newTestServer(tt)

			res := serve(tt, server, http.MethodPost, "/api/v1/subscriptions", test.body, nil)
			assert.Equal(tt, test.expectedStatus, res.Code)

			res = serve(tt, server, http.MethodGet, "/api/v1/streams", "", nil)
			var result []StreamResponse
			require.NoError(tt, json.Unmarshal(res.Body.Bytes(), &result))
			assert.Equal(tt, test.expectedSubscriptions, result[0].Subscriptions)
			assert.Equal(tt, []string{"plugin-y"}, result[1].Subscriptions)
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	server, _ := newTestServer(t)

	res := serve(t, server, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "aitbus_test_total 1")
}

func TestServer_CorrelationID(t *testing.T) {
	server, _ := newTestServer(t)

	res := serve(t, server, http.MethodGet, "/api/v1/ports", "", http.Header{correlationIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", res.Header().Get(correlationIDHeader))

	res = serve(t, server, http.MethodGet, "/api/v1/ports", "", nil)
	assert.Len(t, res.Header().Get(correlationIDHeader), 36)
}

func TestServer_InitAndClose(t *testing.T) {
	ctx := context.Background()
	server, _ := newTestServer(t)

	assert.Nil(t, server.Addr())
	require.NoError(t, server.Init(ctx, busfakes.NewFakeMessagePipe()))

	addr := server.Addr()
	require.NotNil(t, addr)

	client := resty.New().SetBaseURL("http://" + addr.String() + basePath)
	client.SetRetryCount(3).SetRetryWaitTime(50 * time.Millisecond)

	var plugins []string
	resp, err := client.R().SetContext(ctx).SetResult(&plugins).Get("/plugins")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, []string{"plugin-y"}, plugins)

	resp, err = client.R().SetContext(ctx).
		SetBody(SubscriptionRequest{Subscriber: "out", Publisher: "raw"}).
		Post("/subscriptions")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode())

	var streams []StreamResponse
	resp, err = client.R().SetContext(ctx).SetResult(&streams).Get("/streams")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	expected := []StreamResponse{
		{Name: "raw", Direction: "inbound", InputType: "port", Input: float64(3076), Subscriptions: []string{"3076"}},
		{Name: "out", Direction: "outbound", InputType: "plugin", Input: "plugin-y", Subscriptions: []string{"plugin-y", "raw"}},
	}
	if diff := cmp.Diff(expected, streams); diff != "" {
		t.Errorf("unexpected streams (-want +got):\n%s", diff)
	}

	require.NoError(t, server.Close(ctx))

	_, err = resty.New().R().SetContext(ctx).Get("http://" + addr.String() + basePath + "/plugins")
	require.Error(t, err)
}

func TestServer_GetStatus(t *testing.T) {
	server, _ := newTestServer(t)

	res := serve(t, server, http.MethodGet, "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &status))

	assert.Equal(t, int32(os.Getpid()), status.Process.PID)
	assert.NotEmpty(t, status.Process.Name)
	assert.Positive(t, status.Process.Threads)
	assert.Equal(t, 2, status.Streams)
	assert.Equal(t, 1, status.Ports)
	assert.Equal(t, 1, status.Plugins)
}

func TestServer_Info(t *testing.T) {
	server := NewServer(&ServerParameters{Broker: newTestRegistry(t)})

	assert.Equal(t, "api", server.Info().Name)
	assert.NotEmpty(t, server.Subscriptions())
	require.NoError(t, server.Close(context.Background()))
	assert.Nil(t, server.Addr())
}
