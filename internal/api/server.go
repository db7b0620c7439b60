// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sloggin "github.com/samber/slog-gin"

	"github.com/aitbus/broker/internal/broker"
	"github.com/aitbus/broker/internal/bus"
	"github.com/aitbus/broker/internal/logger"
	"github.com/aitbus/broker/internal/stream"
)

const (
	basePath            = "/api/v1"
	correlationIDHeader = "X-Correlation-ID"
	readHeaderTimeout   = 5 * time.Second
)

type (
	// Broker is the registry surface exposed over HTTP.
	Broker interface {
		Streams() []stream.Handle
		Ports() []int
		Plugins() []string
		RegisterPlugin(ctx context.Context, name string) error
		SubscribeByName(ctx context.Context, subscriber, publisher string) error
	}

	ErrorResponse struct {
		Message string `json:"message,omitempty"`
	}

	StreamResponse struct {
		Input         any      `json:"input"`
		Name          string   `json:"name"`
		Direction     string   `json:"direction"`
		InputType     string   `json:"input_type"`
		Subscriptions []string `json:"subscriptions"`
	}

	PluginRequest struct {
		Name string `json:"name" binding:"required"`
	}

	SubscriptionRequest struct {
		Subscriber string `json:"subscriber" binding:"required"`
		Publisher  string `json:"publisher" binding:"required"`
	}

	ServerParameters struct {
		Broker   Broker
		Gatherer prometheus.Gatherer
		Logger   *slog.Logger
		Host     string
		Port     int
	}

	// Server is a bus plugin serving the admin API.
	Server struct {
		broker     Broker
		gatherer   prometheus.Gatherer
		logger     *slog.Logger
		listener   net.Listener
		httpServer *http.Server
		address    string
		mu         sync.Mutex
	}
)

var _ bus.Plugin = (*Server)(nil)

func NewServer(params *ServerParameters) *Server {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}

	if params.Gatherer == nil {
		params.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		address:  net.JoinHostPort(params.Host, fmt.Sprint(params.Port)),
		broker:   params.Broker,
		gatherer: params.Gatherer,
		logger:   params.Logger,
	}
}

func (s *Server) Init(ctx context.Context, _ bus.MessagePipeInterface) error {
	slog.InfoContext(ctx, "Starting admin API server", "address", s.address)

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("startup of admin API server failed: %w", err)
	}

	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.mu.Unlock()

	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "Admin API server stopped", "error", serveErr)
		}
	}()

	return nil
}

func (s *Server) Close(ctx context.Context) error {
	slog.DebugContext(ctx, "Closing admin API server")

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	return httpServer.Shutdown(ctx)
}

func (*Server) Info() *bus.Info {
	return &bus.Info{
		Name: "api",
	}
}

func (*Server) Process(ctx context.Context, msg *bus.Message) {
	if msg.Topic == bus.PluginRegisteredTopic {
		slog.DebugContext(ctx, "Plugin available to outbound streams", "plugin", msg.Data)
	}
}

func (*Server) Subscriptions() []string {
	return []string{
		bus.PluginRegisteredTopic,
	}
}

// Addr is the bound address once Init has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		correlationID(),
		sloggin.NewWithConfig(s.logger, sloggin.Config{DefaultLevel: slog.LevelDebug}),
		gin.Recovery(),
	)

	v1 := router.Group(basePath)
	v1.GET("/streams", s.GetStreams)
	v1.GET("/ports", s.GetPorts)
	v1.GET("/plugins", s.GetPlugins)
	v1.GET("/status", s.GetStatus)
	v1.POST("/plugins", s.RegisterPlugin)
	v1.POST("/subscriptions", s.AddSubscription)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	return router
}

// GET /streams
func (s *Server) GetStreams(ctx *gin.Context) {
	handles := s.broker.Streams()
	response := make([]StreamResponse, 0, len(handles))

	for _, handle := range handles {
		input := handle.Input()
		subscriptions := handle.Subscriptions()
		if subscriptions == nil {
			subscriptions = []string{}
		}

		response = append(response, StreamResponse{
			Name:          handle.Name(),
			Direction:     handle.Direction().String(),
			InputType:     input.Kind.String(),
			Input:         input.Value(),
			Subscriptions: subscriptions,
		})
	}

	ctx.JSON(http.StatusOK, response)
}

// GET /ports
func (s *Server) GetPorts(ctx *gin.Context) {
	ports := s.broker.Ports()
	if ports == nil {
		ports = []int{}
	}

	ctx.JSON(http.StatusOK, ports)
}

// GET /plugins
func (s *Server) GetPlugins(ctx *gin.Context) {
	plugins := s.broker.Plugins()
	if plugins == nil {
		plugins = []string{}
	}

	ctx.JSON(http.StatusOK, plugins)
}

// POST /plugins
func (s *Server) RegisterPlugin(ctx *gin.Context) {
	var request PluginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	err := s.broker.RegisterPlugin(ctx.Request.Context(), request.Name)
	if err != nil {
		ctx.JSON(statusFor(err), ErrorResponse{Message: err.Error()})
		return
	}

	ctx.JSON(http.StatusCreated, request)
}

// POST /subscriptions
func (s *Server) AddSubscription(ctx *gin.Context) {
	var request SubscriptionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	err := s.broker.SubscribeByName(ctx.Request.Context(), request.Subscriber, request.Publisher)
	if err != nil {
		slog.WarnContext(ctx.Request.Context(), "Unable to add subscription", "subscriber", request.Subscriber,
			"publisher", request.Publisher, "error", err)
		ctx.JSON(statusFor(err), ErrorResponse{Message: err.Error()})

		return
	}

	ctx.JSON(http.StatusCreated, request)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrStreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, broker.ErrConfigurationInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// correlationID propagates the caller's correlation ID, or a new one, into the
// request context so every log line of the request carries it.
func correlationID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(correlationIDHeader)
		if id == "" {
			id = logger.GenerateCorrelationID().Value.String()
		}

		ctx.Request = ctx.Request.WithContext(logger.WithCorrelationID(ctx.Request.Context(), id))
		ctx.Header(correlationIDHeader, id)
		ctx.Next()
	}
}
