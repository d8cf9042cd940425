// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the round engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/trustlayer/internal/config"
	"github.com/traylinx/trustlayer/internal/heartbeat"
	"github.com/traylinx/trustlayer/internal/logging"
	"github.com/traylinx/trustlayer/internal/metrics"
	"github.com/traylinx/trustlayer/internal/responder"
	"github.com/traylinx/trustlayer/internal/round"
)

// corsAllowedHeaders are the request headers browsers may send.
var corsAllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

// Server wires the HTTP routes to a round engine.
type Server struct {
	engine  *gin.Engine
	handler http.Handler

	cfg     *config.Config
	rounds  *round.Engine
	client  responder.Client
	monitor *heartbeat.Monitor
	metrics *metrics.Metrics

	httpServer *http.Server
	startedAt  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithResponderClient serves /v1/responders from c.
func WithResponderClient(c responder.Client) Option {
	return func(s *Server) { s.client = c }
}

// WithHeartbeat reports m's last status from /v1/health.
func WithHeartbeat(m *heartbeat.Monitor) Option {
	return func(s *Server) { s.monitor = m }
}

// WithMetrics serves m from /v1/metrics and /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server for rounds using cfg's server section.
func NewServer(cfg *config.Config, rounds *round.Engine, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		cfg:       cfg,
		rounds:    rounds,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(logging.RequestIDMiddleware(), logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	s.setupRoutes()

	origins := cfg.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: corsAllowedHeaders,
		ExposedHeaders: []string{logging.RequestIDHeader},
	}).Handler(s.engine)

	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/v1/health", s.handleHealth)
	s.engine.GET("/v1/responders", s.handleResponders)
	s.engine.GET("/v1/metrics", s.handleMetrics)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Prometheus().Handler()))
	}

	protected := s.engine.Group("/")
	protected.Use(apiKeyMiddleware(s.cfg.Server.APIKeys))
	protected.POST("/v1/rounds", s.handleSubmitRound)
	protected.POST("/api/inference", s.handleInference)
}

// Handler returns the root handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
}

// Start listens on Addr and blocks until the server stops. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("trustlayer API listening on %s", s.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Debug("stopping API server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
