// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api serves the management HTTP API: health, metrics and cache
// administration for a running healer.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/healer"
	"github.com/traylinx/autoheal/internal/metrics"
	"github.com/traylinx/autoheal/internal/util"
)

// Backend is what the API administers. *healer.Healer implements it.
type Backend interface {
	Health() *healer.Health
	Metrics() *metrics.LocatorSnapshot
	ResetMetrics()
	CacheMetrics() cache.Metrics
	CacheSize() int
	ClearCache()
	EvictExpired()
	RemoveCached(selector, description string) bool
}

// Server is the management HTTP server.
type Server struct {
	engine  *gin.Engine
	backend Backend
	sb      *util.StateBox

	localOnly bool

	srv  *http.Server
	done chan struct{}
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithLocalManagementOnly rejects /v0/management requests that do not come
// directly from a loopback address.
func WithLocalManagementOnly() ServerOption {
	return func(s *Server) { s.localOnly = true }
}

// NewServer builds the router. sb may be nil.
func NewServer(backend Backend, sb *util.StateBox, opts ...ServerOption) *Server {
	s := &Server{
		engine:  gin.New(),
		backend: backend,
		sb:      sb,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.getHealth)
	s.engine.GET("/api/state-box/status", StateBoxStatusHandler(s.sb))

	mgmt := s.engine.Group("/v0/management")
	if s.localOnly {
		mgmt.Use(localOnly())
	}
	{
		mgmt.GET("/metrics", s.getMetrics)
		mgmt.POST("/metrics/reset", s.resetMetrics)
		mgmt.GET("/cache/metrics", s.getCacheMetrics)
		mgmt.POST("/cache/clear", s.clearCache)
		mgmt.POST("/cache/evict", s.evictExpired)
		mgmt.DELETE("/cache/entry", s.removeEntry)
	}
}

// Start listens on addr and serves until Shutdown. It returns once the
// listener is bound.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if errServe := s.srv.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.WithError(errServe).Warn("management API stopped unexpectedly")
		}
	}()
	log.Infof("management API listening on %s", ln.Addr())
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("management API shutdown: %w", err)
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}
