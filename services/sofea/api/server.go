// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the status of a running refine over HTTP.
//
// Endpoints:
//
//	GET /v1/sofea/health - Liveness
//	GET /v1/sofea/status - Run phase and the latest sweep report
//	GET /v1/sofea/sweeps - Recent sweep reports, oldest first
//	GET /metrics         - Prometheus exposition
//
// A Server is a sofea.SweepObserver; register it with Sofea.AddObserver
// before calling Refine.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/minghao2016/OSPREY3/pkg/logging"
	"github.com/minghao2016/OSPREY3/services/sofea"
)

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("status server already started")

// Phase is the lifecycle phase of the observed run.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
	PhaseFailed   Phase = "failed"
)

// DefaultHistory is the number of sweep reports kept by default.
const DefaultHistory = 100

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. "localhost:9464". ":0" picks a port.
	Addr string

	// ServiceName names the otelgin spans.
	ServiceName string

	// History bounds the reports kept for /v1/sofea/sweeps. 0 selects
	// DefaultHistory.
	History int

	// Metrics serves /metrics. nil selects promhttp.Handler().
	Metrics http.Handler

	// Logger is the logger; nil means slog.Default().
	Logger *slog.Logger
}

// HealthResponse is the body of GET /v1/sofea/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the body of GET /v1/sofea/status.
type StatusResponse struct {
	Phase      Phase              `json:"phase"`
	RunID      string             `json:"run_id,omitempty"`
	Sweeps     int64              `json:"sweeps"`
	Started    time.Time          `json:"started"`
	Uptime     string             `json:"uptime"`
	StopReason sofea.StopReason   `json:"stop_reason,omitempty"`
	Error      string             `json:"error,omitempty"`
	FringeFill float64            `json:"fringe_fill"`
	Last       *sofea.SweepReport `json:"last,omitempty"`
}

// SweepsResponse is the body of GET /v1/sofea/sweeps.
type SweepsResponse struct {
	Sweeps []sofea.SweepReport `json:"sweeps"`
}

// Server holds the latest sweep reports and serves them.
//
// Thread Safety: Safe for concurrent use. ObserveSweep runs on the refine
// goroutine while handlers read.
type Server struct {
	cfg     Config
	router  *gin.Engine
	logger  *slog.Logger
	started time.Time

	mu      sync.RWMutex
	phase   Phase
	reason  sofea.StopReason
	err     error
	reports []sofea.SweepReport

	srvMu    sync.Mutex
	srv      *http.Server
	listener net.Listener
}

var _ sofea.SweepObserver = (*Server)(nil)

// New builds a server in the running phase. It does not listen until Start.
func New(cfg Config) *Server {
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sofea"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logging.OrDefault(cfg.Logger).With(slog.String("component", "api")),
		started: time.Now(),
		phase:   PhaseRunning,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	RegisterRoutes(router, s)
	s.router = router
	return s
}

// RegisterRoutes registers the status endpoints on r.
func RegisterRoutes(r gin.IRouter, s *Server) {
	v1 := r.Group("/v1/sofea")
	v1.GET("/health", s.HandleHealth)
	v1.GET("/status", s.HandleStatus)
	v1.GET("/sweeps", s.HandleSweeps)
	r.GET("/metrics", gin.WrapH(s.cfg.Metrics))
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ObserveSweep records a report, dropping the oldest beyond History.
func (s *Server) ObserveSweep(report sofea.SweepReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	if over := len(s.reports) - s.cfg.History; over > 0 {
		s.reports = append(s.reports[:0:0], s.reports[over:]...)
	}
}

// Finish moves the server to the finished or failed phase.
func (s *Server) Finish(reason sofea.StopReason, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reason = reason
	s.err = err
	if err != nil && !errors.Is(err, context.Canceled) {
		s.phase = PhaseFailed
	} else {
		s.phase = PhaseFinished
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HandleHealth handles GET /v1/sofea/health.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// HandleStatus handles GET /v1/sofea/status.
//
// Response:
//
//	200 OK: StatusResponse. Last is omitted before the first sweep.
func (s *Server) HandleStatus(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{
		Phase:      s.phase,
		Started:    s.started,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		StopReason: s.reason,
	}
	if s.err != nil {
		resp.Error = s.err.Error()
	}
	if n := len(s.reports); n > 0 {
		last := s.reports[n-1]
		resp.Last = &last
		resp.RunID = last.RunID
		resp.Sweeps = last.Sweep
		if last.FringeCapacity > 0 {
			resp.FringeFill = float64(last.FringeNodes) / float64(last.FringeCapacity)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSweeps handles GET /v1/sofea/sweeps?limit=N.
//
// Response:
//
//	200 OK: SweepsResponse with at most limit reports, the most recent ones.
//	400 Bad Request: limit is not a positive integer.
func (s *Server) HandleSweeps(c *gin.Context) {
	limit := s.cfg.History
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid limit %q", q)})
			return
		}
		limit = n
	}

	s.mu.RLock()
	reports := s.reports
	if len(reports) > limit {
		reports = reports[len(reports)-limit:]
	}
	out := make([]sofea.SweepReport, len(reports))
	copy(out, reports)
	s.mu.RUnlock()

	c.JSON(http.StatusOK, SweepsResponse{Sweeps: out})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start listens on Config.Addr and serves in a goroutine.
//
// Outputs:
//
//	error - The listen error, or ErrAlreadyStarted.
func (s *Server) Start() error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	if s.srv != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", slog.String("error", err.Error()))
		}
	}(s.srv)

	s.logger.Info("status server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops a started server, waiting for in-flight requests until ctx
// expires. No-op if never started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.srvMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
