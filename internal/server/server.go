// Copyright (C) 2025 Jeff Rose
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package server exposes metrics, health probes and the latest check
// snapshot over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/whiskeyjimbo/Watchman/internal/health"
	"github.com/whiskeyjimbo/Watchman/internal/monitor"
	"go.uber.org/zap"
)

// StatusSource hands out the last published cycle, nil before the first.
type StatusSource interface {
	Snapshot() *monitor.Snapshot
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewRouter(logger *zap.SugaredLogger, metrics http.Handler, probe *health.Probe, status StatusSource) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))

	r.Handle("/metrics", metrics)
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", health.LivenessHandler)
		r.Get("/ready", probe.ReadinessHandler)
	})
	r.Get("/api/status", statusHandler(status))
	return r
}

func statusHandler(status StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := status.Snapshot()
		if snap == nil {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, errorResponse{Error: "no cycle completed yet"})
			return
		}
		render.JSON(w, r, snap)
	}
}

func accessLog(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start))
		})
	}
}

type Server struct {
	logger *zap.SugaredLogger
	http   *http.Server
	ln     net.Listener
}

func New(logger *zap.SugaredLogger, addr string, handler http.Handler) *Server {
	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listen address and serves in the background. A bind
// failure is returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	s.ln = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("http server stopped", "error", err)
		}
	}()
	s.logger.Infow("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address once Start returned.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.http.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
