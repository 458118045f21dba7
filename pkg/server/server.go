// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the chat service, the crawler and the A2A bus
// over HTTP.
//
// Routes:
//   - POST /api/chat         chat request, risk gate and orchestration
//   - POST /api/crawl        crawl one url or a list of urls
//   - POST /a2a              A2A request envelope
//   - GET  /api/a2a/stats    bus stats
//   - GET  /healthz          liveness
//   - GET  /metrics          prometheus scrape, when metrics are enabled
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/conclave/pkg/a2a"
	"github.com/kadirpekel/conclave/pkg/chat"
	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/crawler"
	"github.com/kadirpekel/conclave/pkg/observability"
)

const maxBodyBytes = 4 << 20

// ChatHandler answers chat requests.
type ChatHandler interface {
	HandleChat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// Crawler ingests web pages.
type Crawler interface {
	Crawl(ctx context.Context, url string) (*crawler.Result, error)
	CrawlMany(ctx context.Context, urls []string, concurrency int) ([]*crawler.Result, error)
}

// Options are the services behind the routes. A nil service disables its
// routes.
type Options struct {
	Chat    ChatHandler
	Crawler Crawler
	Bus     *a2a.Bus
	Metrics http.Handler
}

type Server struct {
	cfg    config.ServerConfig
	opts   Options
	router chi.Router
	http   *http.Server
}

func New(cfg config.ServerConfig, opts Options) *Server {
	cfg.SetDefaults()
	s := &Server{cfg: cfg, opts: opts}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(routePattern))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if s.opts.Chat != nil {
			r.Post("/chat", s.handleChat)
		}
		if s.opts.Crawler != nil {
			r.Post("/crawl", s.handleCrawl)
		}
		if s.opts.Bus != nil {
			r.Get("/a2a/stats", a2a.NewHandler(s.opts.Bus).StatsHandler())
		}
	})

	if s.opts.Bus != nil {
		r.Method(http.MethodPost, "/a2a", a2a.NewHandler(s.opts.Bus))
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", s.cfg.Address)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("Shutting down HTTP server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.opts.Chat.HandleChat(r.Context(), req)
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}
	if resp == nil {
		writeError(w, status, "request failed")
		return
	}
	// Error details stay in the logs.
	resp.Error = ""
	writeJSON(w, status, resp)
}

type crawlRequest struct {
	URL         string   `json:"url"`
	URLs        []string `json:"urls"`
	Concurrency int      `json:"concurrency"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.URLs) > 0 {
		results, err := s.opts.Crawler.CrawlMany(r.Context(), req.URLs, req.Concurrency)
		if err != nil {
			writeError(w, http.StatusGatewayTimeout, "crawl interrupted")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	res, err := s.opts.Crawler.Crawl(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, "crawl interrupted")
		return
	}
	status := http.StatusOK
	if req.URL == "" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
