// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the workflow engine over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/keduman/workflow-app/internal/controller/auth"
	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/internal/controller/metrics"
	"github.com/keduman/workflow-app/internal/controller/runner"
	"github.com/keduman/workflow-app/internal/log"
	"github.com/keduman/workflow-app/internal/tracing"
)

// maxRequestBodySize is the default limit on request bodies.
const maxRequestBodySize = 1 * 1024 * 1024 // 1MB

// Paths served without authentication.
const (
	HealthPath  = "/v1/health"
	MetricsPath = "/metrics"
)

// Catalog reads templates for the workflow listing endpoints.
type Catalog interface {
	backend.TemplateStore
	backend.TemplateLister
}

// RouterConfig contains router configuration.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string

	// MaxBodyBytes limits request bodies. Default: 1MB
	MaxBodyBytes int64

	Logger *slog.Logger
	Tracer trace.Tracer

	// Auth resolves the caller. If nil, the caller is read from the
	// X-User header without further checks.
	Auth *auth.Middleware
}

// Router routes API requests to the runner.
type Router struct {
	config  RouterConfig
	runner  *runner.Runner
	catalog Catalog
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewRouter creates a router and registers all routes.
func NewRouter(cfg RouterConfig, rn *runner.Runner, catalog Catalog) *Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = maxRequestBodySize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Auth == nil {
		cfg.Auth = auth.NewMiddleware(auth.Config{
			PublicPaths: []string{HealthPath, MetricsPath},
		})
	}

	r := &Router{
		config:  cfg,
		runner:  rn,
		catalog: catalog,
		logger:  log.WithComponent(cfg.Logger, "api"),
		mux:     http.NewServeMux(),
	}
	r.registerRoutes()
	return r
}

func (r *Router) registerRoutes() {
	r.mux.HandleFunc("GET "+HealthPath, r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.Handle("GET "+MetricsPath, promhttp.Handler())

	r.mux.HandleFunc("GET /v1/workflows", r.handleListWorkflows)
	r.mux.HandleFunc("GET /v1/workflows/{id}", r.handleGetWorkflow)
	r.mux.HandleFunc("POST /v1/workflows/{id}/start", r.handleStart)

	r.mux.HandleFunc("GET /v1/tasks", r.handleListTasks)
	r.mux.HandleFunc("GET /v1/tasks/{id}", r.handleGetTask)
	r.mux.HandleFunc("POST /v1/tasks/{id}/submit", r.handleSubmit)
	r.mux.HandleFunc("POST /v1/tasks/{id}/cancel", r.handleCancel)
}

// Handler returns the router wrapped in logging, authentication, tracing
// and metrics middleware.
func (r *Router) Handler() http.Handler {
	var h http.Handler = instrument(r.mux)
	h = tracing.HTTPMiddleware(r.config.Tracer)(h)
	h = r.config.Auth.Wrap(h)
	return log.HTTPMiddleware(r.logger)(h)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Handler().ServeHTTP(w, req)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// instrument records request metrics labelled by the matched route. It must
// sit directly in front of the mux so the pattern is visible afterwards.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(req.Method, route, sw.status, time.Since(start))
	})
}
