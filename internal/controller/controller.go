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

package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/keduman/workflow-app/internal/config"
	"github.com/keduman/workflow-app/internal/controller/api"
	"github.com/keduman/workflow-app/internal/controller/auth"
	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/internal/controller/backend/memory"
	"github.com/keduman/workflow-app/internal/controller/backend/postgres"
	"github.com/keduman/workflow-app/internal/controller/backend/sqlite"
	"github.com/keduman/workflow-app/internal/controller/cache"
	"github.com/keduman/workflow-app/internal/controller/runner"
	"github.com/keduman/workflow-app/internal/controller/seed"
	internallog "github.com/keduman/workflow-app/internal/log"
	"github.com/keduman/workflow-app/internal/tracing"
	"github.com/keduman/workflow-app/pkg/workflow/expression"
)

// Rate limiter entries idle for longer than this are dropped.
const (
	limiterCleanupInterval = time.Minute
	limiterMaxIdle         = 10 * time.Minute
)

// Options contains controller options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Logger overrides the logger built from the log config.
	Logger *slog.Logger

	// TraceOutput receives spans from the stdout exporter. Default: os.Stdout
	TraceOutput io.Writer
}

// Controller is the workflow server.
type Controller struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	backend  backend.Backend
	store    *cache.Store
	tracing  *tracing.Provider
	runner   *runner.Runner
	authMw   *auth.Middleware
	router   *api.Router
	server   *http.Server
	watcher  *seed.Watcher
	listener net.Listener

	mu      sync.Mutex
	started bool
	ready   chan struct{}
}

// New creates a controller from cfg. The backend is opened and the seed
// file, if any, is loaded before New returns.
func New(cfg *config.Config, opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = internallog.New(&internallog.Config{
			Level:     cfg.Log.Level,
			Format:    internallog.Format(cfg.Log.Format),
			Output:    os.Stderr,
			AddSource: cfg.Log.AddSource,
		})
	}
	logger = internallog.WithComponent(logger, "controller")

	be, err := openBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	store := cache.New(be, cache.Config{
		Size:   cfg.Cache.Size,
		TTL:    cfg.Cache.TTL,
		Logger: logger,
	})

	if cfg.Seed.Path != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		result, err := seed.Load(ctx, cfg.Seed.Path, store)
		cancel()
		if err != nil {
			be.Close()
			return nil, fmt.Errorf("failed to load seed file: %w", err)
		}
		logger.Info("seed loaded",
			slog.String("path", cfg.Seed.Path),
			slog.Int("identities", result.Identities),
			slog.Int("workflows", result.Workflows))
	}

	traceOut := opts.TraceOutput
	if traceOut == nil {
		traceOut = os.Stdout
	}
	tp, err := tracing.Setup(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: opts.Version,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Output:         traceOut,
	})
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	eval, err := expression.NewWithCacheSize(cfg.Engine.ExpressionCacheSize)
	if err != nil {
		be.Close()
		return nil, err
	}

	r := runner.New(runner.Config{
		AdminRole:       cfg.Engine.AdminRole,
		MaxFormDataSize: cfg.Engine.MaxFormDataSize,
	}, store,
		runner.WithLogger(logger),
		runner.WithTracer(tp.Tracer("workflow/runner")),
		runner.WithEvaluator(eval),
	)

	authMw := auth.NewMiddleware(auth.Config{
		Enabled: cfg.Auth.Enabled,
		JWT: auth.JWTConfig{
			Secret:    []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			ClockSkew: cfg.Auth.ClockSkew,
		},
		RateLimit: auth.RateLimitConfig{
			Enabled:           cfg.Auth.RateLimit > 0,
			RequestsPerSecond: cfg.Auth.RateLimit,
			BurstSize:         cfg.Auth.RateBurst,
		},
		PublicPaths: []string{api.HealthPath, api.MetricsPath},
	})
	if !cfg.Auth.Enabled {
		logger.Warn("authentication is disabled; callers are identified by the " + auth.DefaultUserHeader + " header")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:      opts.Version,
		Commit:       opts.Commit,
		BuildDate:    opts.BuildDate,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
		Tracer:       tp.Tracer("workflow/http"),
		Auth:         authMw,
	}, r, store)

	return &Controller{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		backend: be,
		store:   store,
		tracing: tp,
		runner:  r,
		authMw:  authMw,
		router:  router,
		ready:   make(chan struct{}),
	}, nil
}

func openBackend(cfg config.BackendConfig) (backend.Backend, error) {
	switch cfg.Type {
	case config.BackendSQLite:
		be, err := sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: cfg.SQLite.WAL})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite backend: %w", err)
		}
		return be, nil
	case config.BackendPostgres:
		be, err := postgres.New(postgres.Config{
			ConnectionString: cfg.Postgres.ConnectionString,
			MaxOpenConns:     cfg.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime:  cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres backend: %w", err)
		}
		return be, nil
	case config.BackendMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type %q", cfg.Type)
	}
}

// Runner returns the instance lifecycle manager.
func (c *Controller) Runner() *runner.Runner {
	return c.runner
}

// Handler returns the HTTP handler with all middleware applied.
func (c *Controller) Handler() http.Handler {
	return c.router.Handler()
}

// Ready is closed once the server is accepting connections.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Addr returns the address the server listens on, or "" before Start.
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Start listens on the configured address and serves requests. It blocks
// until the server is shut down.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	c.started = true

	if c.cfg.Seed.Watch {
		w, err := seed.Watch(ctx, c.store, seed.WatchConfig{
			Path:     c.cfg.Seed.Path,
			Debounce: c.cfg.Seed.Debounce,
			Logger:   c.logger,
			OnReload: func(*seed.Result) { c.store.InvalidateAll() },
		})
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("failed to watch seed file: %w", err)
		}
		c.watcher = w
	}

	ln, err := net.Listen("tcp", c.cfg.Server.Addr)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.Server.Addr, err)
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadTimeout:       c.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: c.cfg.Server.ReadTimeout,
		WriteTimeout:      c.cfg.Server.WriteTimeout,
	}
	server := c.server
	c.mu.Unlock()

	go c.cleanupLimiter(ctx)

	c.logger.Info("controller started",
		slog.String("addr", ln.Addr().String()),
		slog.String("backend", c.cfg.Backend.Type),
		slog.Bool("auth", c.cfg.Auth.Enabled),
		slog.String("jwt_secret", internallog.SanitizeSecret(c.cfg.Auth.JWTSecret)))
	close(c.ready)

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (c *Controller) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.authMw.Limiter().Cleanup(limiterMaxIdle)
		}
	}
}

// Shutdown stops the server gracefully, waiting at most the configured
// shutdown timeout for in-flight requests, then releases all resources.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("shutting down controller")

	var errs []error
	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, c.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("HTTP server shutdown error", internallog.Error(err))
			errs = append(errs, err)
		}
		c.server = nil
	}

	if c.watcher != nil {
		if err := c.watcher.Close(); err != nil {
			c.logger.Error("failed to stop seed watcher", internallog.Error(err))
		}
		c.watcher = nil
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 5*time.Second)
	defer flushCancel()
	if err := c.tracing.Shutdown(flushCtx); err != nil {
		c.logger.Warn("failed to flush pending spans", internallog.Error(err))
	}

	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			c.logger.Error("failed to close backend", internallog.Error(err))
			errs = append(errs, err)
		}
		c.backend = nil
	}

	c.started = false
	c.logger.Info("controller stopped")
	return errors.Join(errs...)
}
