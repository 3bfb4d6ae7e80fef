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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/keduman/workflow-app/internal/config"
	"github.com/keduman/workflow-app/internal/log"
)

// RunOptions configures server execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath is an explicit config file; empty uses the default lookup.
	ConfigPath string

	// Config overrides
	Addr     string
	Backend  string
	SeedPath string
	Verbose  bool
}

// Run loads configuration, starts the server and blocks until SIGINT or
// SIGTERM, then shuts down gracefully.
func Run(opts RunOptions) error {
	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath))
	if err != nil {
		return err
	}

	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Backend != "" {
		cfg.Backend.Type = opts.Backend
	}
	if opts.SeedPath != "" {
		cfg.Seed.Path = opts.SeedPath
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	c, err := New(cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create controller", log.Error(err))
		return fmt.Errorf("failed to create controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		if err := c.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if shutdownErr := c.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("error during shutdown", log.Error(shutdownErr))
		}
		return err
	}
}
