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

// Package cache provides read-through caching of templates and identities
// in front of a storage backend.
package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/internal/controller/metrics"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// Compile-time interface assertion.
var _ backend.Backend = (*Store)(nil)

// Config contains cache configuration.
type Config struct {
	// Size is the maximum number of entries per cache.
	// Default: 1024
	Size int

	// TTL is the time-to-live for cached entries.
	// Default: 5m
	TTL time.Duration

	// Logger for cache operations. If nil, uses slog.Default()
	Logger *slog.Logger
}

// Store wraps a backend and caches template and identity reads. Writes made
// through the Store invalidate the affected entry. Instance operations are
// never cached.
type Store struct {
	backend.Backend

	templates  *expirable.LRU[string, *workflow.Template]
	identities *expirable.LRU[string, *workflow.Identity]
	logger     *slog.Logger

	// gen is bumped on every invalidation. A read-through result is only
	// cached if no invalidation happened while it was being loaded.
	mu  sync.Mutex
	gen uint64
}

// New creates a caching store in front of b.
func New(b backend.Backend, cfg Config) *Store {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		Backend:    b,
		templates:  expirable.NewLRU[string, *workflow.Template](cfg.Size, nil, cfg.TTL),
		identities: expirable.NewLRU[string, *workflow.Identity](cfg.Size, nil, cfg.TTL),
		logger:     logger,
	}
}

// GetTemplate returns the template from cache or the backend.
func (s *Store) GetTemplate(ctx context.Context, id string) (*workflow.Template, error) {
	if t, ok := s.templates.Get(id); ok {
		metrics.RecordCacheLookup("templates", true)
		return t.Clone(), nil
	}
	metrics.RecordCacheLookup("templates", false)

	gen := s.generation()
	t, err := s.Backend.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(gen, func() { s.templates.Add(id, t.Clone()) })
	return t, nil
}

// PutTemplate writes through to the backend and evicts the cached entry.
func (s *Store) PutTemplate(ctx context.Context, t *workflow.Template) error {
	defer s.invalidate(func() { s.templates.Remove(t.ID) })
	return s.Backend.PutTemplate(ctx, t)
}

// GetIdentity returns the identity from cache or the backend.
func (s *Store) GetIdentity(ctx context.Context, username string) (*workflow.Identity, error) {
	if id, ok := s.identities.Get(username); ok {
		metrics.RecordCacheLookup("identities", true)
		return cloneIdentity(id), nil
	}
	metrics.RecordCacheLookup("identities", false)

	gen := s.generation()
	id, err := s.Backend.GetIdentity(ctx, username)
	if err != nil {
		return nil, err
	}
	s.fill(gen, func() { s.identities.Add(username, cloneIdentity(id)) })
	return id, nil
}

// PutIdentity writes through to the backend and evicts the cached entry.
func (s *Store) PutIdentity(ctx context.Context, id *workflow.Identity) error {
	defer s.invalidate(func() { s.identities.Remove(id.Username) })
	return s.Backend.PutIdentity(ctx, id)
}

// InvalidateTemplate evicts one template.
func (s *Store) InvalidateTemplate(id string) {
	s.invalidate(func() { s.templates.Remove(id) })
}

// InvalidateIdentity evicts one identity.
func (s *Store) InvalidateIdentity(username string) {
	s.invalidate(func() { s.identities.Remove(username) })
}

// InvalidateAll empties both caches.
func (s *Store) InvalidateAll() {
	s.invalidate(func() {
		s.templates.Purge()
		s.identities.Purge()
	})
	s.logger.Debug("caches purged")
}

func (s *Store) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// fill runs add unless an invalidation happened since gen was read.
func (s *Store) fill(gen uint64, add func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		add()
	}
}

func (s *Store) invalidate(evict func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	evict()
}

// Len returns the number of cached templates and identities.
func (s *Store) Len() (templates, identities int) {
	return s.templates.Len(), s.identities.Len()
}

func cloneIdentity(id *workflow.Identity) *workflow.Identity {
	return &workflow.Identity{Username: id.Username, Roles: slices.Clone(id.Roles)}
}
