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

package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/internal/controller/backend/backendtest"
	"github.com/keduman/workflow-app/internal/controller/backend/memory"
	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// countingBackend counts reads that reach the underlying backend.
type countingBackend struct {
	*memory.Backend
	templateReads atomic.Int32
	identityReads atomic.Int32
}

func (c *countingBackend) GetTemplate(ctx context.Context, id string) (*workflow.Template, error) {
	c.templateReads.Add(1)
	return c.Backend.GetTemplate(ctx, id)
}

func (c *countingBackend) GetIdentity(ctx context.Context, username string) (*workflow.Identity, error) {
	c.identityReads.Add(1)
	return c.Backend.GetIdentity(ctx, username)
}

func newCounting() *countingBackend {
	return &countingBackend{Backend: memory.New()}
}

func TestStore_Conformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		return New(memory.New(), Config{})
	})
}

func TestStore_TemplateReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := newCounting()
	require.NoError(t, inner.PutTemplate(ctx, backendtest.SampleTemplate("wf1")))
	s := New(inner, Config{})

	for i := 0; i < 3; i++ {
		got, err := s.GetTemplate(ctx, "wf1")
		require.NoError(t, err)
		assert.Equal(t, "wf1", got.ID)
	}
	assert.Equal(t, int32(1), inner.templateReads.Load())

	got, _ := s.GetTemplate(ctx, "wf1")
	got.Steps[0].Name = "mutated"
	again, _ := s.GetTemplate(ctx, "wf1")
	assert.NotEqual(t, "mutated", again.Steps[0].Name, "cached value must not be shared")
}

func TestStore_WriteInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := newCounting()
	s := New(inner, Config{})

	require.NoError(t, s.PutTemplate(ctx, backendtest.SampleTemplate("wf1")))
	_, err := s.GetTemplate(ctx, "wf1")
	require.NoError(t, err)

	archived := backendtest.SampleTemplate("wf1")
	archived.Status = workflow.TemplateArchived
	require.NoError(t, s.PutTemplate(ctx, archived))

	got, err := s.GetTemplate(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, workflow.TemplateArchived, got.Status)
	assert.Equal(t, int32(2), inner.templateReads.Load())

	require.NoError(t, s.PutIdentity(ctx, &workflow.Identity{Username: "carol", Roles: []string{"USER"}}))
	id, err := s.GetIdentity(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, id.HasRole("ADMIN"))

	require.NoError(t, s.PutIdentity(ctx, &workflow.Identity{Username: "carol", Roles: []string{"ADMIN"}}))
	id, err = s.GetIdentity(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, id.HasRole("ADMIN"))
}

func TestStore_ExternalWriteNeedsInvalidation(t *testing.T) {
	ctx := context.Background()
	inner := newCounting()
	require.NoError(t, inner.PutIdentity(ctx, &workflow.Identity{Username: "dave", Roles: []string{"USER"}}))
	s := New(inner, Config{})

	_, err := s.GetIdentity(ctx, "dave")
	require.NoError(t, err)

	// Written behind the cache's back.
	require.NoError(t, inner.PutIdentity(ctx, &workflow.Identity{Username: "dave", Roles: []string{"ADMIN"}}))
	id, _ := s.GetIdentity(ctx, "dave")
	assert.False(t, id.HasRole("ADMIN"), "stale until invalidated")

	s.InvalidateIdentity("dave")
	id, _ = s.GetIdentity(ctx, "dave")
	assert.True(t, id.HasRole("ADMIN"))

	s.InvalidateAll()
	templates, identities := s.Len()
	assert.Zero(t, templates)
	assert.Zero(t, identities)
}

func TestStore_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := newCounting()
	s := New(inner, Config{})

	_, err := s.GetTemplate(ctx, "missing")
	var notFound *errors.NotFoundError
	require.ErrorAs(t, err, &notFound)

	require.NoError(t, inner.PutTemplate(ctx, backendtest.SampleTemplate("missing")))
	_, err = s.GetTemplate(ctx, "missing")
	assert.NoError(t, err)
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	inner := newCounting()
	require.NoError(t, inner.PutTemplate(ctx, backendtest.SampleTemplate("wf1")))
	s := New(inner, Config{TTL: 20 * time.Millisecond})

	_, err := s.GetTemplate(ctx, "wf1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, _ = s.GetTemplate(ctx, "wf1")
		return inner.templateReads.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

// pausingBackend holds the first identity read after it has loaded the
// value, until release is closed.
type pausingBackend struct {
	*memory.Backend
	loaded  chan struct{}
	release chan struct{}
	paused  atomic.Bool
}

func (p *pausingBackend) GetIdentity(ctx context.Context, username string) (*workflow.Identity, error) {
	id, err := p.Backend.GetIdentity(ctx, username)
	if p.paused.CompareAndSwap(false, true) {
		close(p.loaded)
		<-p.release
	}
	return id, err
}

func TestStore_WriteDuringReadThroughIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	inner := &pausingBackend{
		Backend: memory.New(),
		loaded:  make(chan struct{}),
		release: make(chan struct{}),
	}
	require.NoError(t, inner.PutIdentity(ctx, &workflow.Identity{Username: "erin", Roles: []string{"ADMIN"}}))
	s := New(inner, Config{})

	done := make(chan *workflow.Identity)
	go func() {
		id, err := s.GetIdentity(ctx, "erin")
		assert.NoError(t, err)
		done <- id
	}()

	// The reader now holds the old roles; revoke admin before it caches them.
	<-inner.loaded
	require.NoError(t, s.PutIdentity(ctx, &workflow.Identity{Username: "erin", Roles: []string{"USER"}}))
	close(inner.release)

	stale := <-done
	assert.True(t, stale.HasRole("ADMIN"), "in-flight read returns what it loaded")

	id, err := s.GetIdentity(ctx, "erin")
	require.NoError(t, err)
	assert.False(t, id.HasRole("ADMIN"), "revoked role must not be served from cache")
}
