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

// Package memory provides an in-memory backend implementation.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// Compile-time interface assertions.
// Ensures Backend implements all segregated interfaces.
var (
	_ backend.TemplateStore  = (*Backend)(nil)
	_ backend.TemplateLister = (*Backend)(nil)
	_ backend.IdentityStore  = (*Backend)(nil)
	_ backend.InstanceStore  = (*Backend)(nil)
	_ backend.Backend        = (*Backend)(nil)
)

// Backend is an in-memory storage backend. Values are copied on the way in
// and out so callers never share state with the store.
type Backend struct {
	mu         sync.RWMutex
	templates  map[string]*workflow.Template
	identities map[string]*workflow.Identity
	instances  map[string]*workflow.Instance
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		templates:  make(map[string]*workflow.Template),
		identities: make(map[string]*workflow.Identity),
		instances:  make(map[string]*workflow.Instance),
	}
}

// GetTemplate retrieves a template by ID.
func (b *Backend) GetTemplate(ctx context.Context, id string) (*workflow.Template, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, exists := b.templates[id]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "template", ID: id}
	}
	return t.Clone(), nil
}

// PutTemplate creates or replaces a template.
func (b *Backend) PutTemplate(ctx context.Context, t *workflow.Template) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := t.Clone()
	c.Normalize()
	now := time.Now()
	if prev, ok := b.templates[t.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	b.templates[t.ID] = c
	return nil
}

// ListTemplates lists templates, optionally filtered by status.
func (b *Backend) ListTemplates(ctx context.Context, status workflow.TemplateStatus) ([]*workflow.Template, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]*workflow.Template, 0, len(b.templates))
	for _, t := range b.templates {
		if status != "" && t.Status != status {
			continue
		}
		result = append(result, t.Clone())
	}
	slices.SortFunc(result, func(a, b *workflow.Template) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

// GetIdentity retrieves an identity by username.
func (b *Backend) GetIdentity(ctx context.Context, username string) (*workflow.Identity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	id, exists := b.identities[username]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "identity", ID: username}
	}
	return &workflow.Identity{Username: id.Username, Roles: slices.Clone(id.Roles)}, nil
}

// PutIdentity creates or replaces an identity.
func (b *Backend) PutIdentity(ctx context.Context, id *workflow.Identity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.identities[id.Username] = &workflow.Identity{Username: id.Username, Roles: slices.Clone(id.Roles)}
	return nil
}

// CreateInstance stores a new instance.
func (b *Backend) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.instances[inst.ID]; exists {
		return fmt.Errorf("instance already exists: %s", inst.ID)
	}

	inst.Version = 1
	b.instances[inst.ID] = inst.Clone()
	return nil
}

// GetInstance retrieves an instance by ID.
func (b *Backend) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	inst, exists := b.instances[id]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "instance", ID: id}
	}
	return inst.Clone(), nil
}

// UpdateInstance writes inst if its version is current.
func (b *Backend) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, exists := b.instances[inst.ID]
	if !exists {
		return &errors.NotFoundError{Resource: "instance", ID: inst.ID}
	}
	if stored.Version != inst.Version {
		return &errors.ConflictError{Resource: "instance", ID: inst.ID}
	}
	if len(inst.FormData) < len(stored.FormData) {
		return fmt.Errorf("form log of instance %s cannot shrink from %d to %d entries",
			inst.ID, len(stored.FormData), len(inst.FormData))
	}

	next := inst.Clone()
	next.FormData = append(slices.Clone(stored.FormData), inst.FormData[len(stored.FormData):]...)
	next.Version = stored.Version + 1
	b.instances[inst.ID] = next
	inst.Version = next.Version
	return nil
}

// ListInstancesByAssignee returns a page of instances assigned to assignee.
func (b *Backend) ListInstancesByAssignee(ctx context.Context, assignee string, req backend.PageRequest) (*backend.Page, error) {
	req = req.Normalize()

	b.mu.RLock()
	var matched []*workflow.Instance
	for _, inst := range b.instances {
		if inst.Assignee == assignee {
			matched = append(matched, inst)
		}
	}
	b.mu.RUnlock()

	slices.SortFunc(matched, func(x, y *workflow.Instance) int {
		if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})

	total := len(matched)
	start := min(req.Offset(), total)
	end := min(start+req.Size, total)

	items := make([]*workflow.Instance, 0, end-start)
	for _, inst := range matched[start:end] {
		items = append(items, inst.Clone())
	}
	return backend.NewPage(items, req, total), nil
}

// Close is a no-op for the in-memory backend.
func (b *Backend) Close() error {
	return nil
}
