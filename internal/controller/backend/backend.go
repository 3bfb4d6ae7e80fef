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

// Package backend provides storage backends for the workflow engine.
//
// # Interface Hierarchy
//
// The backend package uses interface segregation to allow minimal implementations:
//
//   - TemplateStore (required): GetTemplate
//   - InstanceStore (required): CreateInstance, GetInstance, UpdateInstance, ListInstancesByAssignee
//   - IdentityStore (required): GetIdentity
//   - TemplateWriter, IdentityWriter (optional): PutTemplate, PutIdentity
//   - TemplateLister (optional): ListTemplates
//   - io.Closer (optional): Close
//
// The Backend interface composes all of these for full-featured implementations.
//
// # Concurrency
//
// UpdateInstance is an optimistic compare-and-swap on Instance.Version. The
// instance row and any newly appended form log entries are written
// atomically; a stale version yields *errors.ConflictError and nothing is
// written.
package backend

import (
	"context"
	"io"
	"math"

	"github.com/keduman/workflow-app/pkg/workflow"
)

// Paging defaults applied by PageRequest.Normalize.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// TemplateStore reads workflow templates.
type TemplateStore interface {
	// GetTemplate returns the template with its steps ordered by order index.
	// Returns *errors.NotFoundError when no template has the given ID.
	GetTemplate(ctx context.Context, id string) (*workflow.Template, error)
}

// TemplateWriter is an optional interface for creating or replacing templates.
type TemplateWriter interface {
	PutTemplate(ctx context.Context, t *workflow.Template) error
}

// TemplateLister is an optional interface for listing templates.
//
//	if lister, ok := store.(TemplateLister); ok {
//	    published, err := lister.ListTemplates(ctx, workflow.TemplatePublished)
//	}
type TemplateLister interface {
	// ListTemplates lists templates ordered by ID. An empty status lists all.
	ListTemplates(ctx context.Context, status workflow.TemplateStatus) ([]*workflow.Template, error)
}

// IdentityStore resolves identities and their roles.
type IdentityStore interface {
	// GetIdentity returns *errors.NotFoundError for unknown usernames.
	GetIdentity(ctx context.Context, username string) (*workflow.Identity, error)
}

// IdentityWriter is an optional interface for creating or replacing identities.
type IdentityWriter interface {
	PutIdentity(ctx context.Context, id *workflow.Identity) error
}

// InstanceStore persists workflow instances.
type InstanceStore interface {
	// CreateInstance stores a new instance and sets its Version to 1.
	CreateInstance(ctx context.Context, inst *workflow.Instance) error

	// GetInstance returns the instance with its full form log.
	// Returns *errors.NotFoundError when it does not exist.
	GetInstance(ctx context.Context, id string) (*workflow.Instance, error)

	// UpdateInstance writes inst if its Version matches the stored version,
	// appends form log entries not yet stored, and increments inst.Version.
	// Returns *errors.ConflictError on a version mismatch.
	UpdateInstance(ctx context.Context, inst *workflow.Instance) error

	// ListInstancesByAssignee returns one page of the instances assigned to
	// assignee, ordered by creation time then ID.
	ListInstancesByAssignee(ctx context.Context, assignee string, req PageRequest) (*Page, error)
}

// Backend defines the full interface for engine storage.
type Backend interface {
	TemplateStore
	TemplateWriter
	TemplateLister
	IdentityStore
	IdentityWriter
	InstanceStore
	io.Closer
}

// PageRequest selects a page of results. Page is zero-based.
type PageRequest struct {
	Page int
	Size int
}

// Normalize applies the default page size, caps the size at MaxPageSize,
// clamps negative page numbers to zero and caps the page number so that
// its offset fits in an int.
func (r PageRequest) Normalize() PageRequest {
	if r.Page < 0 {
		r.Page = 0
	}
	if r.Size <= 0 {
		r.Size = DefaultPageSize
	}
	if r.Size > MaxPageSize {
		r.Size = MaxPageSize
	}
	if r.Page > math.MaxInt/r.Size {
		r.Page = math.MaxInt / r.Size
	}
	return r
}

// Offset returns the number of rows skipped before this page. It saturates
// at math.MaxInt and is never negative.
func (r PageRequest) Offset() int {
	if r.Page <= 0 || r.Size <= 0 {
		return 0
	}
	if r.Page > math.MaxInt/r.Size {
		return math.MaxInt
	}
	return r.Page * r.Size
}

// Page is one page of instances.
type Page struct {
	Items      []*workflow.Instance `json:"content"`
	Page       int                  `json:"page"`
	Size       int                  `json:"size"`
	Total      int                  `json:"total_elements"`
	TotalPages int                  `json:"total_pages"`
}

// NewPage builds a page from items and the total matching count.
func NewPage(items []*workflow.Instance, req PageRequest, total int) *Page {
	if items == nil {
		items = []*workflow.Instance{}
	}
	pages := 0
	if req.Size > 0 {
		pages = (total + req.Size - 1) / req.Size
	}
	return &Page{
		Items:      items,
		Page:       req.Page,
		Size:       req.Size,
		Total:      total,
		TotalPages: pages,
	}
}
