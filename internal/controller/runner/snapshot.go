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

package runner

import (
	"slices"
	"time"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// Snapshot is an immutable copy of an instance for API responses.
// It shares no memory with the stored instance.
type Snapshot struct {
	ID              string               `json:"id"`
	TemplateID      string               `json:"workflow_id"`
	TemplateName    string               `json:"workflow_name"`
	CurrentStepID   string               `json:"current_step_id,omitempty"`
	CurrentStepName string               `json:"current_step_name,omitempty"`
	Assignee        string               `json:"assignee_username"`
	InitiatedBy     string               `json:"initiated_by_username"`
	Status          workflow.Status      `json:"status"`
	FormData        []workflow.FormEntry `json:"form_data"`
	CreatedAt       time.Time            `json:"created_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// InstancePage is one page of snapshots.
type InstancePage struct {
	Items      []*Snapshot `json:"content"`
	Page       int         `json:"page"`
	Size       int         `json:"size"`
	Total      int         `json:"total_elements"`
	TotalPages int         `json:"total_pages"`
}

func newSnapshot(inst *workflow.Instance) *Snapshot {
	s := &Snapshot{
		ID:              inst.ID,
		TemplateID:      inst.TemplateID,
		TemplateName:    inst.TemplateName,
		CurrentStepID:   inst.CurrentStepID,
		CurrentStepName: inst.CurrentStepName,
		Assignee:        inst.Assignee,
		InitiatedBy:     inst.InitiatedBy,
		Status:          inst.Status,
		FormData:        slices.Clone([]workflow.FormEntry(inst.FormData)),
		CreatedAt:       inst.CreatedAt,
	}
	if s.FormData == nil {
		s.FormData = []workflow.FormEntry{}
	}
	if inst.CompletedAt != nil {
		t := *inst.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

func newInstancePage(p *backend.Page) *InstancePage {
	items := make([]*Snapshot, len(p.Items))
	for i, inst := range p.Items {
		items[i] = newSnapshot(inst)
	}
	return &InstancePage{
		Items:      items,
		Page:       p.Page,
		Size:       p.Size,
		Total:      p.Total,
		TotalPages: p.TotalPages,
	}
}
