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

package api

import (
	"net/http"

	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// WorkflowSummary describes a published template in listings.
type WorkflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	StepCount   int    `json:"step_count"`
}

// ListWorkflowsResponse is the response format for GET /v1/workflows.
type ListWorkflowsResponse struct {
	Workflows []WorkflowSummary `json:"workflows"`
	Count     int               `json:"count"`
}

// handleListWorkflows handles GET /v1/workflows.
func (r *Router) handleListWorkflows(w http.ResponseWriter, req *http.Request) {
	templates, err := r.catalog.ListTemplates(req.Context(), workflow.TemplatePublished)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}

	resp := ListWorkflowsResponse{Workflows: make([]WorkflowSummary, 0, len(templates))}
	for _, t := range templates {
		resp.Workflows = append(resp.Workflows, WorkflowSummary{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			StepCount:   len(t.Steps),
		})
	}
	resp.Count = len(resp.Workflows)

	writeJSON(w, http.StatusOK, resp)
}

// handleGetWorkflow handles GET /v1/workflows/{id}. Drafts and archived
// templates are reported as not found.
func (r *Router) handleGetWorkflow(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	t, err := r.catalog.GetTemplate(req.Context(), id)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if !t.IsPublished() {
		writeEngineError(w, req, &errors.NotFoundError{Resource: "workflow", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, t)
}
