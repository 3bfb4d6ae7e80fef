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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/keduman/workflow-app/internal/controller/auth"
	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/pkg/errors"
)

// actor returns the authenticated caller, writing a 401 when there is none.
func actor(w http.ResponseWriter, req *http.Request) (string, bool) {
	user, ok := auth.UserFromContext(req.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "authentication required",
			Type:  errors.TypeUnauthorized,
		})
	}
	return user, ok
}

// handleStart handles POST /v1/workflows/{id}/start.
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) {
	user, ok := actor(w, req)
	if !ok {
		return
	}

	snap, err := r.runner.Start(req.Context(), req.PathValue("id"), user)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListTasks handles GET /v1/tasks. It lists the caller's assigned
// instances.
func (r *Router) handleListTasks(w http.ResponseWriter, req *http.Request) {
	user, ok := actor(w, req)
	if !ok {
		return
	}

	page, err := queryInt(req, "page")
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	size, err := queryInt(req, "size")
	if err != nil {
		writeEngineError(w, req, err)
		return
	}

	result, err := r.runner.ListForAssignee(req.Context(), user, backend.PageRequest{Page: page, Size: size})
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetTask handles GET /v1/tasks/{id}.
func (r *Router) handleGetTask(w http.ResponseWriter, req *http.Request) {
	user, ok := actor(w, req)
	if !ok {
		return
	}

	snap, err := r.runner.Get(req.Context(), req.PathValue("id"), user)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSubmit handles POST /v1/tasks/{id}/submit. The body is a JSON object
// of form values; an empty body submits no values.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	user, ok := actor(w, req)
	if !ok {
		return
	}

	values, err := r.decodeFormData(w, req)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}

	snap, err := r.runner.Submit(req.Context(), req.PathValue("id"), user, values)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleCancel handles POST /v1/tasks/{id}/cancel.
func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) {
	user, ok := actor(w, req)
	if !ok {
		return
	}

	snap, err := r.runner.Cancel(req.Context(), req.PathValue("id"), user)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// decodeFormData reads a JSON object from the request body. Numbers are kept
// as json.Number so integers survive the round trip into the form log.
func (r *Router) decodeFormData(w http.ResponseWriter, req *http.Request) (map[string]any, error) {
	body := http.MaxBytesReader(w, req.Body, r.config.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &errors.ValidationError{
				Field:   "body",
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}
		}
		return nil, &errors.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if dec.More() {
		return nil, &errors.ValidationError{Field: "body", Message: "request body must contain a single JSON object"}
	}

	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, &errors.ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("form data must be a JSON object, got %T", raw),
		}
	}
}

func queryInt(req *http.Request, name string) (int, error) {
	s := req.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &errors.ValidationError{
			Field:   name,
			Message: fmt.Sprintf("%s must be an integer, got %q", name, s),
		}
	}
	return n, nil
}
