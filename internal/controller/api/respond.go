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
	"net/http"

	"github.com/keduman/workflow-app/internal/log"
	"github.com/keduman/workflow-app/pkg/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// statusFor maps an engine error type to an HTTP status.
func statusFor(errType string) int {
	switch errType {
	case errors.TypeNotFound:
		return http.StatusNotFound
	case errors.TypeValidation, errors.TypeInvalidState,
		errors.TypeRuleBlocked, errors.TypePayloadTooLarge:
		return http.StatusBadRequest
	case errors.TypeForbidden:
		return http.StatusForbidden
	case errors.TypeConflict:
		return http.StatusConflict
	case errors.TypeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError renders err from the runner. Unclassified errors are
// logged and reported without detail.
func writeEngineError(w http.ResponseWriter, req *http.Request, err error) {
	errType := errors.TypeOf(err)
	status := statusFor(errType)
	if status == http.StatusInternalServerError {
		log.FromContext(req.Context()).Error("request failed",
			"path", req.URL.Path,
			log.Error(err))
		writeJSON(w, status, ErrorResponse{Error: "internal server error", Type: "internal"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Type: errType})
}
