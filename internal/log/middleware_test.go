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

package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		requestID string
		wantLevel string
	}{
		{"ok", http.StatusOK, "", "INFO"},
		{"client error", http.StatusForbidden, "caller-id", "WARN"},
		{"server error", http.StatusInternalServerError, "", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

			var ctxLoggerSeen bool
			handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxLoggerSeen = FromContext(r.Context()) != nil
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
			if tt.requestID != "" {
				req.Header.Set(RequestIDHeader, tt.requestID)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if !ctxLoggerSeen {
				t.Error("expected logger in request context")
			}
			echoed := rec.Header().Get(RequestIDHeader)
			if echoed == "" {
				t.Fatal("expected request ID header in response")
			}
			if tt.requestID != "" && echoed != tt.requestID {
				t.Errorf("expected request ID %q echoed, got %q", tt.requestID, echoed)
			}

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("expected valid JSON output: %v", err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("expected level %s, got %v", tt.wantLevel, entry["level"])
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("expected status %d, got %v", tt.status, entry["status"])
			}
			if entry["path"] != "/v1/tasks" || entry["method"] != "GET" {
				t.Errorf("unexpected request fields: %v", entry)
			}
			if entry["request_id"] != echoed {
				t.Errorf("expected request_id %q, got %v", echoed, entry["request_id"])
			}
			if entry["bytes"] != float64(4) {
				t.Errorf("expected bytes=4, got %v", entry["bytes"])
			}
		})
	}
}

func TestHTTPMiddleware_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("expected implicit 200, got %v", entry["status"])
	}
}

func TestFromContext_Default(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if FromContext(req.Context()) == nil {
		t.Error("expected default logger")
	}
}

func TestFromContextOr(t *testing.T) {
	fallback := New(&Config{Level: "info", Format: FormatJSON, Output: &bytes.Buffer{}})
	stored := New(&Config{Level: "info", Format: FormatJSON, Output: &bytes.Buffer{}})

	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	if FromContextOr(ctx, fallback) != fallback {
		t.Error("expected fallback logger for bare context")
	}
	if FromContextOr(NewContext(ctx, stored), fallback) != stored {
		t.Error("expected stored logger")
	}
}
