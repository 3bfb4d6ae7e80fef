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

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoUser writes the authenticated user as the response body.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	_, _ = w.Write([]byte(user))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Disabled(t *testing.T) {
	h := NewMiddleware(Config{Enabled: false}).Wrap(echoUser)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("X-User", "alice")
	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/v1/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_CustomUserHeader(t *testing.T) {
	h := NewMiddleware(Config{UserHeader: "X-Remote-User"}).Wrap(echoUser)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("X-Remote-User", "bob")
	rec := serve(h, req)
	assert.Equal(t, "bob", rec.Body.String())
}

func TestMiddleware_JWT(t *testing.T) {
	cfg := JWTConfig{Secret: testSecret, Issuer: "workflow"}
	h := NewMiddleware(Config{Enabled: true, JWT: cfg}).Wrap(echoUser)

	token, err := GenerateJWT(Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}, cfg)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", rec.Body.String())
	})

	t.Run("user header ignored when enabled", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
		req.Header.Set("X-User", "root")
		rec := serve(h, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unauthorized", body["type"])
		assert.NotEmpty(t, body["error"])
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer "+token+"x")
		rec := serve(h, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestMiddleware_PublicPaths(t *testing.T) {
	h := NewMiddleware(Config{Enabled: true, JWT: JWTConfig{Secret: testSecret}, PublicPaths: []string{"/v1/health"}}).
		Wrap(echoUser)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RateLimit(t *testing.T) {
	m := NewMiddleware(Config{RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 2}})
	h := m.Wrap(echoUser)

	request := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
		req.Header.Set("X-User", user)
		return serve(h, req)
	}

	assert.Equal(t, http.StatusOK, request("alice").Code)
	assert.Equal(t, http.StatusOK, request("alice").Code)

	rec := request("alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, request("bob").Code)
	assert.Equal(t, 2, m.Limiter().Len())
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   bool
	}{
		{name: "valid bearer token", header: "Bearer abc123xyz", wantToken: "abc123xyz"},
		{name: "bearer with lowercase", header: "bearer abc123xyz", wantToken: "abc123xyz"},
		{name: "bearer with extra spaces", header: "Bearer    abc123xyz   ", wantToken: "abc123xyz"},
		{name: "missing authorization header", header: "", wantErr: true},
		{name: "invalid prefix", header: "Basic abc123", wantErr: true},
		{name: "empty token", header: "Bearer ", wantErr: true},
		{name: "no separator", header: "Bearer", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			token, err := ExtractBearerToken(req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ExtractBearerToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if token != tt.wantToken {
				t.Errorf("ExtractBearerToken() = %v, want %v", token, tt.wantToken)
			}
		})
	}
}

func TestUserFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := UserFromContext(req.Context())
	assert.False(t, ok)

	user, ok := UserFromContext(ContextWithUser(req.Context(), "alice"))
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
}
