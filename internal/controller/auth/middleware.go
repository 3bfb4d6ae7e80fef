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
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/keduman/workflow-app/internal/log"
	"github.com/keduman/workflow-app/pkg/errors"
)

// DefaultUserHeader carries the caller's identity when authentication is
// disabled.
const DefaultUserHeader = "X-User"

// Config configures the authentication middleware.
type Config struct {
	// Enabled requires a valid bearer JWT. When false the caller is read
	// from UserHeader, which is only suitable for development.
	Enabled bool

	JWT       JWTConfig
	RateLimit RateLimitConfig

	// UserHeader defaults to DefaultUserHeader.
	UserHeader string

	// PublicPaths are served without authentication or rate limiting.
	PublicPaths []string
}

type userKey struct{}

// ContextWithUser returns a context carrying the authenticated username.
func ContextWithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey{}, username)
}

// UserFromContext returns the authenticated username, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(userKey{}).(string)
	return username, ok && username != ""
}

// Middleware authenticates requests and rate limits each caller.
type Middleware struct {
	cfg     Config
	limiter *RateLimiter
	public  map[string]bool
}

// NewMiddleware creates the middleware.
func NewMiddleware(cfg Config) *Middleware {
	if cfg.UserHeader == "" {
		cfg.UserHeader = DefaultUserHeader
	}
	public := make(map[string]bool, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = true
	}
	return &Middleware{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit),
		public:  public,
	}
}

// Limiter returns the rate limiter so callers can schedule Cleanup.
func (m *Middleware) Limiter() *RateLimiter {
	return m.limiter
}

// Wrap returns next guarded by authentication.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.authenticate(r)
		if err != nil {
			log.FromContext(r.Context()).Warn("authentication failed",
				slog.String("path", r.URL.Path),
				log.Error(err))
			writeAuthError(w, http.StatusUnauthorized, err)
			return
		}

		if !m.limiter.Allow(user) {
			w.Header().Set("Retry-After", "1")
			writeAuthError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}

		ctx := ContextWithUser(r.Context(), user)
		ctx = log.NewContext(ctx, log.WithActor(log.FromContext(ctx), user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(r *http.Request) (string, error) {
	if !m.cfg.Enabled {
		user := strings.TrimSpace(r.Header.Get(m.cfg.UserHeader))
		if user == "" {
			return "", &errors.UnauthorizedError{Reason: "missing " + m.cfg.UserHeader + " header"}
		}
		return user, nil
	}

	token, err := ExtractBearerToken(r)
	if err != nil {
		return "", err
	}
	claims, err := ValidateJWT(token, m.cfg.JWT)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ExtractBearerToken reads the token from an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &errors.UnauthorizedError{Reason: "missing authorization header"}
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", &errors.UnauthorizedError{Reason: "authorization scheme must be Bearer"}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", &errors.UnauthorizedError{Reason: "empty bearer token"}
	}
	return token, nil
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	kind := errors.TypeUnauthorized
	if status == http.StatusTooManyRequests {
		kind = "rate_limited"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "type": kind})
}
