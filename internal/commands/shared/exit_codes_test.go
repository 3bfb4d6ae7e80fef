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

package shared

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keduman/workflow-app/pkg/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailed},
		{"invalid input", NewInvalidInputError("bad flag", nil), ExitInvalidInput},
		{"wrapped exit error", fmt.Errorf("check: %w", NewInvalidInputError("bad file", nil)), ExitInvalidInput},
		{"wrapped config error", fmt.Errorf("run: %w", &errors.ConfigError{Key: "LOG_SOURCE", Reason: "not a bool"}), ExitConfig},
		{"config error", &errors.ConfigError{Key: "auth.jwt_secret", Reason: "too short"}, ExitConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	err := NewInvalidInputError("invalid --var", errors.New("missing '='"))
	assert.Equal(t, "invalid --var: missing '='", err.Error())
	assert.Equal(t, "missing '='", errors.Unwrap(err).Error())

	assert.Equal(t, "plain", (&ExitError{Message: "plain"}).Error())
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, &errors.ValidationError{
		Field:      "status",
		Message:    "unknown status",
		Suggestion: "use DRAFT, PUBLISHED or ARCHIVED",
	})

	assert.Equal(t,
		"Error: validation failed on status: unknown status\nHint: use DRAFT, PUBLISHED or ARCHIVED\n",
		buf.String())
}
