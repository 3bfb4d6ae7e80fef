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

package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keduman/workflow-app/internal/controller/backend/memory"
	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

const sampleSeed = `
identities:
  - username: alice
    roles: [USER]
  - username: admin
    roles: [ADMIN]
workflows:
  - id: expense
    name: Expense claim
    description: Claim back work expenses
    steps:
      - id: submit
        name: Submit
        type: TASK
        fields:
          - label: Amount
            key: amount
            type: NUMBER
            required: true
        rules:
          - name: High value
            condition: amount > 1000
            action: REQUIRE_APPROVAL
      - id: done
        name: Done
        type: END
  - id: legacy
    name: Legacy form
    status: DRAFT
    rules:
      - name: Blocked department
        condition: department == "sales"
        action: REJECT
    steps:
      - id: last
        name: Last
        type: END
        order: 2
      - id: first
        name: First
        type: START
        order: 1
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleSeed))
	require.NoError(t, err)

	require.Len(t, f.Identities, 2)
	assert.Equal(t, workflow.Identity{Username: "admin", Roles: []string{"ADMIN"}}, f.Identities[1])

	require.Len(t, f.Workflows, 2)
	expense := f.Workflows[0]
	assert.Equal(t, workflow.TemplatePublished, expense.Status, "status defaults to published")
	assert.Equal(t, 0, expense.Steps[0].Order)
	assert.Equal(t, 1, expense.Steps[1].Order, "listed position becomes the order")
	assert.Equal(t, "amount", expense.Steps[0].Fields[0].Key)
	assert.Equal(t, workflow.ActionRequireApproval, expense.Steps[0].Rules[0].Action)

	legacy := f.Workflows[1]
	assert.Equal(t, workflow.TemplateDraft, legacy.Status)
	assert.Equal(t, 2, legacy.Steps[0].Order, "explicit orders are kept")
	require.Len(t, legacy.Rules, 1)
	assert.Equal(t, `department == "sales"`, legacy.Rules[0].Condition)
}

func TestParse_Empty(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Identities)
	assert.Empty(t, f.Workflows)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "malformed yaml",
			content: "identities: [",
			want:    "invalid YAML",
		},
		{
			name:    "unknown key",
			content: "identities:\n  - username: a\n    groups: [x]\n",
			want:    "groups",
		},
		{
			name:    "empty username",
			content: "identities:\n  - roles: [USER]\n",
			want:    "username cannot be empty",
		},
		{
			name:    "duplicate identity",
			content: "identities:\n  - username: a\n  - username: a\n",
			want:    "duplicate identity a",
		},
		{
			name:    "workflow without id",
			content: "workflows:\n  - name: x\n",
			want:    "template ID cannot be empty",
		},
		{
			name:    "bad step type",
			content: "workflows:\n  - id: w\n    name: W\n    steps:\n      - id: s\n        type: LOOP\n",
			want:    "unknown type",
		},
		{
			name:    "duplicate workflow",
			content: "workflows:\n  - id: w\n    name: W\n  - id: w\n    name: W2\n",
			want:    "duplicate workflow w",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var validation *errors.ValidationError
			assert.True(t, errors.As(err, &validation))
		})
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	result, err := Load(ctx, writeSeed(t, sampleSeed), b)
	require.NoError(t, err)
	assert.Equal(t, &Result{Identities: 2, Workflows: 2}, result)

	admin, err := b.GetIdentity(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin.HasRole(workflow.DefaultAdminRole))

	legacy, err := b.GetTemplate(ctx, "legacy")
	require.NoError(t, err)
	require.Len(t, legacy.Steps, 2)
	assert.Equal(t, "first", legacy.Steps[0].ID, "steps are stored in order")

	published, err := b.ListTemplates(ctx, workflow.TemplatePublished)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "expense", published[0].ID)
}

func TestLoad_InvalidFileWritesNothing(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	content := "identities:\n  - username: alice\nworkflows:\n  - id: broken\n"
	_, err := Load(ctx, writeSeed(t, content), b)
	require.Error(t, err)

	_, err = b.GetIdentity(ctx, "alice")
	var notFound *errors.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), memory.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_ExampleSeed(t *testing.T) {
	store := memory.New()
	res, err := Load(context.Background(), filepath.Join("..", "..", "..", "examples", "seed.yaml"), store)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Identities)
	assert.Equal(t, 3, res.Workflows)

	tmpl, err := store.GetTemplate(context.Background(), "expense-claim")
	require.NoError(t, err)
	assert.True(t, tmpl.IsPublished())
	assert.Equal(t, "start", tmpl.FirstStep().ID)

	draft, err := store.GetTemplate(context.Background(), "onboarding")
	require.NoError(t, err)
	assert.False(t, draft.IsPublished())
}
