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

package rules

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keduman/workflow-app/internal/commands/shared"
	"github.com/keduman/workflow-app/pkg/workflow"
	"github.com/keduman/workflow-app/pkg/workflow/expression"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := &cobra.Command{Use: "workflow", SilenceUsage: true, SilenceErrors: true}
	_, jsonPtr, _ := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonPtr, "json", false, "JSON output")
	t.Cleanup(func() { *jsonPtr = false })
	root.AddCommand(NewCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEval(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"true", []string{"--expr", "amount > 1000", "--var", "amount=1500"}, "true\n"},
		{"false", []string{"--expr", "amount > 1000", "--var", "amount=999.5"}, "false\n"},
		{"strings and numbers", []string{"-e", `dept == "sales" && days >= 5`, "--var", "dept=sales", "--var", "days=5"}, "true\n"},
		{"value containing equals", []string{"-e", `note == "a=b"`, "--var", "note=a=b"}, "true\n"},
		{"empty condition", []string{"-e", ""}, "true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"rules", "eval"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestEval_JSON(t *testing.T) {
	out, err := execute(t, "rules", "eval", "--json", "--expr", "amount > 10", "--var", "amount=11")
	require.NoError(t, err)

	var result EvalResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Result)
	assert.Equal(t, "amount > 10", result.Expression)
	assert.Equal(t, float64(11), result.Variables["amount"])
}

func TestEval_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{"malformed", []string{"--expr", "amount >"}, shared.ExitInvalidInput},
		{"missing variable", []string{"--expr", "amount > 1"}, shared.ExitInvalidInput},
		{"disallowed construct", []string{"--expr", `len("abc") > 1`}, shared.ExitInvalidInput},
		{"bad var", []string{"--expr", "a", "--var", "novalue"}, shared.ExitInvalidInput},
		{"empty key", []string{"--expr", "a", "--var", "=1"}, shared.ExitInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"rules", "eval"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, shared.ExitCode(err))
		})
	}
}

func TestEval_RequiresExpr(t *testing.T) {
	_, err := execute(t, "rules", "eval")
	assert.Error(t, err)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCheck(t *testing.T) {
	valid := `
workflows:
  - id: expense
    name: Expense
    steps:
      - id: submit
        name: Submit
        type: TASK
        rules:
          - name: High value
            condition: amount > 1000
            action: REQUIRE_APPROVAL
          - name: Always
            condition: ""
            action: NOTIFY
`
	out, err := execute(t, "rules", "check", writeFile(t, valid))
	require.NoError(t, err)
	assert.Contains(t, out, "1 workflow(s) checked")

	broken := `
workflows:
  - id: expense
    name: Expense
    rules:
      - name: Legacy
        condition: amount ==
        action: REJECT
    steps:
      - id: submit
        name: Submit
        type: TASK
        rules:
          - name: Bad
            condition: amount >
            action: REJECT
`
	out, err = execute(t, "rules", "check", writeFile(t, broken))
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
	assert.Contains(t, out, `expense/submit: rule "Bad"`)
	assert.Contains(t, out, `expense: rule "Legacy"`)
}

func TestCheck_BadFile(t *testing.T) {
	_, err := execute(t, "rules", "check", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = execute(t, "rules", "check", writeFile(t, "workflows: ["))
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
}

func TestCheckTemplates(t *testing.T) {
	templates := []workflow.Template{{
		ID: "w",
		Steps: []workflow.Step{{
			ID: "s",
			Rules: []workflow.Rule{
				{Name: "ok", Condition: "x == 1"},
				{Name: "bad", Condition: "x =="},
			},
		}},
	}}

	problems := CheckTemplates(expression.New(), templates)
	require.Len(t, problems, 1)
	assert.Equal(t, "bad", problems[0].Rule)
	assert.Equal(t, "s", problems[0].Step)
	assert.Contains(t, problems[0].Error, "malformed expression")
}
