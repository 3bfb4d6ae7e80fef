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

// Package rules implements the rules command, which lets template authors
// try rule conditions before publishing them.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keduman/workflow-app/internal/commands/shared"
	"github.com/keduman/workflow-app/internal/controller/seed"
	"github.com/keduman/workflow-app/pkg/workflow"
	"github.com/keduman/workflow-app/pkg/workflow/expression"
)

// NewCommand creates the rules command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Evaluate and check business rule conditions",
	}
	cmd.AddCommand(newEvalCommand(), newCheckCommand())
	return cmd
}

// EvalResult is the JSON output of rules eval.
type EvalResult struct {
	Expression string         `json:"expression"`
	Variables  map[string]any `json:"variables"`
	Result     bool           `json:"result"`
}

func newEvalCommand() *cobra.Command {
	var (
		expr string
		vars []string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a condition against sample form values",
		Long: `Evaluate a rule condition the same way a submission is checked.

Values given with --var are coerced like submitted form data: integers and
decimals become numbers, anything else stays a string.`,
		Example: `  workflow rules eval --expr 'amount > 1000' --var amount=1500
  workflow rules eval --expr 'department == "sales" && days > 5' --var department=sales --var days=7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseVars(vars)
			if err != nil {
				return err
			}
			ctx := expression.BuildContext(values, nil)

			result, err := expression.New().Evaluate(expr, ctx)
			if err != nil {
				return shared.NewInvalidInputError("condition could not be evaluated", err)
			}

			if shared.GetJSON() {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(EvalResult{Expression: expr, Variables: ctx, Result: result})
			}
			cmd.Println(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&expr, "expr", "e", "", "Condition to evaluate")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Form value as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("expr")
	return cmd
}

func parseVars(vars []string) (map[string]any, error) {
	values := make(map[string]any, len(vars))
	for _, kv := range vars {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, shared.NewInvalidInputError(fmt.Sprintf("invalid --var %q", kv), fmt.Errorf("expected key=value"))
		}
		values[k] = v
	}
	return values, nil
}

// Problem is a rule whose condition cannot be used.
type Problem struct {
	Workflow string `json:"workflow"`
	Step     string `json:"step,omitempty"`
	Rule     string `json:"rule"`
	Error    string `json:"error"`
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <seed-file>",
		Short: "Check every rule condition in a seed file",
		Long: `Parse a seed file and check that every rule condition is well formed.

Rules with malformed conditions are skipped at submission time, so a typo
silently disables a rule. This command reports them instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return shared.NewInvalidInputError("failed to read seed file", err)
			}
			f, err := seed.Parse(data)
			if err != nil {
				return shared.NewInvalidInputError("invalid seed file", err)
			}

			problems := CheckTemplates(expression.New(), f.Workflows)

			if shared.GetJSON() {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(problems); err != nil {
					return err
				}
			} else {
				for _, p := range problems {
					where := p.Workflow
					if p.Step != "" {
						where += "/" + p.Step
					}
					cmd.Printf("%s: rule %q: %s\n", where, p.Rule, p.Error)
				}
			}

			if len(problems) > 0 {
				return shared.NewInvalidInputError(fmt.Sprintf("%d malformed rule condition(s)", len(problems)), nil)
			}
			if !shared.GetJSON() {
				cmd.Printf("%d workflow(s) checked, all rule conditions are valid\n", len(f.Workflows))
			}
			return nil
		},
	}
}

// CheckTemplates validates the condition of every step and template rule.
// Empty conditions are accepted since they are skipped at evaluation.
func CheckTemplates(eval *expression.Evaluator, templates []workflow.Template) []Problem {
	problems := []Problem{}
	check := func(tmpl, step string, rules []workflow.Rule) {
		for _, r := range rules {
			if strings.TrimSpace(r.Condition) == "" {
				continue
			}
			if err := eval.Validate(r.Condition); err != nil {
				problems = append(problems, Problem{Workflow: tmpl, Step: step, Rule: r.Name, Error: err.Error()})
			}
		}
	}
	for _, t := range templates {
		for _, s := range t.Steps {
			check(t.ID, s.ID, s.Rules)
		}
		check(t.ID, "", t.Rules)
	}
	return problems
}
