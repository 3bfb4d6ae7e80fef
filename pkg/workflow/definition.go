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

// Package workflow defines workflow templates, their steps, fields and
// business rules, and the state machine of running workflow instances.
package workflow

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/keduman/workflow-app/pkg/errors"
)

// TemplateStatus is the publication status of a template.
type TemplateStatus string

const (
	TemplateDraft     TemplateStatus = "DRAFT"
	TemplatePublished TemplateStatus = "PUBLISHED"
	TemplateArchived  TemplateStatus = "ARCHIVED"
)

// StepType classifies a step within a template.
type StepType string

const (
	StepStart StepType = "START"
	StepTask  StepType = "TASK"
	StepEnd   StepType = "END"
)

// FieldType is the declared input type of a form field.
type FieldType string

const (
	FieldText     FieldType = "TEXT"
	FieldNumber   FieldType = "NUMBER"
	FieldTextarea FieldType = "TEXTAREA"
	FieldSelect   FieldType = "SELECT"
	FieldDate     FieldType = "DATE"
	FieldCheckbox FieldType = "CHECKBOX"
	FieldRadio    FieldType = "RADIO"
	FieldEmail    FieldType = "EMAIL"
)

// Action is what happens when a rule's condition holds.
type Action string

const (
	ActionRequireApproval Action = "REQUIRE_APPROVAL"
	ActionReject          Action = "REJECT"
	ActionAutoApprove     Action = "AUTO_APPROVE"
	ActionNotify          Action = "NOTIFY"
)

// IsBlocking reports whether a matching rule with this action halts a
// submission. Unknown actions are informational.
func (a Action) IsBlocking() bool {
	return a == ActionRequireApproval || a == ActionReject
}

// Field is a form field on a step. Key is the variable name rules refer to.
type Field struct {
	Label    string    `json:"label" yaml:"label"`
	Key      string    `json:"field_key" yaml:"key"`
	Type     FieldType `json:"field_type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Order    int       `json:"field_order" yaml:"order"`
}

// Rule is a named condition/action pair evaluated against submitted form data.
type Rule struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Condition   string `json:"condition_expression" yaml:"condition"`
	Action      Action `json:"action_type" yaml:"action"`
	Order       int    `json:"rule_order" yaml:"order"`
}

// Step is a single node in a template's linear sequence.
type Step struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Type        StepType `json:"type" yaml:"type"`
	Order       int      `json:"step_order" yaml:"order"`
	Fields      []Field  `json:"form_fields,omitempty" yaml:"fields"`
	Rules       []Rule   `json:"business_rules,omitempty" yaml:"rules"`
}

// Template is a reusable workflow definition.
//
// Rules holds legacy workflow-level rules that are not bound to any step.
// They apply only to steps that carry no rules of their own.
type Template struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Status      TemplateStatus `json:"status" yaml:"status"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	Rules       []Rule         `json:"business_rules,omitempty" yaml:"rules"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
}

// IsPublished reports whether instances may be started from the template.
func (t *Template) IsPublished() bool {
	return t.Status == TemplatePublished
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	c := *t
	c.Rules = slices.Clone(t.Rules)
	c.Steps = make([]Step, len(t.Steps))
	for i, s := range t.Steps {
		s.Fields = slices.Clone(s.Fields)
		s.Rules = slices.Clone(s.Rules)
		c.Steps[i] = s
	}
	return &c
}

// Normalize sorts steps by order index, and fields and rules by their own
// order, keeping the relative position of equal orders.
func (t *Template) Normalize() {
	slices.SortStableFunc(t.Steps, func(a, b Step) int { return cmp.Compare(a.Order, b.Order) })
	for i := range t.Steps {
		slices.SortStableFunc(t.Steps[i].Fields, func(a, b Field) int { return cmp.Compare(a.Order, b.Order) })
		sortRules(t.Steps[i].Rules)
	}
	sortRules(t.Rules)
}

func sortRules(rules []Rule) {
	slices.SortStableFunc(rules, func(a, b Rule) int { return cmp.Compare(a.Order, b.Order) })
}

// FirstStep returns the step an instance starts on: the first START step,
// else the step with the lowest order index. Returns nil for a template
// without steps.
func (t *Template) FirstStep() *Step {
	for i := range t.Steps {
		if t.Steps[i].Type == StepStart {
			return &t.Steps[i]
		}
	}
	var first *Step
	for i := range t.Steps {
		if first == nil || t.Steps[i].Order < first.Order {
			first = &t.Steps[i]
		}
	}
	return first
}

// Step returns the step with the given ID, or nil.
func (t *Template) Step(id string) *Step {
	if id == "" {
		return nil
	}
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i]
		}
	}
	return nil
}

// Successor returns the step following stepID by order index, or nil when
// stepID is the last step or not part of the template.
func (t *Template) Successor(stepID string) *Step {
	ordered := make([]*Step, len(t.Steps))
	for i := range t.Steps {
		ordered[i] = &t.Steps[i]
	}
	slices.SortStableFunc(ordered, func(a, b *Step) int { return cmp.Compare(a.Order, b.Order) })

	for i, s := range ordered {
		if s.ID == stepID {
			if i+1 < len(ordered) {
				return ordered[i+1]
			}
			return nil
		}
	}
	return nil
}

// RulesFor returns the rules evaluated when a submission is made on step:
// the step's own rules when it has any, otherwise the template-level rules.
func (t *Template) RulesFor(step *Step) []Rule {
	if step != nil && len(step.Rules) > 0 {
		return step.Rules
	}
	return t.Rules
}

// Validate checks structural consistency of the template.
func (t *Template) Validate() error {
	if t.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "template ID cannot be empty"}
	}
	if t.Name == "" {
		return &errors.ValidationError{Field: "name", Message: fmt.Sprintf("template %s has no name", t.ID)}
	}
	switch t.Status {
	case TemplateDraft, TemplatePublished, TemplateArchived:
	default:
		return &errors.ValidationError{
			Field:      "status",
			Message:    fmt.Sprintf("unknown template status %q", t.Status),
			Suggestion: "use DRAFT, PUBLISHED or ARCHIVED",
		}
	}

	seen := make(map[string]bool, len(t.Steps))
	for _, s := range t.Steps {
		if s.ID == "" {
			return &errors.ValidationError{Field: "steps.id", Message: fmt.Sprintf("step %q has no ID", s.Name)}
		}
		if seen[s.ID] {
			return &errors.ValidationError{Field: "steps.id", Message: fmt.Sprintf("duplicate step ID %s", s.ID)}
		}
		seen[s.ID] = true

		switch s.Type {
		case StepStart, StepTask, StepEnd:
		default:
			return &errors.ValidationError{
				Field:      "steps.type",
				Message:    fmt.Sprintf("step %s has unknown type %q", s.ID, s.Type),
				Suggestion: "use START, TASK or END",
			}
		}
	}
	return nil
}
