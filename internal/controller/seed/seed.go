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

// Package seed loads identities and workflow templates from a YAML file
// into a storage backend, and optionally reloads them when the file changes.
//
// A seed file looks like:
//
//	identities:
//	  - username: alice
//	    roles: [USER]
//	workflows:
//	  - id: expense
//	    name: Expense claim
//	    steps:
//	      - id: submit
//	        name: Submit
//	        type: TASK
//	        rules:
//	          - name: High value
//	            condition: amount > 1000
//	            action: REQUIRE_APPROVAL
//	      - id: done
//	        name: Done
//	        type: END
//
// Workflows without a status are published. When no step of a workflow
// declares an order, steps keep the order they are listed in.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// Writer stores seeded data.
type Writer interface {
	backend.TemplateWriter
	backend.IdentityWriter
}

// File is the parsed content of a seed file.
type File struct {
	Identities []workflow.Identity `yaml:"identities"`
	Workflows  []workflow.Template `yaml:"workflows"`
}

// Result summarizes a load.
type Result struct {
	Identities int
	Workflows  int
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, &errors.ValidationError{Field: "seed", Message: "invalid YAML: " + err.Error()}
	}

	if err := f.prepare(); err != nil {
		return nil, err
	}
	return &f, nil
}

// prepare applies defaults and validates every entry.
func (f *File) prepare() error {
	users := make(map[string]bool, len(f.Identities))
	for i := range f.Identities {
		id := &f.Identities[i]
		id.Username = strings.TrimSpace(id.Username)
		if id.Username == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("identities[%d].username", i),
				Message: "username cannot be empty",
			}
		}
		if users[id.Username] {
			return &errors.ValidationError{
				Field:   "identities.username",
				Message: "duplicate identity " + id.Username,
			}
		}
		users[id.Username] = true
	}

	templates := make(map[string]bool, len(f.Workflows))
	for i := range f.Workflows {
		t := &f.Workflows[i]
		if t.Status == "" {
			t.Status = workflow.TemplatePublished
		}
		if !hasExplicitOrder(t.Steps) {
			for j := range t.Steps {
				t.Steps[j].Order = j
			}
		}
		if err := t.Validate(); err != nil {
			return errors.Wrapf(err, "workflow %d", i)
		}
		if templates[t.ID] {
			return &errors.ValidationError{
				Field:   "workflows.id",
				Message: "duplicate workflow " + t.ID,
			}
		}
		templates[t.ID] = true
	}
	return nil
}

func hasExplicitOrder(steps []workflow.Step) bool {
	for _, s := range steps {
		if s.Order != 0 {
			return true
		}
	}
	return false
}

// Apply writes the file's identities and workflows to w. Existing entries
// with the same key are replaced.
func (f *File) Apply(ctx context.Context, w Writer) (*Result, error) {
	for i := range f.Identities {
		id := f.Identities[i]
		if err := w.PutIdentity(ctx, &id); err != nil {
			return nil, errors.Wrapf(err, "storing identity %s", id.Username)
		}
	}
	for i := range f.Workflows {
		t := f.Workflows[i].Clone()
		if err := w.PutTemplate(ctx, t); err != nil {
			return nil, errors.Wrapf(err, "storing workflow %s", t.ID)
		}
	}
	return &Result{Identities: len(f.Identities), Workflows: len(f.Workflows)}, nil
}

// Load reads the seed file at path and applies it to w. Nothing is written
// unless the whole file is valid.
func Load(ctx context.Context, path string, w Writer) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading seed file")
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing seed file %s", path)
	}
	return f.Apply(ctx, w)
}
