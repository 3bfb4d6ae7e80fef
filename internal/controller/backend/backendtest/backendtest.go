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

// Package backendtest is a conformance suite shared by every backend.
package backendtest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// Run exercises newBackend against the backend contract. newBackend must
// return an empty backend for each call.
func Run(t *testing.T, newBackend func(t *testing.T) backend.Backend) {
	t.Run("Templates", func(t *testing.T) { testTemplates(t, newBackend(t)) })
	t.Run("ListTemplates", func(t *testing.T) { testListTemplates(t, newBackend(t)) })
	t.Run("Identities", func(t *testing.T) { testIdentities(t, newBackend(t)) })
	t.Run("CreateAndGetInstance", func(t *testing.T) { testCreateAndGetInstance(t, newBackend(t)) })
	t.Run("UpdateInstance", func(t *testing.T) { testUpdateInstance(t, newBackend(t)) })
	t.Run("UpdateInstanceConflict", func(t *testing.T) { testUpdateInstanceConflict(t, newBackend(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, newBackend(t)) })
	t.Run("ListInstancesByAssignee", func(t *testing.T) { testListInstancesByAssignee(t, newBackend(t)) })
}

// ts returns a timestamp every backend stores without loss.
func ts(offset time.Duration) time.Time {
	return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC).Add(offset)
}

// SampleTemplate returns a published three-step template.
func SampleTemplate(id string) *workflow.Template {
	return &workflow.Template{
		ID:          id,
		Name:        "Expense " + id,
		Description: "Expense approval",
		Status:      workflow.TemplatePublished,
		Steps: []workflow.Step{
			{
				ID: id + "-done", Name: "Done", Type: workflow.StepEnd, Order: 2,
			},
			{
				ID: id + "-submit", Name: "Submit", Type: workflow.StepStart, Order: 0,
				Fields: []workflow.Field{
					{Label: "Amount", Key: "amount", Type: workflow.FieldNumber, Required: true, Order: 0},
				},
				Rules: []workflow.Rule{
					{Name: "High value", Condition: "amount > 1000", Action: workflow.ActionRequireApproval, Order: 0},
				},
			},
			{
				ID: id + "-review", Name: "Review", Type: workflow.StepTask, Order: 1,
			},
		},
		Rules: []workflow.Rule{
			{Name: "Legacy", Condition: "amount > 1", Action: workflow.ActionNotify},
		},
	}
}

func newInstance(id, templateID, assignee string, created time.Time) *workflow.Instance {
	return &workflow.Instance{
		ID:              id,
		TemplateID:      templateID,
		TemplateName:    "Expense " + templateID,
		CurrentStepID:   templateID + "-submit",
		CurrentStepName: "Submit",
		Assignee:        assignee,
		InitiatedBy:     assignee,
		Status:          workflow.StatusInProgress,
		CreatedAt:       created,
	}
}

func testTemplates(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	_, err := b.GetTemplate(ctx, "missing")
	var notFound *errors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "template", notFound.Resource)

	require.NoError(t, b.PutTemplate(ctx, SampleTemplate("wf1")))

	got, err := b.GetTemplate(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, "Expense wf1", got.Name)
	assert.Equal(t, workflow.TemplatePublished, got.Status)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, []string{"wf1-submit", "wf1-review", "wf1-done"},
		[]string{got.Steps[0].ID, got.Steps[1].ID, got.Steps[2].ID}, "steps ordered by order index")
	assert.Equal(t, "amount", got.Steps[0].Fields[0].Key)
	assert.Equal(t, "amount > 1000", got.Steps[0].Rules[0].Condition)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, workflow.ActionNotify, got.Rules[0].Action)
	assert.False(t, got.CreatedAt.IsZero())

	updated := SampleTemplate("wf1")
	updated.Status = workflow.TemplateArchived
	require.NoError(t, b.PutTemplate(ctx, updated))

	got, err = b.GetTemplate(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, workflow.TemplateArchived, got.Status)
}

func testListTemplates(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	draft := SampleTemplate("b")
	draft.Status = workflow.TemplateDraft
	require.NoError(t, b.PutTemplate(ctx, SampleTemplate("c")))
	require.NoError(t, b.PutTemplate(ctx, draft))
	require.NoError(t, b.PutTemplate(ctx, SampleTemplate("a")))

	all, err := b.ListTemplates(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[2].ID)

	published, err := b.ListTemplates(ctx, workflow.TemplatePublished)
	require.NoError(t, err)
	require.Len(t, published, 2)
	for _, tmpl := range published {
		assert.Equal(t, workflow.TemplatePublished, tmpl.Status)
	}
}

func testIdentities(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	_, err := b.GetIdentity(ctx, "nobody")
	var notFound *errors.NotFoundError
	require.ErrorAs(t, err, &notFound)

	require.NoError(t, b.PutIdentity(ctx, &workflow.Identity{Username: "carol", Roles: []string{"USER", "admin"}}))

	got, err := b.GetIdentity(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", got.Username)
	assert.ElementsMatch(t, []string{"USER", "admin"}, got.Roles)
	assert.True(t, got.HasRole(workflow.DefaultAdminRole))

	require.NoError(t, b.PutIdentity(ctx, &workflow.Identity{Username: "carol", Roles: []string{"USER"}}))
	got, err = b.GetIdentity(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"USER"}, got.Roles)
}

func testCreateAndGetInstance(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	_, err := b.GetInstance(ctx, "missing")
	var notFound *errors.NotFoundError
	require.ErrorAs(t, err, &notFound)

	inst := newInstance("i1", "wf1", "alice", ts(0))
	require.NoError(t, b.CreateInstance(ctx, inst))
	assert.Equal(t, int64(1), inst.Version)

	got, err := b.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "wf1", got.TemplateID)
	assert.Equal(t, "Expense wf1", got.TemplateName)
	assert.Equal(t, "wf1-submit", got.CurrentStepID)
	assert.Equal(t, "Submit", got.CurrentStepName)
	assert.Equal(t, "alice", got.Assignee)
	assert.Equal(t, "alice", got.InitiatedBy)
	assert.Equal(t, workflow.StatusInProgress, got.Status)
	assert.True(t, got.CreatedAt.Equal(ts(0)))
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.FormData)
	assert.Equal(t, int64(1), got.Version)

	assert.Error(t, b.CreateInstance(ctx, newInstance("i1", "wf1", "alice", ts(0))), "duplicate ID")
}

func testUpdateInstance(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	missing := newInstance("missing", "wf1", "alice", ts(0))
	missing.Version = 1
	var notFound *errors.NotFoundError
	require.ErrorAs(t, b.UpdateInstance(ctx, missing), &notFound)

	inst := newInstance("i1", "wf1", "alice", ts(0))
	require.NoError(t, b.CreateInstance(ctx, inst))

	log, err := inst.FormData.Append("wf1-submit", "alice", map[string]any{"amount": 500}, 0, ts(time.Minute))
	require.NoError(t, err)
	inst.FormData = log
	inst.CurrentStepID = "wf1-review"
	inst.CurrentStepName = "Review"
	require.NoError(t, b.UpdateInstance(ctx, inst))
	assert.Equal(t, int64(2), inst.Version)

	log, err = inst.FormData.Append("wf1-review", "bob", map[string]any{"ok": true}, 0, ts(2*time.Minute))
	require.NoError(t, err)
	inst.FormData = log
	inst.CurrentStepID = "wf1-done"
	inst.CurrentStepName = "Done"
	inst.Status = workflow.StatusCompleted
	completed := ts(2 * time.Minute)
	inst.CompletedAt = &completed
	require.NoError(t, b.UpdateInstance(ctx, inst))
	assert.Equal(t, int64(3), inst.Version)

	got, err := b.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, got.Status)
	assert.Equal(t, "wf1-done", got.CurrentStepID)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
	assert.Equal(t, int64(3), got.Version)

	require.Len(t, got.FormData, 2)
	assert.Equal(t, 1, got.FormData[0].Seq)
	assert.Equal(t, `{"amount":500}`, got.FormData[0].Payload)
	assert.Equal(t, "wf1-submit", got.FormData[0].StepID)
	assert.Equal(t, "alice", got.FormData[0].SubmittedBy)
	assert.True(t, got.FormData[0].SubmittedAt.Equal(ts(time.Minute)))
	assert.Equal(t, 2, got.FormData[1].Seq)
	assert.Equal(t, `{"ok":true}`, got.FormData[1].Payload)
	assert.Equal(t, "bob", got.FormData[1].SubmittedBy)

	// Stored entries are never rewritten.
	got.FormData[0].Payload = `{"amount":1}`
	require.NoError(t, b.UpdateInstance(ctx, got))
	again, err := b.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, `{"amount":500}`, again.FormData[0].Payload)

	// Dropping entries is refused.
	again.FormData = again.FormData[:1]
	assert.Error(t, b.UpdateInstance(ctx, again))
}

func testUpdateInstanceConflict(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	require.NoError(t, b.CreateInstance(ctx, newInstance("i1", "wf1", "alice", ts(0))))

	first, err := b.GetInstance(ctx, "i1")
	require.NoError(t, err)
	second, err := b.GetInstance(ctx, "i1")
	require.NoError(t, err)

	log, err := first.FormData.Append("wf1-submit", "alice", map[string]any{"n": 1}, 0, ts(time.Minute))
	require.NoError(t, err)
	first.FormData = log
	first.CurrentStepID = "wf1-review"
	require.NoError(t, b.UpdateInstance(ctx, first))

	log, err = second.FormData.Append("wf1-submit", "alice", map[string]any{"n": 2}, 0, ts(time.Minute))
	require.NoError(t, err)
	second.FormData = log
	second.CurrentStepID = "wf1-review"
	err = b.UpdateInstance(ctx, second)

	var conflict *errors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), second.Version, "version untouched on conflict")

	got, err := b.GetInstance(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, got.FormData, 1)
	assert.Equal(t, `{"n":1}`, got.FormData[0].Payload)
	assert.Equal(t, int64(2), got.Version)
}

func testConcurrentUpdates(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	require.NoError(t, b.CreateInstance(ctx, newInstance("i1", "wf1", "alice", ts(0))))

	const writers = 8
	loaded := make([]*workflow.Instance, writers)
	for i := range loaded {
		inst, err := b.GetInstance(ctx, "i1")
		require.NoError(t, err)
		loaded[i] = inst
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i, inst := range loaded {
		wg.Add(1)
		go func(i int, inst *workflow.Instance) {
			defer wg.Done()
			log, err := inst.FormData.Append("wf1-submit", "alice", map[string]any{"writer": i}, 0, ts(time.Minute))
			if err != nil {
				t.Error(err)
				return
			}
			inst.FormData = log
			inst.CurrentStepID = fmt.Sprintf("step-%d", i)

			err = b.UpdateInstance(ctx, inst)
			mu.Lock()
			defer mu.Unlock()
			var conflict *errors.ConflictError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i, inst)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)

	got, err := b.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Len(t, got.FormData, 1)
	assert.Equal(t, int64(2), got.Version)
}

func testListInstancesByAssignee(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	// Created out of order; two share a timestamp to exercise the ID tiebreak.
	for i, spec := range []struct {
		id       string
		assignee string
		offset   time.Duration
	}{
		{"i-c", "alice", 2 * time.Minute},
		{"i-a", "alice", 0},
		{"i-x", "bob", time.Minute},
		{"i-e", "alice", 3 * time.Minute},
		{"i-b", "alice", 2 * time.Minute},
		{"i-d", "alice", 5 * time.Minute},
	} {
		require.NoError(t, b.CreateInstance(ctx, newInstance(spec.id, "wf1", spec.assignee, ts(spec.offset))), "instance %d", i)
	}

	page, err := b.ListInstancesByAssignee(ctx, "alice", backend.PageRequest{Page: 0, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, []string{"i-a", "i-b"}, ids(page))

	page, err = b.ListInstancesByAssignee(ctx, "alice", backend.PageRequest{Page: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-c", "i-e"}, ids(page))

	page, err = b.ListInstancesByAssignee(ctx, "alice", backend.PageRequest{Page: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-d"}, ids(page))

	page, err = b.ListInstancesByAssignee(ctx, "alice", backend.PageRequest{Page: 9, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 5, page.Total)

	for _, req := range []backend.PageRequest{
		{Page: math.MaxInt / 50, Size: 100},
		{Page: math.MaxInt, Size: 2},
	} {
		page, err = b.ListInstancesByAssignee(ctx, "alice", req)
		require.NoError(t, err, "page %d size %d", req.Page, req.Size)
		assert.Empty(t, page.Items, "page %d size %d", req.Page, req.Size)
		assert.Equal(t, 5, page.Total)
	}

	page, err = b.ListInstancesByAssignee(ctx, "bob", backend.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, backend.DefaultPageSize, page.Size)
	assert.Equal(t, []string{"i-x"}, ids(page))
	for _, inst := range page.Items {
		assert.Equal(t, "bob", inst.Assignee)
	}

	page, err = b.ListInstancesByAssignee(ctx, "nobody", backend.PageRequest{})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.TotalPages)
}

func ids(p *backend.Page) []string {
	out := make([]string, 0, len(p.Items))
	for _, inst := range p.Items {
		out = append(out, inst.ID)
	}
	return out
}
