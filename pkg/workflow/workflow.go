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

package workflow

import (
	"fmt"
	"slices"
	"time"

	"github.com/keduman/workflow-app/pkg/errors"
)

// Status represents the state of a workflow instance.
type Status string

// Instance states. InProgress is initial; Completed and Cancelled are terminal.
const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// transitions lists the states reachable from each state.
var transitions = map[Status][]Status{
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  nil,
	StatusCancelled:  nil,
}

// IsValid checks if a status is known.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Instance is one running execution of a template.
//
// CurrentStepID is empty only when the template had no steps. Version is the
// optimistic concurrency token maintained by the instance store.
type Instance struct {
	ID              string     `json:"id"`
	TemplateID      string     `json:"workflow_id"`
	TemplateName    string     `json:"workflow_name"`
	CurrentStepID   string     `json:"current_step_id,omitempty"`
	CurrentStepName string     `json:"current_step_name,omitempty"`
	Assignee        string     `json:"assignee_username"`
	InitiatedBy     string     `json:"initiated_by_username"`
	Status          Status     `json:"status"`
	FormData        FormLog    `json:"form_data"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Version         int64      `json:"-"`
}

// NewInstance creates an in-progress instance of t assigned to its initiator,
// positioned on the template's first step.
func NewInstance(id string, t *Template, initiator string, now time.Time) *Instance {
	inst := &Instance{
		ID:           id,
		TemplateID:   t.ID,
		TemplateName: t.Name,
		Assignee:     initiator,
		InitiatedBy:  initiator,
		Status:       StatusInProgress,
		CreatedAt:    now,
	}
	if first := t.FirstStep(); first != nil {
		inst.CurrentStepID = first.ID
		inst.CurrentStepName = first.Name
	}
	return inst
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	c := *i
	c.FormData = slices.Clone(i.FormData)
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Advance moves the instance past its current step. next is the successor
// step, or nil when there is none. Reaching the end of the template, or an
// END step, completes the instance.
func (i *Instance) Advance(next *Step, now time.Time) error {
	if i.Status != StatusInProgress {
		return i.stateError("instance is not in progress")
	}
	if next == nil {
		return i.transition(StatusCompleted, now)
	}

	i.CurrentStepID = next.ID
	i.CurrentStepName = next.Name
	if next.Type == StepEnd {
		return i.transition(StatusCompleted, now)
	}
	return nil
}

// Cancel moves an in-progress instance to Cancelled. CompletedAt is not set.
func (i *Instance) Cancel() error {
	if i.Status.IsTerminal() {
		return i.stateError("instance is already finished")
	}
	return i.transition(StatusCancelled, time.Time{})
}

func (i *Instance) transition(next Status, now time.Time) error {
	if !i.Status.CanTransition(next) {
		return i.stateError(fmt.Sprintf("cannot move instance to %s", next))
	}
	i.Status = next
	if next == StatusCompleted {
		i.CompletedAt = &now
	}
	return nil
}

func (i *Instance) stateError(msg string) error {
	return &errors.InvalidStateError{
		Resource: "instance",
		ID:       i.ID,
		State:    string(i.Status),
		Message:  msg,
	}
}
