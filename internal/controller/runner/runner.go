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

package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/internal/controller/metrics"
	"github.com/keduman/workflow-app/internal/log"
	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
	"github.com/keduman/workflow-app/pkg/workflow/expression"
)

const tracerName = "github.com/keduman/workflow-app/internal/controller/runner"

// Store is the storage a Runner reads and writes.
type Store interface {
	backend.TemplateStore
	backend.IdentityStore
	backend.InstanceStore
}

// Config configures a Runner.
type Config struct {
	// AdminRole grants access to every instance.
	// Default: ADMIN
	AdminRole string

	// MaxFormDataSize caps the combined size of an instance's form log in
	// characters. Zero uses workflow.DefaultMaxFormDataSize; a negative
	// value disables the cap.
	MaxFormDataSize int
}

// Runner manages the lifecycle of workflow instances.
type Runner struct {
	store       Store
	guard       *AccessGuard
	eval        *expression.Evaluator
	rules       *expression.RuleEvaluator
	maxFormData int

	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// New creates a Runner over store.
func New(cfg Config, store Store, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		guard:       NewAccessGuard(store, cfg.AdminRole),
		maxFormData: cfg.MaxFormDataSize,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	if r.maxFormData == 0 {
		r.maxFormData = workflow.DefaultMaxFormDataSize
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.eval == nil {
		r.eval = expression.New()
	}

	r.logger = log.WithComponent(r.logger, "runner")
	r.rules = expression.NewRuleEvaluator(r.eval).
		WithLogger(r.logger).
		WithFailureHook(func(_ workflow.Rule, kind expression.FailureKind, _ error) {
			metrics.RecordRuleFailure(string(kind))
		})
	return r
}

// Start creates an in-progress instance of a published template, assigned
// to and initiated by initiator.
func (r *Runner) Start(ctx context.Context, templateID, initiator string) (*Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "instance.start", trace.WithAttributes(
		attribute.String("workflow.template_id", templateID),
		attribute.String("workflow.actor", initiator),
	))
	snap, err := r.start(ctx, templateID, initiator)
	endSpan(span, err)
	return snap, err
}

func (r *Runner) start(ctx context.Context, templateID, initiator string) (*Snapshot, error) {
	tmpl, err := r.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, storeError("get_template", err)
	}
	if !tmpl.IsPublished() {
		return nil, &errors.InvalidStateError{
			Resource: "template",
			ID:       tmpl.ID,
			State:    string(tmpl.Status),
			Message:  "workflow is not published",
		}
	}
	if _, err := r.store.GetIdentity(ctx, initiator); err != nil {
		return nil, storeError("get_identity", err)
	}

	inst := workflow.NewInstance(r.newID(), tmpl, initiator, r.now())
	if err := r.store.CreateInstance(ctx, inst); err != nil {
		return nil, storeError("create_instance", err)
	}

	metrics.RecordInstanceStarted()
	r.loggerFor(ctx, inst).Info("instance started",
		slog.String(log.ActorKey, initiator),
		slog.String(log.StepIDKey, inst.CurrentStepID))
	return newSnapshot(inst), nil
}

// Submit records values against the instance's current step and advances
// it. A matching blocking rule returns a RuleBlockedError and leaves the
// instance untouched.
func (r *Runner) Submit(ctx context.Context, instanceID, actor string, values map[string]any) (*Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "instance.submit", trace.WithAttributes(
		attribute.String("workflow.instance_id", instanceID),
		attribute.String("workflow.actor", actor),
	))
	snap, err := r.submit(ctx, instanceID, actor, values)

	outcome := submissionOutcome(snap, err)
	metrics.RecordSubmission(outcome)
	span.SetAttributes(attribute.String("workflow.outcome", outcome))
	endSpan(span, err)
	return snap, err
}

func (r *Runner) submit(ctx context.Context, instanceID, actor string, values map[string]any) (*Snapshot, error) {
	inst, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, storeError("get_instance", err)
	}
	if err := r.guard.CanAccess(ctx, inst, actor); err != nil {
		return nil, err
	}
	if inst.Status != workflow.StatusInProgress {
		return nil, &errors.InvalidStateError{
			Resource: "instance",
			ID:       inst.ID,
			State:    string(inst.Status),
			Message:  "task is not in progress",
		}
	}

	tmpl, err := r.store.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return nil, storeError("get_template", err)
	}
	logger := r.loggerFor(ctx, inst)

	step := tmpl.Step(inst.CurrentStepID)
	if rules := tmpl.RulesFor(step); len(rules) > 0 {
		vars := expression.BuildContext(values, step)
		if block := r.rules.EvaluateBlocking(rules, vars); block != nil {
			logger.Info("submission blocked",
				slog.String(log.ActorKey, actor),
				slog.String(log.StepIDKey, inst.CurrentStepID),
				slog.String(log.RuleKey, block.Rule.Name),
				slog.String("action", string(block.Rule.Action)))
			return nil, &errors.RuleBlockedError{
				Rule:    block.Rule.Name,
				Action:  string(block.Rule.Action),
				Message: block.Message,
			}
		}
	}

	now := r.now()
	submittedStep := inst.CurrentStepID
	formData, err := inst.FormData.Append(submittedStep, actor, values, r.maxFormData, now)
	if err != nil {
		return nil, err
	}
	inst.FormData = formData

	if err := inst.Advance(tmpl.Successor(submittedStep), now); err != nil {
		return nil, err
	}

	if err := r.store.UpdateInstance(ctx, inst); err != nil {
		var conflict *errors.ConflictError
		if errors.As(err, &conflict) {
			logger.Warn("submission lost to a concurrent update", slog.String(log.ActorKey, actor))
		}
		return nil, storeError("update_instance", err)
	}

	logger.Info("step submitted",
		slog.String(log.ActorKey, actor),
		slog.String(log.StepIDKey, submittedStep),
		slog.String("next_step_id", inst.CurrentStepID),
		slog.String("status", string(inst.Status)))
	return newSnapshot(inst), nil
}

// Cancel moves an in-progress instance to Cancelled. Cancelling a finished
// instance returns an InvalidStateError.
func (r *Runner) Cancel(ctx context.Context, instanceID, actor string) (*Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "instance.cancel", trace.WithAttributes(
		attribute.String("workflow.instance_id", instanceID),
		attribute.String("workflow.actor", actor),
	))
	snap, err := r.cancel(ctx, instanceID, actor)
	endSpan(span, err)
	return snap, err
}

func (r *Runner) cancel(ctx context.Context, instanceID, actor string) (*Snapshot, error) {
	inst, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, storeError("get_instance", err)
	}
	if err := r.guard.CanAccess(ctx, inst, actor); err != nil {
		return nil, err
	}
	if err := inst.Cancel(); err != nil {
		return nil, err
	}
	if err := r.store.UpdateInstance(ctx, inst); err != nil {
		return nil, storeError("update_instance", err)
	}

	metrics.RecordInstanceCancelled()
	r.loggerFor(ctx, inst).Info("instance cancelled", slog.String(log.ActorKey, actor))
	return newSnapshot(inst), nil
}

// Get returns the instance if actor may see it.
func (r *Runner) Get(ctx context.Context, instanceID, actor string) (*Snapshot, error) {
	inst, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, storeError("get_instance", err)
	}
	if err := r.guard.CanAccess(ctx, inst, actor); err != nil {
		return nil, err
	}
	return newSnapshot(inst), nil
}

// ListForAssignee returns one page of the instances assigned to assignee,
// oldest first.
func (r *Runner) ListForAssignee(ctx context.Context, assignee string, req backend.PageRequest) (*InstancePage, error) {
	if assignee == "" {
		return nil, &errors.ValidationError{Field: "assignee", Message: "assignee cannot be empty"}
	}
	page, err := r.store.ListInstancesByAssignee(ctx, assignee, req.Normalize())
	if err != nil {
		return nil, storeError("list_instances", err)
	}
	return newInstancePage(page), nil
}

func (r *Runner) loggerFor(ctx context.Context, inst *workflow.Instance) *slog.Logger {
	return log.WithInstanceContext(log.FromContextOr(ctx, r.logger), inst.ID, inst.TemplateID)
}

// storeError passes typed store errors through and counts and wraps
// anything else as a persistence failure.
func storeError(operation string, err error) error {
	var classified errors.ErrorClassifier
	if errors.As(err, &classified) {
		return err
	}
	metrics.RecordPersistenceError(operation, metrics.ErrorType(err))
	return errors.Wrap(err, operation)
}

func submissionOutcome(snap *Snapshot, err error) string {
	if err == nil {
		if snap.Status == workflow.StatusCompleted {
			return metrics.OutcomeCompleted
		}
		return metrics.OutcomeAdvanced
	}

	var (
		blocked   *errors.RuleBlockedError
		state     *errors.InvalidStateError
		forbidden *errors.ForbiddenError
		tooLarge  *errors.PayloadTooLargeError
		conflict  *errors.ConflictError
	)
	switch {
	case errors.As(err, &blocked):
		return metrics.OutcomeBlocked
	case errors.As(err, &state):
		return metrics.OutcomeInvalidState
	case errors.As(err, &forbidden):
		return metrics.OutcomeForbidden
	case errors.As(err, &tooLarge):
		return metrics.OutcomeTooLarge
	case errors.As(err, &conflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
