package expression

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keduman/workflow-app/pkg/workflow"
)

// FailureKind classifies a rule that was skipped because its condition
// could not be used.
type FailureKind string

const (
	FailureParse    FailureKind = "parse"
	FailureEvaluate FailureKind = "evaluate"
)

// Block describes the blocking rule that halted a submission.
type Block struct {
	Rule    workflow.Rule
	Message string
}

// RuleEvaluator applies an ordered list of business rules to a variable map
// and reports the first blocking rule whose condition holds.
type RuleEvaluator struct {
	eval      *Evaluator
	logger    *slog.Logger
	onFailure func(rule workflow.Rule, kind FailureKind, err error)
}

// NewRuleEvaluator creates a rule evaluator backed by eval.
func NewRuleEvaluator(eval *Evaluator) *RuleEvaluator {
	return &RuleEvaluator{
		eval:   eval,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for skipped rules.
func (r *RuleEvaluator) WithLogger(logger *slog.Logger) *RuleEvaluator {
	r.logger = logger
	return r
}

// WithFailureHook registers fn to be called for every skipped rule.
func (r *RuleEvaluator) WithFailureHook(fn func(rule workflow.Rule, kind FailureKind, err error)) *RuleEvaluator {
	r.onFailure = fn
	return r
}

// EvaluateBlocking evaluates rules in order and returns the first blocking
// rule whose condition is true, or nil when the submission may proceed.
//
// Rules with a blank condition or a non-blocking action are skipped. A rule
// whose condition fails to parse or evaluate is logged and treated as not
// matching.
func (r *RuleEvaluator) EvaluateBlocking(rules []workflow.Rule, vars map[string]any) *Block {
	for _, rule := range rules {
		if strings.TrimSpace(rule.Condition) == "" || !rule.Action.IsBlocking() {
			continue
		}

		matched, err := r.eval.Evaluate(rule.Condition, vars)
		if err != nil {
			r.skipped(rule, err)
			continue
		}
		if !matched {
			continue
		}

		r.logger.Debug("blocking rule matched",
			slog.String("rule", ruleName(rule)),
			slog.String("action", string(rule.Action)))
		return &Block{Rule: rule, Message: BlockMessage(rule)}
	}
	return nil
}

func (r *RuleEvaluator) skipped(rule workflow.Rule, err error) {
	kind := FailureEvaluate
	var syntaxErr *SyntaxError
	if errors.As(err, &syntaxErr) {
		kind = FailureParse
		r.logger.Error("failed to parse rule condition",
			slog.String("rule", ruleName(rule)),
			slog.String("condition", rule.Condition),
			slog.Any("error", err))
	} else {
		r.logger.Warn("failed to evaluate rule condition",
			slog.String("rule", ruleName(rule)),
			slog.String("condition", rule.Condition),
			slog.Any("error", err))
	}

	if r.onFailure != nil {
		r.onFailure(rule, kind, err)
	}
}

// BlockMessage returns the message shown to a submitter blocked by rule.
func BlockMessage(rule workflow.Rule) string {
	name := ruleName(rule)
	switch rule.Action {
	case workflow.ActionReject:
		msg := "Submission rejected by rule: " + name
		if rule.Description != "" {
			msg += ". " + rule.Description
		}
		return msg
	case workflow.ActionRequireApproval:
		msg := fmt.Sprintf("This submission requires approval (rule: %s).", name)
		if rule.Description != "" {
			msg += " " + rule.Description
		}
		return msg
	}
	return ""
}

func ruleName(rule workflow.Rule) string {
	if rule.Name == "" {
		return "Rule"
	}
	return rule.Name
}
