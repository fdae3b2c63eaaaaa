// Copyright 2025 The SEYOAWE Authors
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

// Package workflow provides the workflow document model, the per-run
// context, and the engine that executes a document's step list.
//
// A document is an immutable tree loaded from YAML: a name, a trigger, a
// set of context modules, an ordered step list, and optional failure
// handling branches. The engine may assume structural validity after
// Validate but never semantic validity; unknown action targets surface as
// runtime step failures.
package workflow

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/match"
)

// StepType discriminates the four kinds of step.
type StepType string

const (
	// StepTypeAction invokes a module method.
	StepTypeAction StepType = "action"
	// StepTypeApproval suspends the workflow on a human-approval gate.
	StepTypeApproval StepType = "approval"
	// StepTypeBranch runs a nested group of steps sequentially.
	StepTypeBranch StepType = "branch"
	// StepTypeDelegate runs a workflow fetched from a remote repository.
	StepTypeDelegate StepType = "delegate"
)

// Trigger kinds accepted in a document.
const (
	TriggerAPI       = "api"
	TriggerGit       = "git"
	TriggerScheduled = "scheduled"
	TriggerAdhoc     = "adhoc"
)

// Document is the top-level YAML shape: a single `workflow` key.
type Document struct {
	Workflow Workflow `yaml:"workflow" json:"workflow"`
}

// Workflow is the immutable definition tree.
type Workflow struct {
	// Name is the workflow identifier.
	Name string `yaml:"name" json:"name"`

	// Trigger declares how this workflow is invoked.
	Trigger *Trigger `yaml:"trigger,omitempty" json:"trigger,omitempty"`

	// ContextModules maps instance ids to module declarations. Each entry
	// is instantiated once per run and disposed when the run terminates.
	ContextModules map[string]ModuleDecl `yaml:"context_modules,omitempty" json:"context_modules,omitempty"`

	// Steps is the ordered main step list.
	Steps []Step `yaml:"steps" json:"steps"`

	// GlobalFailureHandler runs once when a step fails terminally and no
	// step-local on_failure_step shadows it. It cannot itself branch.
	GlobalFailureHandler *Step `yaml:"global_failure_handler,omitempty" json:"global_failure_handler,omitempty"`

	// OnSuccess runs after the main list when every step succeeded.
	OnSuccess *BranchList `yaml:"on_success,omitempty" json:"on_success,omitempty"`

	// OnFailure runs after the main list when any step terminally failed.
	OnFailure *BranchList `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`

	// DeadlineMinutes is an optional wall-clock deadline for the run.
	DeadlineMinutes float64 `yaml:"deadline_minutes,omitempty" json:"deadline_minutes,omitempty"`

	// StrictTemplating turns missing template paths into step failures.
	StrictTemplating bool `yaml:"strict_templating,omitempty" json:"strict_templating,omitempty"`
}

// Trigger is a tagged variant: the type plus per-type parameters.
type Trigger struct {
	Type   string                 `yaml:"type" json:"type"`
	Params map[string]interface{} `yaml:",inline" json:"params,omitempty"`
}

// ModuleDecl declares a context module instance.
type ModuleDecl struct {
	// Module names the implementation as "<name>.<class>".
	Module string `yaml:"module" json:"module"`

	// Config is the instance's static configuration, merged over the
	// module's defaults at instantiation.
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// BranchList is an ordered step sequence attached to a workflow outcome.
type BranchList struct {
	Steps []Step `yaml:"steps" json:"steps"`
}

// Retry is a step's retry policy. Retries apply only to fail results;
// timeout is immediately terminal.
type Retry struct {
	// MaxAttempts is the total number of invocations (not re-invocations).
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BackoffSeconds is the base wait between attempts.
	BackoffSeconds float64 `yaml:"backoff_seconds,omitempty" json:"backoff_seconds,omitempty"`

	// Strategy is fixed, linear, or exponential. Default linear.
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// Retry strategies.
const (
	RetryFixed       = "fixed"
	RetryLinear      = "linear"
	RetryExponential = "exponential"
)

// Step is a single unit of work in a workflow document.
type Step struct {
	// ID is unique within the document and names the context key the
	// result is registered under (unless register_as overrides it).
	ID string `yaml:"id" json:"id"`

	// Type is action, approval, branch, or delegate. Empty means action.
	Type StepType `yaml:"type,omitempty" json:"type,omitempty"`

	// When gates execution; false records a skipped result.
	When *match.Condition `yaml:"when,omitempty" json:"when,omitempty"`

	// RegisterAs overrides the context key the result is stored under.
	RegisterAs string `yaml:"register_as,omitempty" json:"register_as,omitempty"`

	// Action targets "<instance>.<method>" or "context.<id>.<method>".
	Action string `yaml:"action,omitempty" json:"action,omitempty"`

	// Input is the argument map, interpolated against the live context.
	Input map[string]interface{} `yaml:"input,omitempty" json:"input,omitempty"`

	// Retry bounds re-invocation on fail results.
	Retry *Retry `yaml:"retry,omitempty" json:"retry,omitempty"`

	// OnFailureStep jumps to the named step after a persistent failure.
	// Forward-only within the same step list.
	OnFailureStep string `yaml:"on_failure_step,omitempty" json:"on_failure_step,omitempty"`

	// Transform is an optional jq expression applied to the result data
	// before registration.
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`

	// Form references the form definition for approval steps.
	Form string `yaml:"form,omitempty" json:"form,omitempty"`

	// Assignees lists who may act on an approval step.
	Assignees []string `yaml:"assignees,omitempty" json:"assignees,omitempty"`

	// TimeoutMinutes bounds an approval before it expires.
	TimeoutMinutes float64 `yaml:"timeout_minutes,omitempty" json:"timeout_minutes,omitempty"`

	// Delegate fields.
	Repo           string            `yaml:"repo,omitempty" json:"repo,omitempty"`
	Branch         string            `yaml:"branch,omitempty" json:"branch,omitempty"`
	Path           string            `yaml:"path,omitempty" json:"path,omitempty"`
	Token          string            `yaml:"token,omitempty" json:"token,omitempty"`
	RunConditions  []match.Condition `yaml:"run_conditions,omitempty" json:"run_conditions,omitempty"`
	ConditionLogic string            `yaml:"condition_logic,omitempty" json:"condition_logic,omitempty"`

	// Steps holds the nested sequence for branch steps.
	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// EffectiveType returns the step type, defaulting to action.
func (s *Step) EffectiveType() StepType {
	if s.Type == "" {
		return StepTypeAction
	}
	return s.Type
}

// RegisterKey returns the context key the step's result registers under.
func (s *Step) RegisterKey() string {
	if s.RegisterAs != "" {
		return s.RegisterAs
	}
	return s.ID
}

// Load reads and validates a workflow document. Unknown top-level fields
// are rejected.
func Load(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, &errors.ValidationError{
			Field:   "workflow",
			Message: fmt.Sprintf("cannot parse document: %v", err),
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Parse is Load over a byte slice.
func Parse(data []byte) (*Document, error) {
	return Load(bytes.NewReader(data))
}

// FromMap builds a document from an already-decoded map, as delivered by
// the ad-hoc trigger body.
func FromMap(m map[string]interface{}) (*Document, error) {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return nil, &errors.ValidationError{Field: "workflow", Message: err.Error()}
	}
	return Parse(raw)
}

// Validate checks the document for structural problems: duplicate step
// ids, unknown step types, unresolvable context references, and backward
// on_failure_step jumps. It does not execute anything.
func (d *Document) Validate() error {
	w := &d.Workflow
	if w.Name == "" {
		return &errors.ValidationError{
			Field:      "workflow.name",
			Message:    "name is required",
			Suggestion: "add a name field under workflow",
		}
	}
	if len(w.Steps) == 0 {
		return &errors.ValidationError{
			Field:      "workflow.steps",
			Message:    "at least one step is required",
			Suggestion: "add a steps list under workflow",
		}
	}
	if w.Trigger != nil {
		switch w.Trigger.Type {
		case TriggerAPI, TriggerGit, TriggerScheduled, TriggerAdhoc:
		default:
			return &errors.ValidationError{
				Field:      "workflow.trigger.type",
				Message:    fmt.Sprintf("unknown trigger type %q", w.Trigger.Type),
				Suggestion: "use one of: api, git, scheduled, adhoc",
			}
		}
	}

	seen := make(map[string]bool)
	if err := w.validateSteps(w.Steps, seen, true); err != nil {
		return err
	}
	if w.GlobalFailureHandler != nil {
		h := w.GlobalFailureHandler
		if h.OnFailureStep != "" {
			return &errors.ValidationError{
				Field:   "workflow.global_failure_handler",
				Message: "the global failure handler cannot itself branch",
			}
		}
		if err := w.validateSteps([]Step{*h}, seen, false); err != nil {
			return err
		}
	}
	for _, branch := range []*BranchList{w.OnSuccess, w.OnFailure} {
		if branch == nil {
			continue
		}
		for i := range branch.Steps {
			if branch.Steps[i].OnFailureStep != "" {
				return &errors.ValidationError{
					Field:   "workflow.on_success/on_failure",
					Message: "outcome branches may not jump to other steps",
				}
			}
		}
		if err := w.validateSteps(branch.Steps, seen, false); err != nil {
			return err
		}
	}

	return nil
}

// validateSteps walks a step list, collecting ids into seen. Jump targets
// are only checked in the main list (allowJumps).
func (w *Workflow) validateSteps(steps []Step, seen map[string]bool, allowJumps bool) error {
	index := make(map[string]int, len(steps))
	for i := range steps {
		index[steps[i].ID] = i
	}

	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].id", i),
				Message: "step id is required",
			}
		}
		if seen[s.ID] {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].id", i),
				Message:    fmt.Sprintf("duplicate step id %q", s.ID),
				Suggestion: "step ids must be unique within the document",
			}
		}
		seen[s.ID] = true

		if s.When != nil {
			if err := s.When.Validate(); err != nil {
				return err
			}
		}
		if s.Retry != nil {
			if err := validateRetry(s.ID, s.Retry); err != nil {
				return err
			}
		}
		if s.Transform != "" {
			if err := ValidateTransform(s.Transform); err != nil {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d].transform", i),
					Message: err.Error(),
				}
			}
		}
		if s.OnFailureStep != "" {
			if !allowJumps {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d].on_failure_step", i),
					Message: "on_failure_step is only valid in the main step list",
				}
			}
			target, ok := index[s.OnFailureStep]
			if !ok {
				return &errors.ValidationError{
					Field:      fmt.Sprintf("steps[%d].on_failure_step", i),
					Message:    fmt.Sprintf("unknown step %q", s.OnFailureStep),
					Suggestion: "on_failure_step must name a step in the same list",
				}
			}
			if target <= i {
				return &errors.ValidationError{
					Field:      fmt.Sprintf("steps[%d].on_failure_step", i),
					Message:    fmt.Sprintf("jump to %q is not forward-only", s.OnFailureStep),
					Suggestion: "failure jumps may only target later steps",
				}
			}
		}

		switch s.EffectiveType() {
		case StepTypeAction:
			if err := w.validateAction(i, s); err != nil {
				return err
			}
		case StepTypeApproval:
			if s.Form == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d].form", i),
					Message: "approval steps require a form reference",
				}
			}
		case StepTypeBranch:
			if len(s.Steps) == 0 {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d].steps", i),
					Message: "branch steps require a nested step list",
				}
			}
			if err := w.validateSteps(s.Steps, seen, false); err != nil {
				return err
			}
		case StepTypeDelegate:
			if s.Repo == "" || s.Path == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d]", i),
					Message: "delegate steps require repo and path",
				}
			}
			for ci := range s.RunConditions {
				c := &s.RunConditions[ci]
				if c.Operator == "" {
					return &errors.ValidationError{
						Field:   fmt.Sprintf("steps[%d].run_conditions[%d]", i, ci),
						Message: "run condition is missing an operator",
					}
				}
			}
		default:
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].type", i),
				Message:    fmt.Sprintf("unknown step type %q", s.Type),
				Suggestion: "use one of: action, approval, branch, delegate",
			}
		}
	}

	return nil
}

// validateAction checks the action target shape and that context
// references resolve to declared context modules.
func (w *Workflow) validateAction(i int, s *Step) error {
	if s.Action == "" {
		return &errors.ValidationError{
			Field:   fmt.Sprintf("steps[%d].action", i),
			Message: "action steps require an action target",
		}
	}
	instance, _, err := SplitAction(s.Action)
	if err != nil {
		return &errors.ValidationError{
			Field:      fmt.Sprintf("steps[%d].action", i),
			Message:    err.Error(),
			Suggestion: `use "<instance>.<method>" or "context.<instance>.<method>"`,
		}
	}
	if strings.HasPrefix(s.Action, "context.") {
		if _, ok := w.ContextModules[instance]; !ok {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].action", i),
				Message:    fmt.Sprintf("context instance %q is not declared in context_modules", instance),
				Suggestion: "declare the instance under context_modules",
			}
		}
	}
	return nil
}

// validateRetry bounds the retry policy.
func validateRetry(stepID string, r *Retry) error {
	if r.MaxAttempts < 1 {
		return &errors.ValidationError{
			Field:   fmt.Sprintf("steps.%s.retry.max_attempts", stepID),
			Message: "max_attempts must be at least 1",
		}
	}
	if r.BackoffSeconds < 0 {
		return &errors.ValidationError{
			Field:   fmt.Sprintf("steps.%s.retry.backoff_seconds", stepID),
			Message: "backoff_seconds must not be negative",
		}
	}
	switch r.Strategy {
	case "", RetryFixed, RetryLinear, RetryExponential:
		return nil
	default:
		return &errors.ValidationError{
			Field:      fmt.Sprintf("steps.%s.retry.strategy", stepID),
			Message:    fmt.Sprintf("unknown strategy %q", r.Strategy),
			Suggestion: "use one of: fixed, linear, exponential",
		}
	}
}

// SplitAction splits an action target into instance id and method name.
// Accepts "<instance>.<method>" and "context.<instance>.<method>".
func SplitAction(action string) (instance, method string, err error) {
	parts := strings.Split(action, ".")
	switch {
	case len(parts) == 3 && parts[0] == "context":
		parts = parts[1:]
	case len(parts) == 2:
	default:
		return "", "", fmt.Errorf("malformed action target %q", action)
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed action target %q", action)
	}
	return parts[0], parts[1], nil
}
