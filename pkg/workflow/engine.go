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

package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yuribernstein/seyoawe-community/internal/log"
	"github.com/yuribernstein/seyoawe-community/internal/metrics"
	"github.com/yuribernstein/seyoawe-community/pkg/approval"
	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/match"
)

// ModulePool holds the module instances of one run. Instances are created
// before step one and disposed when the run terminates, regardless of
// outcome.
type ModulePool interface {
	// Get returns the instance declared under id in context_modules.
	Get(id string) (Module, error)

	// Dispose releases every instance in the pool.
	Dispose()
}

// ModuleFactory builds a per-run ModulePool from a document's
// context_modules block. An instantiation error aborts the run before any
// step executes.
type ModuleFactory interface {
	Instantiate(ctx context.Context, decls map[string]ModuleDecl) (ModulePool, error)
}

// Delegator hands a delegate step off to a remote workflow runner. The
// parent snapshot is the delegating run's full context at hand-off time.
type Delegator interface {
	Delegate(ctx context.Context, step *Step, parentSnapshot map[string]interface{}) *Result
}

// Run outcome statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// deadlineGrace bounds failure handling once the run deadline has
// expired, so cleanup steps still get a window to execute.
const deadlineGrace = time.Minute

// Outcome summarizes a finished run.
type Outcome struct {
	// UID is the run's unique identifier.
	UID string `json:"workflow_uid"`

	// Status is succeeded or failed.
	Status string `json:"status"`

	// Context is the final context snapshot.
	Context map[string]interface{} `json:"context,omitempty"`
}

// Engine executes one workflow document. An Engine is single-use: create
// one per run and call Run exactly once. All context writes happen from
// Run's goroutine; suspension hands data over a channel, never shared
// state.
type Engine struct {
	doc       *Document
	wctx      *Context
	logger    *slog.Logger
	tracer    trace.Tracer
	renderer  match.Renderer
	factory   ModuleFactory
	approvals *approval.Manager
	delegator Delegator

	uid     string
	payload map[string]interface{}
	env     map[string]interface{}

	pool         ModulePool
	anyFailed    bool
	handlerFired bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithApprovals wires the approval manager used by approval steps.
func WithApprovals(m *approval.Manager) EngineOption {
	return func(e *Engine) { e.approvals = m }
}

// WithFactory wires the module factory used to build the run's pool.
func WithFactory(f ModuleFactory) EngineOption {
	return func(e *Engine) { e.factory = f }
}

// WithDelegator wires the remote workflow delegator.
func WithDelegator(d Delegator) EngineOption {
	return func(e *Engine) { e.delegator = d }
}

// WithPayload injects the trigger payload under the payload context key.
func WithPayload(payload map[string]interface{}) EngineOption {
	return func(e *Engine) { e.payload = payload }
}

// WithEnv injects deployment facts under the env context key.
func WithEnv(env map[string]interface{}) EngineOption {
	return func(e *Engine) { e.env = env }
}

// WithUID fixes the run uid instead of generating one.
func WithUID(uid string) EngineOption {
	return func(e *Engine) { e.uid = uid }
}

// WithParentContext seeds the context's parent key with a delegating
// run's snapshot.
func WithParentContext(snapshot map[string]interface{}) EngineOption {
	return func(e *Engine) { e.wctx.Set("parent", snapshot) }
}

// NewEngine builds an engine for one validated document.
func NewEngine(doc *Document, opts ...EngineOption) *Engine {
	e := &Engine{
		doc:    doc,
		wctx:   NewContext(),
		logger: slog.Default(),
		tracer: otel.Tracer("seyoawe/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.uid == "" {
		e.uid = uuid.NewString()
	}
	e.renderer = match.Renderer{Strict: doc.Workflow.StrictTemplating}
	e.logger = log.WithRunContext(e.logger, e.uid, doc.Workflow.Name)
	return e
}

// UID returns the run's unique identifier.
func (e *Engine) UID() string { return e.uid }

// Context returns the run's live context. Read it only after Run returns.
func (e *Engine) Context() *Context { return e.wctx }

// Run executes the document to completion and blocks through any approval
// suspension. The returned error reports setup problems only; step-level
// failures are routed through the document's failure policy and reflected
// in the outcome status.
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	w := &e.doc.Workflow

	start := time.Now()
	runCtx := ctx
	if w.DeadlineMinutes > 0 {
		deadline := start.Add(time.Duration(w.DeadlineMinutes * float64(time.Minute)))
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	runCtx, span := e.tracer.Start(runCtx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", w.Name),
		attribute.String("workflow.uid", e.uid),
	))
	defer span.End()

	e.wctx.Set("workflow_uid", e.uid)
	e.wctx.Set("workflow_name", w.Name)
	if e.payload != nil {
		e.wctx.Set("payload", e.payload)
	}
	if e.env != nil {
		e.wctx.Set("env", e.env)
	}

	if e.factory != nil && len(w.ContextModules) > 0 {
		pool, err := e.factory.Instantiate(runCtx, w.ContextModules)
		if err != nil {
			return nil, errors.Wrapf(err, "instantiating context modules for %s", w.Name)
		}
		e.pool = pool
		defer pool.Dispose()
		for id := range w.ContextModules {
			if mod, err := pool.Get(id); err == nil {
				e.wctx.Bind(id, mod)
			}
		}
	}

	e.logger.Info("workflow started", "steps", len(w.Steps))
	e.runMainList(runCtx, w.Steps)

	// Deadline expiry routes through the same failure handling as a step
	// failure; handlers and outcome branches run on a grace context so
	// the expired deadline does not cut them short.
	branchCtx := runCtx
	if runCtx.Err() != nil {
		e.anyFailed = true
		e.fireGlobalHandler(runCtx)
		var cancel context.CancelFunc
		branchCtx, cancel = context.WithTimeout(context.WithoutCancel(runCtx), deadlineGrace)
		defer cancel()
	}

	if e.anyFailed {
		if w.OnFailure != nil {
			e.runBranchList(branchCtx, w.OnFailure.Steps)
		}
	} else if w.OnSuccess != nil {
		e.runBranchList(branchCtx, w.OnSuccess.Steps)
	}

	status := RunSucceeded
	if e.anyFailed {
		status = RunFailed
	}
	duration := time.Since(start)
	metrics.WorkflowsTotal.WithLabelValues(status).Inc()
	metrics.WorkflowDuration.Observe(duration.Seconds())
	span.SetAttributes(attribute.String("workflow.status", status))
	e.logger.Info("workflow finished",
		"status", status,
		slog.Duration(log.DurationKey, duration),
	)

	return &Outcome{UID: e.uid, Status: status, Context: e.wctx.GetAll()}, nil
}

// runMainList executes the main step list with forward-only failure jumps
// and the one-shot global failure handler.
func (e *Engine) runMainList(ctx context.Context, steps []Step) {
	index := make(map[string]int, len(steps))
	for i := range steps {
		index[steps[i].ID] = i
	}

	for i := 0; i < len(steps); {
		if err := ctx.Err(); err != nil {
			// The pending step never started, so nothing registers
			// under its id.
			e.anyFailed = true
			e.logger.Error("workflow deadline exceeded",
				log.StepIDKey, steps[i].ID,
				"error", err,
			)
			return
		}

		step := &steps[i]
		res := e.runStep(ctx, step)
		if !res.Terminal() {
			i++
			continue
		}

		e.anyFailed = true
		if step.OnFailureStep != "" {
			// Validate guarantees the target exists and is forward-only.
			next := index[step.OnFailureStep]
			e.logger.Info("failure jump",
				log.StepIDKey, step.ID,
				"target", step.OnFailureStep,
			)
			i = next
			continue
		}

		e.fireGlobalHandler(ctx)
		return
	}
}

// runBranchList executes an outcome branch or a nested branch body. Steps
// run in order; a terminal failure marks the run failed but does not stop
// the list.
func (e *Engine) runBranchList(ctx context.Context, steps []Step) {
	for i := range steps {
		if err := ctx.Err(); err != nil {
			e.anyFailed = true
			e.logger.Warn("branch interrupted", "error", err)
			return
		}
		if res := e.runStep(ctx, &steps[i]); res.Terminal() {
			e.anyFailed = true
		}
	}
}

// fireGlobalHandler runs the global failure handler at most once per
// run. An expired context is swapped for a grace context so the handler
// still executes after a deadline.
func (e *Engine) fireGlobalHandler(ctx context.Context) {
	h := e.doc.Workflow.GlobalFailureHandler
	if h == nil || e.handlerFired {
		return
	}
	e.handlerFired = true
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), deadlineGrace)
		defer cancel()
	}
	e.logger.Warn("running global failure handler", log.StepIDKey, h.ID)
	e.runStep(ctx, h)
}

// runStep gates, executes, transforms, and registers a single step. The
// returned result is what got registered.
func (e *Engine) runStep(ctx context.Context, step *Step) *Result {
	stepCtx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.type", string(step.EffectiveType())),
	))
	defer span.End()

	logger := log.WithStepContext(e.logger, e.uid, step.ID)

	if step.When != nil {
		if !step.When.Evaluate(e.wctx.GetAll(), logger) {
			res := Skipped("when condition not met")
			e.register(step, res)
			logger.Info("step skipped")
			return res
		}
	}

	logger.Info("step started", "type", string(step.EffectiveType()))

	var res *Result
	switch step.EffectiveType() {
	case StepTypeAction:
		res = e.runAction(stepCtx, step, logger)
		if res.Status == StatusWaiting {
			// A waiting result suspends the run no matter which module
			// produced it.
			schema, _ := res.Data.(map[string]interface{})
			res = e.suspendAwaiting(stepCtx, step, schema, logger)
		}
	case StepTypeApproval:
		res = e.runApproval(stepCtx, step, logger)
	case StepTypeBranch:
		res = e.runBranch(stepCtx, step)
	case StepTypeDelegate:
		res = e.runDelegate(stepCtx, step)
	default:
		res = Failf("unknown step type %q", step.Type)
	}

	if step.Transform != "" && res.Status == StatusOK {
		shaped, err := applyTransform(stepCtx, step.Transform, res.Data)
		if err != nil {
			res = FailErr(err)
		} else {
			res = &Result{Status: res.Status, Message: res.Message, Data: shaped}
		}
	}

	e.register(step, res)
	span.SetAttributes(attribute.String("step.status", string(res.Status)))
	if res.Terminal() {
		logger.Error("step failed", "status", string(res.Status), "message", res.Message)
	} else {
		logger.Info("step finished", "status", string(res.Status))
	}
	return res
}

// register records the result under the step's register key and counts it.
func (e *Engine) register(step *Step, res *Result) {
	e.wctx.SetStep(step.RegisterKey(), res)
	metrics.StepsTotal.WithLabelValues(string(res.Status)).Inc()
}

// runAction interpolates the input map, resolves the action target, and
// invokes it under the step's retry policy.
func (e *Engine) runAction(ctx context.Context, step *Step, logger *slog.Logger) *Result {
	rendered, err := e.renderer.Render(step.Input, e.wctx.GetAll())
	if err != nil {
		return Failf("input interpolation failed: %v", err)
	}
	args, _ := rendered.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}

	instance, method, err := SplitAction(step.Action)
	if err != nil {
		return FailErr(err)
	}
	mod, err := e.resolveModule(instance)
	if err != nil {
		return Failf("cannot resolve action %q: %v", step.Action, err)
	}

	return e.invokeWithRetry(ctx, step, mod, method, args, logger)
}

// resolveModule finds the instance in the run pool, falling back to
// context bindings so delegated runs can reuse parent-provided handles.
func (e *Engine) resolveModule(instance string) (Module, error) {
	if e.pool != nil {
		if mod, err := e.pool.Get(instance); err == nil {
			return mod, nil
		}
	}
	if mod, ok := e.wctx.Binding(instance); ok {
		return mod, nil
	}
	return nil, &errors.ResolutionError{Kind: "module", Symbol: instance}
}

// invokeWithRetry re-invokes the module on fail results up to the step's
// retry budget. Timeout results are terminal and never retried.
func (e *Engine) invokeWithRetry(ctx context.Context, step *Step, mod Module, method string, args map[string]interface{}, logger *slog.Logger) *Result {
	if step.Retry == nil || step.Retry.MaxAttempts <= 1 {
		return Normalize(mod.Invoke(ctx, method, args))
	}

	var last *Result
	attempt := 0
	operation := func() (*Result, error) {
		attempt++
		if attempt > 1 {
			metrics.RetriesTotal.Inc()
			logger.Warn("retrying step",
				"attempt", attempt,
				"max_attempts", step.Retry.MaxAttempts,
			)
		}
		res := Normalize(mod.Invoke(ctx, method, args))
		last = res
		switch res.Status {
		case StatusFail:
			return nil, errors.New(res.Message)
		case StatusTimeout:
			return nil, backoff.Permanent(errors.New(res.Message))
		default:
			return res, nil
		}
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(retryPolicy(step.Retry)),
		backoff.WithMaxTries(uint(step.Retry.MaxAttempts)),
	)
	if err != nil {
		if last != nil {
			return last
		}
		return FailErr(err)
	}
	return res
}

// retryPolicy maps a step's retry declaration onto a backoff policy.
func retryPolicy(r *Retry) backoff.BackOff {
	base := time.Duration(r.BackoffSeconds * float64(time.Second))
	if base <= 0 {
		base = time.Second
	}
	if r.Strategy == RetryExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		return b
	}
	return &pacedBackOff{base: base, fixed: r.Strategy == RetryFixed}
}

// pacedBackOff implements the fixed and linear pacing strategies, which
// the backoff library does not ship.
type pacedBackOff struct {
	base    time.Duration
	fixed   bool
	attempt int
}

func (b *pacedBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.fixed {
		return b.base
	}
	return time.Duration(b.attempt) * b.base
}

func (b *pacedBackOff) Reset() { b.attempt = 0 }

// runApproval suspends the run on the step's declared form.
func (e *Engine) runApproval(ctx context.Context, step *Step, logger *slog.Logger) *Result {
	return e.suspendAwaiting(ctx, step, map[string]interface{}{"$ref": step.Form}, logger)
}

// suspendAwaiting parks the run on a pending form ticket and blocks until
// it resolves or the run deadline fires. The waiting result is registered
// before suspension so observers can see the form URL; the resolution
// overwrites it.
func (e *Engine) suspendAwaiting(ctx context.Context, step *Step, schema map[string]interface{}, logger *slog.Logger) *Result {
	if e.approvals == nil {
		return Failf("no approval manager configured")
	}

	timeout := time.Duration(step.TimeoutMinutes * float64(time.Minute))
	formURL, err := e.approvals.Create(e.uid, e.doc.Workflow.Name, step.ID, schema, step.Assignees, timeout)
	if err != nil {
		return Failf("cannot create approval ticket: %v", err)
	}

	waiting := &Result{
		Status:  StatusWaiting,
		Message: "waiting for form submission",
		Data:    map[string]interface{}{"form_url": formURL, "assignees": step.Assignees},
	}
	e.register(step, waiting)

	// Buffered so the manager's callback never blocks on a slow engine.
	resumed := make(chan approval.Resolution, 1)
	if err := e.approvals.OnResolve(e.uid, func(r approval.Resolution) { resumed <- r }); err != nil {
		return Failf("cannot register resume callback: %v", err)
	}

	logger.Info("workflow suspended", "form_url", formURL)

	var resolution approval.Resolution
	select {
	case resolution = <-resumed:
	case <-ctx.Done():
		// Force-expire so the callback fires exactly once, then drain it.
		e.approvals.Expire(e.uid)
		resolution = <-resumed
	}

	metrics.ApprovalsTotal.WithLabelValues(string(resolution.State)).Inc()
	logger.Info("workflow resumed", "resolution", string(resolution.State))

	switch resolution.State {
	case approval.StateApproved:
		return OK("form approved", map[string]interface{}{"form_data": resolution.FormData})
	case approval.StateRejected:
		return &Result{
			Status:  StatusFail,
			Message: "form rejected",
			Data:    map[string]interface{}{"form_data": resolution.FormData},
		}
	default:
		return Timeoutf("approval expired after %g minutes", step.TimeoutMinutes)
	}
}

// runBranch executes a nested step list sequentially. Nested steps
// register under their own ids; the branch step's own result reflects
// whether all of them completed.
func (e *Engine) runBranch(ctx context.Context, step *Step) *Result {
	for i := range step.Steps {
		if err := ctx.Err(); err != nil {
			return Timeoutf("branch interrupted: %v", err)
		}
		if res := e.runStep(ctx, &step.Steps[i]); res.Terminal() {
			return Failf("branch step %q failed: %s", step.Steps[i].ID, res.Message)
		}
	}
	return OK("branch completed", map[string]interface{}{"steps": len(step.Steps)})
}

// runDelegate hands the step to the configured delegator with a snapshot
// of the current context.
func (e *Engine) runDelegate(ctx context.Context, step *Step) *Result {
	if e.delegator == nil {
		return Failf("no delegator configured")
	}
	return Normalize(e.delegator.Delegate(ctx, step, e.wctx.GetAll()))
}
