package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribernstein/seyoawe-community/pkg/approval"
)

// fakeModule records invocations and answers with a programmable handler.
type fakeModule struct {
	handler func(method string, args map[string]interface{}) *Result
	calls   []string
}

func (m *fakeModule) Invoke(_ context.Context, method string, args map[string]interface{}) *Result {
	m.calls = append(m.calls, method)
	if m.handler != nil {
		return m.handler(method, args)
	}
	return OK("done", map[string]interface{}{"method": method, "args": args})
}

type fakePool struct{ mods map[string]Module }

func (p *fakePool) Get(id string) (Module, error) {
	mod, ok := p.mods[id]
	if !ok {
		return nil, assert.AnError
	}
	return mod, nil
}

func (p *fakePool) Dispose() {}

type fakeFactory struct{ pool *fakePool }

func (f *fakeFactory) Instantiate(context.Context, map[string]ModuleDecl) (ModulePool, error) {
	return f.pool, nil
}

func newTestEngine(t *testing.T, source string, mods map[string]Module, opts ...EngineOption) *Engine {
	t.Helper()
	doc, err := Parse([]byte(source))
	require.NoError(t, err)
	opts = append(opts, WithFactory(&fakeFactory{pool: &fakePool{mods: mods}}))
	return NewEngine(doc, opts...)
}

func TestEngine_LinearRun(t *testing.T) {
	source := `
workflow:
  name: linear
  context_modules:
    echo:
      module: echo.EchoModule
  steps:
    - id: first
      action: context.echo.say
      input:
        text: hello
    - id: second
      action: context.echo.say
      input:
        previous: ${steps.first.data.args.text}
        note: "was ${steps.first.status}"
`
	mod := &fakeModule{}
	e := newTestEngine(t, source, map[string]Module{"echo": mod})

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, outcome.Status)
	assert.Len(t, mod.calls, 2)

	// Earlier results are visible to later templates, with types intact
	// for whole-token references and stringified when embedded.
	second, ok := e.Context().StepResult("second")
	require.True(t, ok)
	data := second["data"].(map[string]interface{})
	args := data["args"].(map[string]interface{})
	assert.Equal(t, "hello", args["previous"])
	assert.Equal(t, "was ok", args["note"])
}

func TestEngine_WhenGateSkips(t *testing.T) {
	source := `
workflow:
  name: gated
  context_modules:
    echo:
      module: echo.EchoModule
  steps:
    - id: maybe
      when:
        path: payload.enabled
        operator: equals
        value: true
      action: context.echo.say
`
	mod := &fakeModule{}
	e := newTestEngine(t, source, map[string]Module{"echo": mod},
		WithPayload(map[string]interface{}{"enabled": false}))

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, outcome.Status, "a skipped step is not a failure")
	assert.Empty(t, mod.calls)

	res, ok := e.Context().StepResult("maybe")
	require.True(t, ok)
	assert.Equal(t, string(StatusSkipped), res["status"])
}

func TestEngine_RetryThenHandler(t *testing.T) {
	source := `
workflow:
  name: flaky
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: call
      action: context.svc.call
      retry:
        max_attempts: 3
        backoff_seconds: 0.01
  global_failure_handler:
    id: notify
    action: context.svc.notify
`
	calls := map[string]int{}
	mod := &fakeModule{handler: func(method string, _ map[string]interface{}) *Result {
		calls[method]++
		if method == "call" {
			return Failf("connection refused")
		}
		return OK("sent", nil)
	}}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status)
	assert.Equal(t, 3, calls["call"], "max_attempts bounds total invocations")
	assert.Equal(t, 1, calls["notify"], "handler fires exactly once")
}

func TestEngine_TimeoutIsNotRetried(t *testing.T) {
	source := `
workflow:
  name: slow
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: call
      action: context.svc.call
      retry:
        max_attempts: 5
        backoff_seconds: 0.01
`
	mod := &fakeModule{handler: func(string, map[string]interface{}) *Result {
		return Timeoutf("upstream deadline")
	}}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status)
	assert.Len(t, mod.calls, 1, "timeout results are terminal")

	res, _ := e.Context().StepResult("call")
	assert.Equal(t, string(StatusTimeout), res["status"])
}

func TestEngine_FailureJumpIsForwardOnly(t *testing.T) {
	source := `
workflow:
  name: jumpy
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: provision
      action: context.svc.call
      on_failure_step: cleanup
    - id: announce
      action: context.svc.announce
    - id: cleanup
      action: context.svc.cleanup
`
	mod := &fakeModule{handler: func(method string, _ map[string]interface{}) *Result {
		if method == "call" {
			return Failf("boom")
		}
		return OK("", nil)
	}}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status)
	assert.Equal(t, []string{"call", "cleanup"}, mod.calls, "intermediate steps are bypassed")

	_, announced := e.Context().StepResult("announce")
	assert.False(t, announced)
}

func TestEngine_OutcomeBranches(t *testing.T) {
	source := `
workflow:
  name: branchy
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: work
      action: context.svc.call
  on_success:
    steps:
      - id: celebrate
        action: context.svc.announce
  on_failure:
    steps:
      - id: mourn
        action: context.svc.announce
`
	mod := &fakeModule{}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"call", "announce"}, mod.calls)

	_, celebrated := e.Context().StepResult("celebrate")
	_, mourned := e.Context().StepResult("mourn")
	assert.True(t, celebrated)
	assert.False(t, mourned)
}

func TestEngine_RegisterAsLastWriterWins(t *testing.T) {
	source := `
workflow:
  name: aliased
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: first
      register_as: latest
      action: context.svc.call
      input:
        n: 1
    - id: second
      register_as: latest
      action: context.svc.call
      input:
        n: 2
`
	mod := &fakeModule{}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	res, ok := e.Context().StepResult("latest")
	require.True(t, ok)
	args := res["data"].(map[string]interface{})["args"].(map[string]interface{})
	assert.Equal(t, float64(2), args["n"])
}

func TestEngine_NestedBranchStep(t *testing.T) {
	source := `
workflow:
  name: nested
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: group
      type: branch
      steps:
        - id: inner_a
          action: context.svc.call
        - id: inner_b
          action: context.svc.call
`
	mod := &fakeModule{}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, outcome.Status)
	assert.Len(t, mod.calls, 2)

	group, ok := e.Context().StepResult("group")
	require.True(t, ok)
	assert.Equal(t, string(StatusOK), group["status"])
	_, innerOK := e.Context().StepResult("inner_a")
	assert.True(t, innerOK)
}

func TestEngine_TransformReshapesData(t *testing.T) {
	source := `
workflow:
  name: reshaped
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: fetch
      action: context.svc.call
      transform: '{count: (.items | length)}'
`
	mod := &fakeModule{handler: func(string, map[string]interface{}) *Result {
		return OK("", map[string]interface{}{"items": []interface{}{"a", "b", "c"}})
	}}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	res, _ := e.Context().StepResult("fetch")
	data := res["data"].(map[string]interface{})
	assert.Equal(t, 3, int(data["count"].(float64)))
}

func TestEngine_ApprovalGate(t *testing.T) {
	source := `
workflow:
  name: gated_deploy
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: gate
      type: approval
      form: deploy_approval
      assignees: [ops]
    - id: deploy
      action: context.svc.call
      input:
        ticket: ${steps.gate.data.form_data.ticket}
`
	mod := &fakeModule{}
	approvals := approval.NewManager()
	e := newTestEngine(t, source, map[string]Module{"svc": mod},
		WithApprovals(approvals), WithUID("run-approval-1"))

	done := make(chan *Outcome, 1)
	go func() {
		outcome, err := e.Run(context.Background())
		require.NoError(t, err)
		done <- outcome
	}()

	// Wait for the suspension to materialize as a pending ticket.
	require.Eventually(t, func() bool {
		ticket, err := approvals.Status("run-approval-1")
		return err == nil && ticket.State == approval.StatePending
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, mod.calls, "no step runs while suspended")

	_, err := approvals.Submit("run-approval-1", map[string]interface{}{"ticket": "CHG-42"})
	require.NoError(t, err)

	outcome := <-done
	assert.Equal(t, RunSucceeded, outcome.Status)

	gate, _ := e.Context().StepResult("gate")
	assert.Equal(t, string(StatusOK), gate["status"], "waiting result was overwritten")
	form := gate["data"].(map[string]interface{})["form_data"].(map[string]interface{})
	assert.Equal(t, "CHG-42", form["ticket"])

	deploy, _ := e.Context().StepResult("deploy")
	args := deploy["data"].(map[string]interface{})["args"].(map[string]interface{})
	assert.Equal(t, "CHG-42", args["ticket"], "form data feeds later templates")
}

func TestEngine_ApprovalRejected(t *testing.T) {
	source := `
workflow:
  name: gated_deploy
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: gate
      type: approval
      form: deploy_approval
    - id: deploy
      action: context.svc.call
`
	mod := &fakeModule{}
	approvals := approval.NewManager()
	e := newTestEngine(t, source, map[string]Module{"svc": mod},
		WithApprovals(approvals), WithUID("run-approval-2"))

	done := make(chan *Outcome, 1)
	go func() {
		outcome, _ := e.Run(context.Background())
		done <- outcome
	}()

	require.Eventually(t, func() bool {
		_, err := approvals.Status("run-approval-2")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err := approvals.Submit("run-approval-2", map[string]interface{}{"rejected": true})
	require.NoError(t, err)

	outcome := <-done
	assert.Equal(t, RunFailed, outcome.Status)
	assert.Empty(t, mod.calls, "rejection stops the main list")
}

func TestEngine_WaitingActionSuspends(t *testing.T) {
	source := `
workflow:
  name: form_gate
  context_modules:
    form:
      module: webform.WebformModule
  steps:
    - id: gate
      action: context.form.approval_form
      input:
        uid: ${workflow_uid}
    - id: after
      action: context.form.notify
`
	mod := &fakeModule{handler: func(method string, _ map[string]interface{}) *Result {
		if method == "approval_form" {
			return &Result{
				Status:  StatusWaiting,
				Message: "form published",
				Data:    map[string]interface{}{"form_url": "/webform/run-waiting-1"},
			}
		}
		return OK("", nil)
	}}
	approvals := approval.NewManager()
	e := newTestEngine(t, source, map[string]Module{"form": mod},
		WithApprovals(approvals), WithUID("run-waiting-1"))

	done := make(chan *Outcome, 1)
	go func() {
		outcome, err := e.Run(context.Background())
		assert.NoError(t, err)
		done <- outcome
	}()

	require.Eventually(t, func() bool {
		ticket, err := approvals.Status("run-waiting-1")
		return err == nil && ticket.State == approval.StatePending
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"approval_form"}, mod.calls, "later steps wait on the form")

	_, err := approvals.Submit("run-waiting-1", map[string]interface{}{"choice": "yes"})
	require.NoError(t, err)

	outcome := <-done
	assert.Equal(t, RunSucceeded, outcome.Status)
	assert.Equal(t, []string{"approval_form", "notify"}, mod.calls)

	gate, _ := e.Context().StepResult("gate")
	assert.Equal(t, string(StatusOK), gate["status"], "waiting result was overwritten")
	form := gate["data"].(map[string]interface{})["form_data"].(map[string]interface{})
	assert.Equal(t, "yes", form["choice"])
}

func TestEngine_DeadlineRoutesToFailureHandling(t *testing.T) {
	source := `
workflow:
  name: deadlined
  deadline_minutes: 0.0001
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: slow
      action: context.svc.call
    - id: never
      action: context.svc.call
  global_failure_handler:
    id: notify
    action: context.svc.notify
  on_failure:
    steps:
      - id: mourn
        action: context.svc.announce
`
	mod := &fakeModule{handler: func(method string, _ map[string]interface{}) *Result {
		if method == "call" {
			time.Sleep(50 * time.Millisecond)
		}
		return OK("", nil)
	}}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status)

	// The deadline fired between steps: the pending step never started
	// and leaves no trace, while the handler and on_failure branch still
	// run on the grace window.
	_, started := e.Context().StepResult("never")
	assert.False(t, started)
	assert.Equal(t, []string{"call", "notify", "announce"}, mod.calls)

	mourn, ok := e.Context().StepResult("mourn")
	require.True(t, ok)
	assert.Equal(t, string(StatusOK), mourn["status"])
}

func TestEngine_StrictTemplatingFailsOnMiss(t *testing.T) {
	source := `
workflow:
  name: strict
  strict_templating: true
  context_modules:
    svc:
      module: api.ApiModule
  steps:
    - id: call
      action: context.svc.call
      input:
        missing: ${steps.nope.data.value}
`
	mod := &fakeModule{}
	e := newTestEngine(t, source, map[string]Module{"svc": mod})

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status)
	assert.Empty(t, mod.calls)
}

func TestEngine_UnknownActionTargetFailsStep(t *testing.T) {
	source := `
workflow:
  name: dangling
  steps:
    - id: call
      action: ghost.invoke
`
	e := newTestEngine(t, source, map[string]Module{})

	outcome, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status)

	res, _ := e.Context().StepResult("call")
	assert.Equal(t, string(StatusFail), res["status"])
}
