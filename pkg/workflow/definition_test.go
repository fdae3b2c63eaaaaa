package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
)

const validDoc = `
workflow:
  name: provision
  trigger:
    type: api
  context_modules:
    infra:
      module: api.ApiModule
      config:
        base_url: https://infra.example.com
  steps:
    - id: create
      action: context.infra.call
      input:
        method: POST
    - id: verify
      action: context.infra.call
      retry:
        max_attempts: 3
        backoff_seconds: 2
        strategy: exponential
      on_failure_step: teardown
    - id: notify
      action: context.infra.call
    - id: teardown
      action: context.infra.call
`

func TestLoad_Valid(t *testing.T) {
	doc, err := Load(strings.NewReader(validDoc))
	require.NoError(t, err)
	assert.Equal(t, "provision", doc.Workflow.Name)
	assert.Len(t, doc.Workflow.Steps, 4)
	assert.Equal(t, StepTypeAction, doc.Workflow.Steps[0].EffectiveType())
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	src := strings.Replace(validDoc, "name: provision", "name: provision\n  colour: blue", 1)
	_, err := Load(strings.NewReader(src))

	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestValidate_DuplicateStepID(t *testing.T) {
	src := strings.Replace(validDoc, "id: teardown", "id: create", 1)
	_, err := Load(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestValidate_BackwardJumpRejected(t *testing.T) {
	src := strings.Replace(validDoc, "on_failure_step: teardown", "on_failure_step: create", 1)
	_, err := Load(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forward-only")
}

func TestValidate_UndeclaredContextInstance(t *testing.T) {
	src := strings.Replace(validDoc, "action: context.infra.call\n      input:", "action: context.ghost.call\n      input:", 1)
	_, err := Load(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}

func TestValidate_ApprovalNeedsForm(t *testing.T) {
	src := `
workflow:
  name: gated
  steps:
    - id: gate
      type: approval
`
	_, err := Parse([]byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "form")
}

func TestValidate_DelegateNeedsRepoAndPath(t *testing.T) {
	src := `
workflow:
  name: remote
  steps:
    - id: handoff
      type: delegate
      repo: https://example.com/flows.git
`
	_, err := Parse([]byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo and path")
}

func TestValidate_BadTransformRejected(t *testing.T) {
	src := `
workflow:
  name: reshaped
  steps:
    - id: fetch
      action: svc.call
      transform: ".items | ["
`
	_, err := Parse([]byte(src))
	require.Error(t, err)
}

func TestValidate_GlobalHandlerCannotBranch(t *testing.T) {
	src := `
workflow:
  name: handled
  steps:
    - id: work
      action: svc.call
  global_failure_handler:
    id: notify
    action: svc.notify
    on_failure_step: work
`
	_, err := Parse([]byte(src))
	require.Error(t, err)
}

func TestSplitAction(t *testing.T) {
	tests := []struct {
		action   string
		instance string
		method   string
		wantErr  bool
	}{
		{"slack.send_message", "slack", "send_message", false},
		{"context.infra.call", "infra", "call", false},
		{"justone", "", "", true},
		{"a.b.c", "", "", true},
		{"context..call", "", "", true},
	}
	for _, tt := range tests {
		instance, method, err := SplitAction(tt.action)
		if tt.wantErr {
			assert.Error(t, err, tt.action)
			continue
		}
		require.NoError(t, err, tt.action)
		assert.Equal(t, tt.instance, instance)
		assert.Equal(t, tt.method, method)
	}
}

func TestFromMap(t *testing.T) {
	doc, err := FromMap(map[string]interface{}{
		"workflow": map[string]interface{}{
			"name": "adhoc",
			"steps": []interface{}{
				map[string]interface{}{"id": "hello", "action": "echo.say"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "adhoc", doc.Workflow.Name)
}
