package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_DottedGet(t *testing.T) {
	c := NewContext()
	c.Set("payload", map[string]interface{}{
		"repo": map[string]interface{}{"name": "infra"},
	})

	v, ok := c.Get("payload.repo.name")
	require.True(t, ok)
	assert.Equal(t, "infra", v)

	_, ok = c.Get("payload.repo.owner")
	assert.False(t, ok)
}

func TestContext_StepRegistration(t *testing.T) {
	c := NewContext()
	c.SetStep("fetch", OK("done", map[string]interface{}{"n": 1}))

	res, ok := c.StepResult("fetch")
	require.True(t, ok)
	assert.Equal(t, "ok", res["status"])

	v, ok := c.Get("steps.fetch.data.n")
	require.True(t, ok)
	assert.Equal(t, float64(1), v)
}

func TestContext_LastWriterWins(t *testing.T) {
	c := NewContext()
	c.SetStep("latest", OK("first", nil))
	c.SetStep("latest", Failf("second"))

	res, _ := c.StepResult("latest")
	assert.Equal(t, "fail", res["status"])
}

func TestContext_SnapshotIsDeep(t *testing.T) {
	c := NewContext()
	c.Set("config", map[string]interface{}{"region": "us-east-1"})

	snap := c.GetAll()
	snap["config"].(map[string]interface{})["region"] = "mutated"

	v, _ := c.Get("config.region")
	assert.Equal(t, "us-east-1", v, "mutating a snapshot never affects engine state")
}

type nopModule struct{}

func (nopModule) Invoke(context.Context, string, map[string]interface{}) *Result {
	return OK("", nil)
}

func TestContext_BindingsInvisibleToSnapshot(t *testing.T) {
	c := NewContext()
	c.Bind("slack", nopModule{})

	m, ok := c.Binding("slack")
	require.True(t, ok)
	assert.NotNil(t, m)

	snap := c.GetAll()
	_, exported := snap["slack"]
	assert.False(t, exported)
}
