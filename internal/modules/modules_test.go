package modules

import (
	"context"
	"log/slog"
	"net/smtp"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribernstein/seyoawe-community/pkg/module"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

func TestEchoModule(t *testing.T) {
	m, err := NewEchoModule(nil, slog.Default())
	require.NoError(t, err)

	res := m.Invoke(context.Background(), "echo", map[string]interface{}{"value": 42})
	require.Equal(t, workflow.StatusOK, res.Status)
	assert.Equal(t, 42, res.Data.(map[string]interface{})["value"])

	res = m.Invoke(context.Background(), "fail", map[string]interface{}{"message": "nope"})
	assert.Equal(t, workflow.StatusFail, res.Status)
	assert.Equal(t, "nope", res.Message)

	res = m.Invoke(context.Background(), "sleep", map[string]interface{}{"seconds": 0.01})
	assert.Equal(t, workflow.StatusOK, res.Status)
}

func TestEmailModule_Send(t *testing.T) {
	var sentTo []string
	var sentMsg string

	m, err := NewEmailModule(map[string]interface{}{"host": "smtp.example.com", "from": "noreply@example.com"}, slog.Default())
	require.NoError(t, err)
	m.(*EmailModule).send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.example.com:587", addr)
		assert.Equal(t, "noreply@example.com", from)
		sentTo = to
		sentMsg = string(msg)
		return nil
	}

	res := m.Invoke(context.Background(), "send", map[string]interface{}{
		"to":      "ops@example.com",
		"subject": "deploy finished",
		"body":    "all good",
	})

	require.Equal(t, workflow.StatusOK, res.Status, res.Message)
	assert.Equal(t, []string{"ops@example.com"}, sentTo)
	assert.Contains(t, sentMsg, "Subject: deploy finished")
	assert.Contains(t, sentMsg, "all good")
}

func TestEmailModule_RequiresHost(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	_, err := NewEmailModule(nil, slog.Default())
	assert.Error(t, err)
}

type fakeSlack struct {
	channel string
	options int
	err     error
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	f.options = len(options)
	if f.err != nil {
		return "", "", f.err
	}
	return channelID, "1724500000.000100", nil
}

func TestSlackModule_SendMessage(t *testing.T) {
	m, err := NewSlackModule(map[string]interface{}{"token": "xoxb-test"}, slog.Default())
	require.NoError(t, err)
	fake := &fakeSlack{}
	m.(*SlackModule).api = fake

	res := m.Invoke(context.Background(), "send_message", map[string]interface{}{
		"channel": "#deploys",
		"text":    "rollout complete",
	})

	require.Equal(t, workflow.StatusOK, res.Status, res.Message)
	assert.Equal(t, "#deploys", fake.channel)
	assert.Equal(t, "1724500000.000100", res.Data.(map[string]interface{})["ts"])
}

func TestSlackModule_RequiresToken(t *testing.T) {
	t.Setenv("SLACK_TOKEN", "")
	_, err := NewSlackModule(nil, slog.Default())
	assert.Error(t, err)
}

func TestSlackModule_RequiresContent(t *testing.T) {
	m, err := NewSlackModule(map[string]interface{}{"token": "xoxb-test", "channel": "#ops"}, slog.Default())
	require.NoError(t, err)
	m.(*SlackModule).api = &fakeSlack{}

	res := m.Invoke(context.Background(), "send_message", nil)
	assert.Equal(t, workflow.StatusFail, res.Status)
}

func TestWebformModule(t *testing.T) {
	m, err := NewWebformModule(map[string]interface{}{"base_url": "https://sawe.example.com/"}, slog.Default())
	require.NoError(t, err)

	res := m.Invoke(context.Background(), "approval_form", map[string]interface{}{"uid": "wf-7"})
	assert.Equal(t, workflow.StatusWaiting, res.Status)
	assert.Equal(t, "https://sawe.example.com/webform/wf-7", res.Data.(map[string]interface{})["form_url"])
}

func TestRegisterBuiltins(t *testing.T) {
	reg := module.NewRegistry(slog.Default())
	RegisterBuiltins(reg, Deps{})

	manifest, err := module.ParseManifest([]byte("name: echo\nclass: EchoModule\nmethods:\n  - name: echo"))
	require.NoError(t, err)

	// Builders are invisible until a manifest binds them.
	_, err = reg.Lookup("echo.EchoModule")
	require.Error(t, err)

	require.NoError(t, reg.Register(manifest, NewEchoModule))
	_, err = reg.Lookup("echo.EchoModule")
	assert.NoError(t, err)
}

func TestOwnerRepoFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://github.com/acme/flows.git", "acme/flows", false},
		{"https://github.com/acme/flows", "acme/flows", false},
		{"git@github.com:acme/flows.git", "acme/flows", false},
		{"/tmp/local/repo", "", true},
	}
	for _, tt := range tests {
		got, err := ownerRepoFromURL(tt.url)
		if tt.wantErr {
			assert.Error(t, err, tt.url)
			continue
		}
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}
}
