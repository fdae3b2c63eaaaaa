package modules

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

func newChatbot(t *testing.T, config map[string]interface{}) *ChatbotModule {
	t.Helper()
	m, err := NewChatbotModule(config, slog.Default())
	require.NoError(t, err)
	return m.(*ChatbotModule)
}

func TestChatbotModule_AskOpenAI(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Deploys look healthy.  "}}]}`))
	}))
	defer server.Close()

	m := newChatbot(t, map[string]interface{}{"provider": "openai", "api_key": "sk-test"})
	m.endpoints[providerOpenAI] = server.URL

	res := m.Invoke(context.Background(), "ask", map[string]interface{}{
		"system_prompt": "You are terse.",
		"user_message":  "How are the deploys?",
	})

	require.Equal(t, workflow.StatusOK, res.Status, res.Message)
	assert.Equal(t, "Deploys look healthy.", res.Data.(map[string]interface{})["reply"])

	assert.Equal(t, defaultOpenAIModel, captured["model"])
	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "How are the deploys?", messages[1].(map[string]interface{})["content"])
}

func TestChatbotModule_AskAnthropic(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"content":[{"text":"All clear."}]}`))
	}))
	defer server.Close()

	m := newChatbot(t, map[string]interface{}{"provider": "anthropic", "api_key": "sk-ant"})
	m.endpoints[providerAnthropic] = server.URL

	res := m.Invoke(context.Background(), "ask", map[string]interface{}{
		"system_prompt": "Be brief.",
		"user_message":  "Status?",
	})

	require.Equal(t, workflow.StatusOK, res.Status, res.Message)
	assert.Equal(t, "All clear.", res.Data.(map[string]interface{})["reply"])

	// The system prompt folds into the single user turn.
	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.Equal(t, "Be brief.\n\nStatus?", messages[0].(map[string]interface{})["content"])
	assert.Equal(t, defaultAnthropicModel, captured["model"])
}

func TestChatbotModule_ArgsOverrideConfig(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	m := newChatbot(t, map[string]interface{}{
		"provider":    "mistral",
		"api_key":     "sk-m",
		"model":       "mistral-medium",
		"temperature": 0.2,
	})
	m.endpoints[providerMistral] = server.URL

	res := m.Invoke(context.Background(), "ask", map[string]interface{}{
		"user_message": "hi",
		"model":        "mistral-large",
	})

	require.Equal(t, workflow.StatusOK, res.Status, res.Message)
	assert.Equal(t, "mistral-large", captured["model"])
	assert.Equal(t, 0.2, captured["temperature"])
}

func TestChatbotModule_MissingAPIKey(t *testing.T) {
	m := newChatbot(t, map[string]interface{}{"provider": "openai"})
	res := m.Invoke(context.Background(), "ask", map[string]interface{}{"user_message": "hi"})

	assert.Equal(t, workflow.StatusFail, res.Status)
	assert.Contains(t, res.Message, "API key")
}

func TestChatbotModule_UnsupportedProvider(t *testing.T) {
	m := newChatbot(t, map[string]interface{}{"provider": "bard"})
	res := m.Invoke(context.Background(), "ask", map[string]interface{}{"user_message": "hi"})

	assert.Equal(t, workflow.StatusFail, res.Status)
	assert.Contains(t, res.Message, "unsupported provider")
}

func TestChatbotModule_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	m := newChatbot(t, map[string]interface{}{"provider": "openai", "api_key": "sk-test"})
	m.endpoints[providerOpenAI] = server.URL

	res := m.Invoke(context.Background(), "ask", map[string]interface{}{"user_message": "hi"})
	assert.Equal(t, workflow.StatusFail, res.Status)
	assert.Contains(t, res.Message, "429")
}

func TestChatbotModule_UnknownMethod(t *testing.T) {
	m := newChatbot(t, nil)
	res := m.Invoke(context.Background(), "chat", nil)
	assert.Equal(t, workflow.StatusFail, res.Status)
}
