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

package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yuribernstein/seyoawe-community/internal/httpclient"
	"github.com/yuribernstein/seyoawe-community/internal/log"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// Chat providers and their default models.
const (
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"
	providerMistral   = "mistral"
	providerGrok      = "grok"

	defaultOpenAIModel    = "gpt-4"
	defaultAnthropicModel = "claude-3-opus-20240229"
	defaultMistralModel   = "mistral-medium"
)

// ChatbotModule asks a hosted LLM a single question. Provider, model,
// temperature, and api_key come from the call arguments, falling back to
// the instance config.
type ChatbotModule struct {
	client    *http.Client
	config    map[string]interface{}
	endpoints map[string]string
	logger    *slog.Logger
}

// NewChatbotModule builds a chatbot module instance.
func NewChatbotModule(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
	return &ChatbotModule{
		client: httpclient.New(httpclient.Config{UserAgent: "seyoawe"}),
		config: config,
		endpoints: map[string]string{
			providerOpenAI:    "https://api.openai.com/v1/chat/completions",
			providerAnthropic: "https://api.anthropic.com/v1/messages",
			providerMistral:   "https://api.mistral.ai/v1/chat/completions",
		},
		logger: logger,
	}, nil
}

// Invoke dispatches ask.
func (m *ChatbotModule) Invoke(ctx context.Context, method string, args map[string]interface{}) *workflow.Result {
	if method != "ask" {
		return workflow.Failf("chatbot module has no method %q", method)
	}
	return m.ask(ctx, args)
}

// ask sends one prompt to the configured provider and returns the reply.
func (m *ChatbotModule) ask(ctx context.Context, args map[string]interface{}) *workflow.Result {
	provider := strings.ToLower(m.setting(args, "provider", ""))
	apiKey := m.setting(args, "api_key", "")
	system := argString(args, "system_prompt", "")
	message := argString(args, "user_message", "")

	temperature := argFloat(args, "temperature", argFloat(m.config, "temperature", 0.7))

	m.logger.Info("chatbot request", "provider", provider, "token", log.SanitizeToken(apiKey))
	switch provider {
	case providerOpenAI, providerAnthropic, providerMistral:
		if apiKey == "" {
			return workflow.Failf("missing API key for provider %q", provider)
		}
	}

	switch provider {
	case providerOpenAI:
		model := m.setting(args, "model", defaultOpenAIModel)
		return m.askChatCompletions(ctx, provider, model, system, message, temperature, apiKey)
	case providerMistral:
		model := m.setting(args, "model", defaultMistralModel)
		return m.askChatCompletions(ctx, provider, model, system, message, temperature, apiKey)
	case providerAnthropic:
		model := m.setting(args, "model", defaultAnthropicModel)
		return m.askAnthropic(ctx, model, system, message, temperature, apiKey)
	case providerGrok:
		return workflow.Failf("the Grok API is not publicly available")
	default:
		return workflow.Failf("unsupported provider %q", provider)
	}
}

// setting reads a string from the call arguments, falling back to the
// instance config.
func (m *ChatbotModule) setting(args map[string]interface{}, key, fallback string) string {
	return argString(args, key, argString(m.config, key, fallback))
}

// askChatCompletions covers the OpenAI-shaped chat completions endpoints
// (OpenAI and Mistral share the wire format).
func (m *ChatbotModule) askChatCompletions(ctx context.Context, provider, model, system, message string, temperature float64, apiKey string) *workflow.Result {
	payload := map[string]interface{}{
		"model":       model,
		"temperature": temperature,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": message},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	body, res := m.post(ctx, m.endpoints[provider], headers, payload)
	if res != nil {
		return res
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil || len(decoded.Choices) == 0 {
		return workflow.Failf("unexpected %s response shape", provider)
	}
	return workflow.OK(fmt.Sprintf("%s chat completed", provider), map[string]interface{}{
		"reply": strings.TrimSpace(decoded.Choices[0].Message.Content),
	})
}

// askAnthropic calls the Anthropic messages endpoint; the system prompt
// is folded into the user turn.
func (m *ChatbotModule) askAnthropic(ctx context.Context, model, system, message string, temperature float64, apiKey string) *workflow.Result {
	payload := map[string]interface{}{
		"model":       model,
		"temperature": temperature,
		"max_tokens":  1000,
		"messages": []map[string]string{
			{"role": "user", "content": system + "\n\n" + message},
		},
	}
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": "2023-06-01",
	}

	body, res := m.post(ctx, m.endpoints[providerAnthropic], headers, payload)
	if res != nil {
		return res
	}

	var decoded struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil || len(decoded.Content) == 0 {
		return workflow.Failf("unexpected anthropic response shape")
	}
	return workflow.OK("anthropic chat completed", map[string]interface{}{
		"reply": strings.TrimSpace(decoded.Content[0].Text),
	})
}

// post sends the JSON payload and returns the raw body, or a fail result
// on transport and status errors.
func (m *ChatbotModule) post(ctx context.Context, url string, headers map[string]string, payload map[string]interface{}) ([]byte, *workflow.Result) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, workflow.Failf("cannot encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(raw)))
	if err != nil {
		return nil, workflow.Failf("cannot build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, workflow.Failf("chatbot request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, workflow.Failf("cannot read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, workflow.Failf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
