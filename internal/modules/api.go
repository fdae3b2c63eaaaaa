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
	"net/url"
	"strings"
	"time"

	"github.com/yuribernstein/seyoawe-community/internal/httpclient"
	"github.com/yuribernstein/seyoawe-community/pkg/match"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// Polling modes for blocking_call.
const (
	pollByStatusCode   = "status_code"
	pollByResponseBody = "response_body"
)

// APIModule performs HTTP calls against arbitrary endpoints. A base_url
// in the instance config turns relative urls into absolute ones;
// default_headers apply under per-call headers.
type APIModule struct {
	client  *http.Client
	baseURL string
	headers map[string]interface{}
	logger  *slog.Logger
}

// NewAPIModule builds an api module instance from its merged config.
func NewAPIModule(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
	timeout := time.Duration(argFloat(config, "timeout_seconds", 30) * float64(time.Second))
	return &APIModule{
		client:  httpclient.New(httpclient.Config{Timeout: timeout, UserAgent: "seyoawe"}),
		baseURL: argString(config, "base_url", ""),
		headers: argMap(config, "default_headers"),
		logger:  logger,
	}, nil
}

// Invoke dispatches call and blocking_call.
func (m *APIModule) Invoke(ctx context.Context, method string, args map[string]interface{}) *workflow.Result {
	switch method {
	case "call":
		return m.call(ctx, args)
	case "blocking_call":
		return m.blockingCall(ctx, args)
	default:
		return workflow.Failf("api module has no method %q", method)
	}
}

// call performs one HTTP request. Responses with status >= 400 are fail
// results that still carry the decoded body.
func (m *APIModule) call(ctx context.Context, args map[string]interface{}) *workflow.Result {
	status, body, finalURL, err := m.do(ctx, args)
	if err != nil {
		return workflow.Failf("http request failed: %v", err)
	}

	data := map[string]interface{}{
		"status_code": status,
		"body":        body,
		"url":         finalURL,
	}
	if status >= 400 {
		return &workflow.Result{
			Status:  workflow.StatusFail,
			Message: fmt.Sprintf("endpoint returned %d", status),
			Data:    data,
		}
	}
	return workflow.OK(fmt.Sprintf("endpoint returned %d", status), data)
}

// blockingCall repeats the request until the polling condition holds or
// the overall timeout expires. Request errors during polling are treated
// like any other unmet condition and retried on the next tick.
func (m *APIModule) blockingCall(ctx context.Context, args map[string]interface{}) *workflow.Result {
	interval := time.Duration(argFloat(args, "poll_interval_seconds", 5) * float64(time.Second))
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := time.Duration(argFloat(args, "timeout_minutes", 10) * float64(time.Minute))
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	mode := argString(args, "polling_mode", pollByStatusCode)
	if mode != pollByStatusCode && mode != pollByResponseBody {
		return workflow.Failf("unknown polling_mode %q", mode)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	for attempt := 1; ; attempt++ {
		status, body, finalURL, err := m.do(pollCtx, args)
		if err == nil {
			if done, res := m.pollSatisfied(mode, args, status, body, finalURL); done {
				return res
			}
		} else if pollCtx.Err() == nil {
			m.logger.Warn("poll attempt failed", "attempt", attempt, "error", err)
		}

		select {
		case <-pollCtx.Done():
			elapsed := time.Since(started).Round(time.Second)
			return workflow.Timeoutf("blocking call did not succeed within %s", elapsed)
		case <-time.After(interval):
		}
	}
}

// pollSatisfied checks one poll response against the configured mode.
func (m *APIModule) pollSatisfied(mode string, args map[string]interface{}, status int, body interface{}, finalURL string) (bool, *workflow.Result) {
	data := map[string]interface{}{
		"status_code": status,
		"body":        body,
		"url":         finalURL,
	}

	switch mode {
	case pollByStatusCode:
		expected := int(argFloat(args, "expected_status_code", 200))
		if status == expected {
			return true, workflow.OK(fmt.Sprintf("endpoint reached status %d", status), data)
		}
	case pollByResponseBody:
		cond, err := conditionFromArg(args["success_condition"])
		if err != nil {
			return true, workflow.FailErr(err)
		}
		doc, _ := body.(map[string]interface{})
		if cond.Evaluate(doc, m.logger) {
			return true, workflow.OK("success condition met", data)
		}
	}
	return false, nil
}

// conditionFromArg decodes a success_condition argument into a match
// condition.
func conditionFromArg(v interface{}) (*match.Condition, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("success_condition must be a condition object")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cond match.Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return nil, err
	}
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	return &cond, nil
}

// do performs the HTTP exchange shared by call and blocking_call.
func (m *APIModule) do(ctx context.Context, args map[string]interface{}) (int, interface{}, string, error) {
	httpMethod := strings.ToUpper(argString(args, "method", http.MethodGet))
	target := argString(args, "url", "")
	if target == "" {
		return 0, nil, "", fmt.Errorf("url is required")
	}
	if m.baseURL != "" && !strings.Contains(target, "://") {
		target = strings.TrimRight(m.baseURL, "/") + "/" + strings.TrimLeft(target, "/")
	}

	if params := argMap(args, "params"); len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + q.Encode()
	}

	var bodyReader io.Reader
	contentType := ""
	if jsonBody, ok := args["json"]; ok && jsonBody != nil {
		raw, err := json.Marshal(jsonBody)
		if err != nil {
			return 0, nil, "", fmt.Errorf("cannot encode json body: %w", err)
		}
		bodyReader = strings.NewReader(string(raw))
		contentType = "application/json"
	} else if data := argString(args, "data", ""); data != "" {
		bodyReader = strings.NewReader(data)
	}

	reqCtx := ctx
	if perCall := argFloat(args, "timeout", 0); perCall > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(perCall*float64(time.Second)))
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, httpMethod, target, bodyReader)
	if err != nil {
		return 0, nil, "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range m.headers {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}
	for k, v := range argMap(args, "headers") {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return 0, nil, "", err
	}

	var body interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}
	return resp.StatusCode, body, target, nil
}
