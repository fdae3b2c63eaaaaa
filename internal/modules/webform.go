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
	"log/slog"
	"strings"

	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// WebformModule publishes a form URL for a running workflow. It returns a
// waiting result; the engine's approval machinery (or an external
// watcher) handles the actual suspension.
type WebformModule struct {
	baseURL string
	logger  *slog.Logger
}

// NewWebformModule builds a webform module instance.
func NewWebformModule(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
	return &WebformModule{
		baseURL: strings.TrimRight(argString(config, "base_url", ""), "/"),
		logger:  logger,
	}, nil
}

// Invoke dispatches approval_form.
func (m *WebformModule) Invoke(_ context.Context, method string, args map[string]interface{}) *workflow.Result {
	if method != "approval_form" {
		return workflow.Failf("webform module has no method %q", method)
	}
	uid := argString(args, "uid", "")
	if uid == "" {
		return workflow.Failf("uid is required")
	}
	return &workflow.Result{
		Status:  workflow.StatusWaiting,
		Message: "form published",
		Data:    map[string]interface{}{"form_url": m.baseURL + "/webform/" + uid},
	}
}
