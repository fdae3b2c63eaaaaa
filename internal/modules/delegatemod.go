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

	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// DelegateModule exposes remote delegation as an action target, so a
// document can call context.<id>.run instead of declaring a delegate
// step. Both paths share the same delegator.
type DelegateModule struct {
	delegator workflow.Delegator
	repo      string
	branch    string
	token     string
	logger    *slog.Logger
}

// NewDelegateModule builds a delegate module instance. Repo, branch, and
// token may be pinned in the instance config and overridden per call.
func NewDelegateModule(config map[string]interface{}, delegator workflow.Delegator, logger *slog.Logger) (workflow.Module, error) {
	return &DelegateModule{
		delegator: delegator,
		repo:      argString(config, "repo", ""),
		branch:    argString(config, "branch", ""),
		token:     argString(config, "token", ""),
		logger:    logger,
	}, nil
}

// Invoke dispatches the run method.
func (m *DelegateModule) Invoke(ctx context.Context, method string, args map[string]interface{}) *workflow.Result {
	if method != "run" {
		return workflow.Failf("delegate module has no method %q", method)
	}
	if m.delegator == nil {
		return workflow.Failf("no delegator configured")
	}

	step := &workflow.Step{
		ID:     "delegate",
		Type:   workflow.StepTypeDelegate,
		Repo:   argString(args, "repo", m.repo),
		Branch: argString(args, "branch", m.branch),
		Path:   argString(args, "path", ""),
		Token:  argString(args, "token", m.token),
	}
	if step.Repo == "" || step.Path == "" {
		return workflow.Failf("repo and path are required")
	}
	return m.delegator.Delegate(ctx, step, argMap(args, "context"))
}
