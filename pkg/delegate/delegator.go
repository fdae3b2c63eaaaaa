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

// Package delegate fetches a workflow from a remote git repository and
// runs it as a child of the delegating run. The child gets a snapshot of
// the parent context under the parent key, never a live reference.
package delegate

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/yuribernstein/seyoawe-community/internal/log"
	"github.com/yuribernstein/seyoawe-community/pkg/approval"
	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// Delegator clones delegation repos and runs their workflows through a
// child engine. Implements workflow.Delegator.
type Delegator struct {
	factory   workflow.ModuleFactory
	approvals *approval.Manager
	logger    *slog.Logger
	scratch   string
	env       map[string]interface{}
}

// Option configures a Delegator.
type Option func(*Delegator)

// WithScratchDir sets the base directory clones are created under.
// Defaults to the system temp directory.
func WithScratchDir(dir string) Option {
	return func(d *Delegator) { d.scratch = dir }
}

// WithLogger sets the delegator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Delegator) { d.logger = logger }
}

// WithEnv passes deployment facts through to child runs.
func WithEnv(env map[string]interface{}) Option {
	return func(d *Delegator) { d.env = env }
}

// New creates a delegator. Child engines share the parent deployment's
// module factory and approval manager.
func New(factory workflow.ModuleFactory, approvals *approval.Manager, opts ...Option) *Delegator {
	d := &Delegator{
		factory:   factory,
		approvals: approvals,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Delegate evaluates the step's run conditions against the parent
// snapshot, clones the repo, and runs the named workflow to completion.
// Unmet conditions produce a skipped result; everything that goes wrong
// after that is a fail result carrying the stage that broke.
func (d *Delegator) Delegate(ctx context.Context, step *workflow.Step, parentSnapshot map[string]interface{}) *workflow.Result {
	logger := d.logger.With(log.StepIDKey, step.ID, "repo", log.SanitizeToken(step.Repo))

	met, err := d.conditionsMet(step, parentSnapshot, logger)
	if err != nil {
		return workflow.FailErr(err)
	}
	if !met {
		logger.Info("delegation conditions not met")
		return workflow.Skipped("run conditions not met")
	}

	dir, err := os.MkdirTemp(d.scratch, "sawe-delegate-*")
	if err != nil {
		return workflow.Failf("cannot create scratch directory: %v", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Warn("scratch cleanup failed", "dir", dir, "error", rmErr)
		}
	}()

	if err := d.clone(ctx, step, dir); err != nil {
		return workflow.FailErr(&errors.DelegationError{Repo: step.Repo, Stage: "clone", Cause: err})
	}

	raw, err := os.ReadFile(filepath.Join(dir, filepath.Clean(step.Path)))
	if err != nil {
		return workflow.FailErr(&errors.DelegationError{Repo: step.Repo, Stage: "read", Cause: err})
	}
	doc, err := workflow.Parse(raw)
	if err != nil {
		return workflow.FailErr(&errors.DelegationError{Repo: step.Repo, Stage: "validate", Cause: err})
	}

	// The child sees the parent's trigger payload as its own, so
	// ${payload.*} references resolve identically on both sides.
	payload, _ := parentSnapshot["payload"].(map[string]interface{})

	child := workflow.NewEngine(doc,
		workflow.WithLogger(d.logger),
		workflow.WithFactory(d.factory),
		workflow.WithApprovals(d.approvals),
		workflow.WithDelegator(d),
		workflow.WithEnv(d.env),
		workflow.WithPayload(payload),
		workflow.WithParentContext(parentSnapshot),
	)
	logger.Info("delegated workflow starting",
		"workflow", doc.Workflow.Name,
		"child_uid", child.UID(),
	)

	outcome, err := child.Run(ctx)
	if err != nil {
		return workflow.FailErr(&errors.DelegationError{Repo: step.Repo, Stage: "run", Cause: err})
	}

	data := map[string]interface{}{
		"workflow_uid": outcome.UID,
		"workflow":     doc.Workflow.Name,
		"status":       outcome.Status,
	}
	if outcome.Status != workflow.RunSucceeded {
		return &workflow.Result{
			Status:  workflow.StatusFail,
			Message: "delegated workflow failed",
			Data:    data,
		}
	}
	return workflow.OK("delegated workflow completed", data)
}

// conditionsMet evaluates run_conditions and combines them through
// condition_logic. Without logic, every condition must hold.
func (d *Delegator) conditionsMet(step *workflow.Step, snapshot map[string]interface{}, logger *slog.Logger) (bool, error) {
	if len(step.RunConditions) == 0 {
		return true, nil
	}
	results := make([]bool, len(step.RunConditions))
	for i := range step.RunConditions {
		results[i] = step.RunConditions[i].Evaluate(snapshot, logger)
	}
	if step.ConditionLogic == "" {
		for _, r := range results {
			if !r {
				return false, nil
			}
		}
		return true, nil
	}
	return evalLogic(step.ConditionLogic, results)
}

// clone fetches the delegation repo into dir. Remote http(s) repos clone
// shallow; local paths clone fully since file transports reject depth.
func (d *Delegator) clone(ctx context.Context, step *workflow.Step, dir string) error {
	opts := &git.CloneOptions{
		URL:          step.Repo,
		SingleBranch: true,
	}
	if step.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(step.Branch)
	}
	if strings.HasPrefix(step.Repo, "http://") || strings.HasPrefix(step.Repo, "https://") {
		opts.Depth = 1
		if step.Token != "" {
			opts.Auth = &githttp.BasicAuth{Username: step.Token, Password: "x-oauth-basic"}
		}
	}
	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	return err
}
