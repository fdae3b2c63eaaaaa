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

package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yuribernstein/seyoawe-community/pkg/approval"
	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// RunStatusRunning marks a run the daemon has accepted but not finished.
const RunStatusRunning = "running"

// RunState is the daemon's view of one accepted run.
type RunState struct {
	UID        string    `json:"workflow_uid"`
	Workflow   string    `json:"workflow"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Runner starts engines in their own goroutines and tracks their states.
// Each accepted document gets a fresh engine; the approval manager and
// module factory are shared across runs.
type Runner struct {
	base      context.Context
	factory   workflow.ModuleFactory
	approvals *approval.Manager
	delegator workflow.Delegator
	env       map[string]interface{}
	logger    *slog.Logger

	mu   sync.RWMutex
	runs map[string]*RunState
	wg   sync.WaitGroup
}

// NewRunner creates a runner over the daemon's shared collaborators.
// Runs are bound to base, so cancelling it interrupts every active run.
func NewRunner(base context.Context, factory workflow.ModuleFactory, approvals *approval.Manager, delegator workflow.Delegator, env map[string]interface{}, logger *slog.Logger) *Runner {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		base:      base,
		factory:   factory,
		approvals: approvals,
		delegator: delegator,
		env:       env,
		logger:    logger,
		runs:      make(map[string]*RunState),
	}
}

// Submit accepts a validated document, starts it asynchronously, and
// returns the run uid immediately.
func (r *Runner) Submit(doc *workflow.Document, payload map[string]interface{}) string {
	engine := workflow.NewEngine(doc,
		workflow.WithLogger(r.logger),
		workflow.WithFactory(r.factory),
		workflow.WithApprovals(r.approvals),
		workflow.WithDelegator(r.delegator),
		workflow.WithEnv(r.env),
		workflow.WithPayload(payload),
	)
	uid := engine.UID()

	r.mu.Lock()
	r.runs[uid] = &RunState{
		UID:       uid,
		Workflow:  doc.Workflow.Name,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		outcome, err := engine.Run(r.base)
		status := workflow.RunFailed
		if err != nil {
			r.logger.Error("run aborted before step one", "workflow_uid", uid, "error", err)
		} else {
			status = outcome.Status
		}

		r.mu.Lock()
		if state, ok := r.runs[uid]; ok {
			state.Status = status
			state.FinishedAt = time.Now()
		}
		r.mu.Unlock()
	}()

	return uid
}

// Status returns a copy of the run state for uid.
func (r *Runner) Status(uid string) (*RunState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.runs[uid]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow run", ID: uid}
	}
	snapshot := *state
	return &snapshot, nil
}

// Wait blocks until every accepted run has finished. Used at shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
