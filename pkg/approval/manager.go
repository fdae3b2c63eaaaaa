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

// Package approval manages the suspended side of human-approval gates:
// uid-indexed pending tickets, idempotent submission, expiry, and the
// single-shot resume callbacks the engine registers when it suspends.
//
// The ticket store is the only state shared across workflow instances; a
// single mutex guards it. Durability is deliberately left to the
// surrounding service.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
)

// State is the lifecycle state of an approval ticket.
type State string

const (
	// StatePending means the ticket awaits a submission.
	StatePending State = "pending"
	// StateApproved means a submission resolved the ticket positively.
	StateApproved State = "approved"
	// StateRejected means a submission resolved the ticket negatively.
	StateRejected State = "rejected"
	// StateExpired means the ticket timed out before any submission.
	StateExpired State = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateExpired
}

// Ticket is one suspended approval gate.
type Ticket struct {
	UID        string                 `json:"uid"`
	WorkflowID string                 `json:"workflow_id"`
	StepID     string                 `json:"step_id"`
	FormSchema map[string]interface{} `json:"form_schema,omitempty"`
	Assignees  []string               `json:"assignees,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	ExpiresAt  time.Time              `json:"expires_at,omitempty"`
	State      State                  `json:"state"`
	Result     map[string]interface{} `json:"result,omitempty"`
}

// Resolution is delivered to the engine's resume callback exactly once.
type Resolution struct {
	// State is the terminal ticket state.
	State State

	// FormData is the submitted form payload, nil on expiry.
	FormData map[string]interface{}
}

// Sentinel errors mapped onto the webform HTTP surface.
var (
	// ErrAlreadyResolved reports a submission against a terminal ticket.
	// The stored result is still returned unchanged.
	ErrAlreadyResolved = errors.New("ticket already resolved")

	// ErrExpired reports a submission against an expired ticket.
	ErrExpired = errors.New("ticket expired")
)

// Manager is the uid-indexed pending form store.
type Manager struct {
	mu        sync.Mutex
	tickets   map[string]*Ticket
	callbacks map[string]func(Resolution)

	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithBaseURL sets the external base used when publishing form URLs.
func WithBaseURL(base string) Option {
	return func(m *Manager) { m.baseURL = base }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty approval manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tickets:   make(map[string]*Ticket),
		callbacks: make(map[string]func(Resolution)),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a pending ticket for a suspended workflow and returns
// the external form URL. A zero timeout means the ticket never expires.
func (m *Manager) Create(uid, workflowID, stepID string, schema map[string]interface{}, assignees []string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tickets[uid]; exists {
		return "", &errors.ValidationError{
			Field:   "uid",
			Message: fmt.Sprintf("ticket for workflow %q already exists", uid),
		}
	}

	now := m.now()
	t := &Ticket{
		UID:        uid,
		WorkflowID: workflowID,
		StepID:     stepID,
		FormSchema: schema,
		Assignees:  assignees,
		CreatedAt:  now,
		State:      StatePending,
	}
	if timeout > 0 {
		t.ExpiresAt = now.Add(timeout)
	}
	m.tickets[uid] = t

	m.logger.Info("approval ticket created",
		"workflow_uid", uid,
		"step_id", stepID,
		"expires_at", t.ExpiresAt,
	)

	return m.formURL(uid), nil
}

// OnResolve registers the engine's single-shot resume callback. If the
// ticket is already terminal the callback fires immediately; this closes
// the race between suspension and a fast submitter.
func (m *Manager) OnResolve(uid string, fn func(Resolution)) error {
	m.mu.Lock()
	t, ok := m.tickets[uid]
	if !ok {
		m.mu.Unlock()
		return &errors.NotFoundError{Resource: "ticket", ID: uid}
	}
	if t.State.Terminal() {
		res := Resolution{State: t.State, FormData: t.Result}
		m.mu.Unlock()
		fn(res)
		return nil
	}
	m.callbacks[uid] = fn
	m.mu.Unlock()
	return nil
}

// Submit resolves a pending ticket with the submitted form payload.
// Submission is idempotent for a given uid: after a terminal state, the
// stored ticket is returned unchanged together with ErrAlreadyResolved
// (or ErrExpired when the ticket timed out first).
//
// A payload with a true "rejected" field resolves the ticket rejected;
// anything else approves.
func (m *Manager) Submit(uid string, submission map[string]interface{}) (*Ticket, error) {
	m.mu.Lock()
	t, ok := m.tickets[uid]
	if !ok {
		m.mu.Unlock()
		return nil, &errors.NotFoundError{Resource: "ticket", ID: uid}
	}
	if t.State == StateExpired {
		snapshot := *t
		m.mu.Unlock()
		return &snapshot, ErrExpired
	}
	if t.State.Terminal() {
		snapshot := *t
		m.mu.Unlock()
		return &snapshot, ErrAlreadyResolved
	}

	state := StateApproved
	if rejected, _ := submission["rejected"].(bool); rejected {
		state = StateRejected
	}
	t.State = state
	t.Result = submission
	snapshot := *t
	cb := m.takeCallback(uid)
	m.mu.Unlock()

	m.logger.Info("approval ticket resolved",
		"workflow_uid", uid,
		"state", string(state),
	)

	if cb != nil {
		cb(Resolution{State: state, FormData: submission})
	}
	return &snapshot, nil
}

// Status returns a copy of the ticket for uid.
func (m *Manager) Status(uid string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[uid]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "ticket", ID: uid}
	}
	snapshot := *t
	return &snapshot, nil
}

// ExpireDue transitions every overdue pending ticket to expired and
// resumes its workflow with a timeout. Returns the number of tickets
// expired. Driven by an external ticker (see Start).
func (m *Manager) ExpireDue() int {
	m.mu.Lock()
	now := m.now()
	var due []*Ticket
	var cbs []func(Resolution)
	for _, t := range m.tickets {
		if t.State == StatePending && !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt) {
			t.State = StateExpired
			due = append(due, t)
			if cb := m.takeCallback(t.UID); cb != nil {
				cbs = append(cbs, cb)
			}
		}
	}
	m.mu.Unlock()

	for _, t := range due {
		m.logger.Warn("approval ticket expired",
			"workflow_uid", t.UID,
			"step_id", t.StepID,
		)
	}
	for _, cb := range cbs {
		cb(Resolution{State: StateExpired})
	}
	return len(due)
}

// Expire forces a pending ticket to expire immediately, regardless of its
// deadline. Used when the owning workflow's wall-clock deadline fires
// during suspension.
func (m *Manager) Expire(uid string) {
	m.mu.Lock()
	t, ok := m.tickets[uid]
	if !ok || t.State.Terminal() {
		m.mu.Unlock()
		return
	}
	t.State = StateExpired
	cb := m.takeCallback(uid)
	m.mu.Unlock()

	if cb != nil {
		cb(Resolution{State: StateExpired})
	}
}

// Start runs the expiry sweep on a ticker until ctx is cancelled.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ExpireDue()
			}
		}
	}()
}

// takeCallback removes and returns the callback for uid. Caller must hold
// the mutex. Single-shot by construction.
func (m *Manager) takeCallback(uid string) func(Resolution) {
	cb := m.callbacks[uid]
	delete(m.callbacks, uid)
	return cb
}

// formURL builds the external form URL for a ticket.
func (m *Manager) formURL(uid string) string {
	if m.baseURL == "" {
		return "/webform/" + uid
	}
	return m.baseURL + "/webform/" + uid
}
