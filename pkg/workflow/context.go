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

package workflow

import (
	"context"
	"encoding/json"

	"github.com/yuribernstein/seyoawe-community/pkg/match"
)

// Module is the uniform capability every workflow module exposes.
// Method names are late-bound; the manifest is the authority on which
// names and arguments are valid.
type Module interface {
	// Invoke calls a named method with a late-bound argument map and
	// returns a Step Result. Implementations never panic across this
	// boundary; the dispatcher wraps panics as fail results.
	Invoke(ctx context.Context, method string, args map[string]interface{}) *Result
}

// Context is the per-run mutable key/value state. The engine is the sole
// writer; methods are deliberately not synchronized (§ single-writer
// contract). Module handles bound via Bind live in a reserved namespace
// that GetAll never exports.
type Context struct {
	values   map[string]interface{}
	bindings map[string]Module
}

// NewContext creates an empty workflow context.
func NewContext() *Context {
	return &Context{
		values:   make(map[string]interface{}),
		bindings: make(map[string]Module),
	}
}

// Get resolves a dotted path against the context and returns the
// addressed value. A miss at any level returns (nil, false).
func (c *Context) Get(path string) (interface{}, bool) {
	return match.Lookup(c.values, path)
}

// Set writes a top-level key. Values must be JSON-compatible; module
// handles go through Bind instead.
func (c *Context) Set(key string, value interface{}) {
	c.values[key] = value
}

// SetStep records a step result under steps.<key>. When two steps
// register the same key (via register_as) the last writer wins.
func (c *Context) SetStep(key string, result *Result) {
	steps, ok := c.values["steps"].(map[string]interface{})
	if !ok {
		steps = make(map[string]interface{})
		c.values["steps"] = steps
	}
	steps[key] = result.AsMap()
}

// StepResult returns the recorded result map for a step key.
func (c *Context) StepResult(key string) (map[string]interface{}, bool) {
	v, ok := c.Get("steps." + key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

// GetAll returns a deep snapshot of the context suitable for template
// rendering. Mutating the snapshot never affects engine state. Bound
// module handles are not exported.
func (c *Context) GetAll() map[string]interface{} {
	raw, err := json.Marshal(c.values)
	if err != nil {
		// Values are JSON-shaped by contract; a marshal failure means a
		// caller injected something exotic. Return an empty snapshot
		// rather than corrupt state.
		return map[string]interface{}{}
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return map[string]interface{}{}
	}
	return snapshot
}

// Bind stores a non-serializable module handle under the reserved
// namespace. Handles are addressable by Binding but invisible to GetAll.
func (c *Context) Bind(id string, m Module) {
	c.bindings[id] = m
}

// Binding returns the module handle bound under id.
func (c *Context) Binding(id string) (Module, bool) {
	m, ok := c.bindings[id]
	return m, ok
}

// WorkflowUID returns the uid assigned at workflow start, if set.
func (c *Context) WorkflowUID() string {
	uid, _ := c.values["workflow_uid"].(string)
	return uid
}
