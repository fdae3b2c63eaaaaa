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

// Package errors defines the typed error taxonomy used across the engine.
//
// Errors that cross the step boundary are always translated into a Step
// Result; these types exist so internal callers can branch on the failure
// class with errors.As before that translation happens.
package errors

import (
	"fmt"
	"time"
)

// ValidationError reports a structurally invalid workflow document or
// module manifest. Surfaced before a run starts; the workflow never
// executes.
type ValidationError struct {
	// Field identifies the document field or path that failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError reports a missing resource (workflow, ticket, manifest).
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "ticket", "manifest")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ResolutionError reports a reference to a module, method, or context
// instance that does not exist. It names the unresolved symbol so the
// resulting step failure carries a useful diagnostic.
type ResolutionError struct {
	// Kind is what failed to resolve ("module", "method", "context instance")
	Kind string

	// Symbol is the name that could not be resolved
	Symbol string

	// StepID is the step whose action referenced the symbol, if known
	StepID string
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("step %s: unknown %s %q", e.StepID, e.Kind, e.Symbol)
	}
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Symbol)
}

// DispatchError reports a module method that failed during invocation.
// Retriable by step policy.
type DispatchError struct {
	// Module is the module instance id
	Module string

	// Method is the invoked method name
	Method string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s.%s failed: %v", e.Module, e.Method, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports a blocking poll or approval that expired.
// Terminal for the step that owns it.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "approval", "blocking poll")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// DelegationError reports a remote fetch or child-engine failure. It is
// surfaced as the delegating step's result.
type DelegationError struct {
	// Repo is the remote repository URL (credentials stripped)
	Repo string

	// Stage is where delegation failed ("clone", "load", "run")
	Stage string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DelegationError) Error() string {
	return fmt.Sprintf("delegation %s failed for %s: %v", e.Stage, e.Repo, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DelegationError) Unwrap() error {
	return e.Cause
}

// ConfigError reports configuration problems: missing settings, bad
// values, unreadable config files.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "modules_dir")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
