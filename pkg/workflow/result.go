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
	"encoding/json"
	"fmt"
)

// Status is the discriminator of a Step Result.
type Status string

const (
	// StatusOK indicates the step completed successfully.
	StatusOK Status = "ok"
	// StatusFail indicates the step failed; retry and failure policy apply.
	StatusFail Status = "fail"
	// StatusSkipped indicates the step's when clause evaluated false.
	StatusSkipped Status = "skipped"
	// StatusWaiting indicates the step suspended the workflow pending input.
	StatusWaiting Status = "waiting_for_input"
	// StatusTimeout indicates a blocking operation expired. Terminal.
	StatusTimeout Status = "timeout"
)

// Result is the standardized {status, message, data} tuple every module
// returns and the engine records under steps.<id>.
type Result struct {
	Status  Status      `json:"status" yaml:"status"`
	Message string      `json:"message,omitempty" yaml:"message,omitempty"`
	Data    interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// OK builds a success result.
func OK(message string, data interface{}) *Result {
	return &Result{Status: StatusOK, Message: message, Data: data}
}

// Failf builds a failure result with a formatted message.
func Failf(format string, args ...interface{}) *Result {
	return &Result{Status: StatusFail, Message: fmt.Sprintf(format, args...)}
}

// FailErr builds a failure result from an error.
func FailErr(err error) *Result {
	return &Result{Status: StatusFail, Message: err.Error()}
}

// Skipped builds a skipped result with the given reason.
func Skipped(reason string) *Result {
	return &Result{Status: StatusSkipped, Message: reason, Data: map[string]interface{}{"reason": reason}}
}

// Timeoutf builds a timeout result with a formatted reason.
func Timeoutf(format string, args ...interface{}) *Result {
	return &Result{Status: StatusTimeout, Message: fmt.Sprintf(format, args...)}
}

// Terminal reports whether the result ends the step for failure-routing
// purposes.
func (r *Result) Terminal() bool {
	return r.Status == StatusFail || r.Status == StatusTimeout
}

// Normalize coerces an arbitrary module return value into a Result.
// A *Result is forwarded unchanged; a map shaped like a Step Result is
// converted; anything else is wrapped as {status: ok, data: value}.
func Normalize(value interface{}) *Result {
	switch v := value.(type) {
	case nil:
		return OK("", nil)
	case *Result:
		return v
	case Result:
		return &v
	case map[string]interface{}:
		if status, ok := v["status"].(string); ok && validStatus(Status(status)) {
			res := &Result{Status: Status(status)}
			if msg, ok := v["message"].(string); ok {
				res.Message = msg
			}
			res.Data = v["data"]
			return res
		}
		return OK("", v)
	default:
		return OK("", v)
	}
}

// validStatus reports whether s is one of the five wire statuses.
func validStatus(s Status) bool {
	switch s {
	case StatusOK, StatusFail, StatusSkipped, StatusWaiting, StatusTimeout:
		return true
	}
	return false
}

// AsMap converts the result to a JSON-shaped map suitable for context
// storage and template lookup.
func (r *Result) AsMap() map[string]interface{} {
	out := map[string]interface{}{
		"status": string(r.Status),
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	out["data"] = toJSONShape(r.Data)
	return out
}

// toJSONShape deep-converts a value into plain JSON types
// (map[string]interface{}, []interface{}, float64, string, bool, nil).
func toJSONShape(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var shaped interface{}
	if err := json.Unmarshal(raw, &shaped); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return shaped
}
