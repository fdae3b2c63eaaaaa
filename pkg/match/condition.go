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

package match

import (
	"log/slog"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
)

// Condition is a when-clause: either a leaf {path, operator, value} or a
// compound {any: [...]} / {all: [...]}. Compounds nest arbitrarily.
type Condition struct {
	// Path is the dotted context path for leaf conditions.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Operator names the predicate to apply (see operator constants).
	Operator string `yaml:"operator,omitempty" json:"operator,omitempty"`

	// Value is the expected operand.
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`

	// Any is satisfied when at least one child condition holds.
	Any []Condition `yaml:"any,omitempty" json:"any,omitempty"`

	// All is satisfied when every child condition holds.
	All []Condition `yaml:"all,omitempty" json:"all,omitempty"`
}

// Validate checks the condition tree for structural problems: a node must
// be exactly one of leaf, any, or all.
func (c *Condition) Validate() error {
	kinds := 0
	if c.Operator != "" || c.Path != "" {
		kinds++
	}
	if len(c.Any) > 0 {
		kinds++
	}
	if len(c.All) > 0 {
		kinds++
	}
	if kinds != 1 {
		return &errors.ValidationError{
			Field:      "when",
			Message:    "condition must be exactly one of {path, operator, value}, {any: [...]}, or {all: [...]}",
			Suggestion: "split mixed conditions into nested any/all blocks",
		}
	}
	if kinds == 1 && c.Operator == "" && len(c.Any) == 0 && len(c.All) == 0 {
		return &errors.ValidationError{
			Field:      "when.operator",
			Message:    "leaf condition is missing an operator",
			Suggestion: "add an operator such as equals or exists",
		}
	}
	for i := range c.Any {
		if err := c.Any[i].Validate(); err != nil {
			return err
		}
	}
	for i := range c.All {
		if err := c.All[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate resolves the condition tree against a context snapshot.
// Evaluation short-circuits; an error inside a branch degrades that branch
// to false and is logged rather than propagated.
func (c *Condition) Evaluate(data map[string]interface{}, logger *slog.Logger) bool {
	switch {
	case len(c.Any) > 0:
		for i := range c.Any {
			if c.Any[i].Evaluate(data, logger) {
				return true
			}
		}
		return false
	case len(c.All) > 0:
		for i := range c.All {
			if !c.All[i].Evaluate(data, logger) {
				return false
			}
		}
		return true
	default:
		actual, found := Lookup(data, c.Path)
		result, err := Evaluate(c.Operator, actual, found, c.Value)
		if err != nil {
			if logger != nil {
				logger.Warn("condition branch degraded to false",
					"path", c.Path,
					"operator", c.Operator,
					"error", err,
				)
			}
			return false
		}
		return result
	}
}
