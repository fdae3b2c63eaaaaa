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

package delegate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
)

// evalLogic combines run-condition results with a boolean expression over
// their indices, e.g. "0 and (1 or 2)". The expression grammar is closed:
// only decimal indices, and/or/not, and parentheses are accepted. Anything
// else is a validation error before evaluation is attempted.
func evalLogic(logic string, results []bool) (bool, error) {
	rewritten, err := rewriteLogic(logic, len(results))
	if err != nil {
		return false, err
	}

	env := make(map[string]interface{}, len(results))
	for i, r := range results {
		env[fmt.Sprintf("c%d", i)] = r
	}

	program, err := expr.Compile(rewritten, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, &errors.ValidationError{
			Field:   "condition_logic",
			Message: fmt.Sprintf("cannot compile %q: %v", logic, err),
		}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, errors.Wrapf(err, "evaluating condition_logic %q", logic)
	}
	return out.(bool), nil
}

// rewriteLogic validates the token stream and rewrites condition indices
// to the c<N> identifiers the compiled environment exposes.
func rewriteLogic(logic string, n int) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(logic) {
		ch := logic[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '(' || ch == ')':
			out.WriteByte(ch)
			i++
		case ch >= '0' && ch <= '9':
			j := i
			for j < len(logic) && logic[j] >= '0' && logic[j] <= '9' {
				j++
			}
			idx, _ := strconv.Atoi(logic[i:j])
			if idx >= n {
				return "", &errors.ValidationError{
					Field:      "condition_logic",
					Message:    fmt.Sprintf("condition index %d is out of range (have %d run conditions)", idx, n),
					Suggestion: "indices are zero-based positions in run_conditions",
				}
			}
			fmt.Fprintf(&out, "c%d", idx)
			i = j
		case isWordChar(ch):
			j := i
			for j < len(logic) && isWordChar(logic[j]) {
				j++
			}
			word := logic[i:j]
			switch word {
			case "and", "or", "not":
				out.WriteString(word)
			default:
				return "", &errors.ValidationError{
					Field:      "condition_logic",
					Message:    fmt.Sprintf("unexpected token %q", word),
					Suggestion: "only condition indices, and, or, not, and parentheses are allowed",
				}
			}
			i = j
		default:
			return "", &errors.ValidationError{
				Field:   "condition_logic",
				Message: fmt.Sprintf("unexpected character %q", string(ch)),
			}
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", &errors.ValidationError{
			Field:   "condition_logic",
			Message: "expression is empty",
		}
	}
	return out.String(), nil
}

func isWordChar(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
