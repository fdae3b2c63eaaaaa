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
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Operator names accepted by Evaluate.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
	OpIn             = "in"
	OpNotIn          = "not_in"
	OpMatchesRegex   = "matches_regex"
	OpExists         = "exists"
	OpNotExists      = "not_exists"
)

// Evaluate applies a binary predicate to (actual, expected). The found
// flag reports whether the actual value was present at all, which is what
// exists/not_exists inspect.
//
// Ordering operators are type-strict: comparing mismatched types fails
// closed and returns false without error.
func Evaluate(operator string, actual interface{}, found bool, expected interface{}) (bool, error) {
	switch operator {
	case OpExists:
		return found, nil
	case OpNotExists:
		return !found, nil
	case OpEquals:
		return looseEqual(actual, expected), nil
	case OpNotEquals:
		return !looseEqual(actual, expected), nil
	case OpContains:
		return containsValue(actual, expected)
	case OpNotContains:
		ok, err := containsValue(actual, expected)
		return !ok && err == nil, err
	case OpIn:
		return containsValue(expected, actual)
	case OpNotIn:
		ok, err := containsValue(expected, actual)
		return !ok && err == nil, err
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		return compareOrdered(operator, actual, expected), nil
	case OpMatchesRegex:
		pattern, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("matches_regex expects a string pattern, got %T", expected)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
		return re.MatchString(fmt.Sprintf("%v", actual)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

// looseEqual compares two JSON-shaped values, treating all numeric types
// as equivalent (YAML decodes ints, JSON decodes float64).
func looseEqual(a, b interface{}) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// containsValue implements contains for strings and arrays: a string
// contains a substring, an array contains a member.
func containsValue(haystack, needle interface{}) (bool, error) {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string expects a string, got %T", needle)
		}
		return strings.Contains(h, n), nil
	case []interface{}:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("contains expects a string or array, got %T", haystack)
	}
}

// compareOrdered handles the four ordering operators. Numbers compare as
// floats, strings lexically; any type mismatch fails closed.
func compareOrdered(operator string, actual, expected interface{}) bool {
	if af, ok := toFloat(actual); ok {
		ef, ok := toFloat(expected)
		if !ok {
			return false
		}
		switch operator {
		case OpGreaterThan:
			return af > ef
		case OpLessThan:
			return af < ef
		case OpGreaterOrEqual:
			return af >= ef
		case OpLessOrEqual:
			return af <= ef
		}
		return false
	}

	as, aok := actual.(string)
	es, eok := expected.(string)
	if !aok || !eok {
		return false
	}
	switch operator {
	case OpGreaterThan:
		return as > es
	case OpLessThan:
		return as < es
	case OpGreaterOrEqual:
		return as >= es
	case OpLessOrEqual:
		return as <= es
	}
	return false
}

// toFloat normalizes the numeric types produced by YAML and JSON decoding.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
