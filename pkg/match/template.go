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
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe matches a single ${path} token.
var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Renderer interpolates ${path} placeholders against a context snapshot.
// Strict mode turns missing paths into errors instead of empty
// substitutions.
type Renderer struct {
	// Strict fails interpolation on the first missing path.
	Strict bool
}

// Render substitutes ${path} placeholders in value against data.
//
// Strings that consist of exactly one placeholder substitute the raw typed
// value, preserving numbers, booleans, and objects. Placeholders embedded
// in a larger string substitute the value's string form (JSON for
// composites). Maps and slices are walked recursively; all other types
// pass through unchanged.
//
// Missing paths substitute the empty string in composite strings and nil
// for whole-string placeholders, unless Strict is set.
func (r Renderer) Render(value interface{}, data map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.renderString(v, data)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			rendered, err := r.Render(val, data)
			if err != nil {
				return nil, fmt.Errorf("in field %q: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			rendered, err := r.Render(val, data)
			if err != nil {
				return nil, fmt.Errorf("at index %d: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// renderString handles a single string value.
func (r Renderer) renderString(s string, data map[string]interface{}) (interface{}, error) {
	if path, ok := wholePlaceholder(s); ok {
		val, found := Lookup(data, path)
		if !found {
			if r.Strict {
				return nil, fmt.Errorf("unresolved template path %q", path)
			}
			return nil, nil
		}
		return val, nil
	}

	var missErr error
	result := placeholderRe.ReplaceAllStringFunc(s, func(token string) string {
		path := token[2 : len(token)-1]
		val, found := Lookup(data, path)
		if !found {
			if r.Strict && missErr == nil {
				missErr = fmt.Errorf("unresolved template path %q", path)
			}
			return ""
		}
		return stringify(val)
	})
	if missErr != nil {
		return nil, missErr
	}
	return result, nil
}

// wholePlaceholder reports whether s is exactly one ${path} token and
// returns the inner path.
func wholePlaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "${") || !strings.HasSuffix(trimmed, "}") {
		return "", false
	}
	inner := trimmed[2 : len(trimmed)-1]
	if strings.ContainsAny(inner, "${}") {
		return "", false
	}
	return inner, true
}

// stringify renders a value for embedding inside a larger string.
// Composites serialize as JSON so embedded objects stay machine-readable.
func stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}
