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

// Package match implements the reference engine: dotted-path lookup
// against JSON-shaped data, the comparison operators used by conditionals
// and polling predicates, ${...} template interpolation, and when-clause
// evaluation.
package match

import (
	"strconv"
	"strings"
)

// Lookup resolves a dotted path against JSON-shaped data and returns the
// addressed sub-value. Segments are separated by dots; numeric segments
// index into arrays and double-quoted segments address keys that contain
// dots (e.g. `labels."app.kubernetes.io/name"`).
//
// A miss at any level returns (nil, false), never an error.
func Lookup(data interface{}, path string) (interface{}, bool) {
	segments, err := splitSegments(path)
	if err != nil || len(segments) == 0 {
		return nil, false
	}

	current := data
	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]interface{}:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// splitSegments splits a dotted path into segments, honoring double-quoted
// segments that may themselves contain dots.
func splitSegments(path string) ([]string, error) {
	var segments []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == '.' && !inQuotes:
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, errUnterminatedQuote
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}

	return segments, nil
}

var errUnterminatedQuote = pathError("unterminated quoted segment")

type pathError string

func (e pathError) Error() string { return string(e) }
