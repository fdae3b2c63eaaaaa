package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		actual   interface{}
		found    bool
		expected interface{}
		want     bool
	}{
		{"equals strings", OpEquals, "ok", true, "ok", true},
		{"equals mixed numerics", OpEquals, 3, true, float64(3), true},
		{"equals mismatch", OpEquals, "ok", true, "fail", false},
		{"not_equals", OpNotEquals, 1, true, 2, true},
		{"contains string", OpContains, "hello world", true, "world", true},
		{"contains array", OpContains, []interface{}{"a", "b"}, true, "b", true},
		{"contains array numeric", OpContains, []interface{}{1, 2}, true, float64(2), true},
		{"not_contains", OpNotContains, []interface{}{"a"}, true, "b", true},
		{"in", OpIn, "staging", true, []interface{}{"staging", "prod"}, true},
		{"in string haystack", OpIn, "tag", true, "a tagged string", true},
		{"not_in", OpNotIn, "dev", true, []interface{}{"staging", "prod"}, true},
		{"greater_than numbers", OpGreaterThan, 5, true, 3, true},
		{"greater_than strings", OpGreaterThan, "b", true, "a", true},
		{"greater_than mismatched types fails closed", OpGreaterThan, "5", true, 3, false},
		{"less_than", OpLessThan, 2.5, true, 3, true},
		{"greater_or_equal boundary", OpGreaterOrEqual, 3, true, 3.0, true},
		{"less_or_equal", OpLessOrEqual, 3, true, 3, true},
		{"matches_regex", OpMatchesRegex, "run-0042", true, `^run-\d+$`, true},
		{"matches_regex no match", OpMatchesRegex, "oops", true, `^run-\d+$`, false},
		{"exists", OpExists, "anything", true, nil, true},
		{"exists on miss", OpExists, nil, false, nil, false},
		{"not_exists", OpNotExists, nil, false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.operator, tt.actual, tt.found, tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate("looks_like", "a", true, "b")
	assert.Error(t, err, "unknown operator must error")

	_, err = Evaluate(OpMatchesRegex, "x", true, "([")
	assert.Error(t, err, "invalid regex must error")

	_, err = Evaluate(OpContains, 42, true, "x")
	assert.Error(t, err, "contains on a number must error")
}
