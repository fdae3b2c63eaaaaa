package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_WholePlaceholderPreservesType(t *testing.T) {
	data := map[string]interface{}{
		"x": map[string]interface{}{"a": 1},
		"n": 42,
		"b": true,
	}
	r := Renderer{}

	got, err := r.Render("${x}", data)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1}, got, "standalone placeholder keeps the raw object")

	got, err = r.Render("${n}", data)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = r.Render("${b}", data)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestRenderer_EmbeddedPlaceholderSerializes(t *testing.T) {
	data := map[string]interface{}{
		"x":    map[string]interface{}{"a": 1},
		"name": "world",
	}
	r := Renderer{}

	got, err := r.Render("payload=${x}", data)
	require.NoError(t, err)
	assert.Equal(t, `payload={"a":1}`, got, "embedded object renders as JSON")

	got, err = r.Render("hello ${name}!", data)
	require.NoError(t, err)
	assert.Equal(t, "hello world!", got)
}

func TestRenderer_MissingPaths(t *testing.T) {
	data := map[string]interface{}{}

	r := Renderer{}
	got, err := r.Render("value: ${nope}", data)
	require.NoError(t, err)
	assert.Equal(t, "value: ", got, "missing embedded path becomes empty string")

	got, err = r.Render("${nope}", data)
	require.NoError(t, err)
	assert.Nil(t, got, "missing whole-string path becomes nil")
}

func TestRenderer_StrictMode(t *testing.T) {
	r := Renderer{Strict: true}

	_, err := r.Render("value: ${nope}", map[string]interface{}{})
	assert.Error(t, err)

	_, err = r.Render("${nope}", map[string]interface{}{})
	assert.Error(t, err)
}

func TestRenderer_RecursesIntoComposites(t *testing.T) {
	data := map[string]interface{}{
		"steps": map[string]interface{}{
			"a": map[string]interface{}{"data": map[string]interface{}{"value": "hello"}},
		},
	}
	r := Renderer{}

	input := map[string]interface{}{
		"message": "${steps.a.data.value}",
		"nested": []interface{}{
			"prefix ${steps.a.data.value}",
			7,
		},
		"untouched": 1.5,
	}

	got, err := r.Render(input, data)
	require.NoError(t, err)

	m := got.(map[string]interface{})
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, []interface{}{"prefix hello", 7}, m["nested"])
	assert.Equal(t, 1.5, m["untouched"])
}

func TestWholePlaceholder(t *testing.T) {
	tests := []struct {
		in     string
		path   string
		whole  bool
	}{
		{"${a.b}", "a.b", true},
		{"  ${a.b}  ", "a.b", true},
		{"x${a.b}", "", false},
		{"${a}${b}", "", false},
		{"plain", "", false},
	}
	for _, tt := range tests {
		path, whole := wholePlaceholder(tt.in)
		if whole != tt.whole || path != tt.path {
			t.Errorf("wholePlaceholder(%q) = (%q, %v), want (%q, %v)", tt.in, path, whole, tt.path, tt.whole)
		}
	}
}
