package util

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvUniversal(t *testing.T) {
	t.Setenv("RUNNER_USER", "alice")
	t.Setenv("RUNNER_PASS", "s3cret")
	os.Unsetenv("RUNNER_UNDEFINED")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"No Vars", "plain", "plain"},
		{"Unix Simple", "user=$RUNNER_USER", "user=alice"},
		{"Unix Brace", "${RUNNER_USER}!", "alice!"},
		{"Windows", "%RUNNER_PASS%", "s3cret"},
		{"Mixed", "$RUNNER_USER:%RUNNER_PASS%", "alice:s3cret"},
		{"Undefined Unix", "v=$RUNNER_UNDEFINED", "v="},
		{"Undefined Windows", "v=%RUNNER_UNDEFINED%", "v="},
		{"Percent Not Var", "50% off", "50% off"},
		{"Template Untouched", "{{token}}", "{{token}}"},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandEnvUniversal(tt.input))
		})
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"Nil", nil, ""},
		{"Short", []byte("hello"), "hello"},
		{"Exact", []byte(strings.Repeat("x", 200)), strings.Repeat("x", 200)},
		{"Long", []byte(strings.Repeat("a", 300)), strings.Repeat("a", 200) + "..."},
		{"Multibyte Exact", []byte(strings.Repeat("世", 200)), strings.Repeat("世", 200)},
		{"Multibyte Over", []byte(strings.Repeat("界", 201)), strings.Repeat("界", 200) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Snippet(tt.input))
		})
	}
}

func TestLooksLikeJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"", false},
		{`{"key": "value"}`, true},
		{`  [1, 2]  `, true},
		{`{}`, true},
		{`{"key":`, false},
		{`hello`, false},
		{`123`, false},
		{`<a></a>`, false},
		{`{"a": 1]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, LooksLikeJSON(tt.input))
		})
	}
}
