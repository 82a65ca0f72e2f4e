package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "api_key: {{.API_KEY}}",
			env:   map[string]string{"API_KEY": "sk-local"},
			want:  "api_key: sk-local",
		},
		{
			name:  "multiple variables in one value",
			input: "base_url: {{.SCHEME}}://{{.HOST}}:{{.PORT}}/v1",
			env:   map[string]string{"SCHEME": "http", "HOST": "127.0.0.1", "PORT": "8080"},
			want:  "base_url: http://127.0.0.1:8080/v1",
		},
		{
			name:  "missing variable expands to empty",
			input: "api_key: {{.NOT_SET_ANYWHERE}}",
			env:   map[string]string{},
			want:  "api_key: ",
		},
		{
			name:  "literal dollar signs pass through",
			input: "api_key: pa$$word$1",
			env:   map[string]string{},
			want:  "api_key: pa$$word$1",
		},
		{
			name:  "shell-style ${VAR} is not expanded",
			input: "workspace: ${HOME}/projects",
			env:   map[string]string{"HOME": "/root"},
			want:  "workspace: ${HOME}/projects",
		},
		{
			name:  "no template syntax passes through unchanged",
			input: "llm:\n  model: devstral\n",
			env:   map[string]string{},
			want:  "llm:\n  model: devstral\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(got))
		})
	}
}

// Malformed templates must pass through untouched so yaml.Unmarshal can
// report the real problem instead of a template error hiding it.
func TestExpandEnvMalformedTemplatePassesThrough(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unclosed action", "api_key: {{.API_KEY"},
		{"bare braces", "api_key: {{"},
		{"undefined function", "api_key: {{.API_KEY | shout}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("API_KEY", "must-not-leak")
			got := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.input, string(got))
			assert.NotContains(t, string(got), "must-not-leak")
		})
	}
}
