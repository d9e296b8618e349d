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
			input: "password: {{.DB_PASS}}",
			env:   map[string]string{"DB_PASS": "secret123"},
			want:  "password: secret123",
		},
		{
			name:  "literal ${VAR} passes through",
			input: "pattern: ${USER_ID}",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ${USER_ID}",
		},
		{
			name:  "literal dollar in regex passes through",
			input: "regex: ^[A-Z]{6}\\d{2}$",
			env:   map[string]string{},
			want:  "regex: ^[A-Z]{6}\\d{2}$",
		},
		{
			name:  "multiple substitutions in one line",
			input: "addr: {{.HOST}}:{{.PORT}}",
			env:   map[string]string{"HOST": "redis.internal", "PORT": "6379"},
			want:  "addr: redis.internal:6379",
		},
		{
			name:  "missing variable expands to empty",
			input: "api_key: {{.NOT_SET_ANYWHERE}}",
			env:   map[string]string{},
			want:  "api_key: ",
		},
		{
			name:  "malformed template passes through unchanged",
			input: "value: {{.UNCLOSED",
			env:   map[string]string{},
			want:  "value: {{.UNCLOSED",
		},
		{
			name:  "empty input",
			input: "",
			env:   map[string]string{},
			want:  "",
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
