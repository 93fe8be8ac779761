// Copyright 2025 Tom Barlow
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

package format

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"color", "\x1b[31mred\x1b[0m", "red"},
		{"cursor", "a\x1b[2Jb", "ab"},
		{"osc title", "\x1b]0;pwned\x07text", "text"},
		{"osc st", "\x1b]8;;http://x\x1b\\link", "link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input))
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		mode     string
		isTTY    bool
		want     string
		contains string
		wantErr  bool
	}{
		{name: "auto plain text", content: "# Heading", mode: ModeAuto, want: "# Heading"},
		{name: "auto json", content: `{"a":1}`, mode: ModeAuto, want: "{\n  \"a\": 1\n}"},
		{name: "auto json array", content: ` [1,2] `, mode: "", want: "[\n  1,\n  2\n]"},
		{name: "auto brace but not json", content: "{not json", mode: ModeAuto, want: "{not json"},
		{name: "plain keeps text", content: "a\nb", mode: ModePlain, want: "a\nb"},
		{name: "plain sanitizes", content: "\x1b[1mbold\x1b[0m", mode: ModePlain, want: "bold"},
		{name: "markdown without tty", content: "- item", mode: ModeMarkdown, want: "- item"},
		{name: "markdown with tty", content: "# Heading\n\nSome text", mode: ModeMarkdown, isTTY: true, contains: "Heading"},
		{name: "json invalid", content: "nope", mode: ModeJSON, wantErr: true},
		{name: "json with tty", content: `{"k":"v"}`, mode: ModeJSON, isTTY: true, contains: "k"},
		{name: "code without tty", content: "x = 1", mode: "code:python", want: "x = 1"},
		{name: "code unknown language", content: "x", mode: "code:nolang", isTTY: true, contains: "x"},
		{name: "code case insensitive", content: "x = 1", mode: "CODE:Python", want: "x = 1"},
		{name: "unknown mode", content: "x", mode: "html", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.content, tt.mode, tt.isTTY)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.contains != "" {
				assert.Contains(t, got, tt.contains)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_SizeLimit(t *testing.T) {
	big := strings.Repeat("x", maxMarkdownSize+1)
	_, err := Render(big, ModeMarkdown, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum for markdown")

	_, err = Render(big, ModePlain, false)
	assert.NoError(t, err)
}

func TestValidMode(t *testing.T) {
	for _, mode := range []string{"", "auto", "plain", "markdown", "JSON", "code", "code:go"} {
		assert.True(t, ValidMode(mode), mode)
	}
	for _, mode := range []string{"html", "text", "codex"} {
		assert.False(t, ValidMode(mode), mode)
	}
}

func TestModeForMIME(t *testing.T) {
	assert.Equal(t, ModeJSON, ModeForMIME("application/json"))
	assert.Equal(t, ModeJSON, ModeForMIME("application/schema+json; charset=utf-8"))
	assert.Equal(t, ModeMarkdown, ModeForMIME("text/markdown"))
	assert.Equal(t, "code:go", ModeForMIME("text/x-go"))
	assert.Equal(t, ModeAuto, ModeForMIME("text/plain"))
	assert.Equal(t, ModeAuto, ModeForMIME(""))
}

func TestIsTTY(t *testing.T) {
	t.Setenv("TERM", "xterm-256color")
	t.Setenv("NO_COLOR", "")
	assert.False(t, IsTTY(&bytes.Buffer{}), "buffers are never terminals")

	t.Setenv("NO_COLOR", "1")
	assert.False(t, IsTTY(&bytes.Buffer{}))
}
