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

package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	templates := c.Templates()
	require.NotEmpty(t, templates)
	for i := 1; i < len(templates); i++ {
		assert.Less(t, templates[i-1].ID, templates[i].ID, "templates are sorted by id")
	}

	for _, tmpl := range templates {
		assert.NotEmpty(t, tmpl.Command, tmpl.ID)
		assert.NoError(t, ValidateServiceName(tmpl.Name), tmpl.ID)
	}

	fs, err := c.Get("filesystem")
	require.NoError(t, err)
	assert.Equal(t, "npx", fs.Command)

	_, err = c.Get("nope")
	assert.True(t, HasCode(err, ErrorCodeNotFound))
}

func TestCatalog_Search(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	found := c.Search("GITHUB")
	require.NotEmpty(t, found)
	assert.Equal(t, "github", found[0].ID)

	assert.Len(t, c.Search(""), len(c.Templates()))
	assert.Empty(t, c.Search("no-template-matches-this"))
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing command", "templates:\n  - id: a\n"},
		{"duplicate", "templates:\n  - {id: a, command: x}\n  - {id: a, command: y}\n"},
		{"bad position", "templates:\n  - id: a\n    command: x\n    params:\n      - {key: K, position: stdin}\n"},
		{"bad pattern", "templates:\n  - id: a\n    command: x\n    params:\n      - {key: K, position: env, validation: {pattern: '('}}\n"},
		{"not yaml", "templates: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

const testCatalog = `
templates:
  - id: search
    name: search
    display_name: Search
    description: Web search
    category: search
    command: npx
    args: ["-y", "search-server"]
    env:
      MODE: fast
    params:
      - key: API_KEY
        label: API key
        position: env
        required: true
        secret: true
        validation:
          pattern: "^(sk-[a-z0-9]+|keyring:.+)$"
          message: must look like sk-...
      - key: DIRS
        label: Directories
        position: args
        multiple: true
        separator: ","
        validation:
          pattern: "^/"
          message: must be absolute
      - key: REGION
        label: Region
        position: env
        default: eu
`

func TestTemplate_Apply(t *testing.T) {
	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	tmpl, err := c.Get("search")
	require.NoError(t, err)

	cfg, err := tmpl.Apply("search-1", map[string]string{
		"API_KEY": "sk-abc123",
		"DIRS":    "/a, /b ,,",
	})
	require.NoError(t, err)

	assert.Equal(t, "search-1", cfg.Name)
	assert.Equal(t, "npx", cfg.Command)
	assert.Equal(t, []string{"-y", "search-server", "/a", "/b"}, cfg.Args)
	assert.Equal(t, map[string]string{"MODE": "fast", "API_KEY": "sk-abc123", "REGION": "eu"}, cfg.Env)
	assert.NoError(t, cfg.Validate())

	// The template itself is not modified.
	assert.Equal(t, []string{"-y", "search-server"}, tmpl.Args)
	assert.NotContains(t, tmpl.Env, "API_KEY")
}

func TestTemplate_ApplyErrors(t *testing.T) {
	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	tmpl, err := c.Get("search")
	require.NoError(t, err)

	tests := []struct {
		name     string
		values   map[string]string
		contains string
	}{
		{"missing required", map[string]string{}, "API_KEY is required"},
		{"pattern", map[string]string{"API_KEY": "wrong"}, "must look like sk-"},
		{"multiple checks each value", map[string]string{"API_KEY": "keyring:search", "DIRS": "/ok,relative"}, "must be absolute"},
		{"unknown key", map[string]string{"API_KEY": "sk-a", "EXTRA": "x"}, "no parameter EXTRA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tmpl.Apply("search", tt.values)
			require.Error(t, err)
			assert.True(t, HasCode(err, ErrorCodeValidation))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestUniqueName(t *testing.T) {
	taken := map[string]bool{"fs": true, "fs-1": true}
	exists := func(n string) bool { return taken[n] }

	assert.Equal(t, "fs-2", UniqueName("fs", exists))
	assert.Equal(t, "github", UniqueName("github", exists))
}
