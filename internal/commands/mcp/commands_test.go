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
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/secrets"
)

func TestSelectServices(t *testing.T) {
	names := []string{"fs", "github", "gitlab", "search"}

	tests := []struct {
		name     string
		patterns []string
		want     []string
		wantErr  bool
	}{
		{"no patterns selects all", nil, names, false},
		{"exact", []string{"fs"}, []string{"fs"}, false},
		{"glob", []string{"git*"}, []string{"github", "gitlab"}, false},
		{"overlap is deduplicated", []string{"git*", "github"}, []string{"github", "gitlab"}, false},
		{"no match", []string{"nothing"}, nil, true},
		{"invalid pattern", []string{"[git"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectServices(names, tt.patterns)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"A=1", "B=x=y", "C="}, "env")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": ""}, got)

	_, err = parseKeyValues([]string{"novalue"}, "env")
	assert.Equal(t, shared.ExitUsage, shared.ExitCodeFor(err))

	_, err = parseKeyValues([]string{"=x"}, "env")
	assert.Error(t, err)
}

func TestBuildCallArgs(t *testing.T) {
	args, err := buildCallArgs(callOptions{
		argsJSON: `{"query":"mcp","limit":5}`,
		args:     []string{"limit=10", "exact=true", "label=plain text"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"query": "mcp",
		"limit": float64(10),
		"exact": true,
		"label": "plain text",
	}, args)

	_, err = buildCallArgs(callOptions{argsJSON: `[1,2]`})
	assert.Error(t, err)
}

func TestAddListRemove(t *testing.T) {
	path := setupEnv(t)

	out, err := execute(t, path, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No tool providers registered")

	out, err = execute(t, path, "add", "fs", "--command", "npx",
		"--args", "-y", "--args", "@modelcontextprotocol/server-filesystem",
		"--env", "API_TOKEN=secret-value", "--env", "MODE=fast")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered tool provider: fs")

	_, err = execute(t, path, "add", "fs", "--command", "uvx")
	assert.True(t, bridge.HasCode(err, bridge.ErrorCodeAlreadyExists))

	out, err = execute(t, path, "list", "--json")
	require.NoError(t, err)
	var resp listResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, path, resp.Store)
	require.Len(t, resp.Services, 1)
	assert.Equal(t, "fs", resp.Services[0].Name)
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-filesystem"}, resp.Services[0].Args)
	assert.Equal(t, "***REDACTED***", resp.Services[0].Env["API_TOKEN"])
	assert.Equal(t, "fast", resp.Services[0].Env["MODE"])

	saved, err := bridge.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret-value", saved["fs"].Env["API_TOKEN"], "the registry keeps the real value")

	out, err = execute(t, path, "remove", "fs")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed tool provider: fs")

	_, err = execute(t, path, "remove", "fs")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCodeFor(err))
}

func TestAdd_UsageErrors(t *testing.T) {
	path := setupEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing command", []string{"add", "fs"}},
		{"missing name", []string{"add", "--command", "npx"}},
		{"param without template", []string{"add", "fs", "--command", "npx", "--param", "A=b"}},
		{"malformed env", []string{"add", "fs", "--command", "npx", "--env", "NOVALUE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, path, tt.args...)
			require.Error(t, err)
			assert.Equal(t, shared.ExitUsage, shared.ExitCodeFor(err))
		})
	}

	_, err := execute(t, path, "add", "bad name", "--command", "npx")
	assert.Equal(t, shared.ExitConfig, shared.ExitCodeFor(err))
}

func TestAdd_Template(t *testing.T) {
	path := setupEnv(t)

	_, err := execute(t, path, "add", "--template", "filesystem", "--param", "ALLOWED_DIRECTORIES=/tmp, /srv")
	require.NoError(t, err)
	_, err = execute(t, path, "add", "--template", "filesystem", "--param", "ALLOWED_DIRECTORIES=/data")
	require.NoError(t, err)

	saved, err := bridge.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, saved, "filesystem")
	require.Contains(t, saved, "filesystem-1", "a second copy gets a free name")
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp", "/srv"}, saved["filesystem"].Args)
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-filesystem", "/data"}, saved["filesystem-1"].Args)

	_, err = execute(t, path, "add", "--template", "filesystem")
	assert.True(t, bridge.HasCode(err, bridge.ErrorCodeValidation), "required params are enforced")

	_, err = execute(t, path, "add", "--template", "no-such-template")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCodeFor(err))
}

func TestAdd_TemplateKeychain(t *testing.T) {
	keyring.MockInit()
	path := setupEnv(t)

	_, err := execute(t, path, "add", "gh", "--template", "github",
		"--param", "GITHUB_PERSONAL_ACCESS_TOKEN=github_pat_abc123", "--keychain")
	require.NoError(t, err)

	saved, err := bridge.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	ref := saved["gh"].Env["GITHUB_PERSONAL_ACCESS_TOKEN"]
	assert.Equal(t, "keyring:gh/GITHUB_PERSONAL_ACCESS_TOKEN", ref)

	value, err := secrets.Get("gh/GITHUB_PERSONAL_ACCESS_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "github_pat_abc123", value)

	_, err = execute(t, path, "remove", "gh", "--forget-secrets")
	require.NoError(t, err)
	_, err = secrets.Get("gh/GITHUB_PERSONAL_ACCESS_TOKEN")
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestUpdate(t *testing.T) {
	path := setupEnv(t)
	_, err := execute(t, path, "add", "fs", "--command", "npx", "--args", "-y", "--env", "A=1")
	require.NoError(t, err)

	_, err = execute(t, path, "update", "fs", "--cwd", "/srv", "--clear-args")
	require.NoError(t, err)

	saved, err := bridge.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/srv", saved["fs"].Cwd)
	assert.Empty(t, saved["fs"].Args)
	assert.Equal(t, map[string]string{"A": "1"}, saved["fs"].Env)

	_, err = execute(t, path, "update", "fs", "--env", "B=2")
	require.NoError(t, err)
	saved, err = bridge.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B": "2"}, saved["fs"].Env, "env is replaced")

	_, err = execute(t, path, "update", "fs")
	assert.Equal(t, shared.ExitUsage, shared.ExitCodeFor(err))

	_, err = execute(t, path, "update", "missing", "--cwd", "/")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCodeFor(err))
}

func TestExportImport(t *testing.T) {
	path := setupEnv(t)
	_, err := execute(t, path, "add", "fs", "--command", "npx", "--args", "-y")
	require.NoError(t, err)
	_, err = execute(t, path, "add", "gh", "--command", "docker", "--env", "TOKEN=keyring:gh")
	require.NoError(t, err)

	exported := filepath.Join(t.TempDir(), "providers.yaml")
	_, err = execute(t, path, "export", exported)
	require.NoError(t, err)

	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), "TOKEN: keyring:gh")

	out, err := execute(t, path, "export")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"fs": {"command": "npx", "args": ["-y"], "env": {}},
		"gh": {"command": "docker", "args": [], "env": {"TOKEN": "keyring:gh"}}
	}`, out)

	other := filepath.Join(t.TempDir(), "services.json")
	_, err = execute(t, other, "add", "gh", "--command", "already-here")
	require.NoError(t, err)

	out, err = execute(t, other, "import", exported, "--json")
	require.NoError(t, err)
	var resp struct {
		Imported int                `json:"imported"`
		Skipped  int                `json:"skipped"`
		Errors   []shared.JSONError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Imported)
	assert.Equal(t, 1, resp.Skipped)
	assert.Len(t, resp.Errors, 1)

	saved, err := bridge.NewFileStore(other).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "npx", saved["fs"].Command)
	assert.Equal(t, "already-here", saved["gh"].Command)

	_, err = execute(t, other, "export", "--format", "toml")
	assert.Equal(t, shared.ExitUsage, shared.ExitCodeFor(err))
}

func TestImport_MCPServersWrapper(t *testing.T) {
	path := setupEnv(t)
	desktop := filepath.Join(t.TempDir(), "claude_desktop_config.json")
	require.NoError(t, os.WriteFile(desktop, []byte(`{"mcpServers":{"memory":{"command":"npx","args":["-y","@modelcontextprotocol/server-memory"]}}}`), 0o600))

	out, err := execute(t, path, "import", desktop)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 of 1 providers")
}

func TestCorruptRegistryIsNotOverwritten(t *testing.T) {
	path := setupEnv(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := execute(t, path, "add", "fs", "--command", "npx")
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestCatalog(t *testing.T) {
	path := setupEnv(t)

	out, err := execute(t, path, "catalog", "--json")
	require.NoError(t, err)
	var resp struct {
		Templates []bridge.Template `json:"templates"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp.Templates)

	out, err = execute(t, path, "catalog", "github")
	require.NoError(t, err)
	assert.Contains(t, out, "GITHUB_PERSONAL_ACCESS_TOKEN")
	assert.Contains(t, out, "required")

	out, err = execute(t, path, "catalog", "zzz-no-match")
	require.NoError(t, err)
	assert.Contains(t, out, "No templates match")
}
