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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/mcp/mcptest"
)

func TestMain(m *testing.M) {
	mcptest.RunIfRequested()
	os.Exit(m.Run())
}

// setupEnv isolates settings and returns a fresh registry path.
func setupEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TOOLBRIDGE_SETTLE_DELAY", "10ms")
	t.Setenv("TOOLBRIDGE_STOP_GRACE", "500ms")
	t.Setenv("TOOLBRIDGE_NON_INTERACTIVE", "true")
	t.Setenv("TOOLBRIDGE_LOG_LEVEL", "error")
	return filepath.Join(t.TempDir(), "services.json")
}

// execute runs one command line against the registry at path.
func execute(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()

	root := &cobra.Command{Use: "toolbridge", SilenceUsage: true, SilenceErrors: true}
	verbose, quiet, jsonOut, config := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "")
	root.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "")
	root.PersistentFlags().BoolVar(jsonOut, "json", false, "")
	root.PersistentFlags().StringVar(config, "config", "", "")
	root.AddCommand(NewCommands()...)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", path}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// addFake registers a fake provider directly in the store.
func addFake(t *testing.T, path, name, mode string) {
	t.Helper()
	ctx := context.Background()

	command, args, env := mcptest.Command(mode)
	store := bridge.NewFileStore(path)
	doc, err := store.Load(ctx)
	require.NoError(t, err)
	doc[name] = bridge.ServiceConfig{Name: name, Command: command, Args: args, Env: env}
	require.NoError(t, store.Save(ctx, doc))
}

// testRuntime opens a runtime the way commands do.
func testRuntime(t *testing.T, path string) *runtime {
	t.Helper()
	shared.SetConfigPathForTest(path)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	cmd := &cobra.Command{}
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetOut(&bytes.Buffer{})
	rt, err := openRuntime(cmd, runtimeOptions{})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
