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
package secrets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tombee/toolbridge/internal/commands/shared"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	err := cmd.Execute()
	return out.String(), err
}

func TestSecretLifecycle(t *testing.T) {
	keyring.MockInit()

	out, err := run(t, "github_pat_1234567890\n", "set", "github")
	require.NoError(t, err)
	assert.Contains(t, out, "keyring:github")

	out, err = run(t, "", "get", "github")
	require.NoError(t, err)
	assert.Equal(t, "gith...7890\n", out)

	out, err = run(t, "", "get", "github", "--unmask")
	require.NoError(t, err)
	assert.Equal(t, "github_pat_1234567890\n", out)

	_, err = run(t, "", "delete", "github")
	require.NoError(t, err)

	_, err = run(t, "", "get", "github")
	assert.Equal(t, shared.ExitNotFound, shared.ExitCodeFor(err))
}

func TestSecretSet_Errors(t *testing.T) {
	keyring.MockInit()

	_, err := run(t, "  \n", "set", "empty")
	assert.Equal(t, shared.ExitUsage, shared.ExitCodeFor(err))

	_, err = run(t, "value", "set", "bad name")
	assert.Equal(t, shared.ExitUsage, shared.ExitCodeFor(err))

	keyring.MockInitWithError(assert.AnError)
	_, err = run(t, "value", "set", "ok")
	assert.Error(t, err)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "abcd...wxyz", maskSecret("abcdefghijklmnopqrstuvwxyz"))
}
