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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(secrets map[string]string, env map[string]string) *EnvResolver {
	r := NewEnvResolver(func(name string) (string, error) {
		v, ok := secrets[name]
		if !ok {
			return "", errors.New("not found")
		}
		return v, nil
	})
	r.lookupEnv = func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	return r
}

func TestEnvResolver_Resolve(t *testing.T) {
	r := testResolver(
		map[string]string{"gh": "ghp_secret"},
		map[string]string{"HOME": "/home/me"},
	)

	got, err := r.Resolve(map[string]string{
		"TOKEN":   "keyring:gh",
		"DATA":    "${HOME}/data",
		"MISSING": "${NOPE}",
		"PLAIN":   "value",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DATA=/home/me/data",
		"MISSING=",
		"PLAIN=value",
		"TOKEN=ghp_secret",
	}, got)
}

func TestEnvResolver_MissingSecret(t *testing.T) {
	r := testResolver(nil, nil)

	_, err := r.Resolve(map[string]string{"TOKEN": "keyring:absent"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrorCodeConfig))
	assert.Contains(t, GetMCPError(err).Suggestion(), "toolbridge secret set absent")
}

func TestEnvResolver_Empty(t *testing.T) {
	got, err := testResolver(nil, nil).Resolve(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
