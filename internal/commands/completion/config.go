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

package completion

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/config"
	"github.com/tombee/toolbridge/internal/mcp"
)

// loadTimeout bounds registry reads so a slow disk never stalls the shell.
const loadTimeout = 2 * time.Second

// CheckFilePermissions verifies that a file has secure permissions (mode <= 0600).
// A missing file counts as secure; completion fails gracefully later.
func CheckFilePermissions(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Mode().Perm() <= 0o600
}

// registryPath resolves the registry file the same way commands do.
func registryPath() (string, error) {
	if path := shared.GetConfigPath(); path != "" {
		return path, nil
	}
	settings, err := config.Load()
	if err != nil {
		return "", err
	}
	return settings.StorePath()
}

// LoadRegistryForCompletion reads the persisted registry without starting
// anything. A registry with permissive file modes yields nil.
func LoadRegistryForCompletion() (mcp.Document, error) {
	path, err := registryPath()
	if err != nil {
		return nil, err
	}
	if !CheckFilePermissions(path) {
		return nil, nil
	}

	store, err := mcp.OpenStore(path)
	if err != nil {
		return nil, err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	return store.Load(ctx)
}

// SafeCompletionWrapper wraps a completion function with panic recovery.
// Returns empty completion list on panic or error.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}
