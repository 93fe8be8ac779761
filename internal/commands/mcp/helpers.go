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
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

// selectServices resolves name patterns against the registered names.
// No patterns selects everything; a pattern that matches nothing is an error.
func selectServices(names, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return append([]string(nil), names...), nil
	}

	picked := make(map[string]bool)
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, shared.NewUsageError(fmt.Sprintf("invalid service pattern %q", pattern), nil)
		}
		matched := false
		for _, name := range names {
			ok, err := doublestar.Match(pattern, name)
			if err != nil {
				return nil, shared.NewUsageError(fmt.Sprintf("invalid service pattern %q", pattern), err)
			}
			if ok {
				picked[name] = true
				matched = true
			}
		}
		if !matched {
			return nil, bridge.ErrServiceNotFound(pattern)
		}
	}

	selected := make([]string, 0, len(picked))
	for name := range picked {
		selected = append(selected, name)
	}
	sort.Strings(selected)
	return selected, nil
}

// parseKeyValues parses repeated KEY=VALUE flags.
func parseKeyValues(pairs []string, flag string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, shared.NewUsageError(fmt.Sprintf("--%s expects KEY=VALUE, got %q", flag, pair), nil)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

func wrapText(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	var currentLine strings.Builder

	for _, word := range words {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > width {
			lines = append(lines, currentLine.String())
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	return strings.Join(lines, "\n")
}

// formatBool returns a styled boolean display
func formatBool(b bool) string {
	if b {
		return shared.StatusOK.Render(shared.SymbolOK)
	}
	return shared.Muted.Render(shared.SymbolError)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
