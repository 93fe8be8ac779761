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
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/mcp"
)

// CompleteServiceNames completes registered provider names from the
// registry file. Only the first positional argument is completed.
func CompleteServiceNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return serviceNames(args, toComplete), cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteServicePatterns completes provider names for commands that take
// any number of names or glob patterns.
func CompleteServicePatterns(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return serviceNames(args, toComplete), cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteToolPrefixes completes "{service}_" so the shell can continue
// into the tool name. Listing real tool names would start every provider.
func CompleteToolPrefixes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		names := serviceNames(nil, "")
		prefixes := make([]string, 0, len(names))
		for _, name := range names {
			prefix := name + mcp.ToolSeparator
			if strings.HasPrefix(prefix, toComplete) {
				prefixes = append(prefixes, prefix)
			}
		}
		return prefixes, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
	})
}

// CompleteTemplateIDs completes catalogue template ids with their
// descriptions.
func CompleteTemplateIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		catalog, err := mcp.LoadCatalog()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var ids []string
		for _, tmpl := range catalog.Templates() {
			if strings.HasPrefix(tmpl.ID, toComplete) {
				ids = append(ids, tmpl.ID+"\t"+tmpl.Description)
			}
		}
		return ids, cobra.ShellCompDirectiveNoFileComp
	})
}

// serviceNames lists registered names matching toComplete, minus those
// already given.
func serviceNames(given []string, toComplete string) []string {
	doc, err := LoadRegistryForCompletion()
	if err != nil || len(doc) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(given))
	for _, g := range given {
		seen[g] = true
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		if seen[name] || !strings.HasPrefix(name, toComplete) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
