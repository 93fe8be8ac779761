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
	"github.com/spf13/cobra"
)

// CompleteDocumentFormats provides completion for import/export --format.
func CompleteDocumentFormats(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			"json\tJSON document",
			"yaml\tYAML document",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteRenderModes provides completion for call --format.
func CompleteRenderModes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			"auto\tDetect JSON, style markdown on a terminal",
			"plain\tPrint text unchanged",
			"markdown\tRender markdown",
			"json\tPretty-print JSON",
			"code:\tHighlight as a language, e.g. code:python",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}
