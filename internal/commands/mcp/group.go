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
// Package mcp implements the toolbridge commands that manage tool providers.
package mcp

import (
	"github.com/spf13/cobra"
)

// NewCommands returns every provider management command.
func NewCommands() []*cobra.Command {
	return []*cobra.Command{
		newListCommand(),
		newStatusCommand(),
		newAddCommand(),
		newRemoveCommand(),
		newUpdateCommand(),
		newImportCommand(),
		newExportCommand(),
		newCatalogCommand(),
		newToolsCommand(),
		newCallCommand(),
		newResourceCommand(),
		newPromptCommand(),
		newRunCommand(),
		newServeCommand(),
	}
}
