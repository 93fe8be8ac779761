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

/*
Package cli provides the root command for the toolbridge CLI.

This package assembles the Cobra command tree and handles global concerns
like version information, persistent flags, help output and exit codes.
Individual commands live in the internal/commands subpackages.

# Command Tree

	toolbridge
	├── list        List registered providers
	├── status      Start a provider and show its state
	├── add         Register a provider, optionally from a template
	├── remove      Unregister a provider
	├── update      Change a provider's launch configuration
	├── import      Import providers from a services or mcpServers file
	├── export      Export the registry
	├── catalog     Browse provider templates
	├── secret      Manage keychain secrets referenced as keyring:<name>
	├── tools       List tools as OpenAI function descriptors
	├── call        Call one tool
	├── resource    List or read a provider's resources
	├── prompt      List or render a provider's prompts
	├── run         Supervise providers in the foreground
	├── serve       Expose every tool as one MCP server on stdio
	├── completion  Generate shell completion scripts
	├── version     Show version
	└── help        Show help

# Global Flags

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to registry file

# Exit Codes

  - 0: success
  - 1: general error
  - 2: invalid usage
  - 3: provider or tool not found
  - 4: configuration error
  - 5: provider failure, including tool results flagged as errors
  - 130: aborted

Use HandleExitError from main:

	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}
*/
package cli
