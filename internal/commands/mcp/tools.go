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
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/log"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

func newToolsCommand() *cobra.Command {
	var debugWire bool

	cmd := &cobra.Command{
		Use:   "tools [service-pattern...]",
		Short: "List the tools providers expose",
		Long: `Start the selected providers and list their tools as function
descriptors named {service}_{tool}. Patterns are globs over provider names;
with none, every provider is started.

Providers that fail to start are reported and skipped. With --json the
output is the OpenAI function-calling tool list.`,
		Example: `  toolbridge tools
  toolbridge tools github
  toolbridge tools 'git*' --json | jq '.tools[].function.name'`,
		ValidArgsFunction: completion.CompleteServicePatterns,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{telemetry: true, debugWire: debugWire})
			if err != nil {
				return err
			}
			defer rt.Close()
			return runTools(cmd, rt, args)
		},
	}

	cmd.Flags().BoolVar(&debugWire, "debug-wire", false, "Print protocol traffic to stderr")

	return cmd
}

func runTools(cmd *cobra.Command, rt *runtime, patterns []string) error {
	out := cmd.OutOrStdout()

	selected, err := selectServices(rt.registry.Names(), patterns)
	if err != nil {
		return err
	}

	startErr := startSelected(cmd, rt, selected)
	tools := rt.registry.Tools(selected)
	if tools == nil {
		tools = []bridge.OpenAITool{}
	}

	if shared.GetJSON() {
		return shared.EmitJSONTo(out, struct {
			shared.JSONResponse
			Tools []bridge.OpenAITool `json:"tools"`
		}{shared.NewJSONResponse("tools"), tools})
	}

	if startErr != nil {
		fmt.Fprintln(out, shared.RenderWarn("Some providers failed to start:"))
		fmt.Fprintln(out, startErr.Error())
		fmt.Fprintln(out)
	}
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools available.")
		return nil
	}

	for _, t := range tools {
		fmt.Fprintf(out, "  %s\n", shared.Bold.Render(t.Function.Name))
		if t.Function.Description != "" {
			for _, line := range strings.Split(wrapText(t.Function.Description, 68), "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
		}
	}
	fmt.Fprintf(out, "\n%d tools from %d providers\n", len(tools), len(selected))
	return nil
}

// startSelected starts services concurrently. Failures are logged and
// returned joined; the services that did start keep running.
func startSelected(cmd *cobra.Command, rt *runtime, names []string) error {
	if len(names) == 0 {
		return nil
	}
	spinner := shared.NewSpinner()
	spinner.Start(fmt.Sprintf("Starting %d providers", len(names)))
	err := rt.registry.StartAll(commandContext(cmd), names)
	spinner.Stop()
	if err != nil {
		rt.logger.Warn("some providers failed to start", log.Error(err))
	}
	return err
}

func printLines(out io.Writer, text string) {
	if text == "" {
		return
	}
	fmt.Fprintln(out, strings.TrimRight(text, "\n"))
}
