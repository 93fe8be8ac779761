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
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/cli/format"
	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/jq"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

type callOptions struct {
	argsJSON  string
	args      []string
	filter    string
	format    string
	debugWire bool
}

type callResponse struct {
	shared.JSONResponse
	Tool   string                 `json:"tool"`
	Result *bridge.ToolCallResult `json:"result,omitempty"`
	Output any                    `json:"output,omitempty"`
}

func newCallCommand() *cobra.Command {
	var opts callOptions

	cmd := &cobra.Command{
		Use:   "call <service_tool>",
		Short: "Call one tool",
		Long: `Start the provider that owns the tool, call it once and print the
result. The tool is named {service}_{tool}, as listed by 'toolbridge tools'.

Arguments come from --args as a JSON object and from repeated --arg
key=value flags; --arg values are decoded as JSON when they parse, and are
strings otherwise. --jq filters the result object before printing.
Text output is rendered for the terminal: JSON is pretty-printed and
markdown is styled when stdout is a TTY; --format picks a mode explicitly.

A result flagged as an error exits with status 5.`,
		Example: `  toolbridge call fs_read_file --arg path=/tmp/notes.txt
  toolbridge call github_search_repositories --args '{"query":"mcp"}' --jq '.content[0].text'
  toolbridge call calc_add --arg a=1 --arg b=2 --json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteToolPrefixes,
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := buildCallArgs(opts)
			if err != nil {
				return err
			}
			executor := jq.NewExecutor(0, 0)
			if err := executor.Validate(opts.filter); err != nil {
				return shared.NewUsageError("invalid --jq expression", err)
			}
			if !format.ValidMode(opts.format) {
				return shared.NewUsageError(fmt.Sprintf("unknown --format %q", opts.format), nil)
			}

			rt, err := openRuntime(cmd, runtimeOptions{telemetry: true, debugWire: opts.debugWire})
			if err != nil {
				return err
			}
			defer rt.Close()
			return runCall(cmd, rt, executor, args[0], callArgs, opts)
		},
	}

	cmd.Flags().StringVar(&opts.argsJSON, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringArrayVar(&opts.args, "arg", nil, "Tool argument in key=value format (can be repeated)")
	cmd.Flags().StringVar(&opts.filter, "jq", "", "jq expression applied to the result")
	cmd.Flags().StringVar(&opts.format, "format", format.ModeAuto, "Text rendering: auto, plain, markdown, json or code:<lang>")
	_ = cmd.RegisterFlagCompletionFunc("format", completion.CompleteRenderModes)
	cmd.Flags().BoolVar(&opts.debugWire, "debug-wire", false, "Print protocol traffic to stderr")

	return cmd
}

func buildCallArgs(opts callOptions) (map[string]any, error) {
	args := make(map[string]any)
	if opts.argsJSON != "" {
		if err := json.Unmarshal([]byte(opts.argsJSON), &args); err != nil {
			return nil, shared.NewUsageError("--args must be a JSON object", err)
		}
		if args == nil {
			args = make(map[string]any)
		}
	}

	pairs, err := parseKeyValues(opts.args, "arg")
	if err != nil {
		return nil, err
	}
	for k, raw := range pairs {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		args[k] = v
	}
	return args, nil
}

func runCall(cmd *cobra.Command, rt *runtime, executor *jq.Executor, name string, args map[string]any, opts callOptions) error {
	filter := opts.filter
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	service, _, err := bridge.ParseToolName(name)
	if err != nil {
		return err
	}
	if err := rt.registry.Start(ctx, service); err != nil {
		return err
	}

	result, err := rt.registry.CallTool(ctx, name, args)
	if err != nil {
		return err
	}

	var resultErr error
	if result.IsError {
		resultErr = &shared.ExitError{
			Code:    shared.ExitProvider,
			Message: fmt.Sprintf("tool %s reported an error", name),
		}
	}

	if filter != "" {
		filtered, err := executor.Execute(ctx, filter, result)
		if err != nil {
			return fmt.Errorf("jq: %w", err)
		}
		if shared.GetJSON() {
			resp := callResponse{JSONResponse: shared.NewJSONResponse("call"), Tool: name, Output: filtered}
			resp.Success = !result.IsError
			if err := shared.EmitJSONTo(out, resp); err != nil {
				return err
			}
			return resultErr
		}
		if s, ok := filtered.(string); ok {
			return printRendered(out, s, opts.format, resultErr)
		} else if err := shared.EmitJSONTo(out, filtered); err != nil {
			return err
		}
		return resultErr
	}

	if shared.GetJSON() {
		resp := callResponse{JSONResponse: shared.NewJSONResponse("call"), Tool: name, Result: result}
		resp.Success = !result.IsError
		if err := shared.EmitJSONTo(out, resp); err != nil {
			return err
		}
		return resultErr
	}

	return printRendered(out, bridge.FormatToolResult(result), opts.format, resultErr)
}

// printRendered writes provider text through the terminal renderer and
// passes resultErr through when rendering succeeds.
func printRendered(out io.Writer, text, mode string, resultErr error) error {
	rendered, err := format.Render(text, mode, format.IsTTY(out))
	if err != nil {
		return err
	}
	printLines(out, rendered)
	return resultErr
}
