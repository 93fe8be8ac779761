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
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/cli/format"
	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

func newResourceCommand() *cobra.Command {
	var debugWire bool

	cmd := &cobra.Command{
		Use:   "resource <service> [uri]",
		Short: "List or read a provider's resources",
		Long: `Start a provider and list the resources it exposes, or read one
resource when its URI is given. Text contents are printed as is; binary
contents are shown by size unless --json is used.`,
		Example: `  toolbridge resource docs
  toolbridge resource docs file:///README.md`,
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: completion.CompleteServiceNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{debugWire: debugWire})
			if err != nil {
				return err
			}
			defer rt.Close()

			uri := ""
			if len(args) == 2 {
				uri = args[1]
			}
			return runResource(cmd, rt, args[0], uri)
		},
	}

	cmd.Flags().BoolVar(&debugWire, "debug-wire", false, "Print protocol traffic to stderr")

	return cmd
}

func runResource(cmd *cobra.Command, rt *runtime, name, uri string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	svc, err := startOne(cmd, rt, name)
	if err != nil {
		return err
	}

	if uri == "" {
		resources := svc.Resources()
		if resources == nil {
			resources = []bridge.Resource{}
		}
		if shared.GetJSON() {
			return shared.EmitJSONTo(out, struct {
				shared.JSONResponse
				Resources []bridge.Resource `json:"resources"`
			}{shared.NewJSONResponse("resource"), resources})
		}
		if len(resources) == 0 {
			fmt.Fprintf(out, "%s exposes no resources.\n", name)
			return nil
		}
		for _, r := range resources {
			fmt.Fprintf(out, "  %s %s\n", shared.Bold.Render(r.URI), shared.Muted.Render(r.MimeType))
			if r.Description != "" {
				fmt.Fprintf(out, "    %s\n", r.Description)
			}
		}
		return nil
	}

	result, err := svc.ReadResource(ctx, uri)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSONTo(out, struct {
			shared.JSONResponse
			Contents []bridge.ResourceContent `json:"contents"`
		}{shared.NewJSONResponse("resource"), result.Contents})
	}
	for _, c := range result.Contents {
		if c.Blob != "" {
			fmt.Fprintf(out, "%s: %d bytes of base64 %s\n", c.URI, len(c.Blob), c.MimeType)
			continue
		}
		rendered, err := format.Render(c.Text, format.ModeForMIME(c.MimeType), format.IsTTY(out))
		if err != nil {
			return err
		}
		printLines(out, rendered)
	}
	return nil
}

func newPromptCommand() *cobra.Command {
	var (
		promptArgs []string
		debugWire  bool
	)

	cmd := &cobra.Command{
		Use:   "prompt <service> [name]",
		Short: "List or render a provider's prompts",
		Long: `Start a provider and list the prompts it offers, or render one prompt
with arguments given as repeated --arg key=value flags.`,
		Example: `  toolbridge prompt assistant
  toolbridge prompt assistant summarize --arg style=brief`,
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: completion.CompleteServiceNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseKeyValues(promptArgs, "arg")
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd, runtimeOptions{debugWire: debugWire})
			if err != nil {
				return err
			}
			defer rt.Close()

			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return runPrompt(cmd, rt, args[0], name, values)
		},
	}

	cmd.Flags().StringArrayVar(&promptArgs, "arg", nil, "Prompt argument in key=value format (can be repeated)")
	cmd.Flags().BoolVar(&debugWire, "debug-wire", false, "Print protocol traffic to stderr")

	return cmd
}

func runPrompt(cmd *cobra.Command, rt *runtime, service, name string, values map[string]string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	svc, err := startOne(cmd, rt, service)
	if err != nil {
		return err
	}

	if name == "" {
		prompts := svc.Prompts()
		if prompts == nil {
			prompts = []bridge.Prompt{}
		}
		if shared.GetJSON() {
			return shared.EmitJSONTo(out, struct {
				shared.JSONResponse
				Prompts []bridge.Prompt `json:"prompts"`
			}{shared.NewJSONResponse("prompt"), prompts})
		}
		if len(prompts) == 0 {
			fmt.Fprintf(out, "%s offers no prompts.\n", service)
			return nil
		}
		for _, p := range prompts {
			var argNames []string
			for _, a := range p.Arguments {
				if a.Required {
					argNames = append(argNames, a.Name+"*")
				} else {
					argNames = append(argNames, a.Name)
				}
			}
			fmt.Fprintf(out, "  %s %s\n", shared.Bold.Render(p.Name), shared.Muted.Render(strings.Join(argNames, " ")))
			if p.Description != "" {
				fmt.Fprintf(out, "    %s\n", p.Description)
			}
		}
		return nil
	}

	result, err := svc.GetPrompt(ctx, name, values)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSONTo(out, struct {
			shared.JSONResponse
			Prompt *bridge.PromptResult `json:"prompt"`
		}{shared.NewJSONResponse("prompt"), result})
	}
	if result.Description != "" {
		fmt.Fprintln(out, shared.Muted.Render(result.Description))
	}
	for _, m := range result.Messages {
		fmt.Fprintf(out, "%s ", shared.Bold.Render(m.Role+":"))
		if m.Content.Type == "text" {
			printLines(out, format.Sanitize(m.Content.Text))
		} else {
			fmt.Fprintf(out, "[%s content]\n", m.Content.Type)
		}
	}
	return nil
}

// startOne starts a single service and returns it running.
func startOne(cmd *cobra.Command, rt *runtime, name string) (*bridge.Service, error) {
	svc, err := rt.registry.Service(name)
	if err != nil {
		return nil, err
	}
	if err := rt.registry.Start(commandContext(cmd), name); err != nil {
		return nil, err
	}
	return svc, nil
}
