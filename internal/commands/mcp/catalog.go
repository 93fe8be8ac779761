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

	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [query]",
		Short: "Browse ready-made provider templates",
		Long: `List the built-in provider templates, optionally filtered by a search
query. When the query is a template id, that template is shown in detail
with its parameters.

See also: toolbridge add --template`,
		Example: `  toolbridge catalog
  toolbridge catalog search
  toolbridge catalog github`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return runCatalog(cmd.OutOrStdout(), query)
		},
	}

	return cmd
}

func runCatalog(out io.Writer, query string) error {
	catalog, err := bridge.LoadCatalog()
	if err != nil {
		return err
	}

	if tmpl, err := catalog.Get(query); err == nil {
		if shared.GetJSON() {
			return shared.EmitJSONTo(out, struct {
				shared.JSONResponse
				Template bridge.Template `json:"template"`
			}{shared.NewJSONResponse("catalog"), tmpl})
		}
		printTemplate(out, tmpl)
		return nil
	}

	templates := catalog.Search(query)

	if shared.GetJSON() {
		return shared.EmitJSONTo(out, struct {
			shared.JSONResponse
			Templates []bridge.Template `json:"templates"`
		}{shared.NewJSONResponse("catalog"), templates})
	}

	if len(templates) == 0 {
		fmt.Fprintf(out, "No templates match %q.\n", query)
		return nil
	}

	fmt.Fprintf(out, "%-26s %-14s %s\n", "ID", "CATEGORY", "DESCRIPTION")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, t := range templates {
		id := t.ID
		if t.Official {
			id += " " + shared.SymbolOK
		}
		fmt.Fprintf(out, "%-26s %-14s %s\n",
			shared.Truncate(id, 26),
			shared.Truncate(t.Category, 14),
			shared.Truncate(t.Description, 40),
		)
	}
	fmt.Fprintln(out, "\nAdd one with: toolbridge add --template <id>")
	return nil
}

func printTemplate(out io.Writer, t bridge.Template) {
	fmt.Fprintln(out, shared.Header.Render(t.DisplayName))
	if t.Description != "" {
		fmt.Fprintln(out, wrapText(t.Description, 72))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("ID:"), t.ID)
	fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Category:"), t.Category)
	fmt.Fprintf(out, "%s %s %s\n", shared.Muted.Render("Command:"), t.Command, strings.Join(t.Args, " "))
	if t.Repository != "" {
		fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Repository:"), t.Repository)
	}

	if len(t.Params) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, shared.Bold.Render("Parameters:"))
	for _, p := range t.Params {
		var tags []string
		if p.Required {
			tags = append(tags, "required")
		}
		if p.Secret {
			tags = append(tags, "secret")
		}
		tags = append(tags, p.Position)
		fmt.Fprintf(out, "  %s %s\n", p.Key, shared.Muted.Render("("+strings.Join(tags, ", ")+")"))
		if p.Description != "" {
			for _, line := range strings.Split(wrapText(p.Description, 68), "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
		}
		if p.Default != "" {
			fmt.Fprintf(out, "    %s %s\n", shared.Muted.Render("default:"), p.Default)
		}
	}
}
