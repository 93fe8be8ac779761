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
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

func newImportCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Register the providers described in a file",
		Long: `Register every provider described in a JSON or YAML document. Both the
toolbridge export format and the common {"mcpServers": {...}} wrapper are
accepted. Use "-" to read standard input.

Entries whose name is already registered, or that are invalid, are skipped
and reported; the rest are imported.`,
		Example: `  toolbridge import claude_desktop_config.json
  toolbridge export | ssh host toolbridge import - --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			return runImport(cmd, rt, args[0], format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Document format: json or yaml (default: from the file extension)")
	_ = cmd.RegisterFlagCompletionFunc("format", completion.CompleteDocumentFormats)

	return cmd
}

func runImport(cmd *cobra.Command, rt *runtime, path, format string) error {
	out := cmd.OutOrStdout()

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	f, err := resolveFormat(format, path)
	if err != nil {
		return err
	}
	doc, err := bridge.ParseDocument(data, f)
	if err != nil {
		return err
	}

	before := len(rt.registry.Names())
	importErr := rt.registry.Import(commandContext(cmd), doc)
	imported := len(rt.registry.Names()) - before

	if shared.GetJSON() {
		resp := struct {
			shared.JSONResponse
			Imported int                `json:"imported"`
			Skipped  int                `json:"skipped"`
			Errors   []shared.JSONError `json:"errors,omitempty"`
		}{
			JSONResponse: shared.NewJSONResponse("import"),
			Imported:     imported,
			Skipped:      len(doc) - imported,
		}
		if importErr != nil {
			resp.Errors = []shared.JSONError{{Code: "IMPORT", Message: importErr.Error()}}
		}
		return shared.EmitJSONTo(out, resp)
	}

	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Imported %d of %d providers", imported, len(doc))))
	if importErr != nil {
		fmt.Fprintln(out, shared.RenderWarn("Some entries were skipped:"))
		fmt.Fprintln(out, importErr.Error())
	}
	return nil
}

func newExportCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the registered providers as a document",
		Long: `Write every registered provider as a JSON or YAML document, to a file
or to standard output. Values are exported as stored: keyring references
stay references.`,
		Example: `  toolbridge export
  toolbridge export providers.yaml
  toolbridge export --format yaml > providers.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runExport(cmd, rt, path, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Document format: json or yaml (default: from the file extension, json on stdout)")
	_ = cmd.RegisterFlagCompletionFunc("format", completion.CompleteDocumentFormats)

	return cmd
}

func runExport(cmd *cobra.Command, rt *runtime, path, format string) error {
	f, err := resolveFormat(format, path)
	if err != nil {
		return err
	}

	data, err := rt.registry.Export().Marshal(f)
	if err != nil {
		return err
	}

	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderOK("Exported to "+path))
	}
	return nil
}

func resolveFormat(format, path string) (bridge.Format, error) {
	switch format {
	case "":
		if path == "" || path == "-" {
			return bridge.FormatJSON, nil
		}
		return bridge.FormatForPath(path), nil
	case "json":
		return bridge.FormatJSON, nil
	case "yaml", "yml":
		return bridge.FormatYAML, nil
	default:
		return "", shared.NewUsageError(fmt.Sprintf("unsupported format %q (must be json or yaml)", format), nil)
	}
}
