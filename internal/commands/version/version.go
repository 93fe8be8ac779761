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
package version

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/mcp"
)

// VersionInfo contains version metadata
type VersionInfo struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	BuildDate       string `json:"build_date"`
	ProtocolVersion string `json:"protocol_version"`
	GoVersion       string `json:"go_version"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, build date and the MCP protocol version toolbridge speaks.`,
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}

	return cmd
}

func runVersion(cmd *cobra.Command, args []string) error {
	v, c, b := shared.GetVersion()

	info := VersionInfo{
		Version:         v,
		Commit:          c,
		BuildDate:       b,
		ProtocolVersion: mcp.ProtocolVersion,
		GoVersion:       goruntime.Version(),
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSONTo(out, info)
	}

	fmt.Fprintf(out, "toolbridge version %s\n", info.Version)
	fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
	fmt.Fprintf(out, "  build date: %s\n", info.BuildDate)
	fmt.Fprintf(out, "  protocol:   %s\n", info.ProtocolVersion)
	fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)

	return nil
}
