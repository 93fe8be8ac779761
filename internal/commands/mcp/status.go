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
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

type statusResponse struct {
	shared.JSONResponse
	Service bridge.ServiceInstance `json:"service"`
	PingMS  int64                  `json:"ping_ms,omitempty"`
}

// statusOptions selects what status shows.
type statusOptions struct {
	start    bool
	refresh  bool
	logLines int
	since    time.Duration
}

func newStatusCommand() *cobra.Command {
	var (
		noStart   bool
		debugWire bool
		opts      statusOptions
	)

	cmd := &cobra.Command{
		Use:   "status <name>",
		Short: "Start a provider and show its status",
		Long: `Start a provider, check that it answers, and show its server
information, capabilities, tools and recent log lines. The provider is
stopped again before the command exits.

With --no-start only the stored configuration is shown. --refresh lists
the capabilities a second time after the handshake, and --since limits the
log to recent entries.`,
		Example: `  toolbridge status github
  toolbridge status github --json
  toolbridge status github --logs 50 --since 30s
  toolbridge status github --debug-wire`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServiceNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{telemetry: true, debugWire: debugWire})
			if err != nil {
				return err
			}
			defer rt.Close()
			opts.start = !noStart
			return runStatus(cmd, rt, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&noStart, "no-start", false, "Show the configuration without starting the provider")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "Fetch the capability lists again after starting")
	cmd.Flags().IntVar(&opts.logLines, "logs", 10, "Number of log lines to show (negative shows all)")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only show log lines newer than this duration")
	cmd.Flags().BoolVar(&debugWire, "debug-wire", false, "Print protocol traffic to stderr")

	return cmd
}

func runStatus(cmd *cobra.Command, rt *runtime, name string, opts statusOptions) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	svc, err := rt.registry.Service(name)
	if err != nil {
		return err
	}

	var startErr error
	var ping time.Duration
	if opts.start {
		spinner := shared.NewSpinner()
		spinner.Start("Starting " + name)
		startErr = rt.registry.Start(ctx, name)
		spinner.Stop()

		if startErr == nil {
			began := time.Now()
			if err := svc.Ping(ctx); err != nil {
				rt.logger.Debug("ping failed", "service", name, "error", err)
			} else {
				ping = time.Since(began)
			}
		}
		if startErr == nil && opts.refresh {
			if err := svc.Refresh(ctx); err != nil {
				return err
			}
		}
	}

	inst, err := rt.registry.Get(name)
	if err != nil {
		return err
	}
	inst.Config.Env = bridge.RedactEnv(inst.Config.Env)
	inst.Logs = statusLogs(svc, opts)

	if shared.GetJSON() {
		resp := statusResponse{
			JSONResponse: shared.NewJSONResponse("status"),
			Service:      inst,
			PingMS:       ping.Milliseconds(),
		}
		resp.Success = startErr == nil
		if err := shared.EmitJSONTo(out, resp); err != nil {
			return err
		}
		return startErr
	}

	printStatus(out, inst, ping)
	return startErr
}

// statusLogs applies --since and then keeps the last --logs entries.
func statusLogs(svc *bridge.Service, opts statusOptions) []bridge.LogEntry {
	if opts.since > 0 {
		logs := svc.LogsSince(time.Now().Add(-opts.since))
		if opts.logLines >= 0 && len(logs) > opts.logLines {
			logs = logs[len(logs)-opts.logLines:]
		}
		return logs
	}
	if opts.logLines < 0 {
		return svc.Logs()
	}
	return svc.RecentLogs(opts.logLines)
}

func printStatus(out io.Writer, inst bridge.ServiceInstance, ping time.Duration) {
	fmt.Fprintln(out, shared.Header.Render("Provider: "+inst.Name))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Status:"), shared.RenderServiceStatus(string(inst.Status)))
	if inst.PID > 0 {
		fmt.Fprintf(out, "%s %d\n", shared.Muted.Render("PID:"), inst.PID)
	}
	if inst.Uptime > 0 {
		fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Uptime:"), shared.FormatDuration(inst.Uptime))
	}
	if ping > 0 {
		fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Ping:"), ping.Round(time.Millisecond))
	}
	if inst.LastError != "" {
		fmt.Fprintf(out, "%s %s\n", shared.Muted.Render("Last Error:"), shared.StatusError.Render(inst.LastError))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, shared.Bold.Render("Configuration:"))
	fmt.Fprintf(out, "  %s %s\n", shared.Muted.Render("Command:"), inst.Config.Command)
	if len(inst.Config.Args) > 0 {
		fmt.Fprintf(out, "  %s %s\n", shared.Muted.Render("Args:"), strings.Join(inst.Config.Args, " "))
	}
	for _, k := range sortedKeys(inst.Config.Env) {
		fmt.Fprintf(out, "  %s %s=%s\n", shared.Muted.Render("Env:"), k, inst.Config.Env[k])
	}
	if inst.Config.Cwd != "" {
		fmt.Fprintf(out, "  %s %s\n", shared.Muted.Render("Cwd:"), inst.Config.Cwd)
	}

	if inst.ServerInfo != nil {
		caps := inst.ServerInfo.Capabilities
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.Bold.Render("Server:"))
		fmt.Fprintf(out, "  %s %s %s\n", shared.Muted.Render("Name:"), inst.ServerInfo.Name, inst.ServerInfo.Version)
		fmt.Fprintf(out, "  %s %s\n", shared.Muted.Render("Protocol:"), inst.ServerInfo.ProtocolVersion)
		fmt.Fprintf(out, "  %s %s (%d)\n", shared.Muted.Render("Tools:"), formatBool(caps.Tools != nil), len(inst.Tools))
		fmt.Fprintf(out, "  %s %s (%d)\n", shared.Muted.Render("Resources:"), formatBool(caps.Resources != nil), len(inst.Resources))
		fmt.Fprintf(out, "  %s %s (%d)\n", shared.Muted.Render("Prompts:"), formatBool(caps.Prompts != nil), len(inst.Prompts))
	}

	if len(inst.Logs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.Bold.Render("Recent Logs:"))
		for _, entry := range inst.Logs {
			fmt.Fprintf(out, "  %s %-5s %s\n",
				shared.Muted.Render(entry.Timestamp.Format("15:04:05")),
				entry.Level,
				entry.Message,
			)
		}
	}
}
