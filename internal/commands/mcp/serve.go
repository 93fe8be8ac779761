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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/log"
	bridge "github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/mcp/server"
)

type serveOptions struct {
	watch     bool
	debugWire bool
}

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [service-pattern...]",
		Short: "Expose providers' tools as one MCP server on stdio",
		Long: `Start the selected providers and serve their tools as a single MCP
server over standard input and output. Tools keep their {service}_{tool}
names and calls are routed to the owning provider. A toolbridge_status tool
reports the health of every provider.

The published tool list follows the providers: it changes when a provider
stops, fails or announces new tools. All logging goes to stderr.`,
		Example: `  # In an MCP client configuration
  {"command": "toolbridge", "args": ["serve"]}

  # Only GitHub and filesystem tools, reloading on registry edits
  toolbridge serve github fs --watch`,
		ValidArgsFunction: completion.CompleteServicePatterns,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{telemetry: true, debugWire: opts.debugWire})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rt, args, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload when the registry file changes")
	cmd.Flags().BoolVar(&opts.debugWire, "debug-wire", false, "Print provider protocol traffic to stderr")

	return cmd
}

func runServe(ctx context.Context, rt *runtime, patterns []string, opts serveOptions, in io.Reader, out io.Writer) error {
	selected, err := selectServices(rt.registry.Names(), patterns)
	if err != nil {
		return err
	}

	if opts.watch {
		watcher, err := bridge.NewWatcher(bridge.WatcherConfig{
			Target: rt.registry,
			Path:   rt.storePath,
			Logger: log.WithComponent(rt.logger, "watcher"),
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", rt.storePath, err)
		}
		defer watcher.Close()
	}

	if err := rt.registry.StartAll(ctx, selected); err != nil {
		rt.logger.Warn("some providers failed to start", log.Error(err))
	}

	// Subscribed before the first sync so no change is missed.
	updates, unsubscribe := rt.registry.Events().Subscribe(256, bridge.ControlEvents...)
	defer unsubscribe()

	var restrict []string
	if len(patterns) > 0 {
		restrict = selected
	}
	version, _, _ := shared.GetVersion()
	gateway, err := server.NewServer(server.ServerConfig{
		Version:  version,
		Logger:   rt.logger,
		Backend:  rt.registry,
		Services: restrict,
	})
	if err != nil {
		return err
	}

	go gateway.Watch(ctx, updates)

	if opts.watch && restrict == nil {
		added, unsubscribeAdded := rt.registry.Events().Subscribe(64, bridge.EventAdded)
		defer unsubscribeAdded()
		go startAdded(ctx, rt, added)
	}

	rt.logger.Info("gateway ready", "tools", len(gateway.Published()))
	return gateway.Serve(ctx, in, out)
}

// startAdded starts services that a reload adds until ctx is done.
func startAdded(ctx context.Context, rt *runtime, events <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != bridge.EventAdded {
				continue
			}
			go func(name string) {
				if err := rt.registry.Start(ctx, name); err != nil && ctx.Err() == nil {
					rt.logger.Warn("failed to start provider", log.ServiceKey, name, log.Error(err))
				}
			}(ev.Service)
		}
	}
}
