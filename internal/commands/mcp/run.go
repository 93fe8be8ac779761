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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/log"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

type runOptions struct {
	metricsAddr string
	watch       bool
	debugWire   bool
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [service-pattern...]",
		Short: "Supervise providers in the foreground",
		Long: `Start the selected providers and supervise them until interrupted,
printing lifecycle events as they happen. Patterns are globs over provider
names; with none, every provider is started.

With --watch the registry file is watched: added providers that match the
patterns are started, removed ones are stopped and changed ones are rebuilt.

With --metrics-addr Prometheus metrics are served at /metrics.`,
		Example: `  toolbridge run
  toolbridge run 'git*' fs --watch
  toolbridge run --metrics-addr :9464 --json`,
		ValidArgsFunction: completion.CompleteServicePatterns,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{telemetry: true, debugWire: opts.debugWire})
			if err != nil {
				return err
			}
			defer rt.Close()

			if opts.metricsAddr == "" {
				opts.metricsAddr = rt.settings.MetricsAddr
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSupervise(ctx, cmd, rt, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload when the registry file changes")
	cmd.Flags().BoolVar(&opts.debugWire, "debug-wire", false, "Print protocol traffic to stderr")

	return cmd
}

// runSupervise runs until ctx is done.
func runSupervise(ctx context.Context, cmd *cobra.Command, rt *runtime, patterns []string, opts runOptions) error {
	out := cmd.OutOrStdout()

	selected, err := selectServices(rt.registry.Names(), patterns)
	if err != nil {
		return err
	}

	events, unsubscribe := rt.registry.Events().Subscribe(256)
	defer unsubscribe()

	if opts.metricsAddr != "" {
		stopMetrics, err := serveMetrics(rt, opts.metricsAddr)
		if err != nil {
			return err
		}
		defer stopMetrics()
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

	// Failures are logged; the rest keep running.
	_ = startSelected(cmd, rt, selected)
	printSummary(out, rt.registry)

	for {
		select {
		case <-ctx.Done():
			if !shared.GetQuiet() && !shared.GetJSON() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Stopping providers...")
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if (ev.Type == bridge.EventAdded || ev.Type == bridge.EventUpdated) && matchesAny(patterns, ev.Service) {
				go func(name string) {
					if err := rt.registry.Start(ctx, name); err != nil && ctx.Err() == nil {
						rt.logger.Warn("failed to start provider", log.ServiceKey, name, log.Error(err))
					}
				}(ev.Service)
			}
			printEvent(out, ev)
		}
	}
}

func matchesAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func printSummary(out io.Writer, registry *bridge.Registry) {
	if shared.GetJSON() || shared.GetQuiet() {
		return
	}
	summary := registry.Summary()
	fmt.Fprintf(out, "%s %d running, %d stopped, %d errored\n",
		shared.Muted.Render("Providers:"),
		summary[bridge.StatusRunning],
		summary[bridge.StatusStopped],
		summary[bridge.StatusError],
	)
}

func printEvent(out io.Writer, ev bridge.Event) {
	if shared.GetJSON() {
		_ = json.NewEncoder(out).Encode(ev)
		return
	}
	if shared.GetQuiet() || (ev.Type == bridge.EventLog && !shared.GetVerbose()) {
		return
	}

	detail := ev.Message
	if ev.Type == bridge.EventStatus {
		detail = shared.RenderServiceStatus(ev.Message)
	}
	fmt.Fprintf(out, "%s %-20s %-14s %s\n",
		shared.Muted.Render(ev.Timestamp.Format("15:04:05")),
		shared.Truncate(ev.Service, 20),
		ev.Type,
		detail,
	)
}

// serveMetrics serves the Prometheus handler until the returned func is called.
func serveMetrics(rt *runtime, addr string) (func(), error) {
	if rt.telemetry == nil {
		return nil, errors.New("metrics need telemetry")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.telemetry.MetricsHandler())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger := log.WithComponent(rt.logger, "metrics")
	srv := &http.Server{
		Handler:           log.HTTPMiddleware(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", log.Error(err))
		}
	}()
	logger.Info("serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
