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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/config"
	"github.com/tombee/toolbridge/internal/log"
	bridge "github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/telemetry"
)

// runtimeOptions selects the optional parts of a runtime.
type runtimeOptions struct {
	// telemetry installs tracing and metrics.
	telemetry bool

	// debugWire prints every protocol line to stderr.
	debugWire bool
}

// runtime is everything a command needs to reach the registry.
type runtime struct {
	settings  *config.Settings
	logger    *slog.Logger
	storePath string
	store     bridge.Store
	registry  *bridge.Registry
	telemetry *telemetry.Provider
}

// openRuntime loads settings and the registry. Services come back stopped.
func openRuntime(cmd *cobra.Command, opts runtimeOptions) (*runtime, error) {
	ctx := commandContext(cmd)

	settings, err := config.Load()
	if err != nil {
		return nil, &shared.ExitError{Code: shared.ExitConfig, Message: "invalid settings", Cause: err}
	}

	logCfg := log.FromEnv()
	if shared.GetVerbose() {
		logCfg.Level = "debug"
	}
	logCfg.Output = cmd.ErrOrStderr()
	logger := log.New(logCfg)

	storePath := shared.GetConfigPath()
	if storePath == "" {
		if storePath, err = settings.StorePath(); err != nil {
			return nil, &shared.ExitError{Code: shared.ExitConfig, Message: "cannot locate the registry file", Cause: err}
		}
	}

	store, err := bridge.OpenStore(storePath)
	if err != nil {
		return nil, err
	}
	// A store that cannot be read must not be overwritten by later saves.
	if _, err := store.Load(ctx); err != nil {
		closeStore(store)
		return nil, err
	}

	rt := &runtime{
		settings:  settings,
		logger:    logger,
		storePath: storePath,
		store:     store,
	}

	svcOpts := settings.ServiceOptions(log.WithComponent(logger, "service"))
	version, _, _ := shared.GetVersion()
	svcOpts.ClientInfo = bridge.ClientInfo{Name: "toolbridge", Version: version}

	if opts.telemetry {
		provider, err := telemetry.New(ctx, telemetry.Config{
			ServiceName:    "toolbridge",
			ServiceVersion: version,
			TraceStdout:    settings.TraceStdout,
			TraceWriter:    cmd.ErrOrStderr(),
			OTLPEndpoint:   settings.OTLPEndpoint,
			OTLPProtocol:   settings.OTLPProtocol,
		})
		if err != nil {
			closeStore(store)
			return nil, fmt.Errorf("failed to set up telemetry: %w", err)
		}
		rt.telemetry = provider

		metrics, err := bridge.NewMetrics(provider.MeterProvider())
		if err != nil {
			rt.shutdownTelemetry()
			closeStore(store)
			return nil, err
		}
		svcOpts.Metrics = metrics
	}

	if opts.debugWire {
		formatter := bridge.NewDebugFormatter(bridge.DebugFormatterConfig{Writer: cmd.ErrOrStderr()})
		svcOpts.OnWire = formatter.Observe
	}

	registry, err := bridge.NewRegistry(bridge.RegistryConfig{
		Store:   store,
		Options: svcOpts,
		Logger:  log.WithComponent(logger, "registry"),
	})
	if err != nil {
		rt.shutdownTelemetry()
		closeStore(store)
		return nil, err
	}
	rt.registry = registry

	if err := registry.Load(ctx); err != nil {
		logger.Warn("some services were skipped while loading", log.Error(err))
	}
	return rt, nil
}

// Close stops every service and releases the store and telemetry.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), rt.settings.StopGrace+rt.settings.RequestTimeout)
	defer cancel()

	if err := rt.registry.Close(ctx); err != nil {
		rt.logger.Warn("failed to stop services", log.Error(err))
	}
	rt.shutdownTelemetry()
	closeStore(rt.store)
}

func (rt *runtime) shutdownTelemetry() {
	if rt.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rt.settings.RequestTimeout)
	defer cancel()
	if err := rt.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Debug("telemetry shutdown failed", log.Error(err))
	}
}

func closeStore(store bridge.Store) {
	if c, ok := store.(io.Closer); ok {
		_ = c.Close()
	}
}

// commandContext returns the command's context, never nil.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
