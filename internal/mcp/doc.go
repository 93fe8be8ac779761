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

/*
Package mcp supervises Model Context Protocol (MCP) tool providers.

A tool provider is an external program that exposes tools, resources and
prompts over JSON-RPC 2.0, one JSON object per line on its standard streams.
This package spawns providers, speaks the protocol to them and keeps a
persisted registry of their configurations.

# Overview

The implementation consists of several layers:

  - Process: spawns one child in its own process group and delivers its
    stdout and stderr line by line
  - Client: JSON-RPC request/response correlation with per-request
    timeouts, notifications and the initialize handshake
  - Service: composes a Process and a Client into one lifecycle with an
    explicit state machine and cached capabilities
  - Registry: owns every configured Service, persists configurations and
    routes composite tool calls
  - Tool adapter: exposes discovered tools as OpenAI function descriptors

# Service Lifecycle

Services move through these states:

  - stopped: no process
  - starting: spawning, settling and handshaking
  - running: connected and accepting requests
  - stopping: tearing down
  - error: the last start failed

Start is valid only from stopped. A service in error is left through Stop or
Restart. A process exit while running moves the service to stopped, the same
terminal path a user stop takes.

	svc := mcp.NewService(mcp.ServiceConfig{
	    Name:    "filesystem",
	    Command: "npx",
	    Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
	}, mcp.ServiceOptions{Logger: logger})

	if err := svc.Start(ctx); err != nil {
	    return err
	}
	defer svc.Stop(ctx)

	result, err := svc.CallTool(ctx, "read_file", map[string]any{"path": "/tmp/notes.txt"})

# Registry

The registry persists only {name: {command, args, env, cwd}}. Loading
rebuilds every service stopped; nothing is started automatically.

	store, _ := mcp.OpenStore("~/.config/toolbridge/services.json")
	registry, _ := mcp.NewRegistry(mcp.RegistryConfig{Store: store, Logger: logger})
	if err := registry.Load(ctx); err != nil {
	    return err
	}

	tools := registry.Tools(nil) // "{service}_{tool}" descriptors
	result, err := registry.CallTool(ctx, "filesystem_read_file", args)

Composite names are split at the first underscore, so a service whose name
contains an underscore cannot be addressed unambiguously.
*/
package mcp
