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

// Package mcptest provides a fake MCP tool provider for tests.
//
// The provider runs as a helper process of the test binary. A test package
// calls RunIfRequested from TestMain, then spawns Command() as a service:
//
//	func TestMain(m *testing.M) {
//	    mcptest.RunIfRequested()
//	    os.Exit(m.Run())
//	}
package mcptest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// EnvMode selects the helper behaviour. The test binary turns into a provider
// when it is set.
const EnvMode = "TOOLBRIDGE_FAKE_PROVIDER"

// Provider behaviours.
const (
	// ModeStandard serves tools and a resource over stdio. Prompts are not
	// supported so listing them fails.
	ModeStandard = "standard"

	// ModeSilent reads its input and never answers.
	ModeSilent = "silent"

	// ModeNoisy writes a malformed line and a stderr line before serving.
	ModeNoisy = "noisy"

	// ModeExit exits immediately with status 7.
	ModeExit = "exit"
)

// Names of what the standard provider exposes.
const (
	ServerName    = "fake-provider"
	ServerVersion = "1.0.0"
	ResourceURI   = "test://greeting"
	GreetingText  = "hello from the fake provider"
	CrashExitCode = 3
)

// RunIfRequested turns the process into a fake provider when EnvMode is set
// and never returns in that case.
func RunIfRequested() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(run(mode))
}

// Command returns how to spawn the fake provider in the given mode.
func Command(mode string) (command string, args []string, env map[string]string) {
	exe, err := os.Executable()
	if err != nil {
		panic(fmt.Sprintf("mcptest: cannot locate test binary: %v", err))
	}
	return exe, []string{"-test.run=^$"}, map[string]string{EnvMode: mode}
}

func run(mode string) int {
	switch mode {
	case ModeSilent:
		_, _ = io.Copy(io.Discard, os.Stdin)
		return 0
	case ModeExit:
		return 7
	case ModeNoisy:
		fmt.Fprintln(os.Stdout, "this is not json")
		fmt.Fprintln(os.Stderr, "provider warming up")
	}

	if err := server.ServeStdio(NewServer()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// NewServer builds the standard fake provider.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
	)

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo a message back"),
		mcp.WithString("message", mcp.Required(), mcp.Description("Text to echo")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(msg), nil
	})

	s.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required()),
		mcp.WithNumber("b", mcp.Required()),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := req.GetFloat("a", 0)
		b := req.GetFloat("b", 0)
		return mcp.NewToolResultText(strconv.FormatFloat(a+b, 'f', -1, 64)), nil
	})

	s.AddTool(mcp.NewTool("fail",
		mcp.WithDescription("Always returns an error result"),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("boom"), nil
	})

	s.AddTool(mcp.NewTool("sleep",
		mcp.WithDescription("Sleep before answering"),
		mcp.WithNumber("ms", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		d := time.Duration(req.GetFloat("ms", 0)) * time.Millisecond
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		return mcp.NewToolResultText("awake"), nil
	})

	s.AddTool(mcp.NewTool("crash",
		mcp.WithDescription("Exit the provider process"),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		os.Exit(CrashExitCode)
		return nil, nil
	})

	s.AddTool(mcp.NewTool("grow",
		mcp.WithDescription("Register an extra tool and announce the change"),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.AddTool(mcp.NewTool("extra", mcp.WithDescription("Added at runtime")),
			func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText("extra"), nil
			})
		s.SendNotificationToAllClients(string(mcp.MethodNotificationToolsListChanged), nil)
		return mcp.NewToolResultText("grown"), nil
	})

	s.AddResource(mcp.NewResource(ResourceURI, "greeting",
		mcp.WithResourceDescription("A static greeting"),
		mcp.WithMIMEType("text/plain"),
	), func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     GreetingText,
			},
		}, nil
	})

	return s
}
