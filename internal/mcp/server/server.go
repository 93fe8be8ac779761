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

// Package server re-exposes the tools of running providers as a single MCP
// server on stdio, so one client connection reaches every configured service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	bridge "github.com/tombee/toolbridge/internal/mcp"
)

// Backend is the registry surface the gateway needs.
type Backend interface {
	RoutedTools(selected []string) []bridge.RoutedTool
	CallServiceTool(ctx context.Context, service, tool string, args map[string]any) (*bridge.ToolCallResult, error)
	List() []bridge.ServiceInstance
}

// Server wraps the MCP server and publishes registry tools
type Server struct {
	mcpServer *server.MCPServer
	backend   Backend
	services  []string
	name      string
	version   string
	logger    *slog.Logger

	// mu serializes Sync
	mu        sync.Mutex
	published []string
}

// ServerConfig configures the gateway
type ServerConfig struct {
	// Name is the server name (default: "toolbridge")
	Name string

	// Version is the toolbridge version
	Version string

	// LogLevel controls logging verbosity (debug, info, warn, error).
	// Ignored when Logger is set.
	LogLevel string

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Backend supplies tools and routes calls
	Backend Backend

	// Services restricts the published tools to these services (empty means all)
	Services []string
}

// createLogger creates a logger with the specified log level.
// Writes to stderr to avoid interfering with MCP stdio protocol.
func createLogger(levelStr string) (*slog.Logger, error) {
	var level slog.Level

	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), nil
}

// NewServer creates a gateway. Call Sync or Run to publish tools.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if config.Name == "" {
		config.Name = "toolbridge"
	}
	if config.Version == "" {
		config.Version = "dev"
	}

	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = createLogger(config.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	s := &Server{
		mcpServer: server.NewMCPServer(config.Name, config.Version, server.WithToolCapabilities(true)),
		backend:   config.Backend,
		services:  config.Services,
		name:      config.Name,
		version:   config.Version,
		logger:    logger.With(slog.String("component", "gateway")),
	}
	s.Sync()

	return s, nil
}

// MCPServer exposes the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sync replaces the published tool set with the backend's current tools.
// Connected clients receive a tools/list_changed notification.
func (s *Server) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	tools := []server.ServerTool{s.statusTool()}
	names := []string{StatusToolName}

	for _, routed := range s.backend.RoutedTools(s.services) {
		desc := routed.Descriptor
		name := desc.Function.Name
		if name == StatusToolName {
			s.logger.Warn("tool shadowed by the status tool", slog.String("tool", name))
			continue
		}
		schema, err := json.Marshal(desc.Function.Parameters)
		if err != nil {
			s.logger.Warn("skipping tool with unencodable schema", slog.String("tool", name), slog.Any("error", err))
			continue
		}
		tools = append(tools, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(name, desc.Function.Description, schema),
			Handler: s.forward(routed),
		})
		names = append(names, name)
	}

	s.mcpServer.SetTools(tools...)
	s.published = names
	s.logger.Debug("published tools", slog.Int("count", len(names)))
}

// Published returns the names of the currently published tools.
func (s *Server) Published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.published...)
}

// Watch resyncs on registry events until ctx is done.
func (s *Server) Watch(ctx context.Context, events <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case bridge.EventToolsChanged, bridge.EventStatus, bridge.EventRemoved, bridge.EventUpdated:
				s.Sync()
			}
		}
	}
}

// Run serves the gateway on the process's stdio until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves the gateway over the given streams.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Starting toolbridge gateway", slog.String("version", s.version))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// forward routes a published tool to the service it was listed for.
func (s *Server) forward(routed bridge.RoutedTool) server.ToolHandlerFunc {
	name := routed.Descriptor.Function.Name
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.backend.CallServiceTool(ctx, routed.Service, routed.Tool, request.GetArguments())
		if err != nil {
			s.logger.Warn("tool call failed", slog.String("tool", name), slog.Any("error", err))
			return errorResponse(err.Error()), nil
		}
		return convertResult(result), nil
	}
}

// convertResult maps a provider result onto mcp-go content types.
func convertResult(result *bridge.ToolCallResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: result.IsError}
	for _, item := range result.Content {
		switch {
		case item.Type == "text":
			out.Content = append(out.Content, mcp.NewTextContent(item.Text))
		case item.Type == "image":
			out.Content = append(out.Content, mcp.NewImageContent(item.Data, item.MimeType))
		case item.Type == "resource" && item.Resource != nil && item.Resource.Blob != "":
			out.Content = append(out.Content, mcp.NewEmbeddedResource(mcp.BlobResourceContents{
				URI:      item.Resource.URI,
				MIMEType: item.Resource.MimeType,
				Blob:     item.Resource.Blob,
			}))
		case item.Type == "resource" && item.Resource != nil:
			out.Content = append(out.Content, mcp.NewEmbeddedResource(mcp.TextResourceContents{
				URI:      item.Resource.URI,
				MIMEType: item.Resource.MimeType,
				Text:     item.Resource.Text,
			}))
		default:
			data, err := json.Marshal(item)
			if err != nil {
				continue
			}
			out.Content = append(out.Content, mcp.NewTextContent(string(data)))
		}
	}
	if len(out.Content) == 0 {
		out.Content = []mcp.Content{}
	}
	return out
}

// Helper function to create error response
func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// Helper function to create success response
func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
