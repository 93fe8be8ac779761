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

package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	bridge "github.com/tombee/toolbridge/internal/mcp"
)

// StatusToolName is the gateway's own tool reporting service health.
const StatusToolName = "toolbridge_status"

// StatusToolResult represents the status tool result
type StatusToolResult struct {
	Healthy  bool            `json:"healthy"`
	Services []ServiceStatus `json:"services"`
}

// ServiceStatus reports one configured service
type ServiceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Tools     int    `json:"tools"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) statusTool() server.ServerTool {
	return server.ServerTool{
		Tool: mcp.NewTool(StatusToolName,
			mcp.WithDescription("Report the status of every tool provider behind this gateway, including the number of tools each exposes and its last error."),
		),
		Handler: s.handleStatus,
	}
}

// handleStatus implements the toolbridge_status tool
func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := collectStatus(s.backend.List())

	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to encode status: %v", err)), nil
	}

	return textResponse(string(resultJSON)), nil
}

// collectStatus summarizes the registry. Any service in error makes the
// gateway unhealthy.
func collectStatus(instances []bridge.ServiceInstance) StatusToolResult {
	result := StatusToolResult{
		Healthy:  true,
		Services: []ServiceStatus{},
	}

	for _, inst := range instances {
		if inst.Status == bridge.StatusError {
			result.Healthy = false
		}
		result.Services = append(result.Services, ServiceStatus{
			Name:      inst.Name,
			Status:    string(inst.Status),
			Connected: inst.Connected,
			Tools:     len(inst.Tools),
			LastError: inst.LastError,
		})
	}

	return result
}
