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
	"encoding/json"
	"fmt"
	"strings"
)

// ToolSeparator joins service and tool names in a composite tool name.
const ToolSeparator = "_"

// OpenAITool is a function-call descriptor in the OpenAI tools format.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction describes one callable function.
type OpenAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// RoutedTool is a descriptor together with the service and provider tool it
// belongs to. Calls made through it never re-split the composite name.
type RoutedTool struct {
	Service    string
	Tool       string
	Descriptor OpenAITool
}

// ToOpenAITool builds the descriptor for a service's tool, named "{service}_{tool}".
func ToOpenAITool(service string, tool Tool) OpenAITool {
	return OpenAITool{
		Type: "function",
		Function: OpenAIFunction{
			Name:        service + ToolSeparator + tool.Name,
			Description: tool.Description,
			Parameters:  convertInputSchema(tool.InputSchema),
		},
	}
}

// convertInputSchema reshapes a tool's JSON Schema into function parameters.
// A missing or unparsable schema becomes an empty object schema.
func convertInputSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &schema); err != nil {
			schema = nil
		}
	}
	if schema == nil {
		schema = map[string]any{}
	}

	if _, ok := schema["type"].(string); !ok {
		schema["type"] = "object"
	}
	if schema["type"] == "object" {
		if _, ok := schema["properties"].(map[string]any); !ok {
			schema["properties"] = map[string]any{}
		}
	}
	return schema
}

// ParseToolName splits a composite name at the first separator into service
// and tool names. A service name containing the separator cannot be
// recovered: "git_hub_search" parses as service "git", tool "hub_search".
func ParseToolName(name string) (service, tool string, err error) {
	service, tool, found := strings.Cut(name, ToolSeparator)
	if !found || service == "" || tool == "" {
		return "", "", NewMCPError(ErrorCodeValidation, fmt.Sprintf("invalid tool name '%s'", name)).
			WithDetail("expected {service}" + ToolSeparator + "{tool}")
	}
	return service, tool, nil
}

// FormatToolResult renders a tool result as text for a model. Text items are
// joined by newlines; other content falls back to its JSON encoding. Error
// results are prefixed so the model can tell them apart.
func FormatToolResult(result *ToolCallResult) string {
	if result == nil {
		return ""
	}

	var texts []string
	allText := true
	for _, item := range result.Content {
		if item.Type != "text" {
			allText = false
			break
		}
		texts = append(texts, item.Text)
	}

	var out string
	if allText {
		out = strings.Join(texts, "\n")
	} else {
		data, err := json.Marshal(result.Content)
		if err != nil {
			out = fmt.Sprintf("%v", result.Content)
		} else {
			out = string(data)
		}
	}

	if result.IsError {
		if out == "" {
			out = "tool execution failed"
		}
		return "Error: " + out
	}
	return out
}
