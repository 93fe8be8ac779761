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
	"io"
	"strings"
	"sync"
	"time"
)

// DebugFormatter renders JSON-RPC traffic for humans.
// It is safe for concurrent use by several services.
type DebugFormatter struct {
	// writer is where formatted output is written
	writer io.Writer

	// showTimestamps indicates whether to include timestamps
	showTimestamps bool

	// mu keeps messages from interleaving
	mu sync.Mutex
}

// DebugFormatterConfig configures the debug formatter.
type DebugFormatterConfig struct {
	// Writer is where formatted output is written (defaults to io.Discard)
	Writer io.Writer

	// HideTimestamps omits the time prefix.
	HideTimestamps bool
}

// NewDebugFormatter creates a new debug formatter.
func NewDebugFormatter(cfg DebugFormatterConfig) *DebugFormatter {
	if cfg.Writer == nil {
		cfg.Writer = io.Discard
	}
	return &DebugFormatter{
		writer:         cfg.Writer,
		showTimestamps: !cfg.HideTimestamps,
	}
}

// Observe formats one raw line. Its signature matches ServiceOptions.OnWire.
func (f *DebugFormatter) Observe(service, direction string, raw []byte) {
	_ = f.ParseAndFormat(service, direction, raw)
}

// ParseAndFormat classifies a JSON-RPC line and writes it. Lines that are not
// JSON are written raw.
func (f *DebugFormatter) ParseAndFormat(service, direction string, raw []byte) error {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return f.writeRaw(service, direction, string(raw))
	}

	method, _ := msg["method"].(string)
	id, hasID := msg["id"]

	switch {
	case method != "" && hasID:
		return f.formatMessage(service, direction, "REQUEST", fmt.Sprintf("%s #%v", method, id), msg["params"])
	case method != "":
		return f.formatMessage(service, direction, "NOTIFICATION", method, msg["params"])
	}

	if errData, hasError := msg["error"]; hasError {
		errMsg := "unknown error"
		if errMap, ok := errData.(map[string]any); ok {
			if message, ok := errMap["message"].(string); ok {
				errMsg = message
			}
		}
		return f.formatMessage(service, direction, "ERROR", fmt.Sprintf("#%v", id), errMsg)
	}

	return f.formatMessage(service, direction, "RESPONSE", fmt.Sprintf("#%v", id), msg["result"])
}

func (f *DebugFormatter) header(builder *strings.Builder, service, direction string) {
	if f.showTimestamps {
		builder.WriteString(time.Now().Format("15:04:05.000"))
		builder.WriteString(" ")
	}
	if service != "" {
		builder.WriteString("[")
		builder.WriteString(service)
		builder.WriteString("] ")
	}
	builder.WriteString(direction)
	builder.WriteString(" ")
}

func (f *DebugFormatter) formatMessage(service, direction, kind, label string, data any) error {
	var builder strings.Builder
	f.header(&builder, service, direction)

	builder.WriteString(kind)
	builder.WriteString(" ")
	builder.WriteString(label)
	builder.WriteString("\n")

	// Format data as indented JSON
	if data != nil {
		jsonData, err := json.MarshalIndent(data, "  ", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		builder.WriteString("  ")
		builder.Write(jsonData)
		builder.WriteString("\n")
	}

	return f.write(builder.String())
}

func (f *DebugFormatter) writeRaw(service, direction, raw string) error {
	var builder strings.Builder
	f.header(&builder, service, direction)
	builder.WriteString("RAW\n  ")
	builder.WriteString(raw)
	builder.WriteString("\n")
	return f.write(builder.String())
}

func (f *DebugFormatter) write(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := io.WriteString(f.writer, s)
	return err
}
