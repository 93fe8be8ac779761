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

// Package format renders tool output for the terminal with TTY detection.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"
)

// Output modes accepted by Render. A "code:<lang>" mode highlights the
// content as that language.
const (
	ModeAuto     = "auto"
	ModePlain    = "plain"
	ModeMarkdown = "markdown"
	ModeJSON     = "json"
	ModeCode     = "code"
)

const (
	maxJSONSize     = 10 * 1024 * 1024
	maxMarkdownSize = 5 * 1024 * 1024
	maxCodeSize     = 2 * 1024 * 1024
	maxPlainSize    = 100 * 1024 * 1024
)

// ansiEscapeRegex matches terminal escape sequences, including OSC
// sequences terminated by BEL or ST.
var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// Sanitize strips escape sequences from provider-supplied text so a tool
// cannot drive the user's terminal.
func Sanitize(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

func enforceSize(content string, mode string, maxSize int) error {
	if len(content) > maxSize {
		return fmt.Errorf("output size (%d bytes) exceeds maximum for %s format (%d bytes)", len(content), mode, maxSize)
	}
	return nil
}

// ValidMode reports whether mode is accepted by Render.
func ValidMode(mode string) bool {
	switch strings.ToLower(mode) {
	case "", ModeAuto, ModePlain, ModeMarkdown, ModeJSON, ModeCode:
		return true
	}
	return strings.HasPrefix(strings.ToLower(mode), ModeCode+":")
}

// ModeForMIME picks a render mode for a resource's MIME type.
func ModeForMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch {
	case mimeType == "application/json" || strings.HasSuffix(mimeType, "+json"):
		return ModeJSON
	case mimeType == "text/markdown" || mimeType == "text/x-markdown":
		return ModeMarkdown
	case mimeType == "text/x-python":
		return ModeCode + ":python"
	case mimeType == "text/x-go":
		return ModeCode + ":go"
	case mimeType == "application/yaml" || mimeType == "text/yaml":
		return ModeCode + ":yaml"
	default:
		return ModeAuto
	}
}

// Render formats provider output. Content is always sanitized first;
// styling is applied only when isTTY is true.
func Render(content string, mode string, isTTY bool) (string, error) {
	content = Sanitize(content)
	lower := strings.ToLower(mode)

	if strings.HasPrefix(lower, ModeCode+":") {
		return Code(content, strings.TrimPrefix(lower, ModeCode+":"), isTTY)
	}

	switch lower {
	case "", ModeAuto:
		trimmed := strings.TrimSpace(content)
		if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
			return JSON(trimmed, isTTY)
		}
		if isTTY {
			return Markdown(content, isTTY)
		}
		return Plain(content)
	case ModePlain:
		return Plain(content)
	case ModeMarkdown:
		return Markdown(content, isTTY)
	case ModeJSON:
		return JSON(content, isTTY)
	case ModeCode:
		return Code(content, "", isTTY)
	default:
		return "", fmt.Errorf("unknown format: %s", mode)
	}
}

// Plain returns content unchanged.
func Plain(content string) (string, error) {
	if err := enforceSize(content, ModePlain, maxPlainSize); err != nil {
		return "", err
	}
	return content, nil
}

// Markdown renders markdown with glamour on a TTY and falls back to the
// raw text when rendering fails.
func Markdown(content string, isTTY bool) (string, error) {
	if err := enforceSize(content, ModeMarkdown, maxMarkdownSize); err != nil {
		return "", err
	}
	if !isTTY {
		return content, nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return content, nil
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content, nil
	}
	return strings.TrimRight(rendered, "\n"), nil
}

// JSON pretty-prints with 2-space indentation and highlights on a TTY.
func JSON(content string, isTTY bool) (string, error) {
	if err := enforceSize(content, ModeJSON, maxJSONSize); err != nil {
		return "", err
	}

	var obj any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	formatted, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}
	return highlight(string(formatted), "json", isTTY), nil
}

// Code highlights content as language on a TTY. An unknown or empty
// language leaves the code plain.
func Code(content, language string, isTTY bool) (string, error) {
	if err := enforceSize(content, ModeCode, maxCodeSize); err != nil {
		return "", err
	}
	return highlight(content, language, isTTY), nil
}

func highlight(content, language string, isTTY bool) string {
	if !isTTY || language == "" {
		return content
	}
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, content, language, "terminal256", "monokai"); err != nil {
		return content
	}
	return buf.String()
}
