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
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServiceNameRegex validates service names.
// Names must start with a letter and contain only letters, numbers, hyphens, and underscores.
// Maximum length is 64 characters.
var ServiceNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ServiceConfig describes how to spawn one tool provider.
// The name is the registry key and is not part of the persisted entry.
type ServiceConfig struct {
	Name    string            `json:"-" yaml:"-"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args" yaml:"args"`
	Env     map[string]string `json:"env" yaml:"env"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
}

// ServiceConfigPatch is a partial update. Nil fields keep the stored value;
// a non-nil Env replaces the whole map.
type ServiceConfigPatch struct {
	Command *string
	Args    *[]string
	Env     map[string]string
	Cwd     *string
}

// Clone returns a deep copy with nil collections normalized to empty ones.
func (c ServiceConfig) Clone() ServiceConfig {
	out := c
	out.Args = append([]string{}, c.Args...)
	out.Env = make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		out.Env[k] = v
	}
	return out
}

// Merge applies a patch and returns the merged copy.
func (c ServiceConfig) Merge(patch ServiceConfigPatch) ServiceConfig {
	out := c.Clone()
	if patch.Command != nil {
		out.Command = *patch.Command
	}
	if patch.Args != nil {
		out.Args = append([]string{}, (*patch.Args)...)
	}
	if patch.Env != nil {
		out.Env = make(map[string]string, len(patch.Env))
		for k, v := range patch.Env {
			out.Env[k] = v
		}
	}
	if patch.Cwd != nil {
		out.Cwd = *patch.Cwd
	}
	return out
}

// Validate checks the structure of a config. Command existence is checked at
// spawn time so persisted configs always load.
func (c ServiceConfig) Validate() error {
	if err := ValidateServiceName(c.Name); err != nil {
		return err
	}
	if strings.TrimSpace(c.Command) == "" {
		return ErrInvalidConfig(fmt.Sprintf("service %q: command is required", c.Name))
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !envKeyRegex.MatchString(k) {
			return ErrInvalidConfig(fmt.Sprintf("service %q: invalid environment variable key %q", c.Name, k))
		}
	}
	return nil
}

// ValidateServiceName validates a service name.
func ValidateServiceName(name string) error {
	if name == "" || len(name) > 64 || !ServiceNameRegex.MatchString(name) {
		return ErrInvalidServiceName(name)
	}
	return nil
}

// ValidateCommand checks that a command resolves to an executable.
func ValidateCommand(cmd string) error {
	if cmd == "" {
		return fmt.Errorf("command is required")
	}

	if filepath.IsAbs(cmd) {
		info, err := os.Stat(cmd)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("command not found: %s", cmd)
			}
			return fmt.Errorf("cannot access command: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("command is a directory: %s", cmd)
		}
		if info.Mode()&0111 == 0 {
			return fmt.Errorf("command is not executable: %s", cmd)
		}
		return nil
	}

	if _, err := exec.LookPath(cmd); err != nil {
		return fmt.Errorf("command not found in PATH: %s", cmd)
	}
	return nil
}

// shellInjectionPatterns are patterns that suggest an argument was written for a shell.
var shellInjectionPatterns = []string{
	";", "&&", "||", "|", "`", "$(", "\n", "\r",
}

// ValidateArg flags arguments that look like shell syntax. Arguments are
// passed to the process directly, so such syntax is almost always a mistake.
func ValidateArg(arg string) error {
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(arg, pattern) {
			return fmt.Errorf("argument contains shell syntax %q; arguments are not passed through a shell", pattern)
		}
	}
	return nil
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH",
}

// IsSensitiveEnvKey returns true if the key appears to contain sensitive data.
func IsSensitiveEnvKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upperKey, pattern) {
			return true
		}
	}
	return false
}

// RedactEnv returns a copy of env with sensitive literal values masked.
// Keyring references and ${VAR} expansions are not secrets and are kept.
func RedactEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if IsSensitiveEnvKey(k) && v != "" && !strings.HasPrefix(v, KeyringPrefix) && !isPureReference(v) {
			out[k] = "***REDACTED***"
			continue
		}
		out[k] = v
	}
	return out
}

func isPureReference(v string) bool {
	return strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") && strings.Count(v, "${") == 1
}

// Format is the encoding of a registry document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks a document format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Document is the declarative registry shape {name: {command, args, env, cwd}}.
// It is both the persisted form and the import/export format.
type Document map[string]ServiceConfig

// DocumentFrom builds a document from configs.
func DocumentFrom(configs []ServiceConfig) Document {
	doc := make(Document, len(configs))
	for _, cfg := range configs {
		doc[cfg.Name] = cfg.Clone()
	}
	return doc
}

// Configs returns the entries sorted by name with Name populated.
func (d Document) Configs() []ServiceConfig {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]ServiceConfig, 0, len(names))
	for _, name := range names {
		cfg := d[name].Clone()
		cfg.Name = name
		configs = append(configs, cfg)
	}
	return configs
}

// Marshal encodes the document.
func (d Document) Marshal(format Format) ([]byte, error) {
	normalized := make(Document, len(d))
	for name, cfg := range d {
		normalized[name] = cfg.Clone()
	}

	switch format {
	case FormatYAML:
		return yaml.Marshal(map[string]ServiceConfig(normalized))
	default:
		data, err := json.MarshalIndent(map[string]ServiceConfig(normalized), "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}

// ParseDocument decodes a document. A top-level "mcpServers" wrapper, as
// written by common desktop clients, is unwrapped.
func ParseDocument(data []byte, format Format) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, nil
	}

	var raw map[string]any
	if err := unmarshal(data, format, &raw); err != nil {
		return nil, ErrInvalidConfig(fmt.Sprintf("parse %s document: %v", format, err))
	}

	if wrapped, ok := raw["mcpServers"]; ok && len(raw) == 1 {
		inner, err := json.Marshal(wrapped)
		if err != nil {
			return nil, ErrInvalidConfig(err.Error())
		}
		data, format = inner, FormatJSON
	}

	var doc map[string]ServiceConfig
	if err := unmarshal(data, format, &doc); err != nil {
		return nil, ErrInvalidConfig(fmt.Sprintf("parse %s document: %v", format, err))
	}
	if doc == nil {
		doc = map[string]ServiceConfig{}
	}

	out := make(Document, len(doc))
	for name, cfg := range doc {
		cfg.Name = name
		out[name] = cfg.Clone()
	}
	return out, nil
}

func unmarshal(data []byte, format Format, v any) error {
	if format == FormatYAML {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// LogConfigWarnings reports argument and command problems that do not block registration.
func LogConfigWarnings(logger *slog.Logger, cfg ServiceConfig) []string {
	var warnings []string
	if err := ValidateCommand(cfg.Command); err != nil {
		warnings = append(warnings, err.Error())
	}
	for i, arg := range cfg.Args {
		if err := ValidateArg(arg); err != nil {
			warnings = append(warnings, fmt.Sprintf("args[%d]: %v", i, err))
		}
	}
	for _, w := range warnings {
		logger.Warn("service configuration warning", "service", cfg.Name, "warning", w)
	}
	return warnings
}
