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
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/templates.yaml
var builtinCatalog []byte

// Param positions.
const (
	ParamPositionEnv  = "env"
	ParamPositionArgs = "args"
)

// ParamValidation constrains a parameter value.
type ParamValidation struct {
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// TemplateParam is one user-supplied value of a template.
type TemplateParam struct {
	Key         string           `yaml:"key" json:"key"`
	Label       string           `yaml:"label" json:"label"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string           `yaml:"type,omitempty" json:"type,omitempty"`
	Position    string           `yaml:"position" json:"position"`
	Required    bool             `yaml:"required,omitempty" json:"required,omitempty"`
	Secret      bool             `yaml:"secret,omitempty" json:"secret,omitempty"`
	Multiple    bool             `yaml:"multiple,omitempty" json:"multiple,omitempty"`
	Separator   string           `yaml:"separator,omitempty" json:"separator,omitempty"`
	Default     string           `yaml:"default,omitempty" json:"default,omitempty"`
	Placeholder string           `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Validation  *ParamValidation `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// Template is a ready-made provider configuration.
type Template struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	DisplayName string            `yaml:"display_name" json:"display_name"`
	Description string            `yaml:"description" json:"description"`
	Category    string            `yaml:"category" json:"category"`
	Repository  string            `yaml:"repository,omitempty" json:"repository,omitempty"`
	Official    bool              `yaml:"official,omitempty" json:"official,omitempty"`
	Popular     bool              `yaml:"popular,omitempty" json:"popular,omitempty"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Params      []TemplateParam   `yaml:"params,omitempty" json:"params,omitempty"`
}

// Catalog is an indexed set of templates.
type Catalog struct {
	templates []Template
	byID      map[string]int
}

// LoadCatalog returns the built-in catalog.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(builtinCatalog)
}

// ParseCatalog decodes and checks a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(doc.Templates))}
	for _, t := range doc.Templates {
		if t.ID == "" || t.Command == "" {
			return nil, fmt.Errorf("catalog template %q: id and command are required", t.ID)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("catalog template %q is defined twice", t.ID)
		}
		for _, p := range t.Params {
			if p.Position != ParamPositionEnv && p.Position != ParamPositionArgs {
				return nil, fmt.Errorf("catalog template %q: param %q has invalid position %q", t.ID, p.Key, p.Position)
			}
			if p.Validation != nil && p.Validation.Pattern != "" {
				if _, err := regexp.Compile(p.Validation.Pattern); err != nil {
					return nil, fmt.Errorf("catalog template %q: param %q: %w", t.ID, p.Key, err)
				}
			}
		}
		c.byID[t.ID] = len(c.templates)
		c.templates = append(c.templates, t)
	}
	return c, nil
}

// Templates returns every template sorted by id.
func (c *Catalog) Templates() []Template {
	out := append([]Template(nil), c.templates...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a template by id.
func (c *Catalog) Get(id string) (Template, error) {
	i, ok := c.byID[id]
	if !ok {
		return Template{}, NewMCPError(ErrorCodeNotFound, fmt.Sprintf("template '%s' not found", id)).
			WithSuggestions("List templates: toolbridge catalog")
	}
	return c.templates[i], nil
}

// Search returns templates whose id, name, description or category contains query.
func (c *Catalog) Search(query string) []Template {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return c.Templates()
	}

	var out []Template
	for _, t := range c.Templates() {
		haystack := strings.ToLower(strings.Join([]string{t.ID, t.Name, t.DisplayName, t.Description, t.Category}, " "))
		if strings.Contains(haystack, query) {
			out = append(out, t)
		}
	}
	return out
}

// Resolve returns the value to use for the param, applying the default, and
// checks it against the validation pattern.
func (p TemplateParam) Resolve(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = p.Default
	}
	if value == "" {
		if p.Required {
			return "", fmt.Errorf("%s is required", p.Key)
		}
		return "", nil
	}

	if p.Validation != nil && p.Validation.Pattern != "" {
		re, err := regexp.Compile(p.Validation.Pattern)
		if err != nil {
			return "", fmt.Errorf("%s: invalid pattern: %w", p.Key, err)
		}
		check := []string{value}
		if p.Multiple {
			check = p.split(value)
		}
		for _, v := range check {
			if !re.MatchString(v) {
				msg := p.Validation.Message
				if msg == "" {
					msg = "value does not match " + p.Validation.Pattern
				}
				return "", fmt.Errorf("%s: %s", p.Key, msg)
			}
		}
	}
	return value, nil
}

func (p TemplateParam) split(value string) []string {
	sep := p.Separator
	if sep == "" {
		sep = ","
	}
	var out []string
	for _, v := range strings.Split(value, sep) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Apply builds a service config from the template and parameter values.
// Env params set a variable; args params are appended in declaration order,
// multiple-valued params split by their separator.
func (t Template) Apply(name string, values map[string]string) (ServiceConfig, error) {
	cfg := ServiceConfig{
		Name:    name,
		Command: t.Command,
		Args:    append([]string{}, t.Args...),
		Env:     make(map[string]string, len(t.Env)),
		Cwd:     t.Cwd,
	}
	for k, v := range t.Env {
		cfg.Env[k] = v
	}

	known := make(map[string]bool, len(t.Params))
	var errs []error
	for _, p := range t.Params {
		known[p.Key] = true
		value, err := p.Resolve(values[p.Key])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if value == "" {
			continue
		}

		switch p.Position {
		case ParamPositionEnv:
			cfg.Env[p.Key] = value
		case ParamPositionArgs:
			if p.Multiple {
				cfg.Args = append(cfg.Args, p.split(value)...)
			} else {
				cfg.Args = append(cfg.Args, value)
			}
		}
	}

	for key := range values {
		if !known[key] {
			errs = append(errs, fmt.Errorf("template '%s' has no parameter %s", t.ID, key))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return ServiceConfig{}, NewMCPError(ErrorCodeValidation, fmt.Sprintf("invalid parameters for template '%s'", t.ID)).
			WithDetail(err.Error()).
			WithCause(err)
	}
	return cfg, nil
}

// UniqueName returns base, or base-1, base-2 and so on, whichever is free first.
func UniqueName(base string, exists func(string) bool) string {
	name := base
	for i := 1; exists(name); i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return name
}
