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
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/tombee/toolbridge/internal/secrets"
)

// KeyringPrefix marks an env value that is read from the OS keychain at spawn time.
const KeyringPrefix = "keyring:"

var envRefRegex = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// SecretLookup returns a stored secret by name.
type SecretLookup func(name string) (string, error)

// EnvResolver turns a configured env map into KEY=VALUE pairs for spawning.
// Values of the form "keyring:<name>" are read through the secret lookup and
// ${VAR} references are expanded from the parent environment. Anything else is
// passed through untouched.
type EnvResolver struct {
	lookupEnv    func(string) (string, bool)
	lookupSecret SecretLookup
}

// NewEnvResolver creates a resolver. A nil lookup uses the OS keychain.
func NewEnvResolver(lookup SecretLookup) *EnvResolver {
	if lookup == nil {
		lookup = secrets.Get
	}
	return &EnvResolver{
		lookupEnv:    os.LookupEnv,
		lookupSecret: lookup,
	}
}

// Resolve returns the env as sorted KEY=VALUE pairs.
func (r *EnvResolver) Resolve(env map[string]string) ([]string, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := r.resolveValue(k, env[k])
		if err != nil {
			return nil, err
		}
		out = append(out, k+"="+v)
	}
	return out, nil
}

func (r *EnvResolver) resolveValue(key, value string) (string, error) {
	if name, ok := strings.CutPrefix(value, KeyringPrefix); ok {
		secret, err := r.lookupSecret(name)
		if err != nil {
			return "", ErrInvalidConfig(fmt.Sprintf("env %s: secret %q unavailable", key, name)).
				WithCause(err).
				WithSuggestions(fmt.Sprintf("Store it with: toolbridge secret set %s", name))
		}
		return secret, nil
	}

	return envRefRegex.ReplaceAllStringFunc(value, func(ref string) string {
		name := envRefRegex.FindStringSubmatch(ref)[1]
		v, _ := r.lookupEnv(name)
		return v
	}), nil
}
