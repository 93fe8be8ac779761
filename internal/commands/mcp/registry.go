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
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
	"github.com/tombee/toolbridge/internal/secrets"
)

type addOptions struct {
	command  string
	args     []string
	env      []string
	cwd      string
	template string
	params   []string
	keychain bool
	check    bool
}

type addResponse struct {
	shared.JSONResponse
	Service  serviceEntry `json:"service"`
	Warnings []string     `json:"warnings,omitempty"`
	Tools    []string     `json:"tools,omitempty"`
}

func newAddCommand() *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Register a tool provider",
		Long: `Register a tool provider. The configuration is saved to the registry
file; the provider is not started.

Providers are described either with --command and friends, or by a catalog
template with --template. Template parameters are given with --param and
prompted for when the terminal is interactive. The name defaults to the
template id.

Environment values of the form keyring:<name> are read from the OS keychain
when the provider starts. With --keychain, secret template parameters are
stored there instead of in the registry file.`,
		Example: `  toolbridge add fs --command npx --args -y --args @modelcontextprotocol/server-filesystem --args /tmp
  toolbridge add gh --command npx --args -y --args @modelcontextprotocol/server-github --env GITHUB_TOKEN=keyring:github
  toolbridge add --template filesystem --param ALLOWED_DIRECTORIES=/tmp,/srv
  toolbridge add search --template brave-search --keychain`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runAdd(cmd, rt, name, opts)
		},
	}

	cmd.Flags().StringVar(&opts.command, "command", "", "Command to run")
	cmd.Flags().StringArrayVar(&opts.args, "args", nil, "Command arguments (can be repeated)")
	cmd.Flags().StringArrayVar(&opts.env, "env", nil, "Environment variables in KEY=VALUE format (can be repeated)")
	cmd.Flags().StringVar(&opts.cwd, "cwd", "", "Working directory")
	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "Catalog template id")
	_ = cmd.RegisterFlagCompletionFunc("template", completion.CompleteTemplateIDs)
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "Template parameter in KEY=VALUE format (can be repeated)")
	cmd.Flags().BoolVar(&opts.keychain, "keychain", false, "Store secret template parameters in the OS keychain")
	cmd.Flags().BoolVar(&opts.check, "check", false, "Start the provider once to verify it, then stop it")

	return cmd
}

func runAdd(cmd *cobra.Command, rt *runtime, name string, opts addOptions) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	cfg, err := buildConfig(rt, name, opts)
	if err != nil {
		return err
	}

	if err := rt.registry.Add(ctx, cfg); err != nil {
		return err
	}
	warnings := bridge.LogConfigWarnings(rt.logger, cfg)

	var tools []string
	if opts.check {
		if err := rt.registry.Start(ctx, cfg.Name); err != nil {
			return fmt.Errorf("registered %s, but it failed to start: %w", cfg.Name, err)
		}
		inst, err := rt.registry.Get(cfg.Name)
		if err != nil {
			return err
		}
		for _, tool := range inst.Tools {
			tools = append(tools, tool.Name)
		}
		if err := rt.registry.Stop(ctx, cfg.Name); err != nil {
			return err
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSONTo(out, addResponse{
			JSONResponse: shared.NewJSONResponse("add"),
			Service: serviceEntry{
				Name:    cfg.Name,
				Command: cfg.Command,
				Args:    cfg.Args,
				Env:     bridge.RedactEnv(cfg.Env),
				Cwd:     cfg.Cwd,
			},
			Warnings: warnings,
			Tools:    tools,
		})
	}

	fmt.Fprintln(out, shared.RenderOK("Registered tool provider: "+cfg.Name))
	for _, w := range warnings {
		fmt.Fprintln(out, shared.RenderWarn(w))
	}
	if opts.check {
		fmt.Fprintf(out, "Verified: %d tools (%s)\n", len(tools), strings.Join(tools, ", "))
	}
	fmt.Fprintln(out, "\nTo try it:")
	fmt.Fprintf(out, "  toolbridge status %s\n", cfg.Name)
	return nil
}

// buildConfig turns flags, and optionally a template, into a service config.
func buildConfig(rt *runtime, name string, opts addOptions) (bridge.ServiceConfig, error) {
	env, err := parseKeyValues(opts.env, "env")
	if err != nil {
		return bridge.ServiceConfig{}, err
	}

	if opts.template == "" {
		if name == "" {
			return bridge.ServiceConfig{}, shared.NewUsageError("a name is required unless --template is given", nil)
		}
		if opts.command == "" {
			return bridge.ServiceConfig{}, shared.NewUsageError("--command is required unless --template is given", nil)
		}
		if len(opts.params) > 0 || opts.keychain {
			return bridge.ServiceConfig{}, shared.NewUsageError("--param and --keychain need --template", nil)
		}
		return bridge.ServiceConfig{
			Name:    name,
			Command: opts.command,
			Args:    opts.args,
			Env:     env,
			Cwd:     opts.cwd,
		}, nil
	}

	catalog, err := bridge.LoadCatalog()
	if err != nil {
		return bridge.ServiceConfig{}, err
	}
	tmpl, err := catalog.Get(opts.template)
	if err != nil {
		return bridge.ServiceConfig{}, err
	}

	values, err := parseKeyValues(opts.params, "param")
	if err != nil {
		return bridge.ServiceConfig{}, err
	}
	if !shared.IsNonInteractive() && !shared.GetJSON() {
		if err := promptParams(tmpl, values); err != nil {
			return bridge.ServiceConfig{}, err
		}
	}

	if name == "" {
		name = bridge.UniqueName(tmpl.ID, func(n string) bool {
			_, err := rt.registry.Get(n)
			return err == nil
		})
	}

	cfg, err := tmpl.Apply(name, values)
	if err != nil {
		return bridge.ServiceConfig{}, err
	}

	if opts.keychain {
		if err := storeSecretParams(tmpl, &cfg); err != nil {
			return bridge.ServiceConfig{}, err
		}
	}

	// Explicit flags refine the template.
	if opts.command != "" {
		cfg.Command = opts.command
	}
	cfg.Args = append(cfg.Args, opts.args...)
	for k, v := range env {
		cfg.Env[k] = v
	}
	if opts.cwd != "" {
		cfg.Cwd = opts.cwd
	}
	return cfg, nil
}

// promptParams asks for every template parameter not given on the command line.
func promptParams(tmpl bridge.Template, values map[string]string) error {
	var fields []huh.Field
	answers := make(map[string]*string)

	for _, p := range tmpl.Params {
		if _, given := values[p.Key]; given {
			continue
		}
		value := p.Default
		answers[p.Key] = &value

		input := huh.NewInput().
			Title(p.Label).
			Description(p.Description).
			Placeholder(p.Placeholder).
			Validate(func(s string) error {
				_, err := p.Resolve(s)
				return err
			}).
			Value(&value)
		if p.Secret {
			input = input.EchoMode(huh.EchoModePassword)
		}
		fields = append(fields, input)
	}
	if len(fields) == 0 {
		return nil
	}

	form := huh.NewForm(huh.NewGroup(fields...).
		Title(tmpl.DisplayName).
		Description(tmpl.Description))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return &shared.ExitError{Code: shared.ExitAborted, Message: "aborted"}
		}
		return fmt.Errorf("form cancelled: %w", err)
	}

	for key, value := range answers {
		values[key] = *value
	}
	return nil
}

// storeSecretParams moves secret env parameters into the keychain and
// leaves keyring references in their place.
func storeSecretParams(tmpl bridge.Template, cfg *bridge.ServiceConfig) error {
	for _, p := range tmpl.Params {
		if !p.Secret || p.Position != bridge.ParamPositionEnv {
			continue
		}
		value := cfg.Env[p.Key]
		if value == "" || strings.HasPrefix(value, bridge.KeyringPrefix) {
			continue
		}
		secretName := cfg.Name + "/" + p.Key
		if err := secrets.Set(secretName, value); err != nil {
			return fmt.Errorf("failed to store %s in the keychain: %w", p.Key, err)
		}
		cfg.Env[p.Key] = bridge.KeyringPrefix + secretName
	}
	return nil
}

func newRemoveCommand() *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a tool provider",
		Long: `Remove a tool provider from the registry.

With --forget-secrets, keychain entries referenced by its environment are
deleted too.`,
		Example: `  toolbridge remove github
  toolbridge remove search --forget-secrets`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServiceNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			return runRemove(cmd, rt, args[0], forget)
		},
	}

	cmd.Flags().BoolVar(&forget, "forget-secrets", false, "Delete keychain entries the provider references")

	return cmd
}

func runRemove(cmd *cobra.Command, rt *runtime, name string, forget bool) error {
	out := cmd.OutOrStdout()

	inst, err := rt.registry.Get(name)
	if err != nil {
		return err
	}
	if err := rt.registry.Remove(commandContext(cmd), name); err != nil {
		return err
	}

	if forget {
		for _, value := range inst.Config.Env {
			secretName, ok := strings.CutPrefix(value, bridge.KeyringPrefix)
			if !ok {
				continue
			}
			if err := secrets.Delete(secretName); err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
				rt.logger.Warn("failed to delete secret", "secret", secretName, "error", err)
			}
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSONTo(out, struct {
			shared.JSONResponse
			Name string `json:"name"`
		}{shared.NewJSONResponse("remove"), name})
	}
	fmt.Fprintln(out, shared.RenderOK("Removed tool provider: "+name))
	return nil
}

func newUpdateCommand() *cobra.Command {
	var (
		command   string
		args      []string
		clearArgs bool
		env       []string
		clearEnv  bool
		cwd       string
	)

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Change a tool provider's configuration",
		Long: `Change a tool provider's configuration. Only the given fields change.
--args and --env replace the whole list or map; use --clear-args and
--clear-env to empty them.`,
		Example: `  toolbridge update fs --args -y --args @modelcontextprotocol/server-filesystem --args /srv
  toolbridge update gh --env GITHUB_TOKEN=keyring:gh-work
  toolbridge update fs --cwd ""`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServiceNames,
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			var patch bridge.ServiceConfigPatch
			flags := cmd.Flags()
			if flags.Changed("command") {
				patch.Command = &command
			}
			if flags.Changed("args") {
				patch.Args = &args
			} else if clearArgs {
				empty := []string{}
				patch.Args = &empty
			}
			if flags.Changed("env") {
				parsed, err := parseKeyValues(env, "env")
				if err != nil {
					return err
				}
				patch.Env = parsed
			} else if clearEnv {
				patch.Env = map[string]string{}
			}
			if flags.Changed("cwd") {
				patch.Cwd = &cwd
			}
			if patch.Command == nil && patch.Args == nil && patch.Env == nil && patch.Cwd == nil {
				return shared.NewUsageError("nothing to update", nil)
			}

			rt, err := openRuntime(cmd, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			return runUpdate(cmd, rt, cmdArgs[0], patch)
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "Command to run")
	cmd.Flags().StringArrayVar(&args, "args", nil, "Command arguments, replacing the current ones (can be repeated)")
	cmd.Flags().BoolVar(&clearArgs, "clear-args", false, "Remove all arguments")
	cmd.Flags().StringArrayVar(&env, "env", nil, "Environment in KEY=VALUE format, replacing the current map (can be repeated)")
	cmd.Flags().BoolVar(&clearEnv, "clear-env", false, "Remove all environment variables")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory")

	return cmd
}

func runUpdate(cmd *cobra.Command, rt *runtime, name string, patch bridge.ServiceConfigPatch) error {
	out := cmd.OutOrStdout()
	if err := rt.registry.Update(commandContext(cmd), name, patch); err != nil {
		return err
	}
	inst, err := rt.registry.Get(name)
	if err != nil {
		return err
	}
	warnings := bridge.LogConfigWarnings(rt.logger, inst.Config)

	if shared.GetJSON() {
		return shared.EmitJSONTo(out, addResponse{
			JSONResponse: shared.NewJSONResponse("update"),
			Service: serviceEntry{
				Name:    inst.Name,
				Command: inst.Config.Command,
				Args:    inst.Config.Args,
				Env:     bridge.RedactEnv(inst.Config.Env),
				Cwd:     inst.Config.Cwd,
			},
			Warnings: warnings,
		})
	}

	fmt.Fprintln(out, shared.RenderOK("Updated tool provider: "+name))
	for _, w := range warnings {
		fmt.Fprintln(out, shared.RenderWarn(w))
	}
	return nil
}
