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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServiceInstance is a read-only snapshot of one registered service.
type ServiceInstance struct {
	Name       string        `json:"name"`
	Config     ServiceConfig `json:"config"`
	Status     Status        `json:"status"`
	Connected  bool          `json:"connected"`
	PID        int           `json:"pid,omitempty"`
	ServerInfo *ServerInfo   `json:"server_info,omitempty"`
	Tools      []Tool        `json:"tools"`
	Resources  []Resource    `json:"resources"`
	Prompts    []Prompt      `json:"prompts"`
	Logs       []LogEntry    `json:"logs,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
}

// instance pairs a Service with fields mirrored from its events.
type instance struct {
	service *Service

	mu        sync.Mutex
	status    Status
	connected bool
	pid       int
	tools     []Tool
	resources []Resource
	prompts   []Prompt
}

func (i *instance) snapshot() ServiceInstance {
	i.mu.Lock()
	snap := ServiceInstance{
		Name:      i.service.Name(),
		Config:    i.service.Config(),
		Status:    i.status,
		Connected: i.connected,
		PID:       i.pid,
		Tools:     append([]Tool{}, i.tools...),
		Resources: append([]Resource{}, i.resources...),
		Prompts:   append([]Prompt{}, i.prompts...),
	}
	i.mu.Unlock()

	snap.Config.Name = snap.Name
	snap.ServerInfo = i.service.ServerInfo()
	snap.Logs = i.service.Logs()
	snap.Uptime = i.service.Uptime()
	if err := i.service.LastError(); err != nil {
		snap.LastError = err.Error()
	}
	return snap
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Store persists configurations (defaults to an in-memory store).
	Store Store

	// Options is the template for every service. Events are replaced per service.
	Options ServiceOptions

	// Bus receives registry events (optional).
	Bus *EventBus

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Registry owns every configured service. Only configurations are persisted;
// loading rebuilds stopped services and never starts a process.
type Registry struct {
	store  Store
	opts   ServiceOptions
	bus    *EventBus
	logger *slog.Logger

	// opMu serializes mutations so persistence follows the map
	opMu sync.Mutex

	// mu protects services and unloaded
	mu       sync.RWMutex
	services map[string]*instance

	// unloaded holds persisted entries that failed validation. They are
	// written back untouched on every save so a bad entry is never lost.
	unloaded Document
}

// NewRegistry creates an empty registry. Call Load to restore persisted services.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = NewEventBus(logger)
	}
	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = logger
	}

	r := &Registry{
		store:    store,
		opts:     opts,
		bus:      bus,
		logger:   logger,
		services: make(map[string]*instance),
	}

	if err := opts.Metrics.ObserveServices(r.Summary); err != nil {
		return nil, fmt.Errorf("failed to register service gauge: %w", err)
	}
	return r, nil
}

// Events returns the registry's event bus.
func (r *Registry) Events() *EventBus { return r.bus }

// Store returns the persistence backend.
func (r *Registry) Store() Store { return r.store }

func (r *Registry) newInstance(cfg ServiceConfig) *instance {
	inst := &instance{status: StatusStopped}
	name := cfg.Name

	opts := r.opts
	opts.Events = ServiceEvents{
		OnStatus: func(from, to Status) {
			inst.mu.Lock()
			inst.status = to
			inst.mu.Unlock()
			r.bus.emitStatus(name, from, to)
		},
		OnLog: func(entry LogEntry) {
			r.bus.emitLog(name, entry)
		},
		OnTools: func(tools []Tool) {
			inst.mu.Lock()
			inst.tools = tools
			inst.mu.Unlock()
			if tools != nil {
				r.bus.emitToolsChanged(name, len(tools))
			}
		},
		OnResources: func(resources []Resource) {
			inst.mu.Lock()
			inst.resources = resources
			inst.mu.Unlock()
		},
		OnPrompts: func(prompts []Prompt) {
			inst.mu.Lock()
			inst.prompts = prompts
			inst.mu.Unlock()
		},
		OnPID: func(pid int) {
			inst.mu.Lock()
			inst.pid = pid
			inst.mu.Unlock()
		},
		OnConnected: func(connected bool) {
			inst.mu.Lock()
			inst.connected = connected
			inst.mu.Unlock()
		},
	}

	inst.service = NewService(cfg, opts)
	return inst
}

// Load replaces the registry contents with the persisted configurations.
// Every service comes back stopped; nothing is started.
func (r *Registry) Load(ctx context.Context) error {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	var errs []error
	loaded := make(map[string]*instance, len(doc))
	unloaded := make(Document)
	for _, cfg := range doc.Configs() {
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
			unloaded[cfg.Name] = cfg
			continue
		}
		loaded[cfg.Name] = r.newInstance(cfg)
	}

	r.mu.Lock()
	previous := r.services
	r.services = loaded
	r.unloaded = unloaded
	r.mu.Unlock()

	for _, inst := range previous {
		go r.stopQuietly(inst)
	}

	r.logger.Debug("registry loaded", "services", len(loaded), "store", r.store.Location())
	return errors.Join(errs...)
}

// Add registers a new service. The name must not be in use.
func (r *Registry) Add(ctx context.Context, cfg ServiceConfig) error {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	if _, exists := r.lookup(cfg.Name); exists || r.isUnloaded(cfg.Name) {
		return ErrConfigConflict(cfg.Name)
	}

	doc := r.persisted()
	doc[cfg.Name] = cfg
	if err := r.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}

	r.mu.Lock()
	r.services[cfg.Name] = r.newInstance(cfg)
	r.mu.Unlock()

	r.bus.Publish(Event{Type: EventAdded, Service: cfg.Name})
	r.logger.Info("registered service", "service", cfg.Name)
	return nil
}

// Remove unregisters a service. A live service is stopped in the background;
// Remove does not wait for it.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	inst, exists := r.lookup(name)
	if !exists {
		return ErrServiceNotFound(name)
	}

	doc := r.persisted()
	delete(doc, name)
	if err := r.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}

	r.mu.Lock()
	delete(r.services, name)
	r.mu.Unlock()

	go r.stopQuietly(inst)

	r.bus.Publish(Event{Type: EventRemoved, Service: name})
	r.logger.Info("unregistered service", "service", name)
	return nil
}

// Update merges a partial config into a service and rebuilds it. The change
// is persisted before the old service is stopped; the new one starts stopped.
func (r *Registry) Update(ctx context.Context, name string, patch ServiceConfigPatch) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	inst, exists := r.lookup(name)
	if !exists {
		return ErrServiceNotFound(name)
	}

	merged := inst.service.Config().Merge(patch)
	merged.Name = name
	if err := merged.Validate(); err != nil {
		return err
	}

	return r.replace(ctx, inst, merged, true)
}

// replace swaps in a fresh instance built from cfg and stops inst. A failed
// save leaves inst registered and untouched.
func (r *Registry) replace(ctx context.Context, inst *instance, cfg ServiceConfig, persist bool) error {
	if persist {
		doc := r.persisted()
		doc[cfg.Name] = cfg
		if err := r.store.Save(ctx, doc); err != nil {
			return fmt.Errorf("failed to save registry: %w", err)
		}
	}

	if err := inst.service.Stop(ctx); err != nil {
		r.logger.Warn("failed to stop service during update", "service", cfg.Name, "error", err)
	}

	r.mu.Lock()
	r.services[cfg.Name] = r.newInstance(cfg)
	r.mu.Unlock()

	r.bus.Publish(Event{Type: EventUpdated, Service: cfg.Name})
	r.logger.Info("updated service", "service", cfg.Name)
	return nil
}

// Service returns the live Service for a name.
func (r *Registry) Service(name string) (*Service, error) {
	inst, ok := r.lookup(name)
	if !ok {
		return nil, ErrServiceNotFound(name)
	}
	return inst.service, nil
}

// Start starts a service.
func (r *Registry) Start(ctx context.Context, name string) error {
	svc, err := r.Service(name)
	if err != nil {
		return err
	}
	return svc.Start(ctx)
}

// Stop stops a service.
func (r *Registry) Stop(ctx context.Context, name string) error {
	svc, err := r.Service(name)
	if err != nil {
		return err
	}
	return svc.Stop(ctx)
}

// Restart restarts a service.
func (r *Registry) Restart(ctx context.Context, name string) error {
	svc, err := r.Service(name)
	if err != nil {
		return err
	}
	return svc.Restart(ctx)
}

// StartAll starts the named services concurrently and joins their errors.
func (r *Registry) StartAll(ctx context.Context, names []string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		g.Go(func() error {
			if err := r.Start(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Get returns a snapshot of one service.
func (r *Registry) Get(name string) (ServiceInstance, error) {
	inst, ok := r.lookup(name)
	if !ok {
		return ServiceInstance{}, ErrServiceNotFound(name)
	}
	return inst.snapshot(), nil
}

// List returns snapshots of every service sorted by name.
func (r *Registry) List() []ServiceInstance {
	instances := r.instances()
	out := make([]ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.snapshot())
	}
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary counts services per status.
func (r *Registry) Summary() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, status := range Statuses {
		counts[status] = 0
	}
	for _, inst := range r.instances() {
		inst.mu.Lock()
		counts[inst.status]++
		inst.mu.Unlock()
	}
	return counts
}

// Import adds every entry of a document. Conflicting or invalid entries are
// skipped and reported together; the rest are still imported.
func (r *Registry) Import(ctx context.Context, doc Document) error {
	var errs []error
	for _, cfg := range doc.Configs() {
		if err := r.Add(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Export returns the configurations as a declarative document.
func (r *Registry) Export() Document {
	return r.document()
}

// Reload re-reads the store and reconciles: new entries are added stopped,
// missing entries are removed and changed entries are rebuilt.
func (r *Registry) Reload(ctx context.Context) error {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	current := r.document()
	unloaded := make(Document)
	var errs []error

	for name := range current {
		if _, keep := doc[name]; keep {
			continue
		}
		inst, ok := r.lookup(name)
		if !ok {
			continue
		}
		r.mu.Lock()
		delete(r.services, name)
		r.mu.Unlock()
		go r.stopQuietly(inst)
		r.bus.Publish(Event{Type: EventRemoved, Service: name})
		r.logger.Info("service removed by reload", "service", name)
	}

	for _, cfg := range doc.Configs() {
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
			unloaded[cfg.Name] = cfg
			if inst, ok := r.lookup(cfg.Name); ok {
				r.mu.Lock()
				delete(r.services, cfg.Name)
				r.mu.Unlock()
				go r.stopQuietly(inst)
				r.bus.Publish(Event{Type: EventRemoved, Service: cfg.Name})
			}
			continue
		}

		existing, ok := current[cfg.Name]
		if !ok {
			r.mu.Lock()
			r.services[cfg.Name] = r.newInstance(cfg)
			r.mu.Unlock()
			r.bus.Publish(Event{Type: EventAdded, Service: cfg.Name})
			r.logger.Info("service added by reload", "service", cfg.Name)
			continue
		}

		existing.Name = cfg.Name
		if reflect.DeepEqual(existing.Clone(), cfg.Clone()) {
			continue
		}
		inst, ok := r.lookup(cfg.Name)
		if !ok {
			continue
		}
		if err := r.replace(ctx, inst, cfg, false); err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	r.unloaded = unloaded
	r.mu.Unlock()

	return errors.Join(errs...)
}

// Tools returns descriptors for every tool of the running, connected services
// in selected. An empty selection means every service.
func (r *Registry) Tools(selected []string) []OpenAITool {
	routed := r.RoutedTools(selected)
	if len(routed) == 0 {
		return nil
	}
	tools := make([]OpenAITool, 0, len(routed))
	for _, rt := range routed {
		tools = append(tools, rt.Descriptor)
	}
	return tools
}

// RoutedTools is Tools with each descriptor's service and tool name kept.
func (r *Registry) RoutedTools(selected []string) []RoutedTool {
	want := make(map[string]bool, len(selected))
	for _, name := range selected {
		want[name] = true
	}

	var tools []RoutedTool
	for _, inst := range r.instances() {
		snap := inst.snapshot()
		if len(want) > 0 && !want[snap.Name] {
			continue
		}
		if snap.Status != StatusRunning || !snap.Connected {
			continue
		}
		for _, tool := range snap.Tools {
			tools = append(tools, RoutedTool{
				Service:    snap.Name,
				Tool:       tool.Name,
				Descriptor: ToOpenAITool(snap.Name, tool),
			})
		}
	}
	return tools
}

// CallTool routes a composite "{service}_{tool}" call to its service.
func (r *Registry) CallTool(ctx context.Context, compositeName string, args map[string]any) (*ToolCallResult, error) {
	serviceName, toolName, err := ParseToolName(compositeName)
	if err != nil {
		return nil, err
	}
	return r.CallServiceTool(ctx, serviceName, toolName, args)
}

// CallServiceTool calls a tool on a named service.
func (r *Registry) CallServiceTool(ctx context.Context, service, tool string, args map[string]any) (*ToolCallResult, error) {
	svc, err := r.Service(service)
	if err != nil {
		return nil, err
	}
	return svc.CallTool(ctx, tool, args)
}

// Close stops every active service concurrently.
func (r *Registry) Close(ctx context.Context) error {
	var g errgroup.Group
	for _, inst := range r.instances() {
		if status := inst.service.Status(); !status.IsActive() && status != StatusError {
			continue
		}
		g.Go(func() error {
			if err := inst.service.Stop(ctx); err != nil {
				return fmt.Errorf("%s: %w", inst.service.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Registry) lookup(name string) (*instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.services[name]
	return inst, ok
}

func (r *Registry) instances() []*instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*instance, 0, len(names))
	for _, name := range names {
		out = append(out, r.services[name])
	}
	return out
}

func (r *Registry) document() Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := make(Document, len(r.services))
	for name, inst := range r.services {
		cfg := inst.service.Config()
		cfg.Name = name
		doc[name] = cfg
	}
	return doc
}

// persisted is the document to save: the live services plus any entries
// that could not be loaded.
func (r *Registry) persisted() Document {
	doc := r.document()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, cfg := range r.unloaded {
		if _, live := doc[name]; !live {
			doc[name] = cfg.Clone()
		}
	}
	return doc
}

func (r *Registry) isUnloaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.unloaded[name]
	return ok
}

func (r *Registry) stopQuietly(inst *instance) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*r.stopGrace()+time.Second)
	defer cancel()
	if err := inst.service.Stop(ctx); err != nil {
		r.logger.Warn("background stop failed", "service", inst.service.Name(), "error", err)
	}
}

func (r *Registry) stopGrace() time.Duration {
	if r.opts.StopGrace > 0 {
		return r.opts.StopGrace
	}
	return DefaultStopGrace
}
