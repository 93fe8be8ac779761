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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultSettleDelay is the pause between spawn and handshake.
	DefaultSettleDelay = 500 * time.Millisecond

	// DefaultRestartDelay is the pause between the stop and start halves of a restart.
	DefaultRestartDelay = time.Second
)

// ServiceEvents receives state changes from a Service. Handlers are supplied at
// construction so no event is missed. OnStatus runs while the service's state
// lock is held and must not call back into the Service.
type ServiceEvents struct {
	OnStatus    func(from, to Status)
	OnLog       func(entry LogEntry)
	OnTools     func(tools []Tool)
	OnResources func(resources []Resource)
	OnPrompts   func(prompts []Prompt)
	OnPID       func(pid int)
	OnConnected func(connected bool)
}

// ServiceOptions tunes a Service. Zero values select the defaults.
type ServiceOptions struct {
	// SettleDelay is the pause between spawn and handshake (defaults to 500ms).
	SettleDelay time.Duration

	// RequestTimeout bounds each protocol request (defaults to 30s).
	RequestTimeout time.Duration

	// RestartDelay separates stop and start in Restart (defaults to 1s).
	RestartDelay time.Duration

	// StopGrace is the delay between SIGTERM and SIGKILL (defaults to 3s).
	StopGrace time.Duration

	// LogCapacity caps the service log (defaults to 100).
	LogCapacity int

	// ClientInfo identifies this client in the handshake.
	ClientInfo ClientInfo

	// CallRate limits tool calls per second. Zero means unlimited.
	CallRate rate.Limit

	// CallBurst is the limiter burst (defaults to 1 when CallRate is set).
	CallBurst int

	// Env resolves configured env values at spawn time (optional).
	Env *EnvResolver

	// Events receives state changes.
	Events ServiceEvents

	// OnWire observes every raw protocol line (optional).
	OnWire func(service, direction string, raw []byte)

	// Metrics records instruments (optional).
	Metrics *Metrics

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

func (o ServiceOptions) withDefaults() ServiceOptions {
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = DefaultRestartDelay
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.LogCapacity <= 0 {
		o.LogCapacity = DefaultLogCapacity
	}
	if o.CallRate <= 0 {
		o.CallRate = rate.Inf
	}
	if o.CallBurst <= 0 {
		o.CallBurst = 1
	}
	if o.Env == nil {
		o.Env = NewEnvResolver(nil)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Service composes one Process and one Client into a single lifecycle.
type Service struct {
	cfg     ServiceConfig
	opts    ServiceOptions
	logger  *slog.Logger
	state   *stateMachine
	logs    *RingBuffer
	limiter *rate.Limiter

	// stopMu serializes Stop so a second caller waits for the first
	stopMu sync.Mutex

	// mu protects every field below
	mu          sync.Mutex
	attempt     uint64
	process     *Process
	client      *Client
	cancelStart context.CancelCauseFunc
	serverInfo  *ServerInfo
	tools       []Tool
	resources   []Resource
	prompts     []Prompt
	lastError   error
	startedAt   time.Time
}

// NewService creates a stopped service. Nothing is spawned until Start.
func NewService(cfg ServiceConfig, opts ServiceOptions) *Service {
	opts = opts.withDefaults()

	s := &Service{
		cfg:     cfg.Clone(),
		opts:    opts,
		logger:  opts.Logger.With("component", "mcp", "service", cfg.Name),
		logs:    NewRingBuffer(opts.LogCapacity),
		limiter: rate.NewLimiter(opts.CallRate, opts.CallBurst),
	}
	s.state = newStateMachine(cfg.Name, s.onStatus)
	return s
}

func (s *Service) onStatus(from, to Status) {
	s.opts.Metrics.recordTransition(s.cfg.Name, from, to)
	s.appendLog(LogLevelInfo, LogSourceLifecycle, fmt.Sprintf("status %s -> %s", from, to))
	if s.opts.Events.OnStatus != nil {
		s.opts.Events.OnStatus(from, to)
	}
}

// Name returns the service name.
func (s *Service) Name() string { return s.cfg.Name }

// Config returns a copy of the service configuration.
func (s *Service) Config() ServiceConfig { return s.cfg.Clone() }

// Status returns the lifecycle status.
func (s *Service) Status() Status { return s.state.Status() }

// Start spawns the process, performs the handshake and discovers capabilities.
// It is valid only from stopped. Any failure cleans up, leaves the service in
// error and is returned.
func (s *Service) Start(ctx context.Context) error {
	gen, err := s.state.begin()
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "mcp.service.start",
		trace.WithAttributes(attribute.String("service", s.cfg.Name)))
	defer span.End()

	startCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	s.attempt = gen
	s.cancelStart = cancel
	s.lastError = nil
	s.mu.Unlock()

	err = s.launch(startCtx, gen)
	if err == nil {
		err = s.promote(startCtx, gen)
	}

	s.mu.Lock()
	if s.attempt == gen {
		s.cancelStart = nil
	}
	s.mu.Unlock()

	if err != nil {
		if startCtx.Err() != nil && ctx.Err() == nil {
			// Aborted by a process exit or a concurrent stop.
			err = context.Cause(startCtx)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.failStart(ctx, gen, err)
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("service started", "pid", s.PID())
	return nil
}

// launch runs the start sequence for one attempt.
func (s *Service) launch(ctx context.Context, gen uint64) error {
	env, err := s.opts.Env.Resolve(s.cfg.Env)
	if err != nil {
		return err
	}

	var client *Client
	proc := NewProcess(ProcessConfig{
		Name:      s.cfg.Name,
		Command:   s.cfg.Command,
		Args:      s.cfg.Args,
		Env:       env,
		Cwd:       s.cfg.Cwd,
		StopGrace: s.opts.StopGrace,
		Logger:    s.logger,
		Events: ProcessEvents{
			OnStart: func(pid int) {
				s.appendLog(LogLevelInfo, LogSourceLifecycle, fmt.Sprintf("process started (pid %d)", pid))
				if s.opts.Events.OnPID != nil {
					s.opts.Events.OnPID(pid)
				}
			},
			OnStdout: func(line []byte) {
				client.HandleMessage(line)
			},
			OnStderr: func(line string) {
				s.appendLog(LogLevelWarn, LogSourceStderr, line)
			},
			OnExit: func(code int, err error) {
				s.handleExit(gen, code, err)
			},
			OnError: func(err error) {
				s.appendLog(LogLevelError, LogSourceLifecycle, err.Error())
			},
		},
	})

	client, err = NewClient(ClientConfig{
		Name:       s.cfg.Name,
		Writer:     proc,
		Timeout:    s.opts.RequestTimeout,
		ClientInfo: s.opts.ClientInfo,
		Logger:     s.logger,
		Events: ClientEvents{
			OnConnected: func(info ServerInfo) {
				s.appendLog(LogLevelInfo, LogSourceProtocol,
					fmt.Sprintf("connected to %s %s (protocol %s)", info.Name, info.Version, info.ProtocolVersion))
				if s.opts.Events.OnConnected != nil {
					s.opts.Events.OnConnected(true)
				}
			},
			OnDisconnected: func() {
				if s.opts.Events.OnConnected != nil {
					s.opts.Events.OnConnected(false)
				}
				s.handleDisconnect(gen)
			},
			OnError: func(err error) {
				if HasCode(err, ErrorCodeParse) {
					s.opts.Metrics.recordParseError(s.cfg.Name)
				}
				s.appendLog(LogLevelWarn, LogSourceProtocol, err.Error())
			},
			OnNotification: func(method string, _ json.RawMessage) {
				s.handleNotification(gen, method)
			},
			OnMessage: s.wireObserver(),
		},
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.attempt != gen {
		s.mu.Unlock()
		return context.Cause(ctx)
	}
	s.process = proc
	s.client = client
	s.mu.Unlock()

	if err := proc.Start(ctx); err != nil {
		return err
	}

	// A stop that detached the process before it was spawned cannot have
	// terminated it, so the orphan is stopped here.
	s.mu.Lock()
	detached := s.process != proc
	s.mu.Unlock()
	if detached {
		_ = proc.Stop(context.WithoutCancel(ctx))
		return context.Cause(ctx)
	}

	settle := time.NewTimer(s.opts.SettleDelay)
	defer settle.Stop()
	select {
	case <-settle.C:
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	info, err := client.Initialize(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.attempt == gen {
		s.serverInfo = info
	}
	s.mu.Unlock()

	s.fetchCapabilities(ctx, gen, client)
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

// promote moves a launched attempt to running. An exit that raced the
// promotion is handled like an exit of a running service.
func (s *Service) promote(ctx context.Context, gen uint64) error {
	if !s.state.transitionIf(gen, []Status{StatusStarting}, StatusRunning) {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ErrNotRunning(s.cfg.Name, s.state.Status())
	}

	if cause := context.Cause(ctx); HasCode(cause, ErrorCodeProcessExit) {
		if s.state.transitionIf(gen, []Status{StatusRunning}, StatusStopped) {
			proc, client := s.detach(gen)
			go s.teardown(context.Background(), client, proc)
		}
		return cause
	}
	return nil
}

func (s *Service) wireObserver() func(direction string, raw []byte) {
	if s.opts.OnWire == nil {
		return nil
	}
	return func(direction string, raw []byte) {
		s.opts.OnWire(s.cfg.Name, direction, raw)
	}
}

// fetchCapabilities lists tools, resources and prompts concurrently. A failed
// list degrades to empty and does not affect the others.
func (s *Service) fetchCapabilities(ctx context.Context, gen uint64, client *Client) {
	var (
		g         errgroup.Group
		tools     []Tool
		resources []Resource
		prompts   []Prompt
	)

	g.Go(func() error {
		var err error
		if tools, err = client.ListTools(ctx); err != nil {
			s.appendLog(LogLevelWarn, LogSourceProtocol, fmt.Sprintf("list tools failed: %v", err))
			tools = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if resources, err = client.ListResources(ctx); err != nil {
			s.appendLog(LogLevelWarn, LogSourceProtocol, fmt.Sprintf("list resources failed: %v", err))
			resources = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if prompts, err = client.ListPrompts(ctx); err != nil {
			s.appendLog(LogLevelWarn, LogSourceProtocol, fmt.Sprintf("list prompts failed: %v", err))
			prompts = nil
		}
		return nil
	})
	_ = g.Wait()

	s.storeTools(gen, tools)
	s.storeResources(gen, resources)
	s.storePrompts(gen, prompts)
}

func (s *Service) storeTools(gen uint64, tools []Tool) {
	if tools == nil {
		tools = []Tool{}
	}
	s.mu.Lock()
	if s.attempt != gen {
		s.mu.Unlock()
		return
	}
	s.tools = tools
	s.mu.Unlock()

	if s.opts.Events.OnTools != nil {
		s.opts.Events.OnTools(append([]Tool(nil), tools...))
	}
}

func (s *Service) storeResources(gen uint64, resources []Resource) {
	if resources == nil {
		resources = []Resource{}
	}
	s.mu.Lock()
	if s.attempt != gen {
		s.mu.Unlock()
		return
	}
	s.resources = resources
	s.mu.Unlock()

	if s.opts.Events.OnResources != nil {
		s.opts.Events.OnResources(append([]Resource(nil), resources...))
	}
}

func (s *Service) storePrompts(gen uint64, prompts []Prompt) {
	if prompts == nil {
		prompts = []Prompt{}
	}
	s.mu.Lock()
	if s.attempt != gen {
		s.mu.Unlock()
		return
	}
	s.prompts = prompts
	s.mu.Unlock()

	if s.opts.Events.OnPrompts != nil {
		s.opts.Events.OnPrompts(append([]Prompt(nil), prompts...))
	}
}

// failStart cleans up a failed attempt and moves it to error.
func (s *Service) failStart(ctx context.Context, gen uint64, err error) error {
	proc, client := s.detach(gen)
	s.teardown(context.WithoutCancel(ctx), client, proc)

	if s.state.transitionIf(gen, []Status{StatusStarting}, StatusError) {
		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()
		s.opts.Metrics.recordStartFailure(ctx, s.cfg.Name)
		s.appendLog(LogLevelError, LogSourceLifecycle, fmt.Sprintf("start failed: %v", err))
		s.logger.Warn("service start failed", "error", err)
	}
	return err
}

// detach takes ownership of the attempt's process and client and clears the
// caches. It returns nils when the attempt no longer owns them.
func (s *Service) detach(gen uint64) (*Process, *Client) {
	s.mu.Lock()
	if s.attempt != gen {
		s.mu.Unlock()
		return nil, nil
	}
	proc, client := s.process, s.client
	s.process = nil
	s.client = nil
	s.serverInfo = nil
	s.tools = nil
	s.resources = nil
	s.prompts = nil
	s.startedAt = time.Time{}
	s.mu.Unlock()

	if s.opts.Events.OnPID != nil {
		s.opts.Events.OnPID(0)
	}
	if s.opts.Events.OnTools != nil {
		s.opts.Events.OnTools(nil)
	}
	if s.opts.Events.OnResources != nil {
		s.opts.Events.OnResources(nil)
	}
	if s.opts.Events.OnPrompts != nil {
		s.opts.Events.OnPrompts(nil)
	}
	return proc, client
}

// teardown disconnects the client and stops the process. Either may be nil.
func (s *Service) teardown(ctx context.Context, client *Client, proc *Process) error {
	if client != nil {
		client.Disconnect()
	}
	if proc == nil {
		return nil
	}
	if err := proc.Stop(ctx); err != nil {
		s.logger.Warn("process stop failed", "error", err)
		s.appendLog(LogLevelError, LogSourceLifecycle, fmt.Sprintf("stop failed: %v", err))
		return err
	}
	return nil
}

// handleExit funnels a process exit into the lifecycle. A running service is
// stopped with asynchronous cleanup; a starting one has its attempt aborted.
func (s *Service) handleExit(gen uint64, code int, err error) {
	msg := fmt.Sprintf("process exited with code %d", code)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	s.appendLog(LogLevelInfo, LogSourceLifecycle, msg)

	if s.state.transitionIf(gen, []Status{StatusRunning}, StatusStopped) {
		s.logger.Warn("service process exited", "exit_code", code)
		proc, client := s.detach(gen)
		go s.teardown(context.Background(), client, proc)
		return
	}

	s.mu.Lock()
	cancel := s.cancelStart
	owned := s.attempt == gen
	s.mu.Unlock()
	if owned && cancel != nil {
		cancel(ErrProcessExited(s.cfg.Name, code))
	}
}

// handleDisconnect treats a protocol disconnect of a running service like an exit.
func (s *Service) handleDisconnect(gen uint64) {
	if s.state.transitionIf(gen, []Status{StatusRunning}, StatusStopped) {
		s.appendLog(LogLevelWarn, LogSourceProtocol, "connection lost")
		proc, client := s.detach(gen)
		go s.teardown(context.Background(), client, proc)
	}
}

func (s *Service) handleNotification(gen uint64, method string) {
	s.appendLog(LogLevelDebug, LogSourceProtocol, "notification "+method)

	var refresh func(context.Context, uint64, *Client)
	switch method {
	case NotificationToolsListChanged:
		refresh = s.refreshTools
	case NotificationResourcesListChanged, NotificationResourceUpdated:
		refresh = s.refreshResources
	case NotificationPromptsListChanged:
		refresh = s.refreshPrompts
	default:
		return
	}

	s.mu.Lock()
	client := s.client
	owned := s.attempt == gen
	s.mu.Unlock()
	if !owned || client == nil {
		return
	}

	// Notifications arrive on the stdout reader; the refresh must not block it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		defer cancel()
		refresh(ctx, gen, client)
	}()
}

func (s *Service) refreshTools(ctx context.Context, gen uint64, client *Client) {
	tools, err := client.ListTools(ctx)
	if err != nil {
		s.appendLog(LogLevelWarn, LogSourceProtocol, fmt.Sprintf("refresh tools failed: %v", err))
		return
	}
	s.storeTools(gen, tools)
}

func (s *Service) refreshResources(ctx context.Context, gen uint64, client *Client) {
	resources, err := client.ListResources(ctx)
	if err != nil {
		s.appendLog(LogLevelWarn, LogSourceProtocol, fmt.Sprintf("refresh resources failed: %v", err))
		return
	}
	s.storeResources(gen, resources)
}

func (s *Service) refreshPrompts(ctx context.Context, gen uint64, client *Client) {
	prompts, err := client.ListPrompts(ctx)
	if err != nil {
		s.appendLog(LogLevelWarn, LogSourceProtocol, fmt.Sprintf("refresh prompts failed: %v", err))
		return
	}
	s.storePrompts(gen, prompts)
}

// Stop tears the service down. Stop on a stopped service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.state.Status() == StatusStopped {
		return nil
	}
	if err := s.state.transition(StatusStopping); err != nil {
		if s.state.Status() == StatusStopped {
			// The process exited while we were getting here.
			return nil
		}
		return err
	}

	s.mu.Lock()
	gen := s.attempt
	cancel := s.cancelStart
	s.mu.Unlock()
	if cancel != nil {
		cancel(NewMCPError(ErrorCodeNotRunning, fmt.Sprintf("start of service '%s' aborted by stop", s.cfg.Name)))
	}

	proc, client := s.detach(gen)
	stopErr := s.teardown(ctx, client, proc)

	if err := s.state.transition(StatusStopped); err != nil {
		return err
	}
	s.logger.Info("service stopped")
	return stopErr
}

// Restart stops the service, waits the restart delay and starts it again.
// It is the way out of the error state.
func (s *Service) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}

	delay := time.NewTimer(s.opts.RestartDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.Start(ctx)
}

// runningClient returns the client when the service can accept requests.
func (s *Service) runningClient() (*Client, error) {
	status := s.state.Status()
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if status != StatusRunning || client == nil || !client.Connected() {
		return nil, ErrNotRunning(s.cfg.Name, status)
	}
	return client, nil
}

// CallTool invokes a tool. It requires a running, connected service and never
// changes the service's state; every outcome is logged.
func (s *Service) CallTool(ctx context.Context, tool string, args map[string]any) (*ToolCallResult, error) {
	callID := uuid.NewString()

	client, err := s.runningClient()
	if err != nil {
		s.appendLog(LogLevelError, LogSourceTool, fmt.Sprintf("call %s [%s] rejected: %v", tool, callID, err))
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.appendLog(LogLevelError, LogSourceTool, fmt.Sprintf("call %s [%s] not sent: %v", tool, callID, err))
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "mcp.tool.call",
		trace.WithAttributes(
			attribute.String("service", s.cfg.Name),
			attribute.String("tool", tool),
			attribute.String("call_id", callID),
		))
	defer span.End()

	start := time.Now()
	result, err := client.CallTool(ctx, ToolCallRequest{Name: tool, Arguments: args})
	elapsed := time.Since(start)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.opts.Metrics.recordToolCall(ctx, s.cfg.Name, tool, "error", elapsed)
		s.appendLog(LogLevelError, LogSourceTool,
			fmt.Sprintf("call %s [%s] failed after %s: %v", tool, callID, elapsed.Round(time.Millisecond), err))
		return nil, err
	case result.IsError:
		span.SetStatus(codes.Error, "tool reported an error")
		s.opts.Metrics.recordToolCall(ctx, s.cfg.Name, tool, "tool_error", elapsed)
		s.appendLog(LogLevelWarn, LogSourceTool,
			fmt.Sprintf("call %s [%s] returned an error result in %s", tool, callID, elapsed.Round(time.Millisecond)))
	default:
		s.opts.Metrics.recordToolCall(ctx, s.cfg.Name, tool, "success", elapsed)
		s.appendLog(LogLevelInfo, LogSourceTool,
			fmt.Sprintf("call %s [%s] succeeded in %s", tool, callID, elapsed.Round(time.Millisecond)))
	}
	return result, nil
}

// ReadResource reads a resource from a running service.
func (s *Service) ReadResource(ctx context.Context, uri string) (*ResourceReadResult, error) {
	client, err := s.runningClient()
	if err != nil {
		return nil, err
	}
	return client.ReadResource(ctx, uri)
}

// GetPrompt renders a prompt on a running service.
func (s *Service) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	client, err := s.runningClient()
	if err != nil {
		return nil, err
	}
	return client.GetPrompt(ctx, name, args)
}

// Ping checks the server responds.
func (s *Service) Ping(ctx context.Context) error {
	client, err := s.runningClient()
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}

// Refresh re-fetches every capability list.
func (s *Service) Refresh(ctx context.Context) error {
	client, err := s.runningClient()
	if err != nil {
		return err
	}
	s.mu.Lock()
	gen := s.attempt
	s.mu.Unlock()

	s.fetchCapabilities(ctx, gen, client)
	return ctx.Err()
}

// Connected reports whether the handshake completed on the live client.
func (s *Service) Connected() bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client != nil && client.Connected()
}

// PID returns the live process id, or 0.
func (s *Service) PID() int {
	s.mu.Lock()
	proc := s.process
	s.mu.Unlock()
	if proc == nil {
		return 0
	}
	return proc.PID()
}

// ServerInfo returns the handshake result of the current attempt, or nil.
func (s *Service) ServerInfo() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// Tools returns the cached tool list.
func (s *Service) Tools() []Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Tool(nil), s.tools...)
}

// Resources returns the cached resource list.
func (s *Service) Resources() []Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Resource(nil), s.resources...)
}

// Prompts returns the cached prompt list.
func (s *Service) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

// LastError returns the error of the last failed start, or nil.
func (s *Service) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Uptime returns how long the service has been running, or 0.
func (s *Service) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Logs returns the service log, oldest first.
func (s *Service) Logs() []LogEntry {
	return s.logs.GetAll()
}

// RecentLogs returns the last n log entries, oldest first.
func (s *Service) RecentLogs(n int) []LogEntry {
	return s.logs.GetLast(n)
}

// LogsSince returns the log entries recorded at or after t.
func (s *Service) LogsSince(t time.Time) []LogEntry {
	return s.logs.GetSince(t)
}

func (s *Service) appendLog(level LogLevel, source, message string) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Source:    source,
	}
	s.logs.Add(entry)
	if s.opts.Events.OnLog != nil {
		s.opts.Events.OnLog(entry)
	}
}
