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

//go:build unix

package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tombee/toolbridge/internal/mcp/mcptest"
)

func TestMain(m *testing.M) {
	mcptest.RunIfRequested()
	os.Exit(m.Run())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() ServiceOptions {
	return ServiceOptions{
		SettleDelay:    10 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
		RestartDelay:   10 * time.Millisecond,
		StopGrace:      time.Second,
		Env: NewEnvResolver(func(name string) (string, error) {
			return "", errors.New("no keyring in tests")
		}),
		Logger: testLogger(),
	}
}

func fakeConfig(name, mode string) ServiceConfig {
	command, args, env := mcptest.Command(mode)
	return ServiceConfig{Name: name, Command: command, Args: args, Env: env}
}

func newFakeService(t *testing.T, mode string, opts ServiceOptions) *Service {
	t.Helper()
	svc := NewService(fakeConfig("fake", mode), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc
}

// timeline records service events in the order they were emitted.
type timeline struct {
	mu     sync.Mutex
	events []string
}

func (tl *timeline) add(e string) {
	tl.mu.Lock()
	tl.events = append(tl.events, e)
	tl.mu.Unlock()
}

func (tl *timeline) snapshot() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.events...)
}

func (tl *timeline) serviceEvents() ServiceEvents {
	return ServiceEvents{
		OnStatus: func(from, to Status) { tl.add(string(from) + "->" + string(to)) },
		OnConnected: func(connected bool) {
			if connected {
				tl.add("connected")
			} else {
				tl.add("disconnected")
			}
		},
	}
}

func toolNames(tools []Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestService_StartDiscoversCapabilities(t *testing.T) {
	tl := &timeline{}
	opts := testOptions()
	opts.Events = tl.serviceEvents()
	svc := newFakeService(t, mcptest.ModeStandard, opts)

	require.NoError(t, svc.Start(context.Background()))

	assert.Equal(t, StatusRunning, svc.Status())
	assert.True(t, svc.Connected())
	assert.Positive(t, svc.PID())
	assert.Positive(t, svc.Uptime())
	assert.NoError(t, svc.LastError())

	info := svc.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, mcptest.ServerName, info.Name)
	assert.Equal(t, mcptest.ServerVersion, info.Version)

	assert.Subset(t, toolNames(svc.Tools()), []string{"echo", "add", "fail", "sleep", "crash", "grow"})
	require.Len(t, svc.Resources(), 1)
	assert.Equal(t, mcptest.ResourceURI, svc.Resources()[0].URI)
	assert.Empty(t, svc.Prompts(), "an unsupported list degrades to empty")

	events := tl.snapshot()
	connected := slices.Index(events, "connected")
	running := slices.Index(events, "starting->running")
	require.NotEqual(t, -1, connected)
	require.NotEqual(t, -1, running)
	assert.Less(t, connected, running, "running is only reported once connected")
	assert.Equal(t, "stopped->starting", events[0])
}

func TestService_CallTool(t *testing.T) {
	svc := newFakeService(t, mcptest.ModeStandard, testOptions())
	require.NoError(t, svc.Start(context.Background()))
	ctx := context.Background()

	res, err := svc.CallTool(ctx, "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", FormatToolResult(res))

	res, err = svc.CallTool(ctx, "add", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "5", FormatToolResult(res))

	res, err = svc.CallTool(ctx, "fail", nil)
	require.NoError(t, err, "a tool error is a result, not a call failure")
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: boom", FormatToolResult(res))

	assert.Equal(t, StatusRunning, svc.Status(), "tool calls never change state")

	var toolLogs int
	for _, entry := range svc.Logs() {
		if entry.Source == LogSourceTool {
			toolLogs++
		}
	}
	assert.Equal(t, 3, toolLogs, "every call outcome is logged")
}

func TestService_CallToolWhenNotRunning(t *testing.T) {
	svc := newFakeService(t, mcptest.ModeStandard, testOptions())

	_, err := svc.CallTool(context.Background(), "echo", map[string]any{"message": "hi"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrorCodeNotRunning))
	assert.Equal(t, StatusStopped, svc.Status())

	logs := svc.Logs()
	require.NotEmpty(t, logs)
	assert.Equal(t, LogLevelError, logs[len(logs)-1].Level)
	assert.Contains(t, logs[len(logs)-1].Message, "rejected")
}

func TestService_ResourcesPromptsAndPing(t *testing.T) {
	svc := newFakeService(t, mcptest.ModeStandard, testOptions())
	ctx := context.Background()

	_, err := svc.ReadResource(ctx, mcptest.ResourceURI)
	assert.True(t, HasCode(err, ErrorCodeNotRunning))

	require.NoError(t, svc.Start(ctx))

	res, err := svc.ReadResource(ctx, mcptest.ResourceURI)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, mcptest.GreetingText, res.Contents[0].Text)

	_, err = svc.GetPrompt(ctx, "anything", nil)
	assert.True(t, HasCode(err, ErrorCodeProtocol))

	assert.NoError(t, svc.Ping(ctx))
	assert.NoError(t, svc.Refresh(ctx))
	assert.NotEmpty(t, svc.Tools())
}

func TestService_DoubleStart(t *testing.T) {
	svc := newFakeService(t, mcptest.ModeStandard, testOptions())
	require.NoError(t, svc.Start(context.Background()))
	pid := svc.PID()

	err := svc.Start(context.Background())
	assert.True(t, HasCode(err, ErrorCodeAlreadyRunning))
	assert.Equal(t, pid, svc.PID(), "a second start must not spawn")
}

func TestService_StopAndRestart(t *testing.T) {
	tl := &timeline{}
	opts := testOptions()
	opts.Events = tl.serviceEvents()
	svc := newFakeService(t, mcptest.ModeStandard, opts)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	firstPID := svc.PID()

	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, StatusStopped, svc.Status())
	assert.False(t, svc.Connected())
	assert.Zero(t, svc.PID())
	assert.Empty(t, svc.Tools())
	assert.Nil(t, svc.ServerInfo())
	assert.Zero(t, svc.Uptime())

	// Stopping a stopped service is a no-op.
	require.NoError(t, svc.Stop(ctx))

	require.NoError(t, svc.Restart(ctx))
	assert.Equal(t, StatusRunning, svc.Status())
	assert.NotEqual(t, firstPID, svc.PID())

	events := tl.snapshot()
	assert.Contains(t, events, "running->stopping")
	assert.Contains(t, events, "stopping->stopped")
	assert.Contains(t, events, "disconnected")
}

func TestService_ProcessExitsDuringStart(t *testing.T) {
	svc := NewService(ServiceConfig{
		Name:    "printer",
		Command: "sh",
		Args:    []string{"-c", "printf 'hello world\\n'"},
	}, testOptions())

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrorCodeProcessExit) || HasCode(err, ErrorCodeTimeout), "got %v", err)

	assert.Equal(t, StatusError, svc.Status())
	assert.False(t, svc.Connected())
	assert.Zero(t, svc.PID())
	assert.Equal(t, err, svc.LastError())

	// Error is left only through stop or restart.
	err = svc.Start(context.Background())
	assert.True(t, HasCode(err, ErrorCodeInvalidTransition))

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StatusStopped, svc.Status())
}

func TestService_ExitModeFailsStart(t *testing.T) {
	svc := newFakeService(t, mcptest.ModeExit, testOptions())

	err := svc.Start(context.Background())
	assert.True(t, HasCode(err, ErrorCodeProcessExit) || HasCode(err, ErrorCodeTimeout), "got %v", err)
	assert.Equal(t, StatusError, svc.Status())
}

func TestService_HandshakeTimeout(t *testing.T) {
	opts := testOptions()
	opts.RequestTimeout = 200 * time.Millisecond
	svc := newFakeService(t, mcptest.ModeSilent, opts)

	start := time.Now()
	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrorCodeTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, StatusError, svc.Status())
	assert.Zero(t, svc.PID(), "the process is torn down after a failed start")
}

func TestService_SpawnFailure(t *testing.T) {
	svc := NewService(ServiceConfig{Name: "missing", Command: "/nonexistent/provider"}, testOptions())

	err := svc.Start(context.Background())
	assert.True(t, HasCode(err, ErrorCodeProcessSpawn), "got %v", err)
	assert.Equal(t, StatusError, svc.Status())
}

func TestService_MissingSecretFailsStart(t *testing.T) {
	svc := NewService(ServiceConfig{
		Name:    "secretive",
		Command: "sh",
		Env:     map[string]string{"TOKEN": "keyring:absent"},
	}, testOptions())

	err := svc.Start(context.Background())
	assert.True(t, HasCode(err, ErrorCodeConfig), "got %v", err)
	assert.Equal(t, StatusError, svc.Status())
}

func TestService_CrashWhileRunning(t *testing.T) {
	tl := &timeline{}
	opts := testOptions()
	opts.Events = tl.serviceEvents()
	svc := newFakeService(t, mcptest.ModeStandard, opts)
	require.NoError(t, svc.Start(context.Background()))

	_, err := svc.CallTool(context.Background(), "crash", nil)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return svc.Status() == StatusStopped
	}, 5*time.Second, 10*time.Millisecond)

	assert.Zero(t, svc.PID())
	assert.False(t, svc.Connected())
	assert.Contains(t, tl.snapshot(), "running->stopped")

	var exitLogged bool
	for _, entry := range svc.Logs() {
		if strings.Contains(entry.Message, "exited with code 3") {
			exitLogged = true
		}
	}
	assert.True(t, exitLogged)

	// A crashed service can be started again directly.
	require.NoError(t, svc.Start(context.Background()))
}

func TestService_ToolsListChangedRefreshes(t *testing.T) {
	var (
		mu      sync.Mutex
		updates int
	)
	opts := testOptions()
	opts.Events.OnTools = func(tools []Tool) {
		if tools != nil {
			mu.Lock()
			updates++
			mu.Unlock()
		}
	}
	svc := newFakeService(t, mcptest.ModeStandard, opts)
	require.NoError(t, svc.Start(context.Background()))
	assert.NotContains(t, toolNames(svc.Tools()), "extra")

	_, err := svc.CallTool(context.Background(), "grow", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return slices.Contains(toolNames(svc.Tools()), "extra")
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, updates, 2)
}

func TestService_NoisyProviderStillStarts(t *testing.T) {
	svc := newFakeService(t, mcptest.ModeNoisy, testOptions())

	require.NoError(t, svc.Start(context.Background()))

	var stderr, parse bool
	for _, entry := range svc.Logs() {
		if entry.Source == LogSourceStderr && entry.Message == "provider warming up" {
			stderr = true
		}
		if entry.Source == LogSourceProtocol && strings.Contains(entry.Message, "failed to parse") {
			parse = true
		}
	}
	assert.True(t, stderr, "stderr lines are captured in the service log")
	assert.True(t, parse, "malformed lines are logged and skipped")
}

func TestService_StopDuringStart(t *testing.T) {
	opts := testOptions()
	opts.RequestTimeout = 10 * time.Second
	svc := newFakeService(t, mcptest.ModeSilent, opts)

	startErr := make(chan error, 1)
	go func() { startErr <- svc.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return svc.Status() == StatusStarting && svc.PID() > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Stop(context.Background()))

	select {
	case err := <-startErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return after stop")
	}

	assert.Equal(t, StatusStopped, svc.Status(), "a stopped start does not end in error")
	assert.Zero(t, svc.PID())
}

func TestService_OnWireObservesTraffic(t *testing.T) {
	var (
		mu    sync.Mutex
		dirs  = map[string]int{}
		names = map[string]bool{}
	)
	opts := testOptions()
	opts.OnWire = func(service, direction string, _ []byte) {
		mu.Lock()
		dirs[direction]++
		names[service] = true
		mu.Unlock()
	}
	svc := newFakeService(t, mcptest.ModeStandard, opts)
	require.NoError(t, svc.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, dirs[DirectionSend])
	assert.Positive(t, dirs[DirectionReceive])
	assert.Equal(t, map[string]bool{"fake": true}, names)
}

func TestService_CallRateLimit(t *testing.T) {
	opts := testOptions()
	opts.CallRate = rate.Every(time.Minute)
	opts.CallBurst = 1
	svc := newFakeService(t, mcptest.ModeStandard, opts)
	require.NoError(t, svc.Start(context.Background()))

	_, err := svc.CallTool(context.Background(), "echo", map[string]any{"message": "one"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.CallTool(ctx, "echo", map[string]any{"message": "two"})
	assert.Error(t, err, "the second call exceeds the limit within the deadline")
}
