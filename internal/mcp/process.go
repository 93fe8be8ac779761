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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
	DefaultStopGrace = 3 * time.Second

	// maxLineSize bounds a single stdout or stderr line.
	maxLineSize = 16 * 1024 * 1024

	// exitDrainTimeout bounds how long output is read after the process
	// exits. Descendants that inherited stdout or stderr can hold the pipes
	// open; once it passes the group is killed and the pipes are closed.
	exitDrainTimeout = time.Second
)

// ProcessEvents receives output and lifecycle notifications from a Process.
// Callbacks run on the process's reader goroutines and must not block for long.
type ProcessEvents struct {
	// OnStart is called with the pid once the process has been spawned.
	OnStart func(pid int)

	// OnStdout is called once per stdout line, without the trailing newline.
	OnStdout func(line []byte)

	// OnStderr is called once per stderr line.
	OnStderr func(line string)

	// OnExit is called after the process has exited and its pipes are drained
	// or the drain timeout has passed.
	OnExit func(code int, err error)

	// OnError reports spawn failures and pipe read errors.
	OnError func(err error)
}

// ProcessConfig configures a supervised process.
type ProcessConfig struct {
	// Name identifies the owning service in logs.
	Name string

	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are KEY=VALUE pairs layered over the parent environment.
	Env []string

	// Cwd is the working directory. Empty means the current directory.
	Cwd string

	// StopGrace is the delay between SIGTERM and SIGKILL (defaults to 3s).
	StopGrace time.Duration

	// Events receives output and exit notifications.
	Events ProcessEvents

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Process supervises one child process speaking over its standard streams.
// It does no message framing; stdout is delivered line by line as raw bytes.
type Process struct {
	cfg    ProcessConfig
	logger *slog.Logger

	// mu protects cmd, stdin, pid and done
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	pid   int
	done  chan struct{}

	// writeMu serializes writes so concurrent messages never interleave
	writeMu sync.Mutex
}

// NewProcess creates a supervisor for the configured command. Nothing is spawned until Start.
func NewProcess(cfg ProcessConfig) *Process {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	return &Process{
		cfg:    cfg,
		logger: logger,
	}
}

// Start spawns the process. It fails if a process is already live.
func (p *Process) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.cmd != nil {
		pid := p.pid
		p.mu.Unlock()
		return ErrAlreadyRunning(p.cfg.Name).WithDetail(fmt.Sprintf("process %d is live", pid))
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.Dir = p.cfg.Cwd
	setProcessGroup(cmd)

	streams, err := openStreams(cmd)
	if err == nil {
		err = cmd.Start()
		streams.closeChildEnds()
		if err != nil {
			streams.closeReadEnds()
		}
	}
	if err != nil {
		p.mu.Unlock()
		return p.spawnFailed(err)
	}

	pid := cmd.Process.Pid
	done := make(chan struct{})
	p.cmd = cmd
	p.stdin = streams.stdin
	p.pid = pid
	p.done = done
	p.mu.Unlock()

	p.logger.Debug("process started",
		"service", p.cfg.Name,
		"command", p.cfg.Command,
		"pid", pid,
	)

	if p.cfg.Events.OnStart != nil {
		p.cfg.Events.OnStart(pid)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readLines(&readers, streams.stdout, "stdout", func(line []byte) {
		if p.cfg.Events.OnStdout != nil {
			p.cfg.Events.OnStdout(line)
		}
	})
	go p.readLines(&readers, streams.stderr, "stderr", func(line []byte) {
		if p.cfg.Events.OnStderr != nil {
			p.cfg.Events.OnStderr(string(line))
		}
	})
	go p.wait(cmd, pid, streams, &readers, done)

	return nil
}

// processStreams holds the parent's ends of the child's standard streams.
// The output pipes are created here rather than by exec so that Wait does not
// close them; the supervisor decides when reading stops.
type processStreams struct {
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	childOut *os.File
	childErr *os.File
}

func openStreams(cmd *exec.Cmd) (*processStreams, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, childOut, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderr, childErr, err := os.Pipe()
	if err != nil {
		stdout.Close()
		childOut.Close()
		return nil, err
	}
	cmd.Stdout = childOut
	cmd.Stderr = childErr

	return &processStreams{
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		childOut: childOut,
		childErr: childErr,
	}, nil
}

// closeChildEnds drops the parent's copies of the write ends so EOF arrives
// once every holder in the child's group has closed them.
func (s *processStreams) closeChildEnds() {
	_ = s.childOut.Close()
	_ = s.childErr.Close()
}

// closeReadEnds unblocks pending reads.
func (s *processStreams) closeReadEnds() {
	_ = s.stdout.Close()
	_ = s.stderr.Close()
}

func (p *Process) spawnFailed(err error) error {
	spawnErr := ErrSpawnFailed(p.cfg.Command, err)
	if p.cfg.Events.OnError != nil {
		p.cfg.Events.OnError(spawnErr)
	}
	return spawnErr
}

// readLines forwards one pipe line by line until EOF.
func (p *Process) readLines(wg *sync.WaitGroup, r io.Reader, stream string, emit func([]byte)) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		// Scanner reuses its buffer between calls.
		line := append([]byte(nil), scanner.Bytes()...)
		emit(line)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("process pipe read failed",
			"service", p.cfg.Name,
			"stream", stream,
			"error", err,
		)
		if p.cfg.Events.OnError != nil {
			p.cfg.Events.OnError(fmt.Errorf("read %s: %w", stream, err))
		}
	}
}

// wait reaps the process, then drains its output for at most
// exitDrainTimeout before reporting the exit.
func (p *Process) wait(cmd *exec.Cmd, pid int, streams *processStreams, readers *sync.WaitGroup, done chan struct{}) {
	err := cmd.Wait()

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	timer := time.NewTimer(exitDrainTimeout)
	select {
	case <-drained:
	case <-timer.C:
		p.logger.Warn("process output still open after exit, killing leftover group",
			"service", p.cfg.Name,
			"pid", pid,
		)
		if killErr := killGroup(cmd, pid); killErr != nil {
			p.logger.Debug("kill leftover group failed", "service", p.cfg.Name, "pid", pid, "error", killErr)
		}
		streams.closeReadEnds()
		<-drained
	}
	timer.Stop()
	streams.closeReadEnds()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero exit is reported through the code.
		err = nil
	}

	p.mu.Lock()
	if p.cmd == cmd {
		p.cmd = nil
		p.stdin = nil
		p.pid = 0
	}
	p.mu.Unlock()
	close(done)

	p.logger.Debug("process exited",
		"service", p.cfg.Name,
		"exit_code", code,
	)

	if p.cfg.Events.OnExit != nil {
		p.cfg.Events.OnExit(code, err)
	}
}

// Write sends raw bytes to the process's standard input.
func (p *Process) Write(b []byte) (int, error) {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()

	if stdin == nil {
		return 0, NewMCPError(ErrorCodeNotRunning, fmt.Sprintf("process for '%s' is not running", p.cfg.Name))
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return stdin.Write(b)
}

// Stop terminates the process group: stdin is closed, then SIGTERM, then
// SIGKILL once the grace period passes. Bookkeeping is cleared even when
// termination fails. Stop on a stopped process is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd := p.cmd
	stdin := p.stdin
	done := p.done
	pid := p.pid
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	defer func() {
		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
			p.stdin = nil
			p.pid = 0
		}
		p.mu.Unlock()
	}()

	if stdin != nil {
		_ = stdin.Close()
	}

	if err := terminateGroup(cmd, pid); err != nil {
		p.logger.Debug("terminate failed", "service", p.cfg.Name, "pid", pid, "error", err)
	}

	grace := time.NewTimer(p.cfg.StopGrace)
	defer grace.Stop()

	select {
	case <-done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	p.logger.Warn("process did not exit in time, killing",
		"service", p.cfg.Name,
		"pid", pid,
	)
	if err := killGroup(cmd, pid); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.StopGrace):
		return fmt.Errorf("process %d did not exit after kill", pid)
	}
}

// PID returns the live process id, or 0.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Running reports whether a process is live.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// Done returns a channel closed when the current process exits, or nil when none is live.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	return p.done
}
