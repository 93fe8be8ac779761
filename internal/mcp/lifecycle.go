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

import "sync"

// Status is the lifecycle state of a service.
type Status string

const (
	// StatusStopped means no process is running.
	StatusStopped Status = "stopped"
	// StatusStarting means a process is spawning or handshaking.
	StatusStarting Status = "starting"
	// StatusRunning means the handshake completed and requests are accepted.
	StatusRunning Status = "running"
	// StatusStopping means the process is being torn down.
	StatusStopping Status = "stopping"
	// StatusError means the last start failed or a fault occurred.
	StatusError Status = "error"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusStopped, StatusStarting, StatusRunning, StatusStopping, StatusError}

// transitions is the complete set of legal status changes.
// Error is only left through a stop, or a restart that begins with one.
var transitions = map[Status]map[Status]bool{
	StatusStopped: {
		StatusStarting: true,
	},
	StatusStarting: {
		StatusRunning:  true,
		StatusError:    true,
		StatusStopping: true,
		StatusStopped:  true,
	},
	StatusRunning: {
		StatusStopping: true,
		StatusStopped:  true,
		StatusError:    true,
	},
	StatusStopping: {
		StatusStopped: true,
		StatusError:   true,
	},
	StatusError: {
		StatusStopping: true,
		StatusStopped:  true,
	},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// IsActive reports whether a process may be alive in this status.
func (s Status) IsActive() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusStopping
}

// stateMachine guards a service's status. Every change goes through the
// transition table; the generation counter identifies the start attempt that
// owns the current process so late events from an older attempt are ignored.
type stateMachine struct {
	mu         sync.Mutex
	name       string
	status     Status
	generation uint64
	onChange   func(from, to Status)
}

func newStateMachine(name string, onChange func(from, to Status)) *stateMachine {
	return &stateMachine{
		name:     name,
		status:   StatusStopped,
		onChange: onChange,
	}
}

// Status returns the current status.
func (m *stateMachine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// begin moves stopped to starting and opens a new generation.
func (m *stateMachine) begin() (uint64, error) {
	m.mu.Lock()
	from := m.status
	if from != StatusStopped {
		m.mu.Unlock()
		if from == StatusError {
			return 0, ErrInvalidTransition(m.name, from, StatusStarting).
				WithSuggestions("Restart the service to leave the error state")
		}
		return 0, ErrAlreadyRunning(m.name).WithDetail("current status is " + string(from))
	}
	m.status = StatusStarting
	m.generation++
	gen := m.generation
	m.notify(from, StatusStarting)
	m.mu.Unlock()

	return gen, nil
}

// transition applies a change unconditionally checked against the table.
func (m *stateMachine) transition(to Status) error {
	m.mu.Lock()
	from := m.status
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return ErrInvalidTransition(m.name, from, to)
	}
	m.status = to
	m.notify(from, to)
	m.mu.Unlock()

	return nil
}

// transitionIf applies a change only when the current generation and status
// match. It reports whether the change happened.
func (m *stateMachine) transitionIf(gen uint64, expect []Status, to Status) bool {
	m.mu.Lock()
	from := m.status
	if gen != m.generation || !containsStatus(expect, from) || !CanTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.status = to
	m.notify(from, to)
	m.mu.Unlock()

	return true
}

// notify runs with mu held so observers see changes in order. Observers must
// not call back into the state machine.
func (m *stateMachine) notify(from, to Status) {
	if m.onChange != nil {
		m.onChange(from, to)
	}
}

func containsStatus(list []Status, s Status) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
