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
	"log/slog"
	"sync"
	"time"
)

// EventType represents the type of registry event.
type EventType string

const (
	// EventAdded indicates a service was registered.
	EventAdded EventType = "added"
	// EventRemoved indicates a service was unregistered.
	EventRemoved EventType = "removed"
	// EventUpdated indicates a service was rebuilt from a changed config.
	EventUpdated EventType = "updated"
	// EventStatus indicates a service changed status.
	EventStatus EventType = "status"
	// EventToolsChanged indicates the service's tool list has changed.
	EventToolsChanged EventType = "tools_changed"
	// EventLog indicates a service log entry was appended.
	EventLog EventType = "log"
)

// Event is published by the registry.
type Event struct {
	// Type is the event type.
	Type EventType `json:"type"`

	// Service is the name of the service.
	Service string `json:"service"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Message is an optional human-readable message.
	Message string `json:"message,omitempty"`

	// Details contains additional event-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// ControlEvents are every event type except log lines. Subscribers that act
// on registry changes should ask for these only so that a noisy provider's
// output cannot fill their buffer.
var ControlEvents = []EventType{EventAdded, EventRemoved, EventUpdated, EventStatus, EventToolsChanged}

// EventBus fans registry events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type EventBus struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	ch chan Event
	// types is nil for a subscriber that wants everything
	types map[EventType]bool
}

func (s *subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// NewEventBus creates an event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		logger: logger,
		subs:   make(map[int]*subscription),
	}
}

// Subscribe returns a channel of events and a function that closes it. With
// types given, only those event types are delivered.
func (b *EventBus) Subscribe(buffer int, types ...EventType) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	ch := sub.ch

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends an event to every subscriber.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Debug("event dropped for slow subscriber",
				"service", event.Service,
				"type", string(event.Type),
			)
		}
	}
}

func (b *EventBus) emitStatus(service string, from, to Status) {
	b.Publish(Event{
		Type:    EventStatus,
		Service: service,
		Message: string(to),
		Details: map[string]any{
			"from": string(from),
			"to":   string(to),
		},
	})
}

func (b *EventBus) emitToolsChanged(service string, toolCount int) {
	b.Publish(Event{
		Type:    EventToolsChanged,
		Service: service,
		Details: map[string]any{
			"tool_count": toolCount,
		},
	})
}

func (b *EventBus) emitLog(service string, entry LogEntry) {
	b.Publish(Event{
		Type:      EventLog,
		Service:   service,
		Timestamp: entry.Timestamp,
		Message:   entry.Message,
		Details: map[string]any{
			"level":  string(entry.Level),
			"source": entry.Source,
		},
	})
}
