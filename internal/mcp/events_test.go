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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(nil)

	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.emitStatus("fs", StatusStopped, StatusStarting)

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, EventStatus, ev.Type)
		assert.Equal(t, "fs", ev.Service)
		assert.Equal(t, "starting", ev.Message)
		assert.Equal(t, "stopped", ev.Details["from"])
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestEventBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus(nil)
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for range 10 {
		bus.emitToolsChanged("fs", 3)
	}

	ev := <-ch
	assert.Equal(t, EventToolsChanged, ev.Type)
	assert.Equal(t, 3, ev.Details["tool_count"])
	assert.Empty(t, ch, "events beyond the buffer are dropped")
}

func TestEventBus_TypedSubscriptionSkipsLogs(t *testing.T) {
	bus := NewEventBus(nil)
	control, cancel := bus.Subscribe(2, ControlEvents...)
	defer cancel()
	all, cancelAll := bus.Subscribe(2)
	defer cancelAll()

	for range 100 {
		bus.emitLog("noisy", LogEntry{Level: LogLevelWarn, Message: "chatter"})
	}
	bus.Publish(Event{Type: EventAdded, Service: "fresh"})

	ev := <-control
	assert.Equal(t, EventAdded, ev.Type)
	assert.Equal(t, "fresh", ev.Service)
	assert.Empty(t, control)

	ev = <-all
	assert.Equal(t, EventLog, ev.Type, "an unfiltered subscriber still sees log lines")
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	ch, cancel := bus.Subscribe(1)

	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: EventAdded, Service: "fs"})
}
