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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRingBuffer_Eviction(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := range 5 {
		rb.Add(LogEntry{Message: fmt.Sprintf("m%d", i)})
	}

	var got []string
	for _, e := range rb.GetAll() {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"m2", "m3", "m4"}, got)
}

func TestRingBuffer_GetLast(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := range 4 {
		rb.Add(LogEntry{Message: fmt.Sprintf("m%d", i)})
	}

	last := rb.GetLast(2)
	assert.Len(t, last, 2)
	assert.Equal(t, "m2", last[0].Message)
	assert.Equal(t, "m3", last[1].Message)

	assert.Len(t, rb.GetLast(50), 4)
	assert.Empty(t, rb.GetLast(-1))
}

func TestRingBuffer_GetSince(t *testing.T) {
	rb := NewRingBuffer(10)
	base := time.Now()
	rb.Add(LogEntry{Timestamp: base.Add(-time.Minute), Message: "old"})
	rb.Add(LogEntry{Timestamp: base, Message: "now"})
	rb.Add(LogEntry{Timestamp: base.Add(time.Second), Message: "later"})

	got := rb.GetSince(base)
	assert.Len(t, got, 2)
	assert.Equal(t, "now", got[0].Message)
}

func TestRingBuffer_DefaultCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	for range DefaultLogCapacity + 5 {
		rb.Add(LogEntry{Message: "x"})
	}
	assert.Len(t, rb.GetAll(), DefaultLogCapacity)
}
