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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReloader struct {
	calls atomic.Int32
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls.Add(1)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Path: "x.json"})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Target: &countingReloader{}})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{
		Target: &countingReloader{},
		Path:   filepath.Join(t.TempDir(), "missing-dir", "services.json"),
	})
	assert.Error(t, err, "the parent directory must exist")
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	target := &countingReloader{}
	w, err := NewWatcher(WatcherConfig{
		Target:        target,
		Path:          path,
		Logger:        quietLogger(),
		DebounceDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, target.calls.Load())

	// An atomic save (write temp, rename over) triggers a reload.
	require.NoError(t, NewFileStore(path).Save(context.Background(), Document{}))

	require.Eventually(t, func() bool {
		return target.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.json")

	reloaded := make(chan error, 10)
	target := &countingReloader{}
	w, err := NewWatcher(WatcherConfig{
		Target:        target,
		Path:          path,
		Logger:        quietLogger(),
		DebounceDelay: 100 * time.Millisecond,
		OnReload:      func(err error) { reloaded <- err },
	})
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.scheduleReload()
		}()
	}
	wg.Wait()

	select {
	case err := <-reloaded:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload")
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestWatcher_CloseCancelsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.json")
	target := &countingReloader{}
	w, err := NewWatcher(WatcherConfig{
		Target:        target,
		Path:          path,
		Logger:        quietLogger(),
		DebounceDelay: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	w.scheduleReload()
	require.NoError(t, w.Close())

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, target.calls.Load())
}
