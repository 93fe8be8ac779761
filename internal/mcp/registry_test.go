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
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tombee/toolbridge/internal/mcp/mcptest"
)

// flakyStore fails every Save while failSave is set.
type flakyStore struct {
	*MemoryStore
	failSave atomic.Bool
}

func (s *flakyStore) Save(ctx context.Context, doc Document) error {
	if s.failSave.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, doc)
}

func newTestRegistry(t *testing.T, store Store) *Registry {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	r, err := NewRegistry(RegistryConfig{
		Store:   store,
		Options: testOptions(),
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func TestRegistry_AddRemove(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)

	events, cancel := r.Events().Subscribe(16)
	defer cancel()

	require.NoError(t, r.Add(ctx, ServiceConfig{Name: "fs", Command: "npx", Args: []string{"-y", "pkg"}}))
	ev := <-events
	assert.Equal(t, EventAdded, ev.Type)
	assert.Equal(t, "fs", ev.Service)

	err := r.Add(ctx, ServiceConfig{Name: "fs", Command: "other"})
	assert.True(t, HasCode(err, ErrorCodeAlreadyExists))

	err = r.Add(ctx, ServiceConfig{Name: "bad name", Command: "x"})
	assert.True(t, HasCode(err, ErrorCodeValidation))

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "npx", saved["fs"].Command, "add persists")

	inst, err := r.Get("fs")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, inst.Status)
	assert.Equal(t, "fs", inst.Config.Name)
	assert.Empty(t, inst.Tools)

	require.NoError(t, r.Remove(ctx, "fs"))
	_, err = r.Get("fs")
	assert.True(t, HasCode(err, ErrorCodeNotFound))

	saved, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)

	err = r.Remove(ctx, "fs")
	assert.True(t, HasCode(err, ErrorCodeNotFound))
}

func TestRegistry_LoadNeverStarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "services.json")
	store := NewFileStore(path)

	first := newTestRegistry(t, store)
	require.NoError(t, first.Add(ctx, fakeConfig("alpha", mcptest.ModeStandard)))
	require.NoError(t, first.Add(ctx, fakeConfig("beta", mcptest.ModeStandard)))
	require.NoError(t, first.Start(ctx, "alpha"))

	second := newTestRegistry(t, NewFileStore(path))
	require.NoError(t, second.Load(ctx))

	assert.Equal(t, []string{"alpha", "beta"}, second.Names())
	for _, inst := range second.List() {
		assert.Equal(t, StatusStopped, inst.Status, inst.Name)
		assert.False(t, inst.Connected)
		assert.Zero(t, inst.PID)
	}
	assert.Equal(t, 2, second.Summary()[StatusStopped])
}

func TestRegistry_LoadSkipsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, Document{
		"good":  {Command: "npx"},
		"1bad":  {Command: "npx"},
		"empty": {Command: ""},
	}))

	r := newTestRegistry(t, store)
	err := r.Load(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"good"}, r.Names())
}

func TestRegistry_InvalidEntriesSurviveSaves(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "mcp.json"))
	require.NoError(t, store.Save(ctx, Document{
		"my.server": {Command: "npx"},
		"good":      {Command: "npx"},
	}))

	r := newTestRegistry(t, store)
	require.Error(t, r.Load(ctx))
	assert.Equal(t, []string{"good"}, r.Names())
	assert.NotContains(t, r.Export(), "my.server")

	err := r.Add(ctx, ServiceConfig{Name: "my.server", Command: "uvx"})
	assert.True(t, HasCode(err, ErrorCodeAlreadyExists), "a name held by an unloaded entry is taken")

	require.NoError(t, r.Add(ctx, ServiceConfig{Name: "other", Command: "uvx"}))
	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 3)
	assert.Equal(t, "npx", saved["my.server"].Command)

	cwd := t.TempDir()
	require.NoError(t, r.Update(ctx, "good", ServiceConfigPatch{Cwd: &cwd}))
	require.NoError(t, r.Remove(ctx, "other"))

	saved, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, saved, "my.server")
	assert.Contains(t, saved, "good")
	assert.NotContains(t, saved, "other")
	assert.Equal(t, cwd, saved["good"].Cwd)
}

func TestRegistry_UpdateKeepsServiceWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	r := newTestRegistry(t, store)

	require.NoError(t, r.Add(ctx, fakeConfig("fake", mcptest.ModeStandard)))
	require.NoError(t, r.Start(ctx, "fake"))
	before, err := r.Service("fake")
	require.NoError(t, err)

	store.failSave.Store(true)
	cwd := t.TempDir()
	err = r.Update(ctx, "fake", ServiceConfigPatch{Cwd: &cwd})
	require.Error(t, err)

	after, err := r.Service("fake")
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, StatusRunning, after.Status(), "the service keeps running")
	assert.Empty(t, after.Config().Cwd)

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved["fake"].Cwd)
}

func TestRegistry_ExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestRegistry(t, nil)
	require.NoError(t, src.Add(ctx, ServiceConfig{Name: "fs", Command: "npx", Args: []string{"-y", "fs"}}))
	require.NoError(t, src.Add(ctx, ServiceConfig{Name: "gh", Command: "npx", Env: map[string]string{"TOKEN": "keyring:gh"}}))

	doc := src.Export()
	data, err := doc.Marshal(FormatJSON)
	require.NoError(t, err)
	parsed, err := ParseDocument(data, FormatJSON)
	require.NoError(t, err)

	dst := newTestRegistry(t, nil)
	require.NoError(t, dst.Add(ctx, ServiceConfig{Name: "gh", Command: "already-here"}))

	err = dst.Import(ctx, parsed)
	require.Error(t, err, "the conflicting entry is reported")
	assert.True(t, HasCode(err, ErrorCodeAlreadyExists))

	assert.Equal(t, []string{"fs", "gh"}, dst.Names())
	gh, err := dst.Get("gh")
	require.NoError(t, err)
	assert.Equal(t, "already-here", gh.Config.Command, "existing entries are not overwritten")
}

func TestRegistry_Update(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)

	require.NoError(t, r.Add(ctx, fakeConfig("fake", mcptest.ModeStandard)))
	require.NoError(t, r.Start(ctx, "fake"))
	old, err := r.Service("fake")
	require.NoError(t, err)

	cwd := t.TempDir()
	require.NoError(t, r.Update(ctx, "fake", ServiceConfigPatch{Cwd: &cwd}))

	assert.Equal(t, StatusStopped, old.Status(), "the old service is stopped")

	inst, err := r.Get("fake")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, inst.Status, "the rebuilt service starts stopped")
	assert.Equal(t, cwd, inst.Config.Cwd)

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cwd, saved["fake"].Cwd)

	empty := ""
	err = r.Update(ctx, "fake", ServiceConfigPatch{Command: &empty})
	assert.True(t, HasCode(err, ErrorCodeConfig))

	err = r.Update(ctx, "missing", ServiceConfigPatch{})
	assert.True(t, HasCode(err, ErrorCodeNotFound))
}

func TestRegistry_ToolsAndCallTool(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)

	require.NoError(t, r.Add(ctx, fakeConfig("alpha", mcptest.ModeStandard)))
	require.NoError(t, r.Add(ctx, fakeConfig("beta", mcptest.ModeStandard)))

	assert.Empty(t, r.Tools(nil), "stopped services expose no tools")

	require.NoError(t, r.StartAll(ctx, []string{"alpha", "beta"}))

	all := r.Tools(nil)
	names := make(map[string]bool, len(all))
	for _, tool := range all {
		names[tool.Function.Name] = true
		assert.Equal(t, "function", tool.Type)
	}
	assert.True(t, names["alpha_echo"])
	assert.True(t, names["beta_echo"])

	onlyAlpha := r.Tools([]string{"alpha"})
	for _, tool := range onlyAlpha {
		assert.Regexp(t, `^alpha_`, tool.Function.Name)
	}
	assert.NotEmpty(t, onlyAlpha)

	res, err := r.CallTool(ctx, "beta_echo", map[string]any{"message": "routed"})
	require.NoError(t, err)
	assert.Equal(t, "routed", FormatToolResult(res))

	_, err = r.CallTool(ctx, "gamma_echo", nil)
	assert.True(t, HasCode(err, ErrorCodeNotFound))

	_, err = r.CallTool(ctx, "noseparator", nil)
	assert.True(t, HasCode(err, ErrorCodeValidation))

	routed := r.RoutedTools([]string{"beta"})
	require.NotEmpty(t, routed)
	assert.Equal(t, "beta", routed[0].Service)
	assert.Equal(t, "beta_"+routed[0].Tool, routed[0].Descriptor.Function.Name)

	require.NoError(t, r.Stop(ctx, "beta"))
	_, err = r.CallTool(ctx, "beta_echo", map[string]any{"message": "x"})
	assert.True(t, HasCode(err, ErrorCodeNotRunning))

	summary := r.Summary()
	assert.Equal(t, 1, summary[StatusRunning])
	assert.Equal(t, 1, summary[StatusStopped])
}

func TestRegistry_ServiceNameWithSeparator(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)

	require.NoError(t, r.Add(ctx, fakeConfig("git_hub", mcptest.ModeStandard)))
	require.NoError(t, r.Start(ctx, "git_hub"))

	var echo *RoutedTool
	for _, routed := range r.RoutedTools(nil) {
		if routed.Tool == "echo" {
			echo = &routed
		}
	}
	require.NotNil(t, echo)
	assert.Equal(t, "git_hub", echo.Service)
	assert.Equal(t, "git_hub_echo", echo.Descriptor.Function.Name)

	_, err := r.CallTool(ctx, "git_hub_echo", map[string]any{"message": "x"})
	assert.True(t, HasCode(err, ErrorCodeNotFound), "the composite name splits at the first separator")

	res, err := r.CallServiceTool(ctx, echo.Service, echo.Tool, map[string]any{"message": "routed"})
	require.NoError(t, err)
	assert.Equal(t, "routed", FormatToolResult(res))
}

func TestRegistry_StatusEvents(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Add(ctx, fakeConfig("fake", mcptest.ModeStandard)))

	events, cancel := r.Events().Subscribe(256)
	defer cancel()

	require.NoError(t, r.Start(ctx, "fake"))

	var statuses []string
	var toolsChanged bool
	timeout := time.After(2 * time.Second)
	for len(statuses) < 2 || !toolsChanged {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventStatus:
				statuses = append(statuses, ev.Message)
			case EventToolsChanged:
				toolsChanged = true
			}
		case <-timeout:
			t.Fatalf("missing events: statuses=%v toolsChanged=%v", statuses, toolsChanged)
		}
	}
	assert.Equal(t, []string{"starting", "running"}, statuses[:2])
}

func TestRegistry_Reload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRegistry(t, store)

	require.NoError(t, r.Add(ctx, ServiceConfig{Name: "keep", Command: "npx"}))
	require.NoError(t, r.Add(ctx, ServiceConfig{Name: "change", Command: "npx"}))
	require.NoError(t, r.Add(ctx, ServiceConfig{Name: "drop", Command: "npx"}))

	require.NoError(t, store.Save(ctx, Document{
		"keep":   {Command: "npx"},
		"change": {Command: "uvx"},
		"new":    {Command: "docker"},
	}))

	require.NoError(t, r.Reload(ctx))
	assert.Equal(t, []string{"change", "keep", "new"}, r.Names())

	changed, err := r.Get("change")
	require.NoError(t, err)
	assert.Equal(t, "uvx", changed.Config.Command)
}

func TestRegistry_ServiceGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(provider)
	require.NoError(t, err)

	opts := testOptions()
	opts.Metrics = metrics
	r, err := NewRegistry(RegistryConfig{Options: opts, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, r.Add(context.Background(), ServiceConfig{Name: "fs", Command: "npx"}))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var stopped int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "toolbridge_services" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			for _, dp := range gauge.DataPoints {
				if v, ok := dp.Attributes.Value("status"); ok && v.AsString() == string(StatusStopped) {
					stopped = dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), stopped)
}
