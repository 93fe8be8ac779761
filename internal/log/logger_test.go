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
package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantLevel string
		wantFmt   Format
		wantSrc   bool
	}{
		{"defaults", nil, "info", FormatText, false},
		{"debug flag", map[string]string{"TOOLBRIDGE_DEBUG": "1", "TOOLBRIDGE_LOG_LEVEL": "error"}, "debug", FormatText, true},
		{"tool level wins", map[string]string{"TOOLBRIDGE_LOG_LEVEL": "WARN", "LOG_LEVEL": "debug"}, "warn", FormatText, false},
		{"generic level", map[string]string{"LOG_LEVEL": "trace"}, "trace", FormatText, false},
		{"json with source", map[string]string{"LOG_FORMAT": "JSON", "LOG_SOURCE": "1"}, "info", FormatJSON, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"TOOLBRIDGE_DEBUG", "TOOLBRIDGE_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(key, tt.env[key])
			}

			cfg := FromEnv()
			assert.Equal(t, tt.wantLevel, cfg.Level)
			assert.Equal(t, tt.wantFmt, cfg.Format)
			assert.Equal(t, tt.wantSrc, cfg.AddSource)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, ParseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	WithService(WithComponent(logger, "mcp"), "fs").Debug("started", Error(assert.AnError))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "started", entry["msg"])
	assert.Equal(t, "mcp", entry["component"])
	assert.Equal(t, "fs", entry[ServiceKey])
	assert.Equal(t, assert.AnError.Error(), entry["error"])
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer

	Trace(New(&Config{Level: "debug", Output: &buf}), "hidden")
	assert.Empty(t, buf.String())

	Trace(New(&Config{Level: "trace", Output: &buf}), "wire", slog.String("direction", "send"))
	assert.Contains(t, buf.String(), "direction=send")
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	handler := HTTPMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/metrics", "/missing"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ok, missing map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &missing))

	assert.Equal(t, "DEBUG", ok["level"])
	assert.Equal(t, float64(200), ok["status"])
	assert.Equal(t, "WARN", missing["level"])
	assert.Equal(t, float64(404), missing["status"])
	assert.Equal(t, "/missing", missing["path"])
}
