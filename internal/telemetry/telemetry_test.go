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
package telemetry

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNew_StdoutTracing(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(context.Background(), Config{
		ServiceVersion: "1.2.3",
		TraceStdout:    true,
		TraceWriter:    &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "service.start")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name": "service.start"`)
	assert.Contains(t, buf.String(), "1.2.3")
}

func TestMetricsHandler(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	counter, err := p.MeterProvider().Meter("test").Int64Counter("toolbridge_test_calls_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	srv := httptest.NewServer(p.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "toolbridge_test_calls_total")
}

func TestNewOTLPExporter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, protocol := range []string{"", "http", "grpc"} {
		t.Run("protocol "+protocol, func(t *testing.T) {
			exp, err := NewOTLPExporter(ctx, OTLPConfig{Endpoint: "127.0.0.1:4318", Protocol: protocol, Insecure: true})
			require.NoError(t, err)
			require.NotNil(t, exp)
			_ = exp.Shutdown(ctx)
		})
	}

	_, err := NewOTLPExporter(ctx, OTLPConfig{Endpoint: "127.0.0.1:4318", Protocol: "udp"})
	assert.Error(t, err)
}
