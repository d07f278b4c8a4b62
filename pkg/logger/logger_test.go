/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	err := Init(context.Background(), &Config{Level: "debug", Output: "stdout"})
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(context.Background(), &Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestSetDebug(t *testing.T) {
	SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	SetDebug(false)
	assert.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())
}

func TestInitWithOTelEnabledButNoEndpoint(t *testing.T) {
	err := Init(context.Background(), &Config{
		Level: "info",
		OTel:  OTelConfig{Enabled: true},
	})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)
}

func TestNewOTelWriterDisabled(t *testing.T) {
	w, err := NewOTelWriter(context.Background(), OTelConfig{})
	require.ErrorIs(t, err, ErrOTelLoggingDisabled)
	assert.Nil(t, w)
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer

	l := New(zerolog.New(&buf))
	child := l.WithComponent("fanout")
	child.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fanout", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestDurationUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Duration
		wantErr bool
	}{
		{name: "string", input: `"5s"`, want: Duration(5 * time.Second)},
		{name: "nanoseconds", input: `5000000000`, want: Duration(5 * time.Second)},
		{name: "compound", input: `"1h30m"`, want: Duration(90 * time.Minute)},
		{name: "bad string", input: `"soon"`, wantErr: true},
		{name: "bad type", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestDefaultOTelConfigReadsEnv(t *testing.T) {
	t.Setenv("OTEL_LOGS_ENABLED", "yes")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_HEADERS", "x-api-key = secret, x-org=ops")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_TIMEOUT", "2s")

	cfg := DefaultOTelConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector:4317", cfg.Endpoint)
	assert.Equal(t, map[string]string{"x-api-key": "secret", "x-org": "ops"}, cfg.Headers)
	assert.Equal(t, Duration(2*time.Second), cfg.BatchTimeout)
	assert.Equal(t, defaultServiceName, cfg.ServiceName)
}

func TestTruncateStringKeepsUTF8(t *testing.T) {
	s := truncateString("héllo wörld", 8)

	assert.LessOrEqual(t, len(s), 8)
	assert.True(t, len(s) > 3 && s[len(s)-3:] == "...")
}

func TestMultiWriterWritesAll(t *testing.T) {
	var a, b bytes.Buffer

	n, err := NewMultiWriter(&a, &b).Write([]byte("line"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "line", a.String())
	assert.Equal(t, "line", b.String())
}

func TestInitializeMetricsDisabled(t *testing.T) {
	_, err := InitializeMetrics(context.Background(), MetricsConfig{})
	assert.ErrorIs(t, err, ErrOTelMetricsDisabled)
}

func TestInitializeTracingWithoutExporter(t *testing.T) {
	tp, err := InitializeTracing(context.Background(), TracingConfig{ServiceName: "signalquery-test"})
	require.NoError(t, err)

	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := GetTracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}
