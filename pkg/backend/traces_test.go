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

package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/carverauto/signalquery/pkg/models"
)

const testTraceID = "0af7651916cd43dd8448eb211c80319c"

func attr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func resourceSpans(tenant, service string, spans ...*tracepb.Span) *tracepb.ResourceSpans {
	attrs := []*commonpb.KeyValue{attr("service.name", service)}
	if tenant != "" {
		attrs = append(attrs, attr("tenant_id", tenant))
	}

	return &tracepb.ResourceSpans{
		Resource:   &resourcepb.Resource{Attributes: attrs},
		ScopeSpans: []*tracepb.ScopeSpans{{Spans: spans}},
	}
}

func span(name string, parent []byte, start, end uint64, attrs ...*commonpb.KeyValue) *tracepb.Span {
	id, _ := hex.DecodeString(testTraceID)

	return &tracepb.Span{
		TraceId:           id,
		SpanId:            []byte(name + "0000000")[:8],
		ParentSpanId:      parent,
		Name:              name,
		StartTimeUnixNano: start,
		EndTimeUnixNano:   end,
		Attributes:        attrs,
	}
}

func mixedTrace() *tracepb.TracesData {
	return &tracepb.TracesData{ResourceSpans: []*tracepb.ResourceSpans{
		resourceSpans("acme", "checkout",
			span("root", nil, 1_700_000_000_000_000_000, 1_700_000_000_500_000_000),
			span("child", []byte("root0000"), 1_700_000_000_100_000_000, 1_700_000_000_200_000_000),
		),
		resourceSpans("bob", "payments",
			span("leak", []byte("root0000"), 1_700_000_000_050_000_000, 1_700_000_000_060_000_000),
		),
	}}
}

func newTempoServer(t *testing.T, handler http.HandlerFunc) *TracesAdapter {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := NewTracesAdapter(HTTPConfig{Address: srv.URL})
	require.NoError(t, err)

	return adapter
}

func TestTracesAdapterByIDFiltersForeignSpans(t *testing.T) {
	t.Parallel()

	body, err := proto.Marshal(mixedTrace())
	require.NoError(t, err)

	var path, accept, tenant string

	adapter := newTempoServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		accept = r.Header.Get("Accept")
		tenant = r.Header.Get(TenantHeader)

		w.Header().Set("Content-Type", "application/protobuf")
		_, _ = w.Write(body)
	})

	out := adapter.Execute(context.Background(), Query{Tenant: "acme", TraceID: testTraceID, Range: testRange()})

	require.True(t, out.OK(), "unexpected error: %v", out.Err)
	assert.Equal(t, "/api/traces/"+testTraceID, path)
	assert.Equal(t, "application/protobuf", accept)
	assert.Equal(t, "acme", tenant)

	require.Len(t, out.Items, 1)

	item := out.Items[0]
	assert.Equal(t, testTraceID, item.ID)
	assert.Equal(t, 2, item.Payload["span_count"])
	assert.Equal(t, "root", item.Payload["root_span"])
	assert.Equal(t, []string{"checkout"}, item.Payload["services"])
	assert.InDelta(t, 500.0, item.Payload["duration_ms"], 0.001)
	assert.Equal(t, int64(1_700_000_000_000_000_000), item.Timestamp.UnixNano())
}

func TestTracesAdapterByIDSpanAttributeWins(t *testing.T) {
	t.Parallel()

	td := &tracepb.TracesData{ResourceSpans: []*tracepb.ResourceSpans{
		resourceSpans("bob", "shared",
			span("mine", nil, 10, 20, attr("tenant_id", "acme")),
			span("theirs", nil, 10, 20),
		),
	}}

	body, err := proto.Marshal(td)
	require.NoError(t, err)

	adapter := newTempoServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	})

	out := adapter.Execute(context.Background(), Query{Tenant: "acme", TraceID: testTraceID})

	require.True(t, out.OK())
	require.Len(t, out.Items, 1)
	assert.Equal(t, 1, out.Items[0].Payload["span_count"])
}

func TestTracesAdapterByIDForeignTrace(t *testing.T) {
	t.Parallel()

	body, err := proto.Marshal(mixedTrace())
	require.NoError(t, err)

	adapter := newTempoServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	})

	out := adapter.Execute(context.Background(), Query{Tenant: "carol", TraceID: testTraceID})

	require.NotNil(t, out.Err)
	assert.Equal(t, models.ErrorAccessDenied, out.Err.Kind)
	assert.ErrorIs(t, out.Err, ErrAccessDenied)
	assert.Empty(t, out.Items)
}

func TestTracesAdapterByIDNotFound(t *testing.T) {
	t.Parallel()

	adapter := newTempoServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "trace not found", http.StatusNotFound)
	})

	out := adapter.Execute(context.Background(), Query{Tenant: "acme", TraceID: testTraceID})

	require.True(t, out.OK())
	assert.Empty(t, out.Items)
}

func TestTracesAdapterByIDTempoJSON(t *testing.T) {
	t.Parallel()

	otlp, err := protojson.Marshal(mixedTrace())
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(otlp, &doc))

	body, err := json.Marshal(map[string]json.RawMessage{"batches": doc["resourceSpans"]})
	require.NoError(t, err)

	adapter := newTempoServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	out := adapter.Execute(context.Background(), Query{Tenant: "acme", TraceID: testTraceID})

	require.True(t, out.OK(), "unexpected error: %v", out.Err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, 2, out.Items[0].Payload["span_count"])
}

func TestTracesAdapterByIDGarbage(t *testing.T) {
	t.Parallel()

	adapter := newTempoServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	out := adapter.Execute(context.Background(), Query{Tenant: "acme", TraceID: testTraceID})

	require.NotNil(t, out.Err)
	assert.Equal(t, models.ErrorParse, out.Err.Kind)
}

const searchBody = `{"traces":[
	{"traceID":"aaa","rootServiceName":"checkout","rootTraceName":"GET /cart",
	 "startTimeUnixNano":"1700000060000000000","durationMs":12,
	 "spanSets":[{"spans":[{"spanID":"1","attributes":[{"key":"tenant_id","value":{"stringValue":"acme"}}]}],"matched":1}]},
	{"traceID":"bbb","rootServiceName":"payments","startTimeUnixNano":"1700000070000000000",
	 "spanSet":{"spans":[{"spanID":"2","attributes":[{"key":"resource.tenant_id","value":{"stringValue":"bob"}}]}],"matched":1}},
	{"traceID":"ccc","rootServiceName":"legacy","startTimeUnixNano":"1700000080000000000",
	 "spanSets":[{"spans":[{"spanID":"3"}],"matched":1}]}
]}`

func TestTracesAdapterSearch(t *testing.T) {
	t.Parallel()

	rng := testRange()

	var params map[string]string

	adapter := newTempoServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tempoSearchPath, r.URL.Path)

		q := r.URL.Query()
		params = map[string]string{
			"q":     q.Get("q"),
			"start": q.Get("start"),
			"end":   q.Get("end"),
			"limit": q.Get("limit"),
		}

		_, _ = w.Write([]byte(searchBody))
	})

	out := adapter.Execute(context.Background(), Query{
		Expr:   `{ status = error }`,
		Tenant: "acme",
		Range:  rng,
		Limit:  20,
	})

	require.True(t, out.OK(), "unexpected error: %v", out.Err)
	assert.Equal(t, `{ status = error } | select(resource.tenant_id, span.tenant_id)`, params["q"])
	assert.Equal(t, "1700000000", params["start"])
	assert.Equal(t, "1700003600", params["end"])
	assert.Equal(t, "20", params["limit"])

	require.Len(t, out.Items, 1)
	assert.Equal(t, "aaa", out.Items[0].ID)
	assert.Equal(t, "checkout", out.Items[0].Payload["root_service"])
	assert.Equal(t, 1, out.Items[0].Payload["matched_spans"])
}

func TestTracesAdapterSearchAllForeign(t *testing.T) {
	t.Parallel()

	adapter := newTempoServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(searchBody))
	})

	out := adapter.Execute(context.Background(), Query{Expr: "{}", Tenant: "dave", Range: testRange()})

	require.NotNil(t, out.Err)
	assert.Equal(t, models.ErrorAccessDenied, out.Err.Kind)
	assert.True(t, strings.Contains(out.Err.Error(), "3 trace(s)"))
}

func TestTracesAdapterSearchEmpty(t *testing.T) {
	t.Parallel()

	adapter := newTempoServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"traces":[]}`))
	})

	out := adapter.Execute(context.Background(), Query{Expr: "{}", Tenant: "acme", Range: testRange()})

	require.True(t, out.OK())
	assert.Empty(t, out.Items)
}

func TestTracesAdapterCustomTenantLabel(t *testing.T) {
	t.Parallel()

	body := `{"traces":[{"traceID":"aaa","startTimeUnixNano":"1",
		"spanSets":[{"spans":[{"spanID":"1","attributes":[{"key":"span.org","value":{"stringValue":"acme"}}]}]}]}]}`

	var q string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	adapter, err := NewTracesAdapter(HTTPConfig{Address: srv.URL, TenantLabel: "org"})
	require.NoError(t, err)

	out := adapter.Execute(context.Background(), Query{Expr: "{}", Tenant: "acme", Range: testRange()})

	require.True(t, out.OK())
	require.Len(t, out.Items, 1)
	assert.Equal(t, "{} | select(resource.org, span.org)", q)
}

func TestTracesAdapterSearchDropsForeignSpans(t *testing.T) {
	t.Parallel()

	body := `{"traces":[{"traceID":"aaa","rootServiceName":"checkout","startTimeUnixNano":"1700000060000000000",
		"spanSets":[
			{"spans":[
				{"spanID":"1","name":"acme-span","attributes":[{"key":"tenant_id","value":{"stringValue":"acme"}}]},
				{"spanID":"2","name":"bob-secret","attributes":[{"key":"tenant_id","value":{"stringValue":"bob"}}]}
			],"matched":2},
			{"spans":[{"spanID":"3","name":"bob-only","attributes":[{"key":"resource.tenant_id","value":{"stringValue":"bob"}}]}],"matched":1}
		],
		"spanSet":{"spans":[{"spanID":"4","name":"bob-again","attributes":[{"key":"span.tenant_id","value":{"stringValue":"bob"}}]}],"matched":1}}]}`

	adapter := newTempoServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	})

	out := adapter.Execute(context.Background(), Query{Expr: "{}", Tenant: "acme", Range: testRange()})

	require.True(t, out.OK(), "unexpected error: %v", out.Err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, 1, out.Items[0].Payload["matched_spans"])

	raw, err := json.Marshal(out.Items[0].Raw)
	require.NoError(t, err)

	assert.Contains(t, string(raw), "acme-span")
	assert.NotContains(t, string(raw), "bob")
	assert.NotContains(t, string(raw), `"spanSet"`)
}
