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
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/carverauto/signalquery/pkg/models"
)

const (
	tempoTracePath  = "/api/traces/"
	tempoSearchPath = "/api/search"
	spansPerSpanSet = 3
)

// TracesAdapter queries a Tempo-compatible API. Trace queries cannot carry a
// tenant matcher, so every fetched span is checked against the caller's
// tenant attribute and foreign data is dropped.
type TracesAdapter struct {
	http        *httpBackend
	tenantLabel string
}

var _ Adapter = (*TracesAdapter)(nil)

func NewTracesAdapter(cfg HTTPConfig) (*TracesAdapter, error) {
	h, err := newHTTPBackend(cfg)
	if err != nil {
		return nil, err
	}

	label := cfg.TenantLabel
	if label == "" {
		label = models.DefaultTenantLabel
	}

	return &TracesAdapter{http: h, tenantLabel: label}, nil
}

func (*TracesAdapter) Kind() models.SourceKind {
	return models.SourceTraces
}

func (a *TracesAdapter) Execute(ctx context.Context, q Query) Outcome {
	start := time.Now()

	ctx, _ = withCall(ctx, q.Tenant)

	var (
		items   []models.ResultItem
		fetched int
		berr    *Error
	)

	if q.TraceID != "" {
		items, fetched, berr = a.byID(ctx, q)
	} else {
		items, fetched, berr = a.search(ctx, q)
	}

	if berr != nil {
		return Failed(models.SourceTraces, berr, time.Since(start))
	}

	if len(items) == 0 && fetched > 0 {
		a.http.logger.Warn().
			Str("tenant", q.Tenant).
			Int("fetched", fetched).
			Msg("Dropped trace data not owned by tenant")

		return Failed(models.SourceTraces, NewError(models.ErrorAccessDenied, 0,
			fmt.Errorf("%w: %d trace(s) belong to another tenant", ErrAccessDenied, fetched)), time.Since(start))
	}

	return Succeeded(models.SourceTraces, items, q.Limit, time.Since(start))
}

// byID fetches a single trace as OTLP protobuf.
func (a *TracesAdapter) byID(ctx context.Context, q Query) ([]models.ResultItem, int, *Error) {
	body, notFound, berr := a.http.get(ctx, tempoTracePath+url.PathEscape(q.TraceID), nil, "application/protobuf")
	if berr != nil {
		return nil, 0, berr
	}

	if notFound {
		return nil, 0, nil
	}

	td, err := decodeTrace(body)
	if err != nil {
		return nil, 0, NewError(models.ErrorParse, 0, err)
	}

	return a.summarize(td, q.Tenant)
}

type spanGroup struct {
	traceID  string
	spans    []*tracepb.Span
	services map[string]struct{}
	root     *tracepb.Span
	rootSvc  string
	start    uint64
	end      uint64
	errors   int
}

// summarize keeps only the caller's spans and emits one item per trace.
func (a *TracesAdapter) summarize(td *tracepb.TracesData, tenantID string) ([]models.ResultItem, int, *Error) {
	groups := make(map[string]*spanGroup)
	fetched := 0

	for _, rs := range td.GetResourceSpans() {
		resAttrs := rs.GetResource().GetAttributes()
		resTenant := stringAttr(resAttrs, a.tenantLabel)
		service := stringAttr(resAttrs, "service.name")

		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				fetched++

				owner := stringAttr(span.GetAttributes(), a.tenantLabel)
				if owner == "" {
					owner = resTenant
				}

				if owner != tenantID {
					continue
				}

				id := hex.EncodeToString(span.GetTraceId())

				g, ok := groups[id]
				if !ok {
					g = &spanGroup{traceID: id, services: make(map[string]struct{})}
					groups[id] = g
				}

				g.add(span, service)
			}
		}
	}

	if len(groups) == 0 {
		return nil, fetched, nil
	}

	items := make([]models.ResultItem, 0, len(groups))
	for _, g := range groups {
		items = append(items, g.item())
	}

	return items, fetched, nil
}

func (g *spanGroup) add(span *tracepb.Span, service string) {
	g.spans = append(g.spans, span)

	if service != "" {
		g.services[service] = struct{}{}
	}

	if g.start == 0 || span.GetStartTimeUnixNano() < g.start {
		g.start = span.GetStartTimeUnixNano()
	}

	if span.GetEndTimeUnixNano() > g.end {
		g.end = span.GetEndTimeUnixNano()
	}

	if len(span.GetParentSpanId()) == 0 && g.root == nil {
		g.root = span
		g.rootSvc = service
	}

	if span.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR {
		g.errors++
	}
}

func (g *spanGroup) item() models.ResultItem {
	services := make([]string, 0, len(g.services))
	for s := range g.services {
		services = append(services, s)
	}

	slices.Sort(services)

	payload := map[string]any{
		"trace_id":    g.traceID,
		"span_count":  len(g.spans),
		"error_count": g.errors,
		"services":    services,
		"duration_ms": float64(g.end-g.start) / float64(time.Millisecond),
	}

	if g.root != nil {
		payload["root_span"] = g.root.GetName()
		payload["root_service"] = g.rootSvc
	}

	return models.ResultItem{
		Source:    models.SourceTraces,
		Timestamp: time.Unix(0, int64(g.start)).UTC(),
		ID:        g.traceID,
		Payload:   payload,
		Raw:       g.spans,
	}
}

// decodeTrace accepts OTLP protobuf, OTLP JSON, or Tempo's JSON rendering
// that names the resource spans "batches".
func decodeTrace(body []byte) (*tracepb.TracesData, error) {
	td := &tracepb.TracesData{}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return td, proto.Unmarshal(body, td)
	}

	var tempo struct {
		Batches json.RawMessage `json:"batches"`
	}

	if err := json.Unmarshal(trimmed, &tempo); err == nil && len(tempo.Batches) > 0 {
		rewrapped, err := json.Marshal(map[string]json.RawMessage{"resourceSpans": tempo.Batches})
		if err != nil {
			return nil, err
		}

		trimmed = rewrapped
	}

	return td, protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(trimmed, td)
}

func stringAttr(attrs []*commonpb.KeyValue, key string) string {
	for _, kv := range attrs {
		if kv.GetKey() == key {
			return kv.GetValue().GetStringValue()
		}
	}

	return ""
}

type tempoSearchResponse struct {
	Traces []tempoTrace `json:"traces"`
}

type tempoTrace struct {
	TraceID           string         `json:"traceID"`
	RootServiceName   string         `json:"rootServiceName"`
	RootTraceName     string         `json:"rootTraceName"`
	StartTimeUnixNano string         `json:"startTimeUnixNano"`
	DurationMs        float64        `json:"durationMs"`
	SpanSets          []tempoSpanSet `json:"spanSets"`
	SpanSet           *tempoSpanSet  `json:"spanSet,omitempty"`
}

type tempoSpanSet struct {
	Spans   []tempoSpan `json:"spans"`
	Matched int         `json:"matched"`
}

type tempoSpan struct {
	SpanID            string      `json:"spanID"`
	Name              string      `json:"name"`
	StartTimeUnixNano string      `json:"startTimeUnixNano"`
	Attributes        []tempoAttr `json:"attributes"`
}

type tempoAttr struct {
	Key   string `json:"key"`
	Value struct {
		StringValue string `json:"stringValue"`
	} `json:"value"`
}

// search runs a TraceQL search that also selects the tenant attribute so it
// can be checked on every returned span.
func (a *TracesAdapter) search(ctx context.Context, q Query) ([]models.ResultItem, int, *Error) {
	expr := fmt.Sprintf("%s | select(resource.%s, span.%s)", q.Expr, a.tenantLabel, a.tenantLabel)

	params := url.Values{}
	params.Set("q", expr)
	params.Set("start", strconv.FormatInt(q.Range.Start.Unix(), 10))
	params.Set("end", strconv.FormatInt(q.Range.End.Unix(), 10))
	params.Set("spss", strconv.Itoa(spansPerSpanSet))

	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	body, notFound, berr := a.http.get(ctx, tempoSearchPath, params, "application/json")
	if berr != nil {
		return nil, 0, berr
	}

	if notFound {
		return nil, 0, StatusError(http.StatusNotFound, []byte("search endpoint not found"))
	}

	var resp tempoSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, NewError(models.ErrorParse, 0, err)
	}

	items := make([]models.ResultItem, 0, len(resp.Traces))

	for i := range resp.Traces {
		t := &resp.Traces[i]

		owned, matched := a.ownedTrace(t, q.Tenant)
		if matched == 0 {
			continue
		}

		ns, _ := strconv.ParseInt(t.StartTimeUnixNano, 10, 64)

		items = append(items, models.ResultItem{
			Source:    models.SourceTraces,
			Timestamp: time.Unix(0, ns).UTC(),
			ID:        t.TraceID,
			Payload: map[string]any{
				"trace_id":      t.TraceID,
				"root_service":  t.RootServiceName,
				"root_span":     t.RootTraceName,
				"duration_ms":   t.DurationMs,
				"matched_spans": matched,
			},
			Raw: owned,
		})
	}

	return items, len(resp.Traces), nil
}

// ownedTrace returns a copy of t holding only the spans whose tenant
// attribute equals tenantID, and how many there are.
func (a *TracesAdapter) ownedTrace(t *tempoTrace, tenantID string) (tempoTrace, int) {
	owned := *t
	owned.SpanSets = nil
	owned.SpanSet = nil

	count := 0

	for _, set := range t.SpanSets {
		if kept, ok := a.ownedSet(set, tenantID); ok {
			owned.SpanSets = append(owned.SpanSets, kept)
			count += len(kept.Spans)
		}
	}

	if t.SpanSet != nil {
		if kept, ok := a.ownedSet(*t.SpanSet, tenantID); ok {
			owned.SpanSet = &kept
			count += len(kept.Spans)
		}
	}

	return owned, count
}

func (a *TracesAdapter) ownedSet(set tempoSpanSet, tenantID string) (tempoSpanSet, bool) {
	var spans []tempoSpan

	for _, span := range set.Spans {
		if a.spanTenant(span) == tenantID {
			spans = append(spans, span)
		}
	}

	if len(spans) == 0 {
		return tempoSpanSet{}, false
	}

	return tempoSpanSet{Spans: spans, Matched: len(spans)}, true
}

func (a *TracesAdapter) spanTenant(span tempoSpan) string {
	for _, attr := range span.Attributes {
		key := strings.TrimPrefix(strings.TrimPrefix(attr.Key, "resource."), "span.")
		if key == a.tenantLabel {
			return attr.Value.StringValue
		}
	}

	return ""
}
