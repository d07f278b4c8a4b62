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

package models

import (
	"strings"
	"time"
)

// SourceKind identifies one of the signal stores a search fans out to.
type SourceKind string

const (
	SourceMetrics SourceKind = "metrics"
	SourceLogs    SourceKind = "logs"
	SourceTraces  SourceKind = "traces"
)

// AllSourceKinds lists every backend kind in tie-break priority order.
func AllSourceKinds() []SourceKind {
	return []SourceKind{SourceMetrics, SourceTraces, SourceLogs}
}

// Valid reports whether k is one of the known kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceMetrics, SourceLogs, SourceTraces:
		return true
	default:
		return false
	}
}

// Priority is the tie-break rank used when two items share a timestamp.
// Lower sorts first.
func (k SourceKind) Priority() int {
	switch k {
	case SourceMetrics:
		return 0
	case SourceTraces:
		return 1
	case SourceLogs:
		return 2
	default:
		return 3
	}
}

// Dialect is the native query language spoken by a backend.
type Dialect string

const (
	DialectPromQL Dialect = "promql"
	DialectLogQL  Dialect = "logql"
	DialectTempo  Dialect = "tempo"
)

// DefaultDialect returns the dialect each backend kind speaks.
func DefaultDialect(k SourceKind) Dialect {
	switch k {
	case SourceMetrics:
		return DialectPromQL
	case SourceLogs:
		return DialectLogQL
	case SourceTraces:
		return DialectTempo
	default:
		return ""
	}
}

// TimeRange is a closed interval of wall-clock time.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the width of the range.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// SearchRequest is one logical query against every configured backend.
type SearchRequest struct {
	Query     string                `json:"query"`
	Start     time.Time             `json:"start"`
	End       time.Time             `json:"end"`
	Limit     int                   `json:"limit,omitempty" validate:"gte=0"`
	Overrides map[SourceKind]string `json:"overrides,omitempty"`
	Sources   []SourceKind          `json:"sources,omitempty" validate:"dive,oneof=metrics logs traces"`
	TraceID   string                `json:"trace_id,omitempty" validate:"omitempty,hexadecimal,max=32"`

	// Tenant is filled in from the authenticated caller identity and is
	// never read from the request body.
	Tenant string `json:"-"`
}

// ResultItem is one normalized record from any backend.
type ResultItem struct {
	Source    SourceKind     `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	ID        string         `json:"id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Raw       any            `json:"raw,omitempty"`
}

// CompareItems orders items newest first, then by source priority, then by
// ID. It returns a negative number when a sorts before b.
func CompareItems(a, b ResultItem) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}

	if pa, pb := a.Source.Priority(), b.Source.Priority(); pa != pb {
		return pa - pb
	}

	return strings.Compare(a.ID, b.ID)
}

// SourceStatus is the per-backend outcome reported to callers.
type SourceStatus string

const (
	StatusOK      SourceStatus = "ok"
	StatusError   SourceStatus = "error"
	StatusTimeout SourceStatus = "timeout"
	StatusSkipped SourceStatus = "skipped"
)

// ErrorKind classifies why a backend call failed.
type ErrorKind string

const (
	ErrorConnection   ErrorKind = "connection_error"
	ErrorBackend      ErrorKind = "backend_error"
	ErrorParse        ErrorKind = "parse_error"
	ErrorTimeout      ErrorKind = "timeout"
	ErrorAccessDenied ErrorKind = "access_denied"
)

// SourceResult carries per-source detail so callers can show degraded
// signals without hiding the sources that succeeded.
type SourceResult struct {
	Status     SourceStatus `json:"status"`
	ErrorKind  ErrorKind    `json:"error_kind,omitempty"`
	HTTPStatus int          `json:"http_status,omitempty"`
	Message    string       `json:"message,omitempty"`
	Items      int          `json:"items"`
	Dropped    int          `json:"dropped"`
	DurationMs int64        `json:"duration_ms"`
}

// UnifiedResponse is the merged, source-tagged answer to a SearchRequest.
type UnifiedResponse struct {
	RequestID        string                      `json:"request_id"`
	Tenant           string                      `json:"tenant"`
	Items            []ResultItem                `json:"items"`
	Sources          map[SourceKind]SourceResult `json:"sources"`
	Truncated        bool                        `json:"truncated"`
	AllSourcesFailed bool                        `json:"all_sources_failed"`
	Range            TimeRange                   `json:"range"`
	Limit            int                         `json:"limit"`
	DurationMs       int64                       `json:"duration_ms"`
}

// Degraded reports whether any source that was asked for did not answer.
func (r *UnifiedResponse) Degraded() bool {
	for _, res := range r.Sources {
		if res.Status == StatusError || res.Status == StatusTimeout {
			return true
		}
	}

	return r.AllSourcesFailed
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}
