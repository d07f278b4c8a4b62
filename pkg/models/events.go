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
	"time"
)

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

const (
	// SearchExecutedEventType is the CloudEvents type for completed searches.
	SearchExecutedEventType = "com.carverauto.signalquery.search.executed"
	// SearchExecutedSubject is the JetStream subject search events land on.
	SearchExecutedSubject = "events.search.executed"
)

// SearchExecutedEventData summarizes one fan-out so that downstream consumers
// can alert on degraded backends without seeing any result data.
type SearchExecutedEventData struct {
	RequestID        string                      `json:"request_id"`
	Tenant           string                      `json:"tenant"`
	Query            string                      `json:"query"`
	Items            int                         `json:"items"`
	Truncated        bool                        `json:"truncated"`
	AllSourcesFailed bool                        `json:"all_sources_failed"`
	Sources          map[SourceKind]SourceStatus `json:"sources"`
	ErrorKinds       map[SourceKind]ErrorKind    `json:"error_kinds,omitempty"`
	DurationMs       int64                       `json:"duration_ms"`
	Timestamp        time.Time                   `json:"timestamp"`
}

// NewSearchExecutedEventData builds the event payload for a finished search.
func NewSearchExecutedEventData(query string, resp *UnifiedResponse) *SearchExecutedEventData {
	data := &SearchExecutedEventData{
		RequestID:        resp.RequestID,
		Tenant:           resp.Tenant,
		Query:            query,
		Items:            len(resp.Items),
		Truncated:        resp.Truncated,
		AllSourcesFailed: resp.AllSourcesFailed,
		Sources:          make(map[SourceKind]SourceStatus, len(resp.Sources)),
		DurationMs:       resp.DurationMs,
		Timestamp:        time.Now().UTC(),
	}

	for kind, res := range resp.Sources {
		data.Sources[kind] = res.Status

		if res.ErrorKind != "" {
			if data.ErrorKinds == nil {
				data.ErrorKinds = make(map[SourceKind]ErrorKind)
			}

			data.ErrorKinds[kind] = res.ErrorKind
		}
	}

	return data
}
