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

//go:generate mockgen -destination=mock_adapter.go -package=backend github.com/carverauto/signalquery/pkg/backend Adapter

// Package backend holds one adapter per signal store. Each adapter speaks the
// store's protocol and normalizes results into models.ResultItem.
package backend

import (
	"context"
	"slices"
	"time"

	"github.com/carverauto/signalquery/pkg/models"
)

// Adapter executes an already tenant-scoped query against one backend.
// Execute must not panic and must honor ctx cancellation.
type Adapter interface {
	Kind() models.SourceKind
	Execute(ctx context.Context, q Query) Outcome
}

// Query is a single backend call.
type Query struct {
	Kind    models.SourceKind
	Expr    string
	Tenant  string
	Range   models.TimeRange
	Limit   int
	TraceID string
}

// Outcome is the tagged result of one adapter call. Err is nil on success.
type Outcome struct {
	Kind     models.SourceKind
	Items    []models.ResultItem
	Err      *Error
	Duration time.Duration
	// Dropped counts items the adapter fetched but discarded to honor Limit.
	Dropped int
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Failed builds an outcome for a call that did not produce items.
func Failed(kind models.SourceKind, err *Error, took time.Duration) Outcome {
	return Outcome{Kind: kind, Err: err, Duration: took}
}

// Succeeded sorts items newest first and keeps at most limit of them.
func Succeeded(kind models.SourceKind, items []models.ResultItem, limit int, took time.Duration) Outcome {
	slices.SortStableFunc(items, models.CompareItems)

	dropped := 0
	if limit > 0 && len(items) > limit {
		dropped = len(items) - limit
		items = items[:limit:limit]
	}

	return Outcome{Kind: kind, Items: items, Duration: took, Dropped: dropped}
}
