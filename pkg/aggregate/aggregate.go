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

// Package aggregate merges per-backend outcomes into one ordered response.
package aggregate

import (
	"slices"

	"github.com/carverauto/signalquery/pkg/backend"
	"github.com/carverauto/signalquery/pkg/models"
)

const (
	msgNotRequested  = "source not requested"
	msgNotConfigured = "no backend configured"
)

// Aggregator collects outcomes and builds the response once all are in. It
// is not safe for concurrent use; feed it after the fan-out returns.
type Aggregator struct {
	limit     int
	requested map[models.SourceKind]bool
	outcomes  map[models.SourceKind]backend.Outcome
	items     []models.ResultItem
}

// New returns an aggregator keeping at most limit items (no bound when
// limit <= 0). An empty requested set means every kind.
func New(limit int, requested []models.SourceKind) *Aggregator {
	if len(requested) == 0 {
		requested = models.AllSourceKinds()
	}

	set := make(map[models.SourceKind]bool, len(requested))
	for _, k := range requested {
		set[k] = true
	}

	return &Aggregator{
		limit:     limit,
		requested: set,
		outcomes:  make(map[models.SourceKind]backend.Outcome, len(set)),
	}
}

// Add records one outcome. Items of unrequested kinds are ignored.
func (a *Aggregator) Add(out backend.Outcome) {
	if !a.requested[out.Kind] {
		return
	}

	a.outcomes[out.Kind] = out

	if out.OK() {
		a.items = append(a.items, out.Items...)
	}
}

// Result sorts, truncates and summarizes everything added so far.
func (a *Aggregator) Result() models.UnifiedResponse {
	items := slices.Clone(a.items)
	slices.SortStableFunc(items, models.CompareItems)

	dropped := make(map[models.SourceKind]int, len(a.outcomes))

	if a.limit > 0 && len(items) > a.limit {
		for _, item := range items[a.limit:] {
			dropped[item.Source]++
		}

		items = items[:a.limit:a.limit]
	}

	kept := make(map[models.SourceKind]int, len(a.outcomes))
	for _, item := range items {
		kept[item.Source]++
	}

	resp := models.UnifiedResponse{
		Items:   items,
		Sources: make(map[models.SourceKind]models.SourceResult, len(models.AllSourceKinds())),
		Limit:   a.limit,
	}

	if resp.Items == nil {
		resp.Items = []models.ResultItem{}
	}

	dispatched, succeeded := 0, 0

	for _, kind := range models.AllSourceKinds() {
		out, ok := a.outcomes[kind]

		switch {
		case !a.requested[kind]:
			resp.Sources[kind] = models.SourceResult{Status: models.StatusSkipped, Message: msgNotRequested}
		case !ok:
			resp.Sources[kind] = models.SourceResult{Status: models.StatusSkipped, Message: msgNotConfigured}
		default:
			dispatched++

			res := sourceResult(out)
			res.Items = kept[kind]
			res.Dropped = dropped[kind] + out.Dropped

			if res.Dropped > 0 {
				resp.Truncated = true
			}

			if out.OK() {
				succeeded++
			}

			resp.Sources[kind] = res
		}
	}

	resp.AllSourcesFailed = dispatched > 0 && succeeded == 0

	return resp
}

func sourceResult(out backend.Outcome) models.SourceResult {
	res := models.SourceResult{
		Status:     models.StatusOK,
		DurationMs: out.Duration.Milliseconds(),
	}

	if out.OK() {
		return res
	}

	res.Status = models.StatusError
	if out.Err.Kind == models.ErrorTimeout {
		res.Status = models.StatusTimeout
	}

	res.ErrorKind = out.Err.Kind
	res.HTTPStatus = out.Err.Status
	res.Message = out.Err.Error()

	return res
}

// Merge is New + Add + Result in one call.
func Merge(outcomes []backend.Outcome, limit int, requested []models.SourceKind) models.UnifiedResponse {
	a := New(limit, requested)
	for _, out := range outcomes {
		a.Add(out)
	}

	return a.Result()
}
