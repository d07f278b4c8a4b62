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

package aggregate

import (
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/carverauto/signalquery/pkg/backend"
	"github.com/carverauto/signalquery/pkg/models"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func item(kind models.SourceKind, id string, offset time.Duration) models.ResultItem {
	return models.ResultItem{Source: kind, ID: id, Timestamp: base.Add(offset)}
}

func ok(kind models.SourceKind, items ...models.ResultItem) backend.Outcome {
	return backend.Outcome{Kind: kind, Items: items, Duration: 5 * time.Millisecond}
}

func failed(kind models.SourceKind, errKind models.ErrorKind, status int) backend.Outcome {
	return backend.Failed(kind, backend.NewError(errKind, status, errors.New("boom")), time.Millisecond)
}

func acmeOutcomes() []backend.Outcome {
	return []backend.Outcome{
		ok(models.SourceMetrics,
			item(models.SourceMetrics, `errors_total{tenant_id="acme"}`, -10*time.Minute),
			item(models.SourceMetrics, `errors_total{tenant_id="acme"}`, -5*time.Minute),
		),
		ok(models.SourceLogs,
			item(models.SourceLogs, `{app="api"}`, -7*time.Minute),
			item(models.SourceLogs, `{app="api"}`, -5*time.Minute),
			item(models.SourceLogs, `{app="api"}`, -1*time.Minute),
		),
		ok(models.SourceTraces, item(models.SourceTraces, "0af7651916cd43dd", -5*time.Minute)),
	}
}

func sources(items []models.ResultItem) []models.SourceKind {
	out := make([]models.SourceKind, 0, len(items))
	for _, it := range items {
		out = append(out, it.Source)
	}

	return out
}

func TestMergeAcmeScenario(t *testing.T) {
	t.Parallel()

	resp := Merge(acmeOutcomes(), 10, nil)

	require.Len(t, resp.Items, 6)
	assert.False(t, resp.Truncated)
	assert.False(t, resp.AllSourcesFailed)

	// -1m log, then the -5m tie (metrics, traces, logs), then -7m log, -10m metric.
	assert.Equal(t, []models.SourceKind{
		models.SourceLogs,
		models.SourceMetrics, models.SourceTraces, models.SourceLogs,
		models.SourceLogs,
		models.SourceMetrics,
	}, sources(resp.Items))

	for _, kind := range models.AllSourceKinds() {
		assert.Equal(t, models.StatusOK, resp.Sources[kind].Status, kind)
		assert.Zero(t, resp.Sources[kind].Dropped)
	}

	assert.Equal(t, 2, resp.Sources[models.SourceMetrics].Items)
	assert.Equal(t, 3, resp.Sources[models.SourceLogs].Items)
	assert.Equal(t, 1, resp.Sources[models.SourceTraces].Items)
}

func TestMergeTruncatesFromTail(t *testing.T) {
	t.Parallel()

	resp := Merge(acmeOutcomes(), 4, nil)

	require.Len(t, resp.Items, 4)
	assert.True(t, resp.Truncated)

	dropped := 0
	for _, res := range resp.Sources {
		dropped += res.Dropped
	}

	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, resp.Sources[models.SourceMetrics].Dropped)
	assert.Equal(t, 1, resp.Sources[models.SourceLogs].Dropped)
	assert.Equal(t, base.Add(-5*time.Minute), resp.Items[3].Timestamp)
}

func TestMergeCountsAdapterDrops(t *testing.T) {
	t.Parallel()

	out := ok(models.SourceLogs, item(models.SourceLogs, "a", 0))
	out.Dropped = 7

	resp := Merge([]backend.Outcome{out}, 10, []models.SourceKind{models.SourceLogs})

	assert.True(t, resp.Truncated)
	assert.Equal(t, 7, resp.Sources[models.SourceLogs].Dropped)
}

func TestMergeTieBreakByID(t *testing.T) {
	t.Parallel()

	resp := Merge([]backend.Outcome{
		ok(models.SourceLogs, item(models.SourceLogs, "b", 0), item(models.SourceLogs, "a", 0)),
		ok(models.SourceTraces, item(models.SourceTraces, "z", 0)),
	}, 0, nil)

	require.Len(t, resp.Items, 3)
	assert.Equal(t, "z", resp.Items[0].ID)
	assert.Equal(t, "a", resp.Items[1].ID)
	assert.Equal(t, "b", resp.Items[2].ID)
}

func TestMergeAllSourcesFailed(t *testing.T) {
	t.Parallel()

	resp := Merge([]backend.Outcome{
		failed(models.SourceMetrics, models.ErrorConnection, 0),
		failed(models.SourceLogs, models.ErrorTimeout, 0),
		failed(models.SourceTraces, models.ErrorAccessDenied, http.StatusForbidden),
	}, 100, nil)

	assert.True(t, resp.AllSourcesFailed)
	assert.True(t, resp.Degraded())
	assert.NotNil(t, resp.Items)
	assert.Empty(t, resp.Items)

	assert.Equal(t, models.StatusError, resp.Sources[models.SourceMetrics].Status)
	assert.Equal(t, models.ErrorConnection, resp.Sources[models.SourceMetrics].ErrorKind)
	assert.Equal(t, models.StatusTimeout, resp.Sources[models.SourceLogs].Status)
	assert.Equal(t, models.ErrorAccessDenied, resp.Sources[models.SourceTraces].ErrorKind)
	assert.Equal(t, http.StatusForbidden, resp.Sources[models.SourceTraces].HTTPStatus)
	assert.Contains(t, resp.Sources[models.SourceTraces].Message, "boom")
}

func TestMergePartialFailure(t *testing.T) {
	t.Parallel()

	resp := Merge([]backend.Outcome{
		ok(models.SourceMetrics, item(models.SourceMetrics, "m", 0)),
		failed(models.SourceLogs, models.ErrorBackend, http.StatusBadGateway),
	}, 100, []models.SourceKind{models.SourceMetrics, models.SourceLogs})

	assert.False(t, resp.AllSourcesFailed)
	assert.True(t, resp.Degraded())
	assert.Len(t, resp.Items, 1)
	assert.Equal(t, models.StatusSkipped, resp.Sources[models.SourceTraces].Status)
	assert.Equal(t, msgNotRequested, resp.Sources[models.SourceTraces].Message)
}

func TestMergeSkipsUnconfiguredAndUnrequested(t *testing.T) {
	t.Parallel()

	resp := Merge([]backend.Outcome{
		ok(models.SourceMetrics, item(models.SourceMetrics, "m", 0)),
		ok(models.SourceTraces, item(models.SourceTraces, "t", 0)),
	}, 100, []models.SourceKind{models.SourceMetrics, models.SourceLogs})

	require.Len(t, resp.Items, 1)
	assert.Equal(t, models.SourceMetrics, resp.Items[0].Source)
	assert.Equal(t, msgNotConfigured, resp.Sources[models.SourceLogs].Message)
	assert.Equal(t, msgNotRequested, resp.Sources[models.SourceTraces].Message)
	assert.False(t, resp.Degraded())
}

func TestMergeDoesNotMutateOutcomes(t *testing.T) {
	t.Parallel()

	outcomes := acmeOutcomes()
	before := slices.Clone(outcomes[1].Items)

	_ = Merge(outcomes, 2, nil)

	assert.Equal(t, before, outcomes[1].Items)
}

func TestMergeProperties(t *testing.T) {
	t.Parallel()

	kinds := models.AllSourceKinds()

	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(0, 20).Draw(t, "limit")

		var outcomes []backend.Outcome

		total := 0

		for _, kind := range kinds {
			n := rapid.IntRange(0, 10).Draw(t, string(kind))
			items := make([]models.ResultItem, 0, n)

			for i := range n {
				offset := time.Duration(rapid.IntRange(0, 5).Draw(t, "offset")) * time.Minute
				items = append(items, item(kind, string(rune('a'+i)), -offset))
			}

			total += n
			outcomes = append(outcomes, ok(kind, items...))
		}

		resp := Merge(outcomes, limit, nil)

		want := total
		if limit > 0 && total > limit {
			want = limit
		}

		if len(resp.Items) != want {
			t.Fatalf("got %d items, want %d", len(resp.Items), want)
		}

		if !slices.IsSortedFunc(resp.Items, models.CompareItems) {
			t.Fatalf("items not in tie-break order")
		}

		accounted := 0
		for _, res := range resp.Sources {
			accounted += res.Items + res.Dropped
		}

		if accounted != total {
			t.Fatalf("items+dropped = %d, want %d", accounted, total)
		}

		if resp.Truncated != (want < total) {
			t.Fatalf("truncated = %v with %d of %d items", resp.Truncated, want, total)
		}

		again := Merge(outcomes, limit, nil)
		if !slices.EqualFunc(resp.Items, again.Items, func(a, b models.ResultItem) bool {
			return models.CompareItems(a, b) == 0
		}) {
			t.Fatalf("merge is not deterministic")
		}
	})
}
