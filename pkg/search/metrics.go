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

package search

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/signalquery/pkg/models"
)

const (
	searchMeterName          = "signalquery.search"
	metricSearchLatencyName  = "search_duration_seconds"
	metricBackendLatencyName = "search_backend_duration_seconds"
	metricBackendOutcomeName = "search_backend_outcomes_total"
	metricTruncatedName      = "search_truncated_total"
	metricRejectedName       = "search_rejected_total"
)

var (
	searchMetricsOnce sync.Once

	searchLatency    metric.Float64Histogram
	backendLatency   metric.Float64Histogram
	backendOutcomes  metric.Int64Counter
	truncatedCounter metric.Int64Counter
	rejectedCounter  metric.Int64Counter
)

func initSearchMetrics() {
	meter := otel.Meter(searchMeterName)

	if hist, err := meter.Float64Histogram(
		metricSearchLatencyName,
		metric.WithDescription("End-to-end latency of fan-out searches"),
		metric.WithUnit("s"),
	); err != nil {
		otel.Handle(err)
	} else {
		searchLatency = hist
	}

	if hist, err := meter.Float64Histogram(
		metricBackendLatencyName,
		metric.WithDescription("Latency of individual backend calls"),
		metric.WithUnit("s"),
	); err != nil {
		otel.Handle(err)
	} else {
		backendLatency = hist
	}

	if counter, err := meter.Int64Counter(
		metricBackendOutcomeName,
		metric.WithDescription("Backend call outcomes by source and status"),
	); err != nil {
		otel.Handle(err)
	} else {
		backendOutcomes = counter
	}

	if counter, err := meter.Int64Counter(
		metricTruncatedName,
		metric.WithDescription("Searches whose merged result hit the limit"),
	); err != nil {
		otel.Handle(err)
	} else {
		truncatedCounter = counter
	}

	if counter, err := meter.Int64Counter(
		metricRejectedName,
		metric.WithDescription("Searches rejected before any backend was called"),
	); err != nil {
		otel.Handle(err)
	} else {
		rejectedCounter = counter
	}
}

func recordSearch(ctx context.Context, duration time.Duration, resp *models.UnifiedResponse) {
	searchMetricsOnce.Do(initSearchMetrics)

	if searchLatency != nil {
		searchLatency.Record(
			ctx,
			clampDuration(duration).Seconds(),
			metric.WithAttributes(
				attribute.String("outcome", searchOutcome(resp)),
				attribute.String("result_state", classifyResultSize(len(resp.Items))),
			),
		)
	}

	if resp.Truncated && truncatedCounter != nil {
		truncatedCounter.Add(ctx, 1)
	}

	for kind, res := range resp.Sources {
		if res.Status == models.StatusSkipped {
			continue
		}

		recordBackend(ctx, kind, res)
	}
}

func recordBackend(ctx context.Context, kind models.SourceKind, res models.SourceResult) {
	attrs := metric.WithAttributes(
		attribute.String("source", string(kind)),
		attribute.String("status", string(res.Status)),
		attribute.String("error_kind", string(res.ErrorKind)),
	)

	if backendLatency != nil {
		backendLatency.Record(ctx, (time.Duration(res.DurationMs) * time.Millisecond).Seconds(), attrs)
	}

	if backendOutcomes != nil {
		backendOutcomes.Add(ctx, 1, attrs)
	}
}

func recordRejected(ctx context.Context, reason string) {
	searchMetricsOnce.Do(initSearchMetrics)
	if rejectedCounter == nil {
		return
	}

	rejectedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func searchOutcome(resp *models.UnifiedResponse) string {
	switch {
	case resp.AllSourcesFailed:
		return "failed"
	case resp.Degraded():
		return "degraded"
	default:
		return "ok"
	}
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}

	return d
}

func classifyResultSize(count int) string {
	switch {
	case count <= 0:
		return "empty"
	case count < 10:
		return "lt10"
	case count < 50:
		return "lt50"
	case count < 100:
		return "lt100"
	default:
		return "gte100"
	}
}
