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
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
)

const (
	targetPoints = 60
	minStep      = time.Second
)

// MetricsAdapter queries a Prometheus-compatible range query API.
type MetricsAdapter struct {
	api    promv1.API
	logger logger.Logger
}

var _ Adapter = (*MetricsAdapter)(nil)

// NewMetricsAdapter builds an adapter for the Prometheus HTTP API at
// cfg.Address.
func NewMetricsAdapter(cfg HTTPConfig) (*MetricsAdapter, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errAddressRequired
	}

	client, err := promapi.NewClient(promapi.Config{
		Address:      cfg.Address,
		RoundTripper: newTransport(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &MetricsAdapter{api: promv1.NewAPI(client), logger: log}, nil
}

func (*MetricsAdapter) Kind() models.SourceKind {
	return models.SourceMetrics
}

func (a *MetricsAdapter) Execute(ctx context.Context, q Query) Outcome {
	start := time.Now()

	ctx, c := withCall(ctx, q.Tenant)

	value, warnings, err := a.api.QueryRange(ctx, q.Expr, promv1.Range{
		Start: q.Range.Start,
		End:   q.Range.End,
		Step:  StepFor(q.Range),
	})
	if err != nil {
		return Failed(models.SourceMetrics, classifyPromError(ctx, err, int(c.status.Load())), time.Since(start))
	}

	if len(warnings) > 0 {
		a.logger.Debug().Strs("warnings", warnings).Msg("Prometheus returned warnings")
	}

	items, err := metricItems(models.SourceMetrics, value)
	if err != nil {
		return Failed(models.SourceMetrics, NewError(models.ErrorParse, 0, err), time.Since(start))
	}

	return Succeeded(models.SourceMetrics, items, q.Limit, time.Since(start))
}

// StepFor picks a resolution that yields about targetPoints samples per
// series, never finer than one second.
func StepFor(r models.TimeRange) time.Duration {
	step := (r.Duration() / targetPoints).Truncate(time.Second)
	if step < minStep {
		return minStep
	}

	return step
}

func classifyPromError(ctx context.Context, err error, status int) *Error {
	var apiErr *promv1.Error
	if !errors.As(err, &apiErr) {
		return Classify(ctx, err)
	}

	switch apiErr.Type {
	case promv1.ErrTimeout, promv1.ErrCanceled:
		return TimeoutError(err)
	case promv1.ErrBadResponse:
		return NewError(models.ErrorParse, status, err)
	}

	if ctx.Err() != nil {
		return TimeoutError(err)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return NewError(models.ErrorAccessDenied, status, fmt.Errorf("%w: %w", ErrAccessDenied, err))
	}

	return NewError(models.ErrorBackend, status, err)
}

// metricItems flattens a query result into one item per sample.
func metricItems(source models.SourceKind, value model.Value) ([]models.ResultItem, error) {
	var items []models.ResultItem

	switch v := value.(type) {
	case model.Matrix:
		for _, series := range v {
			id := series.Metric.String()

			for _, sample := range series.Values {
				items = append(items, sampleItem(source, id, series.Metric, sample.Timestamp, float64(sample.Value), sample))
			}

			for _, h := range series.Histograms {
				items = append(items, histogramItem(source, id, series.Metric, h.Timestamp, h.Histogram, h))
			}
		}
	case model.Vector:
		for _, sample := range v {
			id := sample.Metric.String()

			if sample.Histogram != nil {
				items = append(items, histogramItem(source, id, sample.Metric, sample.Timestamp, sample.Histogram, sample))
				continue
			}

			items = append(items, sampleItem(source, id, sample.Metric, sample.Timestamp, float64(sample.Value), sample))
		}
	case *model.Scalar:
		items = append(items, sampleItem(source, "scalar", nil, v.Timestamp, float64(v.Value), v))
	case nil:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedType, value.Type())
	}

	return items, nil
}

func sampleItem(source models.SourceKind, id string, metric model.Metric, ts model.Time, value float64, raw any) models.ResultItem {
	return models.ResultItem{
		Source:    source,
		Timestamp: ts.Time().UTC(),
		ID:        id,
		Payload: map[string]any{
			"metric": string(metric[model.MetricNameLabel]),
			"labels": labelMap(metric),
			"value":  sampleValue(value),
		},
		Raw: raw,
	}
}

// sampleValue keeps finite values numeric. NaN and infinities are rendered
// the way the Prometheus API does ("NaN", "+Inf", "-Inf") since JSON has no
// encoding for them.
func sampleValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.SampleValue(v).String()
	}

	return v
}

func histogramItem(source models.SourceKind, id string, metric model.Metric, ts model.Time, h *model.SampleHistogram, raw any) models.ResultItem {
	item := sampleItem(source, id, metric, ts, 0, raw)
	delete(item.Payload, "value")
	item.Payload["count"] = sampleValue(float64(h.Count))
	item.Payload["sum"] = sampleValue(float64(h.Sum))

	return item
}

func labelMap(metric model.Metric) map[string]string {
	labels := make(map[string]string, len(metric))

	for k, v := range metric {
		if k == model.MetricNameLabel {
			continue
		}

		labels[string(k)] = string(v)
	}

	return labels
}
