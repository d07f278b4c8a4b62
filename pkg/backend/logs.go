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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/common/model"

	"github.com/carverauto/signalquery/pkg/models"
)

const (
	lokiQueryRangePath = "/loki/api/v1/query_range"
	defaultLogLimit    = 100
)

var errLokiStatus = errors.New("loki returned error status")

// LogsAdapter queries a Loki-compatible query_range API.
type LogsAdapter struct {
	http *httpBackend
}

var _ Adapter = (*LogsAdapter)(nil)

func NewLogsAdapter(cfg HTTPConfig) (*LogsAdapter, error) {
	h, err := newHTTPBackend(cfg)
	if err != nil {
		return nil, err
	}

	return &LogsAdapter{http: h}, nil
}

func (*LogsAdapter) Kind() models.SourceKind {
	return models.SourceLogs
}

type lokiResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
	Data      struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	} `json:"data"`
}

type lokiStream struct {
	Stream model.LabelSet `json:"stream"`
	Values [][2]string    `json:"values"`
}

func (a *LogsAdapter) Execute(ctx context.Context, q Query) Outcome {
	start := time.Now()

	ctx, _ = withCall(ctx, q.Tenant)

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	params := url.Values{}
	params.Set("query", q.Expr)
	params.Set("start", strconv.FormatInt(q.Range.Start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(q.Range.End.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("direction", "backward")

	params.Set("step", strconv.FormatFloat(StepFor(q.Range).Seconds(), 'f', -1, 64))

	body, notFound, berr := a.http.get(ctx, lokiQueryRangePath, params, "application/json")
	if berr != nil {
		return Failed(models.SourceLogs, berr, time.Since(start))
	}

	if notFound {
		return Failed(models.SourceLogs, StatusError(http.StatusNotFound, []byte("query_range endpoint not found")), time.Since(start))
	}

	items, err := decodeLoki(body)
	if err != nil {
		return Failed(models.SourceLogs, Classify(ctx, err), time.Since(start))
	}

	a.http.logger.Debug().
		Str("engine", "loki").
		Int("item_count", len(items)).
		Msg("Loki query executed")

	return Succeeded(models.SourceLogs, items, q.Limit, time.Since(start))
}

func decodeLoki(body []byte) ([]models.ResultItem, error) {
	var resp lokiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if resp.Status != "success" {
		return nil, NewError(models.ErrorBackend, 0, fmt.Errorf("%w: %s: %s", errLokiStatus, resp.ErrorType, resp.Error))
	}

	switch resp.Data.ResultType {
	case "streams":
		var streams []lokiStream
		if err := json.Unmarshal(resp.Data.Result, &streams); err != nil {
			return nil, err
		}

		return streamItems(streams)
	case "matrix":
		var matrix model.Matrix
		if err := json.Unmarshal(resp.Data.Result, &matrix); err != nil {
			return nil, err
		}

		return metricItems(models.SourceLogs, matrix)
	case "vector":
		var vector model.Vector
		if err := json.Unmarshal(resp.Data.Result, &vector); err != nil {
			return nil, err
		}

		return metricItems(models.SourceLogs, vector)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedType, resp.Data.ResultType)
	}
}

func streamItems(streams []lokiStream) ([]models.ResultItem, error) {
	var items []models.ResultItem

	for _, s := range streams {
		id := s.Stream.String()
		labels := make(map[string]string, len(s.Stream))

		for k, v := range s.Stream {
			labels[string(k)] = string(v)
		}

		for _, entry := range s.Values {
			ns, err := strconv.ParseInt(entry[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp %q", ErrUnexpectedType, entry[0])
			}

			items = append(items, models.ResultItem{
				Source:    models.SourceLogs,
				Timestamp: time.Unix(0, ns).UTC(),
				ID:        id,
				Payload: map[string]any{
					"line":   entry[1],
					"labels": labels,
				},
				Raw: entry,
			})
		}
	}

	return items, nil
}
