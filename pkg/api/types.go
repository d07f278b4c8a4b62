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

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
)

// Searcher is the search core as seen by the HTTP layer.
type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.UnifiedResponse, error)
	Sources() []models.SourceKind
	Timeout(kind models.SourceKind) time.Duration
}

// APIServer exposes the search core over HTTP.
type APIServer struct {
	router       *mux.Router
	searcher     Searcher
	logger       logger.Logger
	apiConfig    models.APIConfig
	maxBodyBytes int64
	readTimeout  time.Duration
	writeTimeout time.Duration
	mu           sync.Mutex
	server       *http.Server
	startedAt    time.Time
	buildVersion string
}

// SourceInfo describes one configured backend in the sources listing.
type SourceInfo struct {
	Kind      models.SourceKind `json:"kind"`
	Dialect   models.Dialect    `json:"dialect"`
	TimeoutMs int64             `json:"timeout_ms"`
}

// SourcesResponse is returned by GET /api/v1/sources.
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	UptimeSec int64  `json:"uptime_sec"`
	Sources   int    `json:"sources"`
}
