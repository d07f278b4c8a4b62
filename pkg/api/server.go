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

// Package api serves the unified search endpoint.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	srHttp "github.com/carverauto/signalquery/pkg/http"
	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	defaultMaxBodyBytes = 1 << 20

	healthPath = "/healthz"
)

// ErrServerNotStarted is returned by Shutdown before Start has run.
var ErrServerNotStarted = errors.New("api server not started")

// NewAPIServer creates a new API server instance backed by searcher.
func NewAPIServer(searcher Searcher, log logger.Logger, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:       mux.NewRouter(),
		searcher:     searcher,
		logger:       log,
		maxBodyBytes: defaultMaxBodyBytes,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		startedAt:    time.Now(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithAPIConfig sets the authentication and CORS policy.
func WithAPIConfig(cfg models.APIConfig) func(server *APIServer) {
	return func(server *APIServer) {
		server.apiConfig = cfg
	}
}

// WithWriteTimeout bounds how long a response may take. It must exceed the
// longest search deadline.
func WithWriteTimeout(d time.Duration) func(server *APIServer) {
	return func(server *APIServer) {
		if d > 0 {
			server.writeTimeout = d
		}
	}
}

// WithMaxBodyBytes caps the size of a search request body.
func WithMaxBodyBytes(n int64) func(server *APIServer) {
	return func(server *APIServer) {
		if n > 0 {
			server.maxBodyBytes = n
		}
	}
}

// WithVersion sets the build version reported by the health endpoint.
func WithVersion(v string) func(server *APIServer) {
	return func(server *APIServer) {
		server.buildVersion = v
	}
}

// Handler returns the fully wired router.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) setupRoutes() {
	s.setupMiddleware()

	s.router.HandleFunc(healthPath, s.handleHealth).Methods(http.MethodGet)

	protected := s.router.PathPrefix("/api/v1").Subrouter()
	protected.Use(srHttp.APIKeyMiddleware(s.apiConfig.APIKey, s.logger))
	protected.Use(srHttp.TenantMiddleware(s.apiConfig.TrustedTenantHeader, s.logger))

	protected.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet, http.MethodOptions)
}

func (s *APIServer) setupMiddleware() {
	cors := s.apiConfig.CORS()

	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, cors, s.logger)
	})
}

// Start listens on addr until Shutdown is called. A non-nil tlsConfig
// serves HTTPS; client certificates it verifies identify the tenant.
func (s *APIServer) Start(addr string, tlsConfig *tls.Config) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		TLSConfig:         tlsConfig,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", addr).
		Bool("tls", tlsConfig != nil).
		Msg("Starting API server")

	var err error
	if tlsConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Shutdown drains in-flight requests.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotStarted
	}

	return srv.Shutdown(ctx)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   s.buildVersion,
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
		Sources:   len(s.searcher.Sources()),
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleSources(w http.ResponseWriter, _ *http.Request) {
	kinds := s.searcher.Sources()
	resp := SourcesResponse{Sources: make([]SourceInfo, 0, len(kinds))}

	for _, kind := range kinds {
		resp.Sources = append(resp.Sources, SourceInfo{
			Kind:      kind,
			Dialect:   models.DefaultDialect(kind),
			TimeoutMs: s.searcher.Timeout(kind).Milliseconds(),
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// writeJSON encodes data before writing the status so an encoding failure
// still reaches the caller as a JSON error.
func (s *APIServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer

	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
		writeError(w, "failed to encode response", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(statusCode)

	errResponse := models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	}

	if err := json.NewEncoder(w).Encode(errResponse); err != nil {
		// Fallback in case encoding fails
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
