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

// Package http holds the middleware shared by the signalquery HTTP surfaces.
package http

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
	"github.com/carverauto/signalquery/pkg/tenant"
)

const (
	apiKeyHeader   = "X-API-Key"
	apiKeyParam    = "api_key"
	corsMaxAge     = "3600"
	allowedMethods = "GET, POST, OPTIONS"
	allowedHeaders = "Content-Type, Authorization, X-API-Key"
)

// statusRecorder remembers the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// CommonMiddleware logs every request and applies the configured CORS policy.
// Origins that are not allow-listed get no CORS headers at all.
func CommonMiddleware(next http.Handler, cors models.CORSConfig, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(cors.AllowedOrigins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", allowedMethods)
			h.Set("Access-Control-Allow-Headers", allowedHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)

			if cors.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("HTTP request")
	})
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}

	return false
}

// APIKeyOptions configures APIKeyMiddlewareWithOptions.
type APIKeyOptions struct {
	APIKey          string
	ExcludePaths    []string
	LogUnauthorized bool
	Logger          logger.Logger
}

// APIKeyMiddleware requires callers to present apiKey in the X-API-Key header
// or the api_key query parameter. An empty apiKey disables the check.
func APIKeyMiddleware(apiKey string, log logger.Logger) func(next http.Handler) http.Handler {
	return APIKeyMiddlewareWithOptions(APIKeyOptions{
		APIKey:          apiKey,
		LogUnauthorized: true,
		Logger:          log,
	})
}

// APIKeyMiddlewareWithOptions is APIKeyMiddleware with path exclusions.
func APIKeyMiddlewareWithOptions(opts APIKeyOptions) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if opts.APIKey == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(opts.ExcludePaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			requestKey := r.Header.Get(apiKeyHeader)
			if requestKey == "" {
				requestKey = r.URL.Query().Get(apiKeyParam)
			}

			if subtle.ConstantTimeCompare([]byte(requestKey), []byte(opts.APIKey)) != 1 {
				if opts.LogUnauthorized && opts.Logger != nil {
					opts.Logger.Warn().
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Str("remote_addr", r.RemoteAddr).
						Msg("Unauthorized API access attempt")
				}

				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TenantMiddleware attaches the caller's tenant to the request context.
//
// A verified client certificate always wins. When trustedHeader is set and no
// certificate identifies the caller, the header value is taken as-is; it is
// validated later, together with the query, so a malformed value surfaces as
// an invalid tenant rather than a missing one. Requests without any identity
// pass through untouched and the handler decides how to reject them.
func TenantMiddleware(trustedHeader string, log logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, source := identify(r, trustedHeader)
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}

			log.Debug().
				Str("tenant", info.TenantSlug).
				Str("identity_source", source).
				Msg("Resolved caller tenant")

			next.ServeHTTP(w, r.WithContext(tenant.WithContext(r.Context(), info)))
		})
	}
}

func identify(r *http.Request, trustedHeader string) (*tenant.Info, string) {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		if info, err := tenant.FromTLSState(r.TLS); err == nil {
			return info, "mtls"
		}
	}

	if trustedHeader == "" {
		return nil, ""
	}

	if v := r.Header.Get(trustedHeader); v != "" {
		return &tenant.Info{TenantSlug: v}, "header"
	}

	return nil, ""
}
