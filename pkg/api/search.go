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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/carverauto/signalquery/pkg/models"
	"github.com/carverauto/signalquery/pkg/query"
	"github.com/carverauto/signalquery/pkg/search"
	"github.com/carverauto/signalquery/pkg/tenant"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// handleSearch runs one unified search for the authenticated tenant.
//
// Status codes: 200 when every requested source answered, 207 when at least
// one source failed or timed out, 400 for a malformed body or a query that
// cannot be safely scoped, 401 without a tenant identity.
func (s *APIServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	info, err := tenant.FromContext(r.Context())
	if err != nil {
		writeError(w, "tenant identity required", http.StatusUnauthorized)
		return
	}

	var req models.SearchRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := validate.Struct(&req); err != nil {
		writeError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	req.Tenant = info.TenantSlug

	resp, err := s.searcher.Search(r.Context(), &req)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("tenant", req.Tenant).Msg("Search failed")
		}

		writeError(w, err.Error(), status)

		return
	}

	status := http.StatusOK
	if resp.Degraded() {
		status = http.StatusMultiStatus
	}

	s.writeJSON(w, status, resp)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, query.ErrInvalidTenant),
		errors.Is(err, query.ErrInvalidQuerySyntax),
		errors.Is(err, search.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("Invalid request: %v", err)
	}

	fe := verrs[0]

	return fmt.Sprintf("Invalid request: field %s failed %q validation", fe.Namespace(), fe.Tag())
}
