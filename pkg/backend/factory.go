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
	"errors"
	"fmt"

	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
)

var (
	errUnknownKind   = errors.New("unknown backend kind")
	errDuplicateKind = errors.New("backend kind configured twice")
)

// New builds the adapter for one backend definition.
func New(cfg models.BackendConfig, tenantLabel string, log logger.Logger) (Adapter, error) {
	httpCfg := HTTPConfig{
		Address:     cfg.Address,
		Headers:     cfg.Headers,
		TenantLabel: tenantLabel,
		Logger:      log,
	}

	switch cfg.Kind {
	case models.SourceMetrics:
		return NewMetricsAdapter(httpCfg)
	case models.SourceLogs:
		return NewLogsAdapter(httpCfg)
	case models.SourceTraces:
		return NewTracesAdapter(httpCfg)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownKind, cfg.Kind)
	}
}

// FromConfig builds one adapter per enabled backend. Each kind may appear
// once.
func FromConfig(cfgs []models.BackendConfig, tenantLabel string, log logger.Logger) ([]Adapter, error) {
	seen := make(map[models.SourceKind]bool, len(cfgs))
	adapters := make([]Adapter, 0, len(cfgs))

	for i := range cfgs {
		cfg := cfgs[i]
		if cfg.Disable {
			continue
		}

		if seen[cfg.Kind] {
			return nil, fmt.Errorf("%w: %s", errDuplicateKind, cfg.Kind)
		}

		seen[cfg.Kind] = true

		adapter, err := New(cfg, tenantLabel, log)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", cfg.Kind, err)
		}

		adapters = append(adapters, adapter)
	}

	return adapters, nil
}
