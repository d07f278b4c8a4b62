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
package lifecycle

import (
	"context"
	"fmt"

	"github.com/carverauto/signalquery/pkg/logger"
)

// InitializeLogger installs the process-wide logger. A nil config falls back
// to logger.DefaultConfig.
func InitializeLogger(ctx context.Context, config *logger.Config) error {
	if err := logger.Init(ctx, config); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// CreateLogger returns an injectable logger built from config.
func CreateLogger(ctx context.Context, config *logger.Config) (logger.Logger, error) {
	zl, err := logger.Build(ctx, config)
	if err != nil {
		return nil, err
	}

	return logger.New(zl), nil
}

// CreateComponentLogger returns a logger that tags every line with component.
func CreateComponentLogger(ctx context.Context, component string, config *logger.Config) (logger.Logger, error) {
	zl, err := logger.Build(ctx, config)
	if err != nil {
		return nil, err
	}

	return logger.New(zl.With().Str("component", component).Logger()), nil
}

// ShutdownLogger flushes any pending OTLP exports.
func ShutdownLogger() error {
	return logger.Shutdown()
}
