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
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/signalquery/pkg/logger"
)

func TestCreateComponentLogger(t *testing.T) {
	l, err := CreateComponentLogger(context.Background(), "search", &logger.Config{Level: "warn", Output: "stderr"})
	require.NoError(t, err)

	l.SetDebug(true)
	assert.NotNil(t, l.Debug())
}

func TestCreateLoggerBadLevel(t *testing.T) {
	_, err := CreateLogger(context.Background(), &logger.Config{Level: "loud"})
	assert.Error(t, err)
}

func TestInitializeLoggerSetsGlobal(t *testing.T) {
	require.NoError(t, InitializeLogger(context.Background(), &logger.Config{Level: "error"}))
	assert.Equal(t, zerolog.ErrorLevel, logger.GetLogger().GetLevel())
	assert.NoError(t, ShutdownLogger())
}
