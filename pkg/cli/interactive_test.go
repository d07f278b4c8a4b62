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

package cli

import (
	"context"
	"errors"
	"net/http"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_SubmitRunsSearch(t *testing.T) {
	var gotQuery string

	search := func(_ context.Context, q string) (*SearchResult, error) {
		gotQuery = q

		return &SearchResult{Status: http.StatusOK, Response: sampleResponse()}, nil
	}

	m := initialModel(context.Background(), search, "  error ")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.loading)

	// A second Enter while a search is in flight is ignored.
	_, again := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, again)

	res, err := m.search(context.Background(), "error")
	_, _ = m.Update(searchDoneMsg{result: res, err: err})

	assert.Equal(t, "error", gotQuery)
	assert.False(t, m.loading)
	require.NotNil(t, m.result)
	assert.Contains(t, m.View(), "req-42")
}

func TestModel_EmptyQuery(t *testing.T) {
	m := initialModel(context.Background(), nil, "")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, cmd)
	assert.ErrorIs(t, m.err, errEmptyQuery)
	assert.Contains(t, m.View(), "query cannot be empty")
}

func TestModel_SearchError(t *testing.T) {
	m := initialModel(context.Background(), nil, "error")

	_, _ = m.Update(searchDoneMsg{err: errors.New("connection refused")})

	assert.Contains(t, m.View(), "connection refused")
}

func TestModel_Quit(t *testing.T) {
	m := initialModel(context.Background(), nil, "")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
