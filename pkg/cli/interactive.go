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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const inputWidth = 60

// searchDoneMsg carries the outcome of one search back into the TUI loop.
type searchDoneMsg struct {
	result *SearchResult
	err    error
}

type searchFunc func(ctx context.Context, query string) (*SearchResult, error)

type model struct {
	ctx         context.Context
	input       textinput.Model
	spinner     spinner.Model
	search      searchFunc
	loading     bool
	result      *SearchResult
	err         error
	copyMessage string
	canCopy     bool
	styles      styles
}

// RunInteractive starts the TUI. Each submitted query is sent with the other
// options in cfg.
func RunInteractive(ctx context.Context, client *Client, cfg *CmdConfig) error {
	search := func(ctx context.Context, query string) (*SearchResult, error) {
		opts := *cfg
		opts.Query = query

		req, err := BuildRequest(&opts, time.Now())
		if err != nil {
			return nil, err
		}

		return client.Search(ctx, req)
	}

	m := initialModel(ctx, search, cfg.Query)

	_, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()

	return err
}

func initialModel(ctx context.Context, search searchFunc, query string) *model {
	ti := textinput.New()
	ti.Placeholder = "error, or a native expression like {app=\"api\"}"
	ti.Focus()
	ti.Width = inputWidth
	ti.SetValue(query)
	ti.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan))
	ti.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaForeground))
	ti.PlaceholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment))

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPink))

	canCopy := true
	if err := clipboard.WriteAll(""); err != nil {
		canCopy = false
	}

	return &model{
		ctx:     ctx,
		input:   ti,
		spinner: sp,
		search:  search,
		canCopy: canCopy,
		styles:  newStyles(),
	}
}

func (*model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case searchDoneMsg:
		m.loading = false
		m.result = msg.result
		m.err = msg.err
		m.copyMessage = ""

		return m, nil
	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}

		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)

	return m, cmd
}

func (m *model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	//nolint:exhaustive // Default case handles all unlisted keys
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyCtrlY:
		m.copyResult()

		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		return m, cmd
	}
}

func (m *model) submit() (tea.Model, tea.Cmd) {
	if m.loading {
		return m, nil
	}

	query := strings.TrimSpace(m.input.Value())
	if query == "" {
		m.err = errEmptyQuery

		return m, nil
	}

	m.loading = true
	m.err = nil

	ctx, search := m.ctx, m.search

	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		res, err := search(ctx, query)

		return searchDoneMsg{result: res, err: err}
	})
}

func (m *model) copyResult() {
	if m.result == nil || !m.canCopy {
		return
	}

	data, err := json.MarshalIndent(m.result.Response, "", "  ")
	if err == nil {
		err = clipboard.WriteAll(string(data))
	}

	if err != nil {
		m.copyMessage = "Failed to copy to clipboard"

		return
	}

	m.copyMessage = "Response JSON copied to clipboard!"
}

func (m *model) View() string {
	var content strings.Builder

	st := m.styles

	content.WriteString(st.title.Render("signalquery") + st.muted.Render(" unified search") + "\n\n")
	content.WriteString(st.label.Render("Query:") + "\n" + m.input.View() + "\n\n")

	switch {
	case m.loading:
		content.WriteString(m.spinner.View() + " searching…\n\n")
	case m.err != nil:
		content.WriteString(st.error.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n")
	case m.result != nil:
		content.WriteString(RenderResponse(m.result.Response, m.result.Status) + "\n\n")
	}

	if m.copyMessage != "" {
		msgStyle := st.ok
		if strings.HasPrefix(m.copyMessage, "Failed") {
			msgStyle = st.error
		}

		content.WriteString(msgStyle.Render(m.copyMessage) + "\n")
	}

	help := "Enter → search | Ctrl+C/Esc → quit"
	if m.canCopy && m.result != nil {
		help = "Enter → search | Ctrl+Y → copy JSON | Ctrl+C/Esc → quit"
	}

	content.WriteString(st.muted.Render(help))

	return st.app.Align(lipgloss.Left).Render(content.String())
}
