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
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/carverauto/signalquery/pkg/api"
	"github.com/carverauto/signalquery/pkg/models"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPink       = "#FF79C6"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
	draculaComment    = "#6272A4"
)

const (
	appPadding     = 2
	maxSummaryLen  = 96
	itemTimeFormat = "2006-01-02 15:04:05.000"
)

func newStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPink)).
			Bold(true),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaYellow)),
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		warn: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaOrange)),
		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPurple)).
			Bold(true).
			Padding(0, 1),
		cell: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaForeground)).
			Padding(0, 1),
		app: lipgloss.NewStyle().
			Padding(1, appPadding).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color(draculaCyan)).
			Foreground(lipgloss.Color(draculaForeground)),
	}
}

// RenderResponse formats a unified response: a summary line, one row per
// source, then the merged items newest first.
func RenderResponse(resp *models.UnifiedResponse, status int) string {
	st := newStyles()

	var b strings.Builder

	b.WriteString(st.title.Render("signalquery") + " " + renderSummary(resp, status, &st) + "\n\n")
	b.WriteString(renderSourceTable(resp, &st) + "\n")

	if len(resp.Items) == 0 {
		b.WriteString(st.muted.Render("no items"))

		return b.String()
	}

	b.WriteString(renderItemTable(resp.Items, &st))

	if resp.Truncated {
		b.WriteString("\n" + st.warn.Render(fmt.Sprintf("truncated to %d items", resp.Limit)))
	}

	return b.String()
}

func renderSummary(resp *models.UnifiedResponse, status int, st *styles) string {
	parts := []string{
		st.label.Render("tenant") + " " + resp.Tenant,
		st.label.Render("items") + " " + strconv.Itoa(len(resp.Items)),
		st.label.Render("took") + " " + (time.Duration(resp.DurationMs) * time.Millisecond).String(),
	}

	if !resp.Range.Start.IsZero() {
		parts = append(parts, st.label.Render("range")+" "+
			resp.Range.Start.Format(time.RFC3339)+" → "+resp.Range.End.Format(time.RFC3339))
	}

	switch {
	case resp.AllSourcesFailed:
		parts = append(parts, st.error.Render("all sources failed"))
	case status == http.StatusMultiStatus:
		parts = append(parts, st.warn.Render("partial results"))
	}

	if resp.RequestID != "" {
		parts = append(parts, st.muted.Render(resp.RequestID))
	}

	return strings.Join(parts, "  ")
}

func renderSourceTable(resp *models.UnifiedResponse, st *styles) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPurple))).
		Headers("SOURCE", "STATUS", "ITEMS", "DROPPED", "TOOK", "DETAIL").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.header
			}

			return st.cell
		})

	for _, kind := range models.AllSourceKinds() {
		res, ok := resp.Sources[kind]
		if !ok {
			continue
		}

		detail := res.Message
		if res.ErrorKind != "" {
			detail = string(res.ErrorKind) + ": " + res.Message
		}

		t.Row(
			string(kind),
			statusStyle(res.Status, st).Render(string(res.Status)),
			strconv.Itoa(res.Items),
			strconv.Itoa(res.Dropped),
			(time.Duration(res.DurationMs) * time.Millisecond).String(),
			truncate(detail, maxSummaryLen),
		)
	}

	return t.Render()
}

func renderItemTable(items []models.ResultItem, st *styles) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.muted).
		Headers("TIME", "SOURCE", "ID", "SUMMARY").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.header
			}

			return st.cell
		})

	for i := range items {
		item := &items[i]

		t.Row(
			item.Timestamp.UTC().Format(itemTimeFormat),
			string(item.Source),
			truncate(item.ID, maxSummaryLen/2),
			truncate(Summarize(item), maxSummaryLen),
		)
	}

	return t.Render()
}

func statusStyle(status models.SourceStatus, st *styles) lipgloss.Style {
	switch status {
	case models.StatusOK:
		return st.ok
	case models.StatusSkipped:
		return st.muted
	case models.StatusTimeout:
		return st.warn
	default:
		return st.error
	}
}

// Summarize returns a one-line description of an item's payload.
func Summarize(item *models.ResultItem) string {
	p := item.Payload

	switch item.Source {
	case models.SourceLogs:
		if line, ok := p["line"].(string); ok {
			return strings.Join(strings.Fields(line), " ")
		}
	case models.SourceMetrics:
		if name, ok := p["metric"].(string); ok {
			if v, ok := p["value"]; ok {
				return fmt.Sprintf("%s = %v", name, v)
			}

			return fmt.Sprintf("%s count=%v sum=%v", name, p["count"], p["sum"])
		}
	case models.SourceTraces:
		return summarizeTrace(p)
	}

	return item.ID
}

func summarizeTrace(p map[string]any) string {
	var parts []string

	if svc, ok := p["root_service"].(string); ok && svc != "" {
		parts = append(parts, svc)
	}

	if name, ok := p["root_span"].(string); ok && name != "" {
		parts = append(parts, name)
	}

	if d, ok := p["duration_ms"].(float64); ok {
		parts = append(parts, strconv.FormatFloat(d, 'f', -1, 64)+"ms")
	}

	if n, ok := p["error_count"].(float64); ok && n > 0 {
		parts = append(parts, fmt.Sprintf("%d error(s)", int(n)))
	}

	return strings.Join(parts, " ")
}

// RenderSources formats the backend listing.
func RenderSources(resp *api.SourcesResponse) string {
	st := newStyles()

	rows := append([]api.SourceInfo(nil), resp.Sources...)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Kind.Priority() < rows[j].Kind.Priority()
	})

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPurple))).
		Headers("SOURCE", "DIALECT", "TIMEOUT").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.header
			}

			return st.cell
		})

	for _, s := range rows {
		t.Row(string(s.Kind), string(s.Dialect), (time.Duration(s.TimeoutMs) * time.Millisecond).String())
	}

	return t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n-1]) + "…"
}
