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
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/carverauto/signalquery/pkg/models"
)

// CmdConfig holds parsed command-line configuration.
type CmdConfig struct {
	Help         bool
	Version      bool
	SubCmd       string
	Server       string
	APIKey       string
	Tenant       string
	TenantHeader string
	Query        string
	Since        time.Duration
	Start        string
	End          string
	Limit        int
	Sources      []models.SourceKind
	TraceID      string
	Overrides    map[models.SourceKind]string
	JSON         bool
	Timeout      time.Duration
	CertDir      string
	CertFile     string
	KeyFile      string
	CAFile       string
	ServerName   string
	Args         []string
}

// SubcommandHandler defines the interface for parsing subcommand flags.
type SubcommandHandler interface {
	Parse(args []string, cfg *CmdConfig) error
}

// styles is the palette shared by the renderer and the TUI.
type styles struct {
	title, label, muted, ok, warn, error, header, cell, app lipgloss.Style
}
