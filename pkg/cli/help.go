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
	"io"
)

// ShowHelp writes the usage message to w.
func ShowHelp(w io.Writer) {
	fmt.Fprint(w, `signalquery-cli: query metrics, logs and traces through signalquery
Usage:
  signalquery-cli [options]              launches the interactive TUI
  signalquery-cli search [options] [query]
  signalquery-cli sources [options]

Commands:
  (default)   Interactive search
  search      Run one search and print the merged result
  sources     List the backends the server fans out to

Connection options (all commands):
  -server string         signalquery base URL (default $SIGNALQUERY_SERVER or http://localhost:8090)
  -api-key string        API key (default $SIGNALQUERY_API_KEY)
  -tenant string         tenant to send in the trusted tenant header
  -tenant-header string  header name for -tenant (default "X-Tenant-ID")
  -cert-dir string       directory for relative certificate paths
  -cert, -key, -ca       client certificate, key and CA for mTLS
  -server-name string    expected server certificate name
  -timeout duration      request timeout (default 30s)

Options for search:
  -q string              query text (or pass it as trailing arguments)
  -since duration        search the last duration (default: server default)
  -start, -end string    RFC3339 range bounds
  -limit int             maximum number of items
  -sources string        comma-separated subset: metrics,logs,traces
  -trace-id string       fetch one trace by id
  -override kind=expr    native expression for one backend (repeatable)
  -json                  print the raw JSON response

Examples:
  signalquery-cli search -tenant acme -since 15m error
  signalquery-cli search -sources logs -override 'logs={app="api"} |= "timeout"'
  signalquery-cli search -trace-id 4bf92f3577b34da6a3ce929d0e0e4736
  signalquery-cli sources -server https://signalquery:8090 -cert-dir /etc/signalquery/certs -cert cli.pem -key cli-key.pem -ca root.pem
`)
}
