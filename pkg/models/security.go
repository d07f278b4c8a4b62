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

package models

import "path/filepath"

// SecurityMode defines the type of security to use.
type SecurityMode string

const (
	SecurityModeNone SecurityMode = "none"
	SecurityModeMTLS SecurityMode = "mtls"
)

type TLSConfig struct {
	CertFile     string `json:"cert_file"`
	KeyFile      string `json:"key_file"`
	CAFile       string `json:"ca_file"`
	ClientCAFile string `json:"client_ca_file"`
}

// SecurityConfig holds the TLS material for the API listener and the NATS
// client. When Mode is mtls the API derives the caller tenant from the
// client certificate.
type SecurityConfig struct {
	Mode       SecurityMode `json:"mode"`
	CertDir    string       `json:"cert_dir"`
	ServerName string       `json:"server_name,omitempty"`
	TLS        TLSConfig    `json:"tls"`
}

// MTLS reports whether mutual TLS is configured.
func (s *SecurityConfig) MTLS() bool {
	return s != nil && s.Mode == SecurityModeMTLS
}

// NormalizePaths resolves relative TLS file paths against CertDir.
func (t *TLSConfig) NormalizePaths(certDir string) {
	t.CertFile = joinCertPath(certDir, t.CertFile)
	t.KeyFile = joinCertPath(certDir, t.KeyFile)
	t.CAFile = joinCertPath(certDir, t.CAFile)

	if t.ClientCAFile == "" {
		t.ClientCAFile = t.CAFile // Fallback to CAFile if unset
	} else {
		t.ClientCAFile = joinCertPath(certDir, t.ClientCAFile)
	}
}

func joinCertPath(dir, file string) string {
	if file == "" || filepath.IsAbs(file) {
		return file
	}

	return filepath.Join(dir, file)
}
