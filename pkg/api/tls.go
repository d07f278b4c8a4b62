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
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/signalquery/pkg/models"
)

var (
	errFailedToLoadServerCert = errors.New("failed to load server certificate")
	errFailedToReadClientCA   = errors.New("failed to read client CA certificate")
	errFailedToAppendClientCA = errors.New("failed to append client CA certificate")
)

// ServerTLSConfig builds the listener TLS config. It returns nil when sec does
// not ask for mTLS, in which case the API serves plain HTTP and tenants must
// come from a trusted header.
func ServerTLSConfig(sec *models.SecurityConfig) (*tls.Config, error) {
	if !sec.MTLS() {
		return nil, nil
	}

	files := sec.TLS
	files.NormalizePaths(sec.CertDir)

	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToLoadServerCert, err)
	}

	caCert, err := os.ReadFile(files.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToReadClientCA, err)
	}

	clientCAs := x509.NewCertPool()
	if !clientCAs.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("%w: %s", errFailedToAppendClientCA, files.ClientCAFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    clientCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
