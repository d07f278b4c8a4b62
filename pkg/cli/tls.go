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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

func certPath(dir, file string) string {
	if file == "" || dir == "" || filepath.IsAbs(file) {
		return file
	}

	return filepath.Join(dir, file)
}

// clientTLSConfig loads the mTLS identity the server derives the tenant from.
func clientTLSConfig(cfg *CmdConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath(cfg.CertDir, cfg.CertFile), certPath(cfg.CertDir, cfg.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   cfg.ServerName,
		MinVersion:   tls.VersionTLS13,
	}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(certPath(cfg.CertDir, cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errCAParsing
		}

		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
