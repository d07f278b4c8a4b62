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
// Package tenant extracts and validates the caller tenant identity.
//
// Tenant identity comes from mTLS certificate Common Names (CN) issued by the
// platform CA, in the form <component_id>.<partition_id>.<tenant_slug>.serviceradar
//
// Example: ui-gateway.partition-1.acme-corp.serviceradar
//
// The slug is re-validated with ValidateSlug wherever it enters the system,
// because it ends up inside backend label matchers.
package tenant

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

type ctxKey string

const tenantCtxKey ctxKey = "tenant"

const (
	// CNSuffix is the expected suffix for platform certificate CNs.
	CNSuffix = "serviceradar"

	// CNParts is the expected number of dot-separated parts in a valid CN.
	CNParts = 4
)

var (
	ErrInvalidCNFormat   = errors.New("invalid certificate CN format")
	ErrNoPeerCert        = errors.New("no peer certificate in context")
	ErrNoPeerInfo        = errors.New("no peer info in context")
	ErrNoTLSInfo         = errors.New("no TLS info in peer credentials")
	ErrNoTenantInContext = errors.New("no tenant info in context")
	errNoPEMBlock        = errors.New("no CERTIFICATE block found")
)

// WithContext returns a new context with the tenant info attached.
func WithContext(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, tenantCtxKey, info)
}

// FromContext extracts tenant info from a context.
func FromContext(ctx context.Context) (*Info, error) {
	info, ok := ctx.Value(tenantCtxKey).(*Info)
	if !ok || info == nil {
		return nil, ErrNoTenantInContext
	}

	return info, nil
}

// SlugFromContext returns the tenant slug, or "" when none is attached.
func SlugFromContext(ctx context.Context) string {
	info, err := FromContext(ctx)
	if err != nil {
		return ""
	}

	return info.TenantSlug
}

// Info contains tenant identity information extracted from a certificate.
type Info struct {
	TenantSlug  string `json:"tenant_slug"`
	PartitionID string `json:"partition_id,omitempty"`
	ComponentID string `json:"component_id,omitempty"`
}

func (i Info) String() string {
	return fmt.Sprintf("%s/%s/%s", i.TenantSlug, i.PartitionID, i.ComponentID)
}

// CN returns the full certificate CN for this tenant info.
func (i Info) CN() string {
	return fmt.Sprintf("%s.%s.%s.%s", i.ComponentID, i.PartitionID, i.TenantSlug, CNSuffix)
}

// PrefixChannel returns a NATS subject prefixed with the tenant slug.
// Example: "events.search.executed" -> "acme-corp.events.search.executed"
func (i Info) PrefixChannel(channel string) string {
	return PrefixChannelWithSlug(i.TenantSlug, channel)
}

// PrefixChannelWithSlug prefixes channel with slug, or returns it unchanged
// when slug is empty.
func PrefixChannelWithSlug(slug, channel string) string {
	if slug == "" {
		return channel
	}

	return slug + "." + channel
}

// ParseCN extracts tenant information from a certificate Common Name.
// The tenant part must also pass ValidateSlug.
func ParseCN(cn string) (*Info, error) {
	parts := strings.Split(cn, ".")
	if len(parts) != CNParts {
		return nil, fmt.Errorf("%w: expected %d parts, got %d in %q",
			ErrInvalidCNFormat, CNParts, len(parts), cn)
	}

	if parts[3] != CNSuffix {
		return nil, fmt.Errorf("%w: expected suffix %q, got %q in %q",
			ErrInvalidCNFormat, CNSuffix, parts[3], cn)
	}

	if err := ValidateSlug(parts[2]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCNFormat, err)
	}

	return &Info{
		ComponentID: parts[0],
		PartitionID: parts[1],
		TenantSlug:  parts[2],
	}, nil
}

// FromCertificate extracts tenant information from an X.509 certificate.
func FromCertificate(cert *x509.Certificate) (*Info, error) {
	if cert == nil {
		return nil, ErrNoPeerCert
	}

	return ParseCN(cert.Subject.CommonName)
}

// FromTLSState extracts tenant information from the verified client
// certificate of a TLS connection.
func FromTLSState(state *tls.ConnectionState) (*Info, error) {
	if state == nil || len(state.PeerCertificates) == 0 {
		return nil, ErrNoPeerCert
	}

	return FromCertificate(state.PeerCertificates[0])
}

// FromGRPCContext extracts tenant information from a gRPC peer.
func FromGRPCContext(ctx context.Context) (*Info, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return nil, ErrNoPeerInfo
	}

	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return nil, ErrNoTLSInfo
	}

	return FromTLSState(&tlsInfo.State)
}

// FromPEM extracts tenant information from the first certificate in PEM data.
func FromPEM(data []byte) (*Info, error) {
	for {
		var block *pem.Block

		block, data = pem.Decode(data)
		if block == nil {
			return nil, errNoPEMBlock
		}

		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}

		return FromCertificate(cert)
	}
}
