package ca

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
)

// IssuedCertificate is the material handed back by a successful issuance.
// Leaf is parsed from CertPEM so callers do not have to parse it again.
type IssuedCertificate struct {
	CertPEM  []byte
	KeyPEM   []byte
	ChainPEM []byte
	Leaf     x509.Certificate
}

// CertAuthority issues certificates and reports whether the authority is
// reachable. RequestCertificate performs a single issuance attempt; the retry
// policy belongs to the caller.
type CertAuthority interface {
	RequestCertificate(ctx context.Context, domains []string, validity time.Duration) (IssuedCertificate, error)
	Probe(ctx context.Context) model.CAHealth
}
