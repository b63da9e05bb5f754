package storage

import (
	"context"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
)

// StagedCert is freshly issued material written next to its final destination,
// pending an atomic commit. The fingerprint and validity window are parsed
// from the staged leaf, not taken from the caller.
type StagedCert struct {
	Name        string
	CertPath    string // Temporary path of the staged certificate.
	KeyPath     string // Temporary path of the staged private key.
	ChainPath   string // Temporary path of the staged CA chain.
	Fingerprint string // Fingerprint of the staged leaf certificate.
	NotBefore   int64  // Unix Time (in second).
	NotAfter    int64  // Unix Time (in second).
	Domains     []string
}

type CertStore interface {
	// Load parses the live certificate material of a domain set and merges the
	// recorded renewal metadata. A missing or unusable pair yields
	// model.ErrCertNotFound, which signals first issuance rather than failure.
	Load(ctx context.Context, name string) (model.CertificateRecord, error)

	// Stage writes new material to temporary files on the same filesystem as
	// the live paths. Nothing visible to readers changes.
	Stage(ctx context.Context, name string, certPEM, keyPEM, chainPEM []byte) (StagedCert, error)

	// Commit backs the live pair up to .old siblings, then renames the staged
	// files over the live paths. The key is renamed before the certificate so
	// a reader reloading mid-commit never sees a certificate without its key.
	Commit(ctx context.Context, staged StagedCert) error

	// Rollback restores the .old backups over the live paths, reversing
	// Commit. model.ErrBackupNotFound if no backup generation exists.
	Rollback(ctx context.Context, name string) error

	// Discard removes staged files that will not be committed.
	Discard(ctx context.Context, staged StagedCert) error

	// ReadLiveCertificate returns the raw PEM bytes currently live on disk.
	ReadLiveCertificate(ctx context.Context, name string) ([]byte, error)

	PutRecord(ctx context.Context, record model.CertificateRecord) error
	RecordAttempt(ctx context.Context, attempt model.RenewalAttempt) error
}
