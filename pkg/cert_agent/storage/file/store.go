package file

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/storage"
	"github.com/appleparan/dimension-bridge/pkg/pkix"
)

const (
	metadataDir     = ".metadata"
	statusFile      = "status.json"
	lastRenewalFile = "last_renewal.json"
	lockFile        = "agent.lock"
	chainFile       = "ca.crt"
)

type _Store struct {
	dir  string
	lock *flock.Flock
}

// NewStore opens a certificate directory, creating it and its metadata
// directory if needed. Directories are owner-only; the agent is the sole
// writer of everything below dir.
func NewStore(dir string) (*_Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create certificate directory: %v%w", err, model.ErrStorageIO)
	}
	if err := os.MkdirAll(filepath.Join(dir, metadataDir), 0700); err != nil {
		return nil, fmt.Errorf("create metadata directory: %v%w", err, model.ErrStorageIO)
	}

	return &_Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, metadataDir, lockFile)),
	}, nil
}

// AcquireLock takes the exclusive agent lock of the certificate directory so
// that a second agent pointed at the same directory refuses to start.
func (s *_Store) AcquireLock() error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire agent lock: %v%w", err, model.ErrStorageIO)
	}
	if !locked {
		return fmt.Errorf("certificate directory %s is held by another agent%w", s.dir, model.ErrStorageIO)
	}
	return nil
}

func (s *_Store) ReleaseLock() error {
	return s.lock.Unlock()
}

func (s *_Store) Load(ctx context.Context, name string) (model.CertificateRecord, error) {
	certPEM, err := os.ReadFile(s.certPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return model.CertificateRecord{}, fmt.Errorf("%s: %w", name, model.ErrCertNotFound)
	}
	if err != nil {
		return model.CertificateRecord{}, fmt.Errorf("read certificate of %s: %v%w", name, err, model.ErrStorageIO)
	}
	keyPEM, err := os.ReadFile(s.keyPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return model.CertificateRecord{}, fmt.Errorf("%s: %w", name, model.ErrCertNotFound)
	}
	if err != nil {
		return model.CertificateRecord{}, fmt.Errorf("read key of %s: %v%w", name, err, model.ErrStorageIO)
	}

	certs, err := pkix.ParseCertificate(certPEM)
	if err != nil {
		logrus.Warnf("unusable certificate of %s, treating as absent: %v", name, err)
		return model.CertificateRecord{}, fmt.Errorf("%s: %w", name, model.ErrCertNotFound)
	}
	key, err := pkix.ParsePrivateKey(keyPEM)
	if err != nil {
		logrus.Warnf("unusable key of %s, treating as absent: %v", name, err)
		return model.CertificateRecord{}, fmt.Errorf("%s: %w", name, model.ErrCertNotFound)
	}
	if !pkix.IsPublicKeyOf(certs[0], key) {
		logrus.Warnf("certificate and key of %s do not match, treating as absent", name)
		return model.CertificateRecord{}, fmt.Errorf("%s: %w", name, model.ErrCertNotFound)
	}

	leaf := certs[0]
	record := model.CertificateRecord{
		Name:        name,
		Domains:     sansOf(leaf),
		CertPath:    s.certPath(name),
		KeyPath:     s.keyPath(name),
		CAChainPath: s.chainPath(),
		NotBefore:   leaf.NotBefore.Unix(),
		NotAfter:    leaf.NotAfter.Unix(),
		Fingerprint: pkix.Fingerprint(leaf),
		Status:      model.CertStatusUnknown,
	}

	records, err := s.readRecords()
	if err != nil {
		return model.CertificateRecord{}, err
	}
	if saved, ok := records[name]; ok {
		record.RecordedFingerprint = saved.Fingerprint
		record.Status = saved.Status
		record.LastRenewalAt = saved.LastRenewalAt
		record.LastError = saved.LastError
	}

	return record, nil
}

func (s *_Store) Stage(ctx context.Context, name string, certPEM, keyPEM, chainPEM []byte) (storage.StagedCert, error) {
	certs, err := pkix.ParseCertificate(certPEM)
	if err != nil {
		return storage.StagedCert{}, fmt.Errorf("staged certificate of %s: %s%w", name, err.Error(), model.ErrInvalidParameter)
	}
	key, err := pkix.ParsePrivateKey(keyPEM)
	if err != nil {
		return storage.StagedCert{}, fmt.Errorf("staged key of %s: %s%w", name, err.Error(), model.ErrInvalidParameter)
	}
	if !pkix.IsPublicKeyOf(certs[0], key) {
		return storage.StagedCert{}, fmt.Errorf("staged certificate and key of %s do not match%w", name, model.ErrInvalidParameter)
	}

	leaf := certs[0]
	staged := storage.StagedCert{
		Name:        name,
		CertPath:    s.certPath(name) + ".tmp",
		KeyPath:     s.keyPath(name) + ".tmp",
		Fingerprint: pkix.Fingerprint(leaf),
		NotBefore:   leaf.NotBefore.Unix(),
		NotAfter:    leaf.NotAfter.Unix(),
		Domains:     sansOf(leaf),
	}
	if len(chainPEM) > 0 {
		staged.ChainPath = s.chainPath() + ".tmp"
	}

	if err := writeFileSync(staged.KeyPath, keyPEM, 0600); err != nil {
		_ = s.Discard(ctx, staged)
		return storage.StagedCert{}, fmt.Errorf("stage key of %s: %v%w", name, err, model.ErrStorageIO)
	}
	if err := writeFileSync(staged.CertPath, certPEM, 0644); err != nil {
		_ = s.Discard(ctx, staged)
		return storage.StagedCert{}, fmt.Errorf("stage certificate of %s: %v%w", name, err, model.ErrStorageIO)
	}
	if staged.ChainPath != "" {
		if err := writeFileSync(staged.ChainPath, chainPEM, 0644); err != nil {
			_ = s.Discard(ctx, staged)
			return storage.StagedCert{}, fmt.Errorf("stage chain of %s: %v%w", name, err, model.ErrStorageIO)
		}
	}

	return staged, nil
}

func (s *_Store) Commit(ctx context.Context, staged storage.StagedCert) error {
	name := staged.Name

	_, certStatErr := os.Stat(s.certPath(name))
	_, keyStatErr := os.Stat(s.keyPath(name))
	if certStatErr == nil && keyStatErr == nil {
		if err := copyFile(s.keyPath(name), s.keyPath(name)+".old", 0600); err != nil {
			return fmt.Errorf("back up key of %s: %v%w", name, err, model.ErrStorageIO)
		}
		if err := copyFile(s.certPath(name), s.certPath(name)+".old", 0644); err != nil {
			return fmt.Errorf("back up certificate of %s: %v%w", name, err, model.ErrStorageIO)
		}
	}

	// Key first. A reader reloading between the two renames sees the old
	// certificate, which it has already loaded with the old key.
	if err := os.Rename(staged.KeyPath, s.keyPath(name)); err != nil {
		return fmt.Errorf("activate key of %s: %v%w", name, err, model.ErrStorageIO)
	}
	if err := os.Rename(staged.CertPath, s.certPath(name)); err != nil {
		return fmt.Errorf("activate certificate of %s: %v%w", name, err, model.ErrStorageIO)
	}
	if staged.ChainPath != "" {
		if err := os.Rename(staged.ChainPath, s.chainPath()); err != nil {
			return fmt.Errorf("activate chain of %s: %v%w", name, err, model.ErrStorageIO)
		}
	}

	return nil
}

func (s *_Store) Rollback(ctx context.Context, name string) error {
	oldKey := s.keyPath(name) + ".old"
	oldCert := s.certPath(name) + ".old"

	if _, err := os.Stat(oldKey); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, model.ErrBackupNotFound)
	}
	if _, err := os.Stat(oldCert); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, model.ErrBackupNotFound)
	}

	// Same discipline as Commit: the key lands before the certificate.
	// Restoring consumes the single backup generation.
	if err := os.Rename(oldKey, s.keyPath(name)); err != nil {
		return fmt.Errorf("restore key of %s: %v%w", name, err, model.ErrRollbackError)
	}
	if err := os.Rename(oldCert, s.certPath(name)); err != nil {
		return fmt.Errorf("restore certificate of %s: %v%w", name, err, model.ErrRollbackError)
	}

	return nil
}

func (s *_Store) Discard(ctx context.Context, staged storage.StagedCert) error {
	var firstErr error
	for _, path := range []string{staged.KeyPath, staged.CertPath, staged.ChainPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("discard %s: %v%w", path, err, model.ErrStorageIO)
		}
	}
	return firstErr
}

func (s *_Store) ReadLiveCertificate(ctx context.Context, name string) ([]byte, error) {
	certPEM, err := os.ReadFile(s.certPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, model.ErrCertNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read certificate of %s: %v%w", name, err, model.ErrStorageIO)
	}
	return certPEM, nil
}

func (s *_Store) PutRecord(ctx context.Context, record model.CertificateRecord) error {
	records, err := s.readRecords()
	if err != nil {
		return err
	}
	records[record.Name] = record
	if err := s.writeJSONFile(s.statusPath(), records); err != nil {
		return fmt.Errorf("persist record of %s: %v%w", record.Name, err, model.ErrStorageIO)
	}
	return nil
}

func (s *_Store) RecordAttempt(ctx context.Context, attempt model.RenewalAttempt) error {
	attempts, err := s.readAttempts()
	if err != nil {
		return err
	}
	attempts[attempt.Name] = attempt
	if err := s.writeJSONFile(s.lastRenewalPath(), attempts); err != nil {
		return fmt.Errorf("persist attempt of %s: %v%w", attempt.Name, err, model.ErrStorageIO)
	}
	return nil
}

func (s *_Store) certPath(name string) string {
	return filepath.Join(s.dir, name+".crt")
}

func (s *_Store) keyPath(name string) string {
	return filepath.Join(s.dir, name+".key")
}

func (s *_Store) chainPath() string {
	return filepath.Join(s.dir, chainFile)
}

func (s *_Store) statusPath() string {
	return filepath.Join(s.dir, metadataDir, statusFile)
}

func (s *_Store) lastRenewalPath() string {
	return filepath.Join(s.dir, metadataDir, lastRenewalFile)
}

func (s *_Store) readRecords() (map[string]model.CertificateRecord, error) {
	records := make(map[string]model.CertificateRecord)
	if err := s.readJSONFile(s.statusPath(), &records); err != nil {
		return nil, fmt.Errorf("read status metadata: %v%w", err, model.ErrStorageIO)
	}
	return records, nil
}

func (s *_Store) readAttempts() (map[string]model.RenewalAttempt, error) {
	attempts := make(map[string]model.RenewalAttempt)
	if err := s.readJSONFile(s.lastRenewalPath(), &attempts); err != nil {
		return nil, fmt.Errorf("read renewal metadata: %v%w", err, model.ErrStorageIO)
	}
	return attempts, nil
}

// readJSONFile fills v from path. A missing or corrupt file yields the zero
// value; the agent re-issues and rewrites rather than refusing to run.
func (s *_Store) readJSONFile(path string, v interface{}) error {
	jsonBytes, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(jsonBytes, v); err != nil {
		logrus.Warnf("corrupt metadata file %s, ignoring: %v", path, err)
	}
	return nil
}

func (s *_Store) writeJSONFile(path string, v interface{}) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := writeFileSync(tmpPath, jsonBytes, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func writeFileSync(path string, data []byte, perm os.FileMode) error {
	_ = os.Remove(path)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeFileSync(dst, data, perm)
}

func sansOf(cert x509.Certificate) []string {
	sans := append([]string{}, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		sans = append(sans, ip.String())
	}
	return sans
}
