package lifecycle_test

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	gopkix "crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/suite"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/ca"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/config"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/health"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/lifecycle"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/storage"
	"github.com/appleparan/dimension-bridge/pkg/pkix"
	mock_ca "github.com/appleparan/dimension-bridge/test/mock/cert_agent/ca"
	mock_notification "github.com/appleparan/dimension-bridge/test/mock/cert_agent/notification"
	mock_reload "github.com/appleparan/dimension-bridge/test/mock/cert_agent/reload"
	mock_storage "github.com/appleparan/dimension-bridge/test/mock/cert_agent/storage"
)

type snapshotSource interface {
	health.Publisher
	Snapshot() (model.HealthSnapshot, bool)
}

type EngineTestSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	cfg       config.Config
	store     *mock_storage.MockCertStore
	authority *mock_ca.MockCertAuthority
	reloader  *mock_reload.MockExecutor
	notifier  *mock_notification.MockNotifier
	healthAgg snapshotSource
	engine    *lifecycle.Engine

	livePEM         []byte
	liveFingerprint string
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.store = mock_storage.NewMockCertStore(s.ctrl)
	s.authority = mock_ca.NewMockCertAuthority(s.ctrl)
	s.reloader = mock_reload.NewMockExecutor(s.ctrl)
	s.notifier = mock_notification.NewMockNotifier(s.ctrl)
	s.healthAgg = health.NewAggregator()
	s.livePEM, s.liveFingerprint = s.leafPEM(time.Now().Add(-time.Hour), time.Now().Add(15*24*time.Hour))

	s.cfg = config.Config{
		CertDir: s.T().TempDir(),
		DomainSets: []config.DomainSet{
			{Name: "api", Domains: []string{"api.internal"}},
		},
		Policy: config.RenewalPolicy{
			RenewalThresholdDays:  5,
			RequestedValidityDays: 15,
			CheckInterval:         86400,
		},
		Reload: config.ReloadSpec{Command: "true", ServiceName: "nginx", Timeout: 5},
	}

	var err error
	s.engine, err = lifecycle.NewEngineWithConfig(
		s.cfg,
		lifecycle.WithStore(s.store),
		lifecycle.WithCertAuthority(s.authority),
		lifecycle.WithReloader(s.reloader),
		lifecycle.WithNotifier(s.notifier),
		lifecycle.WithHealthPublisher(s.healthAgg),
		lifecycle.WithVersion("test"),
	)
	s.Require().NoError(err)
}

func (s *EngineTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *EngineTestSuite) leafPEM(notBefore, notAfter time.Time) ([]byte, string) {
	key, err := pkix.GenerateECKey()
	s.Require().NoError(err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      gopkix.Name{CommonName: "api.internal"},
		DNSNames:     []string{"api.internal"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	s.Require().NoError(err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return certPEM, pkix.FingerprintRaw(der)
}

func (s *EngineTestSuite) record(notAfterIn time.Duration) model.CertificateRecord {
	now := time.Now()
	return model.CertificateRecord{
		Name:                "api",
		Domains:             []string{"api.internal"},
		NotBefore:           now.Add(-24 * time.Hour).Unix(),
		NotAfter:            now.Add(notAfterIn).Unix(),
		Fingerprint:         "sha256:aaaa",
		RecordedFingerprint: "sha256:aaaa",
		Status:              model.CertStatusValid,
	}
}

func (s *EngineTestSuite) renewedRecord() model.CertificateRecord {
	now := time.Now()
	return model.CertificateRecord{
		Name:                "api",
		Domains:             []string{"api.internal"},
		NotBefore:           now.Unix(),
		NotAfter:            now.Add(15 * 24 * time.Hour).Unix(),
		Fingerprint:         s.liveFingerprint,
		RecordedFingerprint: s.liveFingerprint,
		Status:              model.CertStatusValid,
	}
}

func (s *EngineTestSuite) TestSkipWhenCertificateHealthy() {
	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true, CheckedAt: time.Now().Unix()}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(10*24*time.Hour), nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, record model.CertificateRecord) error {
				s.Assert().Equal(model.CertStatusValid, record.Status)
				return nil
			},
		),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, attempt model.RenewalAttempt) error {
				s.Assert().Equal(model.AttemptSkipped, attempt.Outcome)
				s.Assert().Equal("sha256:aaaa", attempt.NewFingerprint)
				return nil
			},
		),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Skipped: 1}, result)

	snapshot, ok := s.healthAgg.Snapshot()
	s.Require().True(ok)
	s.Equal(model.HealthStatusHealthy, snapshot.Status)
	s.Equal(model.CertificateCounts{Valid: 1}, snapshot.Counts)
	s.Equal("test", snapshot.Version)
	s.True(snapshot.CA.Reachable)
}

func (s *EngineTestSuite) TestRenewExpiringCertificate() {
	issued := ca.IssuedCertificate{CertPEM: s.livePEM, KeyPEM: []byte("key"), ChainPEM: []byte("chain")}
	staged := storage.StagedCert{Name: "api", Fingerprint: s.liveFingerprint}

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(2*24*time.Hour), nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), []string{"api.internal"}, 15*24*time.Hour).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", s.livePEM, []byte("key"), []byte("chain")).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		s.store.EXPECT().ReadLiveCertificate(gomock.Any(), "api").Return(s.livePEM, nil),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.renewedRecord(), nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, record model.CertificateRecord) error {
				s.Assert().Equal(model.CertStatusValid, record.Status)
				s.Assert().Empty(record.LastError)
				s.Assert().NotZero(record.LastRenewalAt)
				return nil
			},
		),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, attempt model.RenewalAttempt) error {
				s.Assert().Equal(model.AttemptRenewed, attempt.Outcome)
				s.Assert().Equal("sha256:aaaa", attempt.PreviousFingerprint)
				s.Assert().Equal(s.liveFingerprint, attempt.NewFingerprint)
				s.Assert().False(attempt.RolledBack)
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventRenewalSucceeded, event.Type)
				s.Assert().Equal("api", event.Name)
				s.Assert().Equal(s.liveFingerprint, event.Fingerprint)
				s.Assert().False(event.RolledBack)
				return nil
			},
		),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Renewed: 1}, result)

	snapshot, ok := s.healthAgg.Snapshot()
	s.Require().True(ok)
	s.Equal(model.HealthStatusHealthy, snapshot.Status)
	s.Equal(model.CertificateCounts{Valid: 1}, snapshot.Counts)
}

func (s *EngineTestSuite) TestRenewWhenNoCertificateOnDisk() {
	issued := ca.IssuedCertificate{CertPEM: s.livePEM, KeyPEM: []byte("key"), ChainPEM: []byte("chain")}
	staged := storage.StagedCert{Name: "api", Fingerprint: s.liveFingerprint}

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(model.CertificateRecord{}, model.ErrCertNotFound),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), []string{"api.internal"}, 15*24*time.Hour).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", gomock.Any(), gomock.Any(), gomock.Any()).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		s.store.EXPECT().ReadLiveCertificate(gomock.Any(), "api").Return(s.livePEM, nil),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.renewedRecord(), nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).Return(nil),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).Return(nil),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Renewed: 1}, result)
}

func (s *EngineTestSuite) TestFingerprintDriftTriggersRenewal() {
	drifted := s.record(10 * 24 * time.Hour)
	drifted.Fingerprint = "sha256:dddd"

	issued := ca.IssuedCertificate{CertPEM: s.livePEM, KeyPEM: []byte("key"), ChainPEM: []byte("chain")}
	staged := storage.StagedCert{Name: "api", Fingerprint: s.liveFingerprint}

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(drifted, nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", gomock.Any(), gomock.Any(), gomock.Any()).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		s.store.EXPECT().ReadLiveCertificate(gomock.Any(), "api").Return(s.livePEM, nil),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.renewedRecord(), nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).Return(nil),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).Return(nil),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Renewed: 1}, result)
}

func (s *EngineTestSuite) TestRetryAfterUnreachableCA() {
	issued := ca.IssuedCertificate{CertPEM: s.livePEM, KeyPEM: []byte("key"), ChainPEM: []byte("chain")}
	staged := storage.StagedCert{Name: "api", Fingerprint: s.liveFingerprint}

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(2*24*time.Hour), nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(ca.IssuedCertificate{}, fmt.Errorf("dial tcp: %w", model.ErrCAUnreachable)),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", gomock.Any(), gomock.Any(), gomock.Any()).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		s.store.EXPECT().ReadLiveCertificate(gomock.Any(), "api").Return(s.livePEM, nil),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.renewedRecord(), nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).Return(nil),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).Return(nil),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Renewed: 1}, result)
}

func (s *EngineTestSuite) TestAuthorizationFailureDoesNotRetry() {
	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(2*24*time.Hour), nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(ca.IssuedCertificate{}, model.ErrCAAuthorizationFailed).Times(1),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, record model.CertificateRecord) error {
				s.Assert().Equal(model.CertStatusRenewalFailed, record.Status)
				s.Assert().NotEmpty(record.LastError)
				return nil
			},
		),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, attempt model.RenewalAttempt) error {
				s.Assert().Equal(model.AttemptFailed, attempt.Outcome)
				s.Assert().NotEmpty(attempt.Error)
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventRenewalFailed, event.Type)
				s.Assert().False(event.RolledBack)
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventExpiringSoon, event.Type)
				return nil
			},
		),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Failed: 1}, result)

	snapshot, ok := s.healthAgg.Snapshot()
	s.Require().True(ok)
	s.Equal(model.HealthStatusUnhealthy, snapshot.Status)
	s.Equal(model.CertificateCounts{Failed: 1}, snapshot.Counts)
}

func (s *EngineTestSuite) TestReloadFailureRollsBack() {
	issued := ca.IssuedCertificate{CertPEM: s.livePEM, KeyPEM: []byte("key"), ChainPEM: []byte("chain")}
	staged := storage.StagedCert{Name: "api", Fingerprint: s.liveFingerprint}
	reloadErr := fmt.Errorf("nginx exited with status 1%w", model.ErrReloadNonZeroExit)

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(2*24*time.Hour), nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", gomock.Any(), gomock.Any(), gomock.Any()).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(reloadErr),
		s.store.EXPECT().Rollback(gomock.Any(), "api").Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).Return(nil),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, attempt model.RenewalAttempt) error {
				s.Assert().Equal(model.AttemptFailed, attempt.Outcome)
				s.Assert().True(attempt.RolledBack)
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventReloadFailed, event.Type)
				s.Assert().True(event.RolledBack)
				s.Assert().Contains(event.Message, "previous certificate restored")
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventExpiringSoon, event.Type)
				return nil
			},
		),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Failed: 1}, result)
	s.False(result.Critical)
}

func (s *EngineTestSuite) TestVerifyMismatchRollsBack() {
	issued := ca.IssuedCertificate{CertPEM: s.livePEM, KeyPEM: []byte("key"), ChainPEM: []byte("chain")}
	staged := storage.StagedCert{Name: "api", Fingerprint: s.liveFingerprint}
	tamperedPEM, _ := s.leafPEM(time.Now().Add(-time.Hour), time.Now().Add(15*24*time.Hour))

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(2*24*time.Hour), nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", gomock.Any(), gomock.Any(), gomock.Any()).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		s.store.EXPECT().ReadLiveCertificate(gomock.Any(), "api").Return(tamperedPEM, nil),
		s.store.EXPECT().Rollback(gomock.Any(), "api").Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).Return(nil),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).Return(nil),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventRenewalFailed, event.Type)
				s.Assert().True(event.RolledBack)
				s.Assert().Contains(event.Message, "does not match")
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Failed: 1}, result)
}

func (s *EngineTestSuite) TestVerifyExpiredWindowRollsBack() {
	expiredPEM, expiredFingerprint := s.leafPEM(time.Now().Add(-25*time.Hour), time.Now().Add(-time.Hour))
	issued := ca.IssuedCertificate{CertPEM: expiredPEM, KeyPEM: []byte("key")}
	staged := storage.StagedCert{Name: "api", Fingerprint: expiredFingerprint}

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(2*24*time.Hour), nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", gomock.Any(), gomock.Any(), gomock.Any()).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		// The fingerprint matches the staged leaf; only the window is stale.
		s.store.EXPECT().ReadLiveCertificate(gomock.Any(), "api").Return(expiredPEM, nil),
		s.store.EXPECT().Rollback(gomock.Any(), "api").Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, record model.CertificateRecord) error {
				s.Assert().Equal(model.CertStatusRenewalFailed, record.Status)
				return nil
			},
		),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, attempt model.RenewalAttempt) error {
				s.Assert().Equal(model.AttemptFailed, attempt.Outcome)
				s.Assert().True(attempt.RolledBack)
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventRenewalFailed, event.Type)
				s.Assert().True(event.RolledBack)
				s.Assert().Contains(event.Message, "does not cover the current time")
				s.Assert().Contains(event.Message, "previous certificate restored")
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Failed: 1}, result)
	s.False(result.Critical)
}

func (s *EngineTestSuite) TestRollbackFailureIsCriticalAndStopsCycle() {
	cfg := s.cfg
	cfg.DomainSets = append(cfg.DomainSets, config.DomainSet{Name: "web", Domains: []string{"web.internal"}})
	engine, err := lifecycle.NewEngineWithConfig(
		cfg,
		lifecycle.WithStore(s.store),
		lifecycle.WithCertAuthority(s.authority),
		lifecycle.WithReloader(s.reloader),
		lifecycle.WithNotifier(s.notifier),
		lifecycle.WithHealthPublisher(s.healthAgg),
	)
	s.Require().NoError(err)

	issued := ca.IssuedCertificate{CertPEM: s.livePEM, KeyPEM: []byte("key"), ChainPEM: []byte("chain")}
	staged := storage.StagedCert{Name: "api", Fingerprint: s.liveFingerprint}
	reloadErr := fmt.Errorf("nginx exited with status 1%w", model.ErrReloadNonZeroExit)

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(2*24*time.Hour), nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", gomock.Any(), gomock.Any(), gomock.Any()).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		s.reloader.EXPECT().Reload(gomock.Any()).Return(reloadErr),
		s.store.EXPECT().Rollback(gomock.Any(), "api").Return(model.ErrBackupNotFound),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).Return(nil),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, attempt model.RenewalAttempt) error {
				s.Assert().Equal(model.AttemptFailed, attempt.Outcome)
				s.Assert().False(attempt.RolledBack)
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventReloadFailed, event.Type)
				s.Assert().False(event.RolledBack)
				s.Assert().Contains(event.Message, "rollback")
				s.Assert().Contains(event.Message, "backup not found")
				return nil
			},
		),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event model.LifecycleEvent) error {
				s.Assert().Equal(model.EventExpiringSoon, event.Type)
				return nil
			},
		),
	)

	// No expectations for the web set: a failed rollback must stop the cycle
	// before it is processed.
	result := engine.RunCycle(s.ctx)
	s.True(result.Critical)
	s.Equal(1, result.Failed)

	snapshot, ok := s.healthAgg.Snapshot()
	s.Require().True(ok)
	s.Equal(model.HealthStatusUnhealthy, snapshot.Status)
	s.Len(snapshot.Certificates, 1)
}

func (s *EngineTestSuite) TestShutdownDuringReloadDoesNotRollBack() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	issued := ca.IssuedCertificate{CertPEM: s.livePEM, KeyPEM: []byte("key"), ChainPEM: []byte("chain")}
	staged := storage.StagedCert{Name: "api", Fingerprint: s.liveFingerprint}

	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(2*24*time.Hour), nil),
		s.authority.EXPECT().RequestCertificate(gomock.Any(), gomock.Any(), gomock.Any()).Return(issued, nil),
		s.store.EXPECT().Stage(gomock.Any(), "api", gomock.Any(), gomock.Any(), gomock.Any()).Return(staged, nil),
		s.store.EXPECT().Commit(gomock.Any(), staged).Return(nil),
		// The shutdown signal arrives while the reload command runs. The
		// committed pair must go through reload and verify untouched; the
		// steps after commit see a context the signal cannot cancel.
		s.reloader.EXPECT().Reload(gomock.Any()).DoAndReturn(
			func(reloadCtx context.Context) error {
				cancel()
				s.Assert().NoError(reloadCtx.Err())
				return nil
			},
		),
		s.store.EXPECT().ReadLiveCertificate(gomock.Any(), "api").DoAndReturn(
			func(readCtx context.Context, name string) ([]byte, error) {
				s.Assert().NoError(readCtx.Err())
				return s.livePEM, nil
			},
		),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.renewedRecord(), nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).Return(nil),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).Return(nil),
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(notifyCtx context.Context, event model.LifecycleEvent) error {
				s.Assert().NoError(notifyCtx.Err())
				s.Assert().Equal(model.EventRenewalSucceeded, event.Type)
				return nil
			},
		),
	)

	result := s.engine.RunCycle(ctx)
	s.Equal(lifecycle.CycleResult{Renewed: 1}, result)

	snapshot, ok := s.healthAgg.Snapshot()
	s.Require().True(ok)
	s.Equal(model.CertificateCounts{Valid: 1}, snapshot.Counts)
}

func (s *EngineTestSuite) TestUnreachableCADegradesHealth() {
	gomock.InOrder(
		s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: false, Error: "connection refused"}),
		s.store.EXPECT().Load(gomock.Any(), "api").Return(s.record(10*24*time.Hour), nil),
		s.store.EXPECT().PutRecord(gomock.Any(), gomock.Any()).Return(nil),
		s.store.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).Return(nil),
	)

	result := s.engine.RunCycle(s.ctx)
	s.Equal(lifecycle.CycleResult{Skipped: 1}, result)

	snapshot, ok := s.healthAgg.Snapshot()
	s.Require().True(ok)
	s.Equal(model.HealthStatusDegraded, snapshot.Status)
	s.False(snapshot.CA.Reachable)
	s.Equal("connection refused", snapshot.CA.Error)
}

func (s *EngineTestSuite) TestCanceledContextAbortsCycle() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	s.authority.EXPECT().Probe(gomock.Any()).Return(model.CAHealth{Reachable: true})

	result := s.engine.RunCycle(ctx)
	s.Equal(lifecycle.CycleResult{}, result)

	_, ok := s.healthAgg.Snapshot()
	s.False(ok)
}

func (s *EngineTestSuite) TestEngineRequiresCertAuthority() {
	_, err := lifecycle.NewEngineWithConfig(s.cfg, lifecycle.WithStore(s.store))
	s.Require().ErrorIs(err, model.ErrInvalidParameter)
}
