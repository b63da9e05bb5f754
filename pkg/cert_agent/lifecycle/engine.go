package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	otlp_util "github.com/bluexlab/otlp-util-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/ca"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/config"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/health"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/notification"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/reload"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/storage"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/storage/file"
	"github.com/appleparan/dimension-bridge/pkg/pkix"
	"github.com/appleparan/dimension-bridge/pkg/util"
)

type State string

const (
	StateChecking    State = "checking"
	StateRenewing    State = "renewing"
	StateDeploying   State = "deploying"
	StateReloading   State = "reloading"
	StateVerifying   State = "verifying"
	StateRollingBack State = "rolling_back"
	StateNotifying   State = "notifying"
)

const (
	renewalAttempts = 3
	retryBaseDelay  = 2 * time.Second
	issuanceTimeout = 5 * time.Minute
)

// CycleResult summarizes one pass over every configured domain set. Critical
// means a rollback failed and the on-disk material may be inconsistent, which
// no further cycle can repair.
type CycleResult struct {
	Renewed  int
	Skipped  int
	Failed   int
	Critical bool
}

type EngineOption func(e *Engine)

func WithStore(store storage.CertStore) EngineOption {
	return func(e *Engine) { e.store = store }
}

func WithCertAuthority(authority ca.CertAuthority) EngineOption {
	return func(e *Engine) { e.authority = authority }
}

func WithReloader(reloader reload.Executor) EngineOption {
	return func(e *Engine) { e.reloader = reloader }
}

func WithNotifier(notifier notification.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = notifier }
}

func WithHealthPublisher(publisher health.Publisher) EngineOption {
	return func(e *Engine) { e.health = publisher }
}

func WithVersion(version string) EngineOption {
	return func(e *Engine) { e.version = version }
}

// Engine walks every domain set through check, renew, deploy, reload, verify
// and notify. Sets are processed sequentially so two renewals never interleave
// their deploys.
type Engine struct {
	cfg       config.Config
	store     storage.CertStore
	authority ca.CertAuthority
	reloader  reload.Executor
	notifier  notification.Notifier
	health    health.Publisher
	version   string
	startedAt time.Time

	renewals        metric.Int64Counter
	renewalFailures metric.Int64Counter
	rollbacks       metric.Int64Counter
}

func NewEngineWithConfig(cfg config.Config, opts ...EngineOption) (*Engine, error) {
	engine := &Engine{
		cfg:             cfg,
		startedAt:       time.Now(),
		renewals:        otlp_util.NewInt64Counter("cert_agent.renewal.count", metric.WithDescription("The total number of successful certificate renewals")),
		renewalFailures: otlp_util.NewInt64Counter("cert_agent.renewal.failure.count", metric.WithDescription("The total number of failed certificate renewals")),
		rollbacks:       otlp_util.NewInt64Counter("cert_agent.rollback.count", metric.WithDescription("The total number of certificate rollbacks")),
	}
	for _, opt := range opts {
		opt(engine)
	}

	if engine.authority == nil {
		return nil, fmt.Errorf("certificate authority is required%w", model.ErrInvalidParameter)
	}
	if engine.store == nil {
		store, err := file.NewStore(cfg.CertDir)
		if err != nil {
			return nil, fmt.Errorf("create certificate store: %w", err)
		}
		engine.store = store
	}
	if engine.reloader == nil {
		engine.reloader = reload.NewExecutor(cfg.Reload, cfg.CertDir)
	}
	if engine.notifier == nil {
		engine.notifier = notification.NewDispatcher(cfg.Notifications)
	}
	return engine, nil
}

// RunCycle processes every configured domain set once and publishes the
// resulting health snapshot. A rollback failure aborts the cycle; the
// remaining sets stay untouched until an operator intervenes. Cancelling the
// context stops the cycle at the next set boundary without publishing a
// partial snapshot.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	ctx, span := otlp_util.Start(ctx, "cert_agent/lifecycle/engine.RunCycle")
	defer span.End()

	caHealth := e.authority.Probe(ctx)
	if !caHealth.Reachable {
		logrus.Warnf("certificate authority is not reachable: %s", caHealth.Error)
	}

	result := CycleResult{}
	records := make([]model.CertificateRecord, 0, len(e.cfg.DomainSets))
	for _, set := range e.cfg.DomainSets {
		select {
		case <-ctx.Done():
			logrus.Infof("renewal cycle aborted: %v", ctx.Err())
			return result
		default:
		}

		record, attempt, critical := e._ProcessSet(ctx, set)
		records = append(records, record)
		switch attempt.Outcome {
		case model.AttemptRenewed:
			result.Renewed++
		case model.AttemptSkipped:
			result.Skipped++
		case model.AttemptFailed:
			result.Failed++
		}
		if critical {
			result.Critical = true
			break
		}
	}

	e.publishSnapshot(records, caHealth)
	return result
}

func (e *Engine) _ProcessSet(ctx context.Context, set config.DomainSet) (model.CertificateRecord, model.RenewalAttempt, bool) {
	ctx, span := otlp_util.Start(ctx, "cert_agent/lifecycle/engine.ProcessSet",
		trace.WithAttributes(attribute.String("domain_set", set.Name)),
	)
	defer span.End()

	now := time.Now()
	attempt := model.RenewalAttempt{
		ID:        util.NewUUID(),
		Name:      set.Name,
		Domains:   e.cfg.SANsFor(set),
		StartedAt: now.Unix(),
	}

	logrus.Debugf("domain set %s: %s", set.Name, StateChecking)
	record, err := e.store.Load(ctx, set.Name)
	found := err == nil
	if err != nil && !errors.Is(err, model.ErrCertNotFound) {
		return e.finishFailed(ctx, record, attempt, set, fmt.Errorf("load certificate: %w", err))
	}
	if !found {
		record = model.CertificateRecord{Name: set.Name, Domains: attempt.Domains, Status: model.CertStatusUnknown}
	}
	attempt.PreviousFingerprint = record.Fingerprint

	decision := Decide(record, found, attempt.Domains, e.cfg.Policy.Threshold(), now)
	if decision.Action == ActionSkip {
		return e.finishSkipped(ctx, record, attempt)
	}
	logrus.Infof("renewing certificate of domain set %s: %s", set.Name, decision.Reason)

	logrus.Debugf("domain set %s: %s", set.Name, StateRenewing)
	var issued ca.IssuedCertificate
	err = retry.Do(
		func() error {
			issueCtx, cancel := context.WithTimeout(ctx, issuanceTimeout)
			defer cancel()
			var issueErr error
			issued, issueErr = e.authority.RequestCertificate(issueCtx, attempt.Domains, e.cfg.Policy.RequestedValidity())
			return issueErr
		},
		retry.Attempts(renewalAttempts),
		retry.Delay(retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(model.IsRetryableCAError),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if ctx.Err() != nil {
		attempt.Outcome = model.AttemptFailed
		attempt.Error = ctx.Err().Error()
		attempt.FinishedAt = time.Now().Unix()
		return record, attempt, false
	}
	if err != nil {
		return e.finishFailed(ctx, record, attempt, set, err)
	}

	// Shutdown is only honored up to here. Once the staged pair starts going
	// live, deploy, reload and verify run to completion so a graceful stop
	// never reverts a committed pair; the next set boundary observes the
	// signal.
	ctx = context.WithoutCancel(ctx)

	logrus.Debugf("domain set %s: %s", set.Name, StateDeploying)
	staged, err := e.store.Stage(ctx, set.Name, issued.CertPEM, issued.KeyPEM, issued.ChainPEM)
	if err != nil {
		return e.finishFailed(ctx, record, attempt, set, err)
	}
	if err := e.store.Commit(ctx, staged); err != nil {
		logrus.Errorf("failed to commit certificate of domain set %s: %v", set.Name, err)
		_ = e.store.Discard(ctx, staged)
		return e.rollback(ctx, record, attempt, set, err, false)
	}
	attempt.NewFingerprint = staged.Fingerprint

	logrus.Debugf("domain set %s: %s", set.Name, StateReloading)
	if err := e.reloader.Reload(ctx); err != nil {
		logrus.Errorf("failed to reload after deploying domain set %s: %v", set.Name, err)
		return e.rollback(ctx, record, attempt, set, err, true)
	}

	logrus.Debugf("domain set %s: %s", set.Name, StateVerifying)
	livePEM, err := e.store.ReadLiveCertificate(ctx, set.Name)
	if err != nil {
		return e.rollback(ctx, record, attempt, set, fmt.Errorf("verify deployed certificate: %w", err), true)
	}
	liveCerts, err := pkix.ParseCertificate(livePEM)
	if err != nil {
		cause := fmt.Errorf("live certificate is unparseable: %s%w", err.Error(), model.ErrVerifyFailed)
		return e.rollback(ctx, record, attempt, set, cause, true)
	}
	liveLeaf := liveCerts[0]
	if fp := pkix.Fingerprint(liveLeaf); fp != staged.Fingerprint {
		cause := fmt.Errorf("live fingerprint %s does not match deployed %s%w", fp, staged.Fingerprint, model.ErrVerifyFailed)
		return e.rollback(ctx, record, attempt, set, cause, true)
	}
	now = time.Now()
	if now.Before(liveLeaf.NotBefore) || !now.Before(liveLeaf.NotAfter) {
		cause := fmt.Errorf("live certificate window %s to %s does not cover the current time%w",
			liveLeaf.NotBefore.UTC().Format(time.RFC3339), liveLeaf.NotAfter.UTC().Format(time.RFC3339), model.ErrVerifyFailed)
		return e.rollback(ctx, record, attempt, set, cause, true)
	}

	verified, err := e.store.Load(ctx, set.Name)
	if err != nil {
		return e.rollback(ctx, record, attempt, set, fmt.Errorf("verify deployed certificate: %w", err), true)
	}

	logrus.Debugf("domain set %s: %s", set.Name, StateNotifying)
	e.renewals.Add(ctx, 1, metric.WithAttributes(attribute.String("domain_set", set.Name)))

	now = time.Now()
	verified.Status = model.CertStatusValid
	verified.LastRenewalAt = now.Unix()
	verified.LastError = ""
	attempt.Outcome = model.AttemptRenewed
	attempt.FinishedAt = now.Unix()
	attempt.NewFingerprint = verified.Fingerprint

	e.persist(ctx, verified, attempt)
	logrus.Infof("renewed certificate of domain set %s, fingerprint %s, not after %s",
		set.Name, verified.Fingerprint, time.Unix(verified.NotAfter, 0).UTC().Format(time.RFC3339))
	e.notify(ctx, model.EventRenewalSucceeded, verified, attempt, fmt.Sprintf("renewed, valid until %s", time.Unix(verified.NotAfter, 0).UTC().Format(time.RFC3339)))
	return verified, attempt, false
}

func (e *Engine) finishSkipped(ctx context.Context, record model.CertificateRecord, attempt model.RenewalAttempt) (model.CertificateRecord, model.RenewalAttempt, bool) {
	now := time.Now()
	attempt.Outcome = model.AttemptSkipped
	attempt.FinishedAt = now.Unix()
	attempt.NewFingerprint = record.Fingerprint

	record.Status = model.CertStatusValid
	record.LastError = ""
	e.persist(ctx, record, attempt)
	logrus.Debugf("domain set %s: certificate is healthy, skipping", record.Name)
	return record, attempt, false
}

// rollback restores the previous pair after a failed deploy, reload or
// verify. reloadAfter re-runs the reload action once so the consumer returns
// to the restored pair; a commit that never went live does not need it.
func (e *Engine) rollback(ctx context.Context, record model.CertificateRecord, attempt model.RenewalAttempt, set config.DomainSet, cause error, reloadAfter bool) (model.CertificateRecord, model.RenewalAttempt, bool) {
	logrus.Warnf("domain set %s: %s", set.Name, StateRollingBack)
	e.rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("domain_set", set.Name)))

	if err := e.store.Rollback(ctx, set.Name); err != nil {
		logrus.Errorf("failed to roll back domain set %s: %v", set.Name, err)
		record, attempt, _ = e.finishFailed(ctx, record, attempt, set, fmt.Errorf("rollback after %w failed: %w", cause, err))
		return record, attempt, true
	}
	attempt.RolledBack = true

	if reloadAfter {
		if err := e.reloader.Reload(ctx); err != nil {
			logrus.Errorf("failed to reload domain set %s after rollback: %v", set.Name, err)
		}
	}
	return e.finishFailed(ctx, record, attempt, set, cause)
}

func (e *Engine) finishFailed(ctx context.Context, record model.CertificateRecord, attempt model.RenewalAttempt, set config.DomainSet, cause error) (model.CertificateRecord, model.RenewalAttempt, bool) {
	e.renewalFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("domain_set", set.Name)))

	now := time.Now()
	attempt.Outcome = model.AttemptFailed
	attempt.Error = cause.Error()
	attempt.FinishedAt = now.Unix()

	record.Name = set.Name
	if len(record.Domains) == 0 {
		record.Domains = attempt.Domains
	}
	record.Status = model.CertStatusRenewalFailed
	if record.NotAfter > 0 && now.After(time.Unix(record.NotAfter, 0)) {
		record.Status = model.CertStatusExpired
	}
	record.LastError = cause.Error()
	e.persist(ctx, record, attempt)

	// The notification states whether the old pair is still serving or was
	// put back by a rollback.
	message := cause.Error()
	if attempt.RolledBack {
		message = fmt.Sprintf("%s (previous certificate restored)", message)
	}
	logrus.Errorf("failed to renew certificate of domain set %s: %v", set.Name, cause)
	e.notify(ctx, eventTypeOf(cause), record, attempt, message)

	// A failed attempt leaves the old pair serving. Raise a separate alarm
	// while its remaining lifetime keeps shrinking.
	if record.NotAfter > 0 {
		status := StatusOf(record, e.cfg.Policy.Threshold(), now)
		if status == model.CertStatusExpiringSoon || status == model.CertStatusExpired {
			expiry := time.Unix(record.NotAfter, 0).UTC().Format(time.RFC3339)
			e.notify(ctx, model.EventExpiringSoon, record, attempt, fmt.Sprintf("certificate expires at %s and could not be renewed", expiry))
		}
	}
	return record, attempt, false
}

func (e *Engine) persist(ctx context.Context, record model.CertificateRecord, attempt model.RenewalAttempt) {
	if err := e.store.PutRecord(ctx, record); err != nil {
		logrus.Errorf("failed to persist certificate record of %s: %v", record.Name, err)
	}
	if err := e.store.RecordAttempt(ctx, attempt); err != nil {
		logrus.Errorf("failed to persist renewal attempt of %s: %v", attempt.Name, err)
	}
}

func (e *Engine) notify(ctx context.Context, eventType model.LifecycleEventType, record model.CertificateRecord, attempt model.RenewalAttempt, message string) {
	event := model.LifecycleEvent{
		ID:          util.NewUUID(),
		Type:        eventType,
		Name:        record.Name,
		Domains:     record.Domains,
		Outcome:     attempt.Outcome,
		Fingerprint: record.Fingerprint,
		RolledBack:  attempt.RolledBack,
		Message:     message,
		CreatedAt:   time.Now().Unix(),
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		logrus.Warnf("failed to deliver %s notification: %v", eventType, err)
	}
}

// eventTypeOf picks the event kind of a failed cycle. Reload faults and
// failed rollbacks are the critical kind; everything else leaves the old pair
// serving and stays a plain renewal failure.
func eventTypeOf(cause error) model.LifecycleEventType {
	if errors.Is(cause, model.ErrReloadError) || errors.Is(cause, model.ErrRollbackError) {
		return model.EventReloadFailed
	}
	return model.EventRenewalFailed
}

func (e *Engine) publishSnapshot(records []model.CertificateRecord, caHealth model.CAHealth) {
	if e.health == nil {
		return
	}

	now := time.Now()
	counts := model.CertificateCounts{}
	for i := range records {
		switch records[i].Status {
		case model.CertStatusValid:
			counts.Valid++
		case model.CertStatusExpiringSoon:
			counts.ExpiringSoon++
		case model.CertStatusExpired:
			counts.Expired++
		default:
			counts.Failed++
		}
	}

	status := model.HealthStatusHealthy
	if counts.ExpiringSoon > 0 || !caHealth.Reachable {
		status = model.HealthStatusDegraded
	}
	if counts.Expired > 0 || counts.Failed > 0 {
		status = model.HealthStatusUnhealthy
	}

	e.health.Publish(model.HealthSnapshot{
		Status:        status,
		Certificates:  records,
		Counts:        counts,
		CA:            caHealth,
		UptimeSeconds: int64(now.Sub(e.startedAt).Seconds()),
		Version:       e.version,
		GeneratedAt:   now.Unix(),
	})
}
