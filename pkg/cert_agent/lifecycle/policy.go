// Package lifecycle drives the renewal cycle of every configured domain set.
package lifecycle

import (
	"time"

	"github.com/samber/lo"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
)

type Action string

const (
	ActionSkip  Action = "skip"
	ActionRenew Action = "renew"
)

const (
	ReasonAbsent           = "absent"
	ReasonExpired          = "expired"
	ReasonExpiring         = "expiring"
	ReasonFingerprintDrift = "fingerprint_drift"
	ReasonDomainsChanged   = "domains_changed"
	ReasonHealthy          = "healthy"
)

// Decision is the outcome of checking one domain set against the renewal
// policy.
type Decision struct {
	Action Action
	Reason string
}

// Decide determines whether a domain set needs a new certificate. found is
// false when no usable pair exists on disk, which always forces issuance.
// A recorded fingerprint differing from the live one means the files were
// changed outside the agent and the pair can no longer be trusted.
func Decide(record model.CertificateRecord, found bool, sans []string, threshold time.Duration, now time.Time) Decision {
	if !found {
		return Decision{Action: ActionRenew, Reason: ReasonAbsent}
	}

	notAfter := time.Unix(record.NotAfter, 0)
	if now.After(notAfter) {
		return Decision{Action: ActionRenew, Reason: ReasonExpired}
	}
	if notAfter.Sub(now) <= threshold {
		return Decision{Action: ActionRenew, Reason: ReasonExpiring}
	}
	if record.RecordedFingerprint != "" && record.RecordedFingerprint != record.Fingerprint {
		return Decision{Action: ActionRenew, Reason: ReasonFingerprintDrift}
	}
	if !sameDomainSet(record.Domains, sans) {
		return Decision{Action: ActionRenew, Reason: ReasonDomainsChanged}
	}
	return Decision{Action: ActionSkip, Reason: ReasonHealthy}
}

// StatusOf classifies a certificate validity window against the renewal
// threshold.
func StatusOf(record model.CertificateRecord, threshold time.Duration, now time.Time) model.CertStatus {
	notAfter := time.Unix(record.NotAfter, 0)
	switch {
	case now.After(notAfter):
		return model.CertStatusExpired
	case notAfter.Sub(now) <= threshold:
		return model.CertStatusExpiringSoon
	default:
		return model.CertStatusValid
	}
}

// sameDomainSet compares two SAN lists as sets. Order changes alone do not
// force a renewal.
func sameDomainSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return lo.Every(a, b) && lo.Every(b, a)
}
