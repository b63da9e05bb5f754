package model

type CertStatus string
type AttemptOutcome string

const (
	CertStatusValid         CertStatus = "valid"
	CertStatusExpiringSoon  CertStatus = "expiring_soon"
	CertStatusExpired       CertStatus = "expired"
	CertStatusRenewalFailed CertStatus = "renewal_failed"
	CertStatusUnknown       CertStatus = "unknown"

	AttemptSkipped AttemptOutcome = "skipped"
	AttemptRenewed AttemptOutcome = "renewed"
	AttemptFailed  AttemptOutcome = "failed"
)

type CertificateRecord struct {
	Name        string     `json:"name"`    // Domain set key. Also the base name of the on-disk files.
	Domains     []string   `json:"domains"` // Hostnames/IPs in the order presented to the CA (SAN order).
	CertPath    string     `json:"cert_path"`
	KeyPath     string     `json:"key_path"`
	CAChainPath string     `json:"ca_chain_path"`
	NotBefore   int64      `json:"not_before"`  // Unix Time (in second) parsed from the issued certificate.
	NotAfter    int64      `json:"not_after"`   // Unix Time (in second) parsed from the issued certificate.
	Fingerprint string     `json:"fingerprint"` // Fingerprint of the live leaf certificate. The format is [HASH_ALGORITHM]:[FINGERPRINT_HEX_ENCODED].
	Status      CertStatus `json:"status"`

	// RecordedFingerprint is the fingerprint persisted at the last renewal. It
	// diverges from Fingerprint when the files were modified outside the agent.
	RecordedFingerprint string `json:"-"`

	LastRenewalAt int64  `json:"last_renewal_at,omitempty"` // Unix Time (in second) of the last successful renewal.
	LastError     string `json:"last_error,omitempty"`      // Message of the last failed attempt, cleared on success.
}

type RenewalAttempt struct {
	ID                  string         `json:"id"`   // Unique ID of the attempt.
	Name                string         `json:"name"` // Domain set key.
	Domains             []string       `json:"domains"`
	StartedAt           int64          `json:"started_at"`  // Unix Time (in second) when the cycle started.
	FinishedAt          int64          `json:"finished_at"` // Unix Time (in second) when the cycle finished.
	Outcome             AttemptOutcome `json:"outcome"`
	Error               string         `json:"error,omitempty"`
	PreviousFingerprint string         `json:"previous_fingerprint,omitempty"`
	NewFingerprint      string         `json:"new_fingerprint,omitempty"`
	RolledBack          bool           `json:"rolled_back,omitempty"` // Whether the previous pair was restored after a deploy/reload fault.
}
