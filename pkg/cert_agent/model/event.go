package model

type LifecycleEventType string

const (
	EventRenewalSucceeded LifecycleEventType = "cert.renewal_succeeded"
	EventRenewalFailed    LifecycleEventType = "cert.renewal_failed"
	EventExpiringSoon     LifecycleEventType = "cert.expiring_soon"
	EventReloadFailed     LifecycleEventType = "cert.reload_failed"
)

type LifecycleEvent struct {
	ID          string             `json:"id"`         // Unique ID of the event.
	Type        LifecycleEventType `json:"event"`      // Type of the event.
	Name        string             `json:"domain_set"` // Domain set key the event concerns.
	Domains     []string           `json:"domains"`
	Outcome     AttemptOutcome     `json:"outcome,omitempty"`
	Fingerprint string             `json:"fingerprint,omitempty"` // Fingerprint of the live leaf after the cycle.
	RolledBack  bool               `json:"rolled_back"`           // Whether the previous pair was restored during this cycle.
	Message     string             `json:"message"`
	CreatedAt   int64              `json:"created_at"` // Unix Time (in second) when the event was emitted.
}
