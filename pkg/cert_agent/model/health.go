package model

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type CAHealth struct {
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt int64  `json:"checked_at"` // Unix Time (in second) when the CA was last probed.
	Error     string `json:"error,omitempty"`
}

type CertificateCounts struct {
	Valid        int `json:"valid"`
	ExpiringSoon int `json:"expiring_soon"`
	Expired      int `json:"expired"`
	Failed       int `json:"failed"`
}

// HealthSnapshot is derived from the lifecycle records and the last CA probe.
// It is recomputed and republished wholesale after every cycle; readers never
// see a half-updated snapshot.
type HealthSnapshot struct {
	Status        HealthStatus        `json:"status"`
	Certificates  []CertificateRecord `json:"certificates"`
	Counts        CertificateCounts   `json:"counts"`
	CA            CAHealth            `json:"ca"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Version       string              `json:"version"`
	GeneratedAt   int64               `json:"generated_at"` // Unix Time (in second) when the snapshot was built.
}
