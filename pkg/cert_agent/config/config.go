package config

import (
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/samber/lo"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
	bridgeconfig "github.com/appleparan/dimension-bridge/pkg/config"
)

const (
	NotificationFormatJSON  = "json"
	NotificationFormatSlack = "slack"

	SolverTypeHTTP01 = "http-01"
)

var fingerprintPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

type Config struct {
	CertDir          string               `yaml:"cert_dir"`
	CA               CAConfig             `yaml:"ca"`
	DomainSets       []DomainSet          `yaml:"domain_sets"`
	Policy           RenewalPolicy        `yaml:"policy"`
	Reload           ReloadSpec           `yaml:"reload"`
	Health           HealthConfig         `yaml:"health"`
	Notifications    []NotificationConfig `yaml:"notifications"`
	IncludeLocalSANs bool                 `yaml:"include_local_sans"` // Append localhost/127.0.0.1 to every domain set.
	OTLPEndpoint     string               `yaml:"otlp_endpoint"`
}

type CAConfig struct {
	Endpoint    string       `yaml:"endpoint"`    // Base URL of the internal CA.
	Fingerprint string       `yaml:"fingerprint"` // sha256:<hex> of the CA TLS certificate. The client trusts nothing else.
	Email       string       `yaml:"email"`
	Timeout     int          `yaml:"timeout"` // Request timeout in second.
	Solver      SolverConfig `yaml:"solver"`
}

type SolverConfig struct {
	Type   string `yaml:"type"`
	Listen string `yaml:"listen"` // Listen address of the HTTP-01 responder.
}

type DomainSet struct {
	Name    string   `yaml:"name"`
	Domains []string `yaml:"domains"` // Order is preserved when presented to the CA.
}

type RenewalPolicy struct {
	RenewalThresholdDays  int `yaml:"renewal_threshold_days"`
	RequestedValidityDays int `yaml:"requested_validity_days"`
	CheckInterval         int `yaml:"check_interval"` // Interval between renewal checks in second.
}

type ReloadSpec struct {
	Command     string `yaml:"command"`      // Shell command executed after a successful deploy. Empty writes a restart marker instead.
	ServiceName string `yaml:"service_name"` // Label used in logs and notifications only, never executed.
	Timeout     int    `yaml:"timeout"`      // Command timeout in second.
}

type HealthConfig struct {
	Listen string `yaml:"listen"`
}

type NotificationConfig struct {
	Url      string `yaml:"url"`
	Format   string `yaml:"format"`           // json or slack
	Secret   string `yaml:"secret,omitempty"` // Secret used to generate the HMAC-SHA1 signature.
	Timeout  int    `yaml:"timeout"`          // Delivery timeout in second.
	MaxRetry int    `yaml:"max_retry"`
}

// Default returns the configuration the agent runs with when the file leaves
// a field unset.
func Default() Config {
	return Config{
		CertDir: "/certs",
		CA: CAConfig{
			Email:   "cert-agent@local",
			Timeout: 30,
			Solver: SolverConfig{
				Type:   SolverTypeHTTP01,
				Listen: ":5002",
			},
		},
		Policy: RenewalPolicy{
			RenewalThresholdDays:  5,
			RequestedValidityDays: 15,
			CheckInterval:         86400,
		},
		Reload: ReloadSpec{
			ServiceName: "cert-agent",
			Timeout:     60,
		},
		Health: HealthConfig{
			Listen: ":5001",
		},
		IncludeLocalSANs: true,
	}
}

// FromFile reads and parses the config from the given path and applies the
// process environment on it, both as {{.VAR}} template references and as
// ${VAR} expansions. Fields the file leaves unset keep their defaults.
func FromFile(filePath string) (Config, error) {
	cfg := Default()
	if err := bridgeconfig.FromFile(filePath, &cfg); err != nil {
		return Config{}, err
	}

	for i := range cfg.Notifications {
		if cfg.Notifications[i].Format == "" {
			cfg.Notifications[i].Format = NotificationFormatJSON
		}
		if cfg.Notifications[i].Timeout == 0 {
			cfg.Notifications[i].Timeout = 10
		}
		if cfg.Notifications[i].MaxRetry == 0 {
			cfg.Notifications[i].MaxRetry = 3
		}
	}

	return cfg, nil
}

func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.CertDir, validation.Required),
		validation.Field(&c.DomainSets, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	err = validation.ValidateStruct(&c.CA,
		validation.Field(&c.CA.Endpoint, validation.Required, is.URL),
		validation.Field(&c.CA.Fingerprint, validation.Required, validation.Match(fingerprintPattern)),
		validation.Field(&c.CA.Timeout, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("ca: %s%w", err.Error(), model.ErrInvalidParameter)
	}

	err = validation.ValidateStruct(&c.CA.Solver,
		validation.Field(&c.CA.Solver.Type, validation.Required, validation.In(SolverTypeHTTP01)),
		validation.Field(&c.CA.Solver.Listen, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("ca.solver: %s%w", err.Error(), model.ErrInvalidParameter)
	}

	for i, set := range c.DomainSets {
		err := validation.ValidateStruct(&set,
			validation.Field(&set.Name, validation.Required, validation.Match(regexp.MustCompile(`^[A-Za-z0-9._-]+$`))),
			validation.Field(&set.Domains, validation.Required),
		)
		if err != nil {
			return fmt.Errorf("domain_sets[%d]: %s%w", i, err.Error(), model.ErrInvalidParameter)
		}
	}

	err = validation.ValidateStruct(&c.Policy,
		validation.Field(&c.Policy.RenewalThresholdDays, validation.Min(1)),
		validation.Field(&c.Policy.RequestedValidityDays, validation.Min(1)),
		validation.Field(&c.Policy.CheckInterval, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("policy: %s%w", err.Error(), model.ErrInvalidParameter)
	}
	if c.Policy.RenewalThresholdDays >= c.Policy.RequestedValidityDays {
		return fmt.Errorf("policy: renewal_threshold_days must be smaller than requested_validity_days%w", model.ErrInvalidParameter)
	}

	err = validation.ValidateStruct(&c.Reload,
		validation.Field(&c.Reload.Timeout, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("reload: %s%w", err.Error(), model.ErrInvalidParameter)
	}

	for i, notification := range c.Notifications {
		err := validation.ValidateStruct(&notification,
			validation.Field(&notification.Url, validation.Required, is.URL),
			validation.Field(&notification.Format, validation.Required, validation.In(NotificationFormatJSON, NotificationFormatSlack)),
			validation.Field(&notification.Timeout, validation.Min(1)),
			validation.Field(&notification.MaxRetry, validation.Min(1)),
		)
		if err != nil {
			return fmt.Errorf("notifications[%d]: %s%w", i, err.Error(), model.ErrInvalidParameter)
		}
	}

	return nil
}

// SANsFor returns the subject alternative names of a domain set in the order
// presented to the CA. Local names are appended, not prepended, so the
// configured order keeps driving the SAN order.
func (c Config) SANsFor(set DomainSet) []string {
	sans := append([]string{}, set.Domains...)
	if c.IncludeLocalSANs {
		sans = append(sans, "localhost", "127.0.0.1")
	}
	return lo.Uniq(sans)
}

func (p RenewalPolicy) Threshold() time.Duration {
	return time.Duration(p.RenewalThresholdDays) * 24 * time.Hour
}

func (p RenewalPolicy) RequestedValidity() time.Duration {
	return time.Duration(p.RequestedValidityDays) * 24 * time.Hour
}

func (p RenewalPolicy) Interval() time.Duration {
	return time.Duration(p.CheckInterval) * time.Second
}

func (r ReloadSpec) CommandTimeout() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

func (ca CAConfig) RequestTimeout() time.Duration {
	return time.Duration(ca.Timeout) * time.Second
}
