package ca

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme"
	"golang.org/x/time/rate"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/config"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
	"github.com/appleparan/dimension-bridge/pkg/pkix"
)

type _ACMEAuthority struct {
	endpoint    string
	fingerprint string
	email       string
	solver      ChallengeSolver
	httpClient  *http.Client
	limiter     *rate.Limiter

	mtx        sync.Mutex
	client     *acme.Client
	registered bool
}

// NewACMEAuthority returns a client of the internal ACME certificate
// authority. The TLS identity of the authority is pinned to cfg.Fingerprint;
// a chain signed by a well known root is rejected the same way as any other
// unexpected certificate.
func NewACMEAuthority(cfg config.CAConfig, solver ChallengeSolver) *_ACMEAuthority {
	return &_ACMEAuthority{
		endpoint:    cfg.Endpoint,
		fingerprint: cfg.Fingerprint,
		email:       cfg.Email,
		solver:      solver,
		httpClient: &http.Client{
			Transport: pinnedTransport(cfg.Fingerprint),
			Timeout:   cfg.RequestTimeout(),
		},
		// Spaces consecutive orders so a config with many domain sets does
		// not burst the authority.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

func (a *_ACMEAuthority) RequestCertificate(ctx context.Context, domains []string, validity time.Duration) (IssuedCertificate, error) {
	if len(domains) == 0 {
		return IssuedCertificate{}, fmt.Errorf("empty domain set%w", model.ErrInvalidParameter)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return IssuedCertificate{}, err
	}

	client, err := a.ensureAccount(ctx)
	if err != nil {
		return IssuedCertificate{}, err
	}

	var orderOpts []acme.OrderOption
	if validity > 0 {
		// The authority may clamp the requested lifetime to its own policy.
		orderOpts = append(orderOpts, acme.WithOrderNotAfter(time.Now().Add(validity)))
	}
	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(domains...), orderOpts...)
	if err != nil {
		return IssuedCertificate{}, mapCAError(err)
	}

	cleanup, err := a.solveAuthorizations(ctx, client, order.AuthzURLs)
	defer cleanup()
	if err != nil {
		return IssuedCertificate{}, err
	}

	order, err = client.WaitOrder(ctx, order.URI)
	if err != nil {
		return IssuedCertificate{}, mapCAError(err)
	}

	certKey, err := pkix.GenerateECKey()
	if err != nil {
		return IssuedCertificate{}, fmt.Errorf("failed to generate certificate key: %w", err)
	}
	csr, err := pkix.CreateCertificateSigningRequest(certKey, domains[0], domains)
	if err != nil {
		return IssuedCertificate{}, err
	}

	der, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return IssuedCertificate{}, mapCAError(err)
	}
	if len(der) == 0 {
		return IssuedCertificate{}, fmt.Errorf("authority returned an empty certificate chain%w", model.ErrCAMalformedResponse)
	}

	chain := make([]x509.Certificate, 0, len(der))
	for _, raw := range der {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return IssuedCertificate{}, fmt.Errorf("authority returned an unparseable certificate: %s%w", err.Error(), model.ErrCAMalformedResponse)
		}
		chain = append(chain, *cert)
	}

	issued := IssuedCertificate{Leaf: chain[0]}
	if issued.CertPEM, err = pkix.MarshalCertificates(chain[0]); err != nil {
		return IssuedCertificate{}, err
	}
	if issued.KeyPEM, err = pkix.MarshalPrivateKey(certKey); err != nil {
		return IssuedCertificate{}, err
	}
	if len(chain) > 1 {
		if issued.ChainPEM, err = pkix.MarshalCertificates(chain[1:]...); err != nil {
			return IssuedCertificate{}, err
		}
	}

	logrus.Infof("issued certificate for %v, not after %s", domains, issued.Leaf.NotAfter.Format(time.RFC3339))
	return issued, nil
}

// Probe checks the health endpoint of the authority over the pinned
// transport. It never returns an error; an unreachable authority is a state,
// not a failure of the probe.
func (a *_ACMEAuthority) Probe(ctx context.Context) model.CAHealth {
	health := model.CAHealth{CheckedAt: time.Now().Unix()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.healthURL(), nil)
	if err != nil {
		health.Error = err.Error()
		return health
	}

	started := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		health.Error = mapCAError(err).Error()
		return health
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	health.LatencyMS = time.Since(started).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		health.Error = fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)
		return health
	}
	health.Reachable = true
	return health
}

func (a *_ACMEAuthority) ensureAccount(ctx context.Context) (*acme.Client, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if a.client == nil {
		accountKey, err := pkix.GenerateECKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate account key: %w", err)
		}
		a.client = &acme.Client{
			Key:          accountKey,
			DirectoryURL: a.directoryURL(),
			HTTPClient:   a.httpClient,
			UserAgent:    "cert-agent",
		}
	}

	if !a.registered {
		account := &acme.Account{}
		if a.email != "" {
			account.Contact = []string{"mailto:" + a.email}
		}
		if _, err := a.client.Register(ctx, account, acme.AcceptTOS); err != nil && !errors.Is(err, acme.ErrAccountAlreadyExists) {
			return nil, mapCAError(err)
		}
		a.registered = true
	}

	return a.client, nil
}

// solveAuthorizations answers every pending authorization of an order through
// the challenge solver. The returned function withdraws all published proofs
// and must be called no matter how the order ends.
func (a *_ACMEAuthority) solveAuthorizations(ctx context.Context, client *acme.Client, authzURLs []string) (func(), error) {
	var cleanups []func()
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	for _, authzURL := range authzURLs {
		authz, err := client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return cleanup, mapCAError(err)
		}
		if authz.Status == acme.StatusValid {
			continue
		}

		var challenge *acme.Challenge
		for _, ch := range authz.Challenges {
			if a.solver.Supports(ch.Type) {
				challenge = ch
				break
			}
		}
		if challenge == nil {
			return cleanup, fmt.Errorf("no solvable challenge for %s%w", authz.Identifier.Value, model.ErrCAAuthorizationFailed)
		}

		proof, err := challengeProof(client, challenge)
		if err != nil {
			return cleanup, err
		}

		domain := authz.Identifier.Value
		token := challenge.Token
		if err := a.solver.Present(ctx, domain, token, proof); err != nil {
			return cleanup, fmt.Errorf("failed to present challenge for %s: %w", domain, err)
		}
		cleanups = append(cleanups, func() {
			if err := a.solver.CleanUp(ctx, domain, token, proof); err != nil {
				logrus.Warnf("failed to clean up challenge for %s: %v", domain, err)
			}
		})

		if _, err := client.Accept(ctx, challenge); err != nil {
			return cleanup, mapCAError(err)
		}
		if _, err := client.WaitAuthorization(ctx, authz.URI); err != nil {
			return cleanup, mapCAError(err)
		}
	}

	return cleanup, nil
}

// challengeProof derives the material the solver publishes for a challenge:
// the key authorization body for http-01, the TXT record value for dns-01.
// Challenge types whose proof is not a string, like tls-alpn-01, have no
// derivation here and cannot be served through a ChallengeSolver.
func challengeProof(client *acme.Client, challenge *acme.Challenge) (string, error) {
	switch challenge.Type {
	case "http-01":
		proof, err := client.HTTP01ChallengeResponse(challenge.Token)
		if err != nil {
			return "", mapCAError(err)
		}
		return proof, nil
	case "dns-01":
		proof, err := client.DNS01ChallengeRecord(challenge.Token)
		if err != nil {
			return "", mapCAError(err)
		}
		return proof, nil
	default:
		return "", fmt.Errorf("no proof derivation for challenge type %s%w", challenge.Type, model.ErrCAAuthorizationFailed)
	}
}

func (a *_ACMEAuthority) directoryURL() string {
	if strings.Contains(a.endpoint, "/directory") {
		return a.endpoint
	}
	return strings.TrimSuffix(a.endpoint, "/") + "/directory"
}

func (a *_ACMEAuthority) healthURL() string {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return a.endpoint
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String()
}

func pinnedTransport(fingerprint string) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	transport.MaxIdleConnsPerHost = -1
	if fingerprint == "" {
		return transport
	}

	transport.TLSClientConfig = &tls.Config{
		// Chain verification is replaced by the fingerprint pin. The
		// authority presents a self signed certificate no root store can
		// validate.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("server presented no certificate%w", model.ErrCAUntrustedServer)
			}
			if got := pkix.FingerprintRaw(rawCerts[0]); got != fingerprint {
				return fmt.Errorf("server certificate is %s, pinned to %s%w", got, fingerprint, model.ErrCAUntrustedServer)
			}
			return nil
		},
	}
	return transport
}

// mapCAError folds transport, protocol and policy failures of the authority
// exchange into the error kinds the renewal policy understands.
func mapCAError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, model.ErrCAError) {
		return err
	}

	var authzErr *acme.AuthorizationError
	if errors.As(err, &authzErr) {
		return fmt.Errorf("%s%w", err.Error(), model.ErrCAAuthorizationFailed)
	}
	var orderErr *acme.OrderError
	if errors.As(err, &orderErr) {
		return fmt.Errorf("%s%w", err.Error(), model.ErrCAAuthorizationFailed)
	}

	var acmeErr *acme.Error
	if errors.As(err, &acmeErr) {
		if _, rateLimited := acme.RateLimit(acmeErr); rateLimited || acmeErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%s%w", err.Error(), model.ErrCARateLimited)
		}
		if acmeErr.StatusCode >= 500 {
			return fmt.Errorf("%s%w", err.Error(), model.ErrCAUnreachable)
		}
		return fmt.Errorf("%s%w", err.Error(), model.ErrCAAuthorizationFailed)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s%w", err.Error(), model.ErrCAUnreachable)
	}

	return fmt.Errorf("%s%w", err.Error(), model.ErrCAMalformedResponse)
}
