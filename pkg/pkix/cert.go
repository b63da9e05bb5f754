package pkix

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
)

// ParseCertificate parses one or more PEM encoded certificates.
//
// The first certificate is expected to be the end-entity certificate.
// The rest of the certificates are intermediate certificates.
func ParseCertificate(certRaw []byte) ([]x509.Certificate, error) {
	certs := make([]x509.Certificate, 0, 4)
	for {
		pemBlock, remains := pem.Decode(certRaw)
		if pemBlock == nil {
			return nil, errors.New("invalid certificate")
		}

		cert, err := x509.ParseCertificate(pemBlock.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, *cert)

		if len(remains) == 0 {
			break
		}
		certRaw = remains
	}

	return certs, nil
}

func ParsePrivateKey(key []byte) (crypto.Signer, error) {
	pemBlock, _ := pem.Decode(key)
	if pemBlock == nil {
		return nil, errors.New("invalid private key")
	}

	ecPrivateKey, ecErr := x509.ParseECPrivateKey(pemBlock.Bytes)
	if ecErr == nil {
		return ecPrivateKey, nil
	}

	privKey, pkcs8Err := x509.ParsePKCS8PrivateKey(pemBlock.Bytes)
	if pkcs8Err == nil {
		signer, ok := privKey.(crypto.Signer)
		if !ok {
			return nil, errors.New("private key is not a signer")
		}
		return signer, nil
	}

	// Fallback to PKCS1
	rsaPrivKey, pkcs1Err := x509.ParsePKCS1PrivateKey(pemBlock.Bytes)
	if pkcs1Err == nil {
		return rsaPrivKey, nil
	}

	return nil, pkcs8Err
}

func MarshalCertificates(certs ...x509.Certificate) ([]byte, error) {
	if len(certs) == 0 {
		return nil, errors.New("no certificate provided")
	}

	buf := make([]byte, 0, 4096)
	for i := range certs {
		pemBlock := &pem.Block{
			Type:  "CERTIFICATE",
			Bytes: certs[i].Raw,
		}
		buf = append(buf, pem.EncodeToMemory(pemBlock)...)
	}
	return buf, nil
}

func MarshalPrivateKey(key crypto.Signer) ([]byte, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
	case *rsa.PrivateKey:
		der := x509.MarshalPKCS1PrivateKey(k)
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}), nil
	default:
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	}
}

func GenerateECKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// CreateCertificateSigningRequest builds a DER encoded CSR covering the given
// subject alternative names. Names are kept in the given order; IP literals are
// placed in the IPAddresses extension instead of DNSNames.
func CreateCertificateSigningRequest(key crypto.Signer, commonName string, sans []string) ([]byte, error) {
	template := x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName: commonName,
		},
	}
	for _, san := range sans {
		if ip := net.ParseIP(san); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, san)
		}
	}

	return x509.CreateCertificateRequest(rand.Reader, &template, key)
}

// Fingerprint returns the fingerprint of a certificate.
// The format is [HASH_ALGORITHM]:[FINGERPRINT_HEX_ENCODED].
func Fingerprint(cert x509.Certificate) string {
	return FingerprintRaw(cert.Raw)
}

func FingerprintRaw(der []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(der))
}

// VerifyChainIntegrity checks that every certificate in the chain is signed by
// its successor. It establishes internal consistency only; trust in the chain
// comes from the pinned CA identity, not from this check.
func VerifyChainIntegrity(certs []x509.Certificate) error {
	if len(certs) == 0 {
		return errors.New("no certificate provided")
	}

	for i := 0; i < len(certs)-1; i++ {
		if err := certs[i].CheckSignatureFrom(&certs[i+1]); err != nil {
			return fmt.Errorf("certificate %q is not signed by %q: %w", certs[i].Subject.CommonName, certs[i+1].Subject.CommonName, err)
		}
	}
	return nil
}

func IsPublicKeyOf(cert x509.Certificate, key crypto.Signer) bool {
	pub, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return pub.Equal(key.Public())
}
