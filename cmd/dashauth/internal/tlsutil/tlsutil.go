// Package tlsutil loads and validates the certificate served on the HTTPS
// listener, generating a self-signed one when none is configured.
package tlsutil

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	certutil "k8s.io/client-go/util/cert"
	"k8s.io/client-go/util/keyutil"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

// ExpiryWarning is how far ahead of expiry a configured certificate is reported.
const ExpiryWarning = 30 * 24 * time.Hour

// Material is a validated certificate/key pair.
type Material struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
	SelfSigned  bool
}

// Load resolves the configured certificate. CertFile/KeyFile win over the
// inline Cert/Key values, which may be PEM or base64-encoded PEM. With nothing
// configured a self-signed certificate for host is generated and reported as
// a warning. Problems are returned in the audit; Material is nil whenever the
// audit has errors or TLS is disabled.
func Load(cfg config.TLSConfig, host string) (*Material, config.Audit) {
	var audit config.Audit
	if !cfg.Enabled {
		return nil, audit
	}

	certPEM, keyPEM, ok := readPair(cfg, &audit)
	if !ok {
		return nil, audit
	}

	selfSigned := false
	if len(certPEM) == 0 && len(keyPEM) == 0 {
		var err error
		certPEM, keyPEM, err = GenerateSelfSigned(host)
		if err != nil {
			audit.Errorf("Could not generate a self signed certificate: %v", err)
			return nil, audit
		}
		selfSigned = true
		audit.Warnf("Generated a self signed certificate.")
	} else if len(certPEM) == 0 || len(keyPEM) == 0 {
		audit.Errorf("Both a certificate and a private key are required.")
		return nil, audit
	}

	m, err := Parse(certPEM, keyPEM)
	if err != nil {
		audit.Errorf("Invalid certificate and/or private key: %v", err)
		return nil, audit
	}
	m.SelfSigned = selfSigned

	if !selfSigned {
		now := time.Now()
		switch {
		case now.After(m.Leaf.NotAfter):
			audit.Errorf("Certificate expired on %s.", m.Leaf.NotAfter.Format(time.RFC3339))
			return nil, audit
		case now.Before(m.Leaf.NotBefore):
			audit.Warnf("Certificate is not valid before %s.", m.Leaf.NotBefore.Format(time.RFC3339))
		case m.Leaf.NotAfter.Sub(now) < ExpiryWarning:
			audit.Warnf("Certificate expires on %s.", m.Leaf.NotAfter.Format(time.RFC3339))
		}
	}
	return m, audit
}

func readPair(cfg config.TLSConfig, audit *config.Audit) (certPEM, keyPEM []byte, ok bool) {
	var err error

	if cfg.CertFile != "" {
		if certPEM, err = os.ReadFile(cfg.CertFile); err != nil {
			audit.Errorf("Cannot read certificate file: %v", err)
		}
	} else if certPEM, err = decode(cfg.Cert); err != nil {
		audit.Errorf("tls.cert is neither PEM nor base64-encoded PEM.")
	}

	if cfg.KeyFile != "" {
		if keyPEM, err = os.ReadFile(cfg.KeyFile); err != nil {
			audit.Errorf("Cannot read private key file: %v", err)
		}
	} else if keyPEM, err = decode(cfg.Key); err != nil {
		audit.Errorf("tls.key is neither PEM nor base64-encoded PEM.")
	}

	return certPEM, keyPEM, audit.OK()
}

// decode accepts PEM text or its base64 encoding.
func decode(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if strings.HasPrefix(value, "-----BEGIN") {
		return []byte(value), nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(raw, []byte("-----BEGIN")) {
		return nil, fmt.Errorf("decoded value is not PEM")
	}
	return raw, nil
}

// Parse validates a PEM certificate chain and private key and pairs them.
func Parse(certPEM, keyPEM []byte) (*Material, error) {
	certs, err := certutil.ParseCertsPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("certificate: %w", err)
	}
	if _, err := keyutil.ParsePrivateKeyPEM(keyPEM); err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &Material{Certificate: pair, Leaf: certs[0]}, nil
}

// GenerateSelfSigned returns a PEM certificate and key for host, valid for a year.
func GenerateSelfSigned(host string) (certPEM, keyPEM []byte, err error) {
	if host == "" {
		host = "localhost"
	}
	return certutil.GenerateSelfSignedCertKey(host, nil, nil)
}

// ServerConfig returns a TLS server configuration for m.
func (m *Material) ServerConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{m.Certificate},
		NextProtos:   []string{"h2", "http/1.1"},
	}
}
