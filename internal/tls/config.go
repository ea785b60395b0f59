// Package tls builds the TLS configuration of the HTTP API listener from
// either a certificate pair on disk or certificates issued through ACME.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// Config contains API listener TLS settings. Leaving everything empty
// serves plain HTTP.
type Config struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt settings
type ACMEConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Email         string   `yaml:"email"`
	Domains       []string `yaml:"domains"`
	CacheDir      string   `yaml:"cache_dir"`      // Default: /var/lib/courier/certs
	ChallengeAddr string   `yaml:"challenge_addr"` // Default: :80
}

// Enabled reports whether the listener should serve TLS
func (c Config) Enabled() bool {
	return c.ACME.Enabled || c.CertFile != "" || c.KeyFile != ""
}

// SetDefaults fills in ACME defaults
func (c *Config) SetDefaults() {
	if c.ACME.CacheDir == "" {
		c.ACME.CacheDir = "/var/lib/courier/certs"
	}
	if c.ACME.ChallengeAddr == "" {
		c.ACME.ChallengeAddr = ":80"
	}
}

// Validate checks that exactly one certificate source is configured
func (c Config) Validate() error {
	hasCerts := c.CertFile != "" || c.KeyFile != ""

	if hasCerts && c.ACME.Enabled {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}
	if hasCerts && (c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("both cert_file and key_file are required")
	}
	if c.ACME.Enabled && len(c.ACME.Domains) == 0 {
		return fmt.Errorf("acme.domains is required when ACME is enabled")
	}
	return nil
}

// Setup returns the listener TLS configuration and, for ACME, the manager
// whose challenge handler must be served over plain HTTP. A nil config
// means TLS is off.
func Setup(c Config) (*tls.Config, *ACMEManager, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	switch {
	case c.ACME.Enabled:
		m := NewACMEManager(c.ACME.Email, c.ACME.Domains, c.ACME.CacheDir)
		return m.TLSConfig(), m, nil
	case c.CertFile != "":
		cfg, err := LoadCertificate(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		return cfg, nil, nil
	default:
		return nil, nil, nil
	}
}

// LoadCertificate loads TLS certificate from PEM files
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// CertificateInfo describes a served certificate
type CertificateInfo struct {
	Domain    string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DaysLeft  int
	DNSNames  []string
}

// ReadCertificateInfo reads the first certificate of a PEM file
func ReadCertificateInfo(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return certificateInfo(cert.Subject.CommonName, cert), nil
}

func certificateInfo(domain string, cert *x509.Certificate) *CertificateInfo {
	return &CertificateInfo{
		Domain:    domain,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DaysLeft:  int(time.Until(cert.NotAfter).Hours() / 24),
		DNSNames:  cert.DNSNames,
	}
}
