package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"

	"golang.org/x/crypto/acme/autocert"
)

// ACMEManager manages automatic TLS certificates from Let's Encrypt
type ACMEManager struct {
	manager *autocert.Manager
	cache   autocert.DirCache
	domains []string
}

// NewACMEManager creates a new ACME manager
func NewACMEManager(email string, domains []string, cacheDir string) *ACMEManager {
	cache := autocert.DirCache(cacheDir)
	return &ACMEManager{
		manager: &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Email:      email,
			HostPolicy: autocert.HostWhitelist(domains...),
			Cache:      cache,
		},
		cache:   cache,
		domains: domains,
	}
}

// Domains returns the list of configured domains
func (a *ACMEManager) Domains() []string {
	return a.domains
}

// TLSConfig returns TLS configuration for use with servers
func (a *ACMEManager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: a.manager.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// HTTPHandler answers HTTP-01 challenges and passes everything else to fallback
func (a *ACMEManager) HTTPHandler(fallback http.Handler) http.Handler {
	return a.manager.HTTPHandler(fallback)
}

// CachedCertificates reads issued certificates from the cache directory
// without contacting Let's Encrypt. Domains with nothing cached are skipped.
func (a *ACMEManager) CachedCertificates(ctx context.Context) []CertificateInfo {
	var results []CertificateInfo

	for _, domain := range a.domains {
		data, err := a.cache.Get(ctx, domain)
		if err != nil {
			continue
		}

		// autocert stores key and chain in one PEM blob
		cert, err := tls.X509KeyPair(data, data)
		if err != nil || len(cert.Certificate) == 0 {
			continue
		}

		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			continue
		}

		results = append(results, *certificateInfo(domain, leaf))
	}

	return results
}
