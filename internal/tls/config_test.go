package tls

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// generateTestCertificate creates a self-signed certificate and key for testing
func generateTestCertificate() (certPEM, keyPEM []byte, err error) {
	// Generate RSA key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	// Create certificate template
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	// Create certificate
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	// Encode certificate to PEM
	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	// Encode private key to PEM
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM, nil
}

func TestLoadCertificate(t *testing.T) {
	// Create temporary test certificates
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "cert.pem")
	keyFile := filepath.Join(tmpDir, "key.pem")

	// Generate test certificate and key dynamically
	certPEM, keyPEM, err := generateTestCertificate()
	if err != nil {
		t.Fatalf("failed to generate test certificate: %v", err)
	}

	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}

	t.Run("valid certificate", func(t *testing.T) {
		cfg, err := LoadCertificate(certFile, keyFile)
		if err != nil {
			t.Fatalf("unexpected error loading valid certificate: %v", err)
		}
		if len(cfg.Certificates) != 1 {
			t.Errorf("expected one certificate, got %d", len(cfg.Certificates))
		}
	})

	t.Run("non-existent cert file", func(t *testing.T) {
		_, err := LoadCertificate("/nonexistent/cert.pem", "/nonexistent/key.pem")
		if err == nil {
			t.Error("expected error for non-existent files")
		}
	})

	t.Run("invalid cert", func(t *testing.T) {
		invalidCert := filepath.Join(tmpDir, "invalid.pem")
		if err := os.WriteFile(invalidCert, []byte("invalid"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadCertificate(invalidCert, keyFile)
		if err == nil {
			t.Error("expected error for invalid certificate")
		}
	})
}

func writeTestPair(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	certPEM, keyPEM, err := generateTestCertificate()
	if err != nil {
		t.Fatalf("failed to generate test certificate: %v", err)
	}
	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestReadCertificateInfo(t *testing.T) {
	certFile, _ := writeTestPair(t)

	info, err := ReadCertificateInfo(certFile)
	if err != nil {
		t.Fatalf("ReadCertificateInfo() error = %v", err)
	}
	if info.Domain != "localhost" {
		t.Errorf("Domain = %q, want localhost", info.Domain)
	}
	if len(info.DNSNames) != 1 || info.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v", info.DNSNames)
	}
	if info.DaysLeft != 0 {
		t.Errorf("DaysLeft = %d, want 0 for a one day certificate", info.DaysLeft)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "plain http", cfg: Config{}},
		{name: "manual pair", cfg: Config{CertFile: "c.pem", KeyFile: "k.pem"}},
		{name: "acme", cfg: Config{ACME: ACMEConfig{Enabled: true, Domains: []string{"api.example.com"}}}},
		{name: "missing key", cfg: Config{CertFile: "c.pem"}, wantErr: "key_file"},
		{name: "both sources", cfg: Config{CertFile: "c.pem", KeyFile: "k.pem", ACME: ACMEConfig{Enabled: true}}, wantErr: "both"},
		{name: "acme without domains", cfg: Config{ACME: ACMEConfig{Enabled: true}}, wantErr: "acme.domains"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetup(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg, m, err := Setup(Config{})
		if err != nil || cfg != nil || m != nil {
			t.Fatalf("Setup() = %v, %v, %v; want all nil", cfg, m, err)
		}
	})

	t.Run("manual", func(t *testing.T) {
		certFile, keyFile := writeTestPair(t)
		cfg, m, err := Setup(Config{CertFile: certFile, KeyFile: keyFile})
		if err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if cfg == nil || len(cfg.Certificates) != 1 || m != nil {
			t.Fatalf("Setup() = %v, %v", cfg, m)
		}
	})

	t.Run("acme", func(t *testing.T) {
		c := Config{ACME: ACMEConfig{Enabled: true, Domains: []string{"api.example.com"}, CacheDir: t.TempDir()}}
		cfg, m, err := Setup(c)
		if err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if cfg == nil || cfg.GetCertificate == nil {
			t.Fatal("expected GetCertificate to be set")
		}
		if m == nil || len(m.Domains()) != 1 {
			t.Fatalf("manager = %v", m)
		}
	})
}

func TestCachedCertificates(t *testing.T) {
	certPEM, keyPEM, err := generateTestCertificate()
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	blob := append(append([]byte{}, keyPEM...), certPEM...)
	if err := os.WriteFile(filepath.Join(dir, "api.example.com"), blob, 0600); err != nil {
		t.Fatal(err)
	}

	m := NewACMEManager("ops@example.com", []string{"api.example.com", "missing.example.com"}, dir)
	certs := m.CachedCertificates(context.Background())
	if len(certs) != 1 {
		t.Fatalf("CachedCertificates() returned %d, want 1", len(certs))
	}
	if certs[0].Domain != "api.example.com" || certs[0].Issuer != "localhost" {
		t.Errorf("cert = %+v", certs[0])
	}
}
