package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/courier/internal/config"
	"github.com/foxzi/courier/internal/directory"
)

func TestGenerateRandomString(t *testing.T) {
	for _, length := range []int{8, 16, 32, 64} {
		if result := generateRandomString(length); len(result) != length {
			t.Errorf("generateRandomString(%d) returned string of length %d", length, len(result))
		}
	}

	if generateRandomString(32) == generateRandomString(32) {
		t.Error("generateRandomString should generate unique strings")
	}
}

func setInitFlags(t *testing.T, mode string) {
	t.Helper()
	initDomain = "agency.test"
	initSMTPHost = "smtp.agency.test"
	initDataDir = t.TempDir()
	initMode = mode
	initAPIKey = "testapikey"
}

func TestGenerateConfigLoads(t *testing.T) {
	for _, mode := range []string{"production", "sandbox", "redirect"} {
		t.Run(mode, func(t *testing.T) {
			setInitFlags(t, mode)

			hash, err := bcrypt.GenerateFromPassword([]byte(initAPIKey), bcrypt.MinCost)
			if err != nil {
				t.Fatal(err)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(generateConfig(string(hash), "")), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if err != nil {
				t.Fatalf("generated config does not load: %v", err)
			}

			if cfg.Channels.Email.Mode != mode {
				t.Errorf("email mode = %q, want %q", cfg.Channels.Email.Mode, mode)
			}
			if len(cfg.API.Keys) != 1 || bcrypt.CompareHashAndPassword([]byte(cfg.API.Keys[0].Hash), []byte(initAPIKey)) != nil {
				t.Errorf("API key hash does not match the generated key")
			}
			if cfg.Storage.Path != filepath.Join(initDataDir, "courier.db") {
				t.Errorf("Storage.Path = %q", cfg.Storage.Path)
			}
			if mode == "redirect" && cfg.Channels.Email.RedirectTo != "qa@agency.test" {
				t.Errorf("RedirectTo = %q", cfg.Channels.Email.RedirectTo)
			}
		})
	}
}

func TestGenerateConfigWithDKIM(t *testing.T) {
	setInitFlags(t, "sandbox")

	keyPath := filepath.Join(initDataDir, "dkim", "agency.test.key")
	out := generateConfig("$2a$10$abc", keyPath)

	if !strings.Contains(out, "    dkim:\n      enabled: true") {
		t.Error("Generated config should have DKIM enabled")
	}
	if !strings.Contains(out, keyPath) {
		t.Error("Generated config should contain DKIM key path")
	}
}

func TestSampleDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.yaml")
	if err := os.WriteFile(path, []byte(sampleDirectory), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := directory.NewFileDirectory(path)
	if err != nil {
		t.Fatalf("sample directory does not parse: %v", err)
	}

	invoices, err := d.OpenInvoices(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 1 || invoices[0].ClientID != "c-0001" {
		t.Errorf("invoices = %+v", invoices)
	}
}
