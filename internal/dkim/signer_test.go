package dkim

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
)

const testMessage = "From: notices@agency.example\r\n" +
	"To: client@example.org\r\n" +
	"Subject: Payment reminder\r\n" +
	"Date: Mon, 1 Jan 2024 12:00:00 +0000\r\n" +
	"X-Courier-Invoice-ID: inv-1\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Your invoice INV-1 is 7 days overdue.\r\n"

func TestSign(t *testing.T) {
	kp, err := GenerateKey("agency.example", "courier")
	if err != nil {
		t.Fatal(err)
	}

	signer := NewSigner(kp.PrivateKey, "agency.example", "courier")
	signed, err := signer.Sign([]byte(testMessage))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Error("signed message should start with DKIM-Signature header")
	}
	s := string(signed)
	if !strings.Contains(s, "d=agency.example") || !strings.Contains(s, "s=courier") {
		t.Error("signature should carry domain and selector")
	}
	if !strings.Contains(strings.ToLower(s), "x-courier-invoice-id") {
		t.Error("signature should cover the invoice header")
	}
	if !strings.Contains(s, "7 days overdue") {
		t.Error("signed message should contain original body")
	}
}

func TestSignVerifies(t *testing.T) {
	kp, err := GenerateKey("agency.example", "courier")
	if err != nil {
		t.Fatal(err)
	}

	signed, err := NewSigner(kp.PrivateKey, "agency.example", "courier").Sign([]byte(testMessage))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	record, err := kp.DNSRecord()
	if err != nil {
		t.Fatalf("DNSRecord failed: %v", err)
	}

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != kp.DNSName() {
				t.Errorf("unexpected lookup %s", domain)
			}
			return []string{record}, nil
		},
	})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(verifications) != 1 || verifications[0].Err != nil {
		t.Fatalf("signature did not verify: %+v", verifications)
	}
}

func TestNewSignerFromConfig(t *testing.T) {
	kp, err := GenerateKey("agency.example", "courier")
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(t.TempDir(), "dkim", "courier.key")
	if err := kp.SavePrivateKey(keyPath); err != nil {
		t.Fatal(err)
	}

	signer, err := NewSignerFromConfig(Config{Enabled: true, Domain: "agency.example", Selector: "courier", KeyFile: keyPath})
	if err != nil {
		t.Fatalf("NewSignerFromConfig failed: %v", err)
	}
	if signer.Domain() != "agency.example" || signer.Selector() != "courier" {
		t.Errorf("unexpected signer %s/%s", signer.Domain(), signer.Selector())
	}

	if _, err := NewSignerFromConfig(Config{Domain: "agency.example", Selector: "courier", KeyFile: "/nonexistent/key.pem"}); err == nil {
		t.Error("expected error for missing key file")
	}
	if _, err := NewSignerFromConfig(Config{KeyFile: keyPath}); err == nil {
		t.Error("expected error for missing domain")
	}
}

func TestPresentHeaders(t *testing.T) {
	keys := presentHeaders([]byte(testMessage))
	want := map[string]bool{"From": true, "To": true, "Subject": true, "X-Courier-Invoice-ID": true}
	for k := range want {
		found := false
		for _, got := range keys {
			if got == k {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s in %v", k, keys)
		}
	}
	for _, got := range keys {
		if got == "Message-ID" || got == "X-Courier-Campaign-ID" {
			t.Errorf("unexpected absent header %s", got)
		}
	}
}
