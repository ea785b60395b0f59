package dkim

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
)

// Config contains DKIM signing settings for the email channel
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// headerKeys are the headers covered by the signature
var headerKeys = []string{
	"From", "To", "Subject", "Date", "Message-ID",
	"MIME-Version", "Content-Type",
	"X-Courier-Campaign-ID", "X-Courier-Invoice-ID",
}

// Signer signs outgoing messages with DKIM
type Signer struct {
	privateKey *rsa.PrivateKey
	domain     string
	selector   string
}

// NewSigner creates a new DKIM signer
func NewSigner(privateKey *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{
		privateKey: privateKey,
		domain:     domain,
		selector:   selector,
	}
}

// NewSignerFromConfig loads the key file named by cfg
func NewSignerFromConfig(cfg Config) (*Signer, error) {
	if cfg.Domain == "" || cfg.Selector == "" {
		return nil, fmt.Errorf("dkim domain and selector are required")
	}

	privateKey, err := LoadPrivateKey(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}

	return NewSigner(privateKey, cfg.Domain, cfg.Selector), nil
}

// Sign signs the message and returns the signed message
func (s *Signer) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.privateKey,
		Hash:                   crypto.SHA256,
		HeaderKeys:             presentHeaders(message),
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	return signed.Bytes(), nil
}

// Domain returns the DKIM domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DKIM selector
func (s *Signer) Selector() string {
	return s.selector
}

// presentHeaders returns the subset of headerKeys found in the message header block
func presentHeaders(message []byte) []string {
	end := bytes.Index(message, []byte("\r\n\r\n"))
	if end < 0 {
		end = len(message)
	}
	header := bytes.ToLower(message[:end])

	keys := []string{"From"}
	for _, k := range headerKeys[1:] {
		prefix := []byte(strings.ToLower(k) + ":")
		if bytes.HasPrefix(header, prefix) || bytes.Contains(header, append([]byte("\n"), prefix...)) {
			keys = append(keys, k)
		}
	}
	return keys
}
