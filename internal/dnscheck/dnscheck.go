// Package dnscheck verifies that an email sender domain publishes the SPF,
// DKIM and DMARC records receiving servers use to accept campaign mail.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"regexp"
	"strings"
)

// ErrInvalidDomain is returned for malformed domain names
var ErrInvalidDomain = errors.New("invalid domain name")

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// Status of a single record check
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// Result represents a single DNS check result
type Result struct {
	Type    string `json:"type"`
	Status  Status `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report contains all record checks for a sender domain
type Report struct {
	Domain  string   `json:"domain"`
	Results []Result `json:"results"`
}

// Healthy reports whether every record was found without errors. Warnings
// are advisory.
func (r *Report) Healthy() bool {
	for _, res := range r.Results {
		if res.Status == StatusError || res.Status == StatusNotFound {
			return false
		}
	}
	return true
}

// Options selects the DKIM record to check
type Options struct {
	// Selector skips the DKIM check when empty
	Selector string
	// PublicKey is the base64 p= value the signer expects to be published.
	// Empty skips the comparison.
	PublicKey string
}

// TXTResolver looks up TXT records. *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Checker runs sender domain checks
type Checker struct {
	resolver TXTResolver
}

// New creates a checker. A nil resolver uses net.DefaultResolver.
func New(resolver TXTResolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// SenderDomain returns the lowercased domain of a From address, or "" when
// the address cannot be parsed.
func SenderDomain(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return ""
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// Check looks up SPF, DKIM and DMARC for domain
func (c *Checker) Check(ctx context.Context, domain string, opts Options) (*Report, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}

	report := &Report{Domain: domain}
	report.Results = append(report.Results, c.checkSPF(ctx, domain))
	if opts.Selector != "" {
		report.Results = append(report.Results, c.checkDKIM(ctx, domain, opts))
	}
	report.Results = append(report.Results, c.checkDMARC(ctx, domain))

	return report, nil
}

// lookup joins split TXT strings. A missing name yields a not_found result.
func (c *Checker) lookup(ctx context.Context, name string, result *Result) ([]string, bool) {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			result.Status = StatusNotFound
			return nil, false
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return nil, false
	}
	return records, true
}

func (c *Checker) checkSPF(ctx context.Context, domain string) Result {
	result := Result{Type: "SPF"}

	records, ok := c.lookup(ctx, domain, &result)
	if !ok {
		if result.Status == StatusNotFound {
			result.Message = "No SPF record found"
		}
		return result
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		result.Status = StatusOK
		result.Value = txt
		switch {
		case strings.Contains(txt, "+all"):
			result.Status = StatusWarning
			result.Message = "SPF uses +all and allows any sender"
		case strings.Contains(txt, "-all"):
			result.Message = "strict policy (-all)"
		case strings.Contains(txt, "~all"):
			result.Message = "soft fail (~all)"
		}
		return result
	}

	result.Status = StatusNotFound
	result.Message = "No SPF record found"
	return result
}

func (c *Checker) checkDKIM(ctx context.Context, domain string, opts Options) Result {
	name := opts.Selector + "._domainkey." + domain
	result := Result{Type: "DKIM (" + name + ")"}

	records, ok := c.lookup(ctx, name, &result)
	if !ok {
		if result.Status == StatusNotFound {
			result.Message = fmt.Sprintf("No DKIM record for selector %q", opts.Selector)
		}
		return result
	}

	record := strings.Join(records, "")
	result.Value = truncate(record, 100)

	tags := parseTags(record)
	if tags["v"] != "DKIM1" {
		result.Status = StatusWarning
		result.Message = "TXT record is not a DKIM key record"
		return result
	}

	published, hasKey := tags["p"]
	switch {
	case !hasKey || published == "":
		result.Status = StatusError
		result.Message = "DKIM key is missing or revoked (empty p=)"
	case opts.PublicKey != "" && published != opts.PublicKey:
		result.Status = StatusError
		result.Message = "published key does not match the signing key"
	default:
		result.Status = StatusOK
		if opts.PublicKey != "" {
			result.Message = "published key matches the signing key"
		}
	}
	return result
}

func (c *Checker) checkDMARC(ctx context.Context, domain string) Result {
	result := Result{Type: "DMARC"}

	records, ok := c.lookup(ctx, "_dmarc."+domain, &result)
	if !ok {
		if result.Status == StatusNotFound {
			result.Message = "No DMARC record found"
		}
		return result
	}

	record := strings.Join(records, "")
	result.Value = record

	tags := parseTags(record)
	if tags["v"] != "DMARC1" {
		result.Status = StatusWarning
		result.Message = "TXT record is not a DMARC record"
		return result
	}

	result.Status = StatusOK
	switch tags["p"] {
	case "reject":
		result.Message = "reject policy"
	case "quarantine":
		result.Message = "quarantine policy"
	default:
		result.Status = StatusWarning
		result.Message = "none policy (monitoring only)"
	}
	return result
}

// parseTags splits a tag=value; record. Whitespace inside values is dropped.
func parseTags(record string) map[string]string {
	tags := make(map[string]string)
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		tags[strings.TrimSpace(k)] = strings.Join(strings.Fields(v), "")
	}
	return tags
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
