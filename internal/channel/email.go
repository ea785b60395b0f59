package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// EmailConfig contains SMTP relay settings
type EmailConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	FromName           string
	Security           string // none, starttls, tls
	HeloName           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Signer signs raw RFC 5322 messages (DKIM)
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// EmailSender submits messages to an SMTP relay
type EmailSender struct {
	cfg    EmailConfig
	signer Signer
	logger *slog.Logger
}

// NewEmailSender creates a new email sender
func NewEmailSender(cfg EmailConfig, logger *slog.Logger) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	return &EmailSender{cfg: cfg, logger: logger}
}

// SetSigner sets the DKIM signer for outgoing messages
func (s *EmailSender) SetSigner(signer Signer) {
	s.signer = signer
}

// Send delivers a single message to the relay
func (s *EmailSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Channel: Email, Temporary: true, Message: "cancelled", Err: err}
	}
	if msg.To == "" {
		return &DeliveryError{Channel: Email, Message: "empty recipient address"}
	}

	data := s.buildMessage(msg)
	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned", "error", err)
		} else {
			data = signed
		}
	}

	c, err := s.dial()
	if err != nil {
		return &DeliveryError{
			Channel:     Email,
			Temporary:   true,
			Unavailable: true,
			Message:     "relay connection failed",
			Err:         err,
		}
	}
	defer c.Close()

	c.CommandTimeout = s.cfg.Timeout
	c.SubmissionTimeout = s.cfg.Timeout

	// DialStartTLS has already greeted the server
	if s.cfg.Security != "starttls" {
		if err := c.Hello(s.cfg.HeloName); err != nil {
			return s.classify("HELO failed", err)
		}
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := c.Auth(auth); err != nil {
			return &DeliveryError{
				Channel:     Email,
				Unavailable: true,
				Message:     "relay authentication failed",
				Err:         err,
			}
		}
	}

	if err := c.SendMail(s.cfg.From, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return s.classify("submission failed", err)
	}

	if err := c.Quit(); err != nil {
		s.logger.Debug("QUIT failed", "error", err)
	}

	return nil
}

func (s *EmailSender) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	switch s.cfg.Security {
	case "tls":
		return smtp.DialTLS(addr, tlsConfig)
	case "starttls":
		return smtp.DialStartTLS(addr, tlsConfig)
	default:
		return smtp.Dial(addr)
	}
}

// classify maps SMTP reply codes onto delivery errors
func (s *EmailSender) classify(what string, err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Channel:   Email,
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
			Message:   what,
			Err:       err,
		}
	}
	return &DeliveryError{Channel: Email, Temporary: true, Message: what, Err: err}
}

// buildMessage constructs RFC 5322 message data
func (s *EmailSender) buildMessage(msg *Message) []byte {
	var buf bytes.Buffer

	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.cfg.FromName), s.cfg.From)
	}
	to := msg.To
	if msg.Name != "" {
		to = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.Name), msg.To)
	}

	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", id, domainOf(s.cfg.From)))
	for _, k := range []string{"campaign_id", "invoice_id", "tier", "variant"} {
		if v, ok := msg.Tags[k]; ok && v != "" {
			buf.WriteString(fmt.Sprintf("X-Courier-%s: %s\r\n", headerKey(k), v))
		}
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	buf.WriteString("\r\n")

	return buf.Bytes()
}

func headerKey(tag string) string {
	parts := strings.Split(tag, "_")
	for i, p := range parts {
		if p == "id" {
			parts[i] = "ID"
			continue
		}
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
