package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSConfig contains SMS gateway settings
type SMSConfig struct {
	URL      string
	APIKey   string
	SenderID string
	Timeout  time.Duration
}

// SMSSender posts messages to an HTTP SMS gateway
type SMSSender struct {
	cfg        SMSConfig
	httpClient *http.Client
}

// NewSMSSender creates a new SMS gateway sender
func NewSMSSender(cfg SMSConfig) *SMSSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMSSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type smsRequest struct {
	ID       string            `json:"id"`
	To       string            `json:"to"`
	From     string            `json:"from,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Send submits one SMS
func (s *SMSSender) Send(ctx context.Context, msg *Message) error {
	if msg.To == "" {
		return &DeliveryError{Channel: SMS, Message: "empty recipient number"}
	}

	body, err := json.Marshal(smsRequest{
		ID:       msg.ID,
		To:       msg.To,
		From:     s.cfg.SenderID,
		Text:     msg.Body,
		Metadata: msg.Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: SMS, Unavailable: true, Message: "invalid gateway url", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{
			Channel:     SMS,
			Temporary:   true,
			Unavailable: true,
			Message:     "gateway request failed",
			Err:         err,
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var gwResp smsResponse
	_ = json.Unmarshal(respBody, &gwResp)
	reason := gwResp.Error
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &DeliveryError{Channel: SMS, Unavailable: true, Message: fmt.Sprintf("gateway rejected credentials: %s", reason)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &DeliveryError{Channel: SMS, Temporary: true, Message: fmt.Sprintf("gateway error %d: %s", resp.StatusCode, reason)}
	default:
		return &DeliveryError{Channel: SMS, Message: fmt.Sprintf("gateway rejected message %d: %s", resp.StatusCode, reason)}
	}
}
