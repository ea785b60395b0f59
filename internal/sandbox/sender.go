package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/foxzi/courier/internal/channel"
)

// Modes
const (
	ModeProduction = "production"
	ModeSandbox    = "sandbox"
	ModeRedirect   = "redirect"
)

// Sender wraps a real sender and intercepts messages based on channel mode
type Sender struct {
	realSender       channel.Sender
	mode             string
	redirectTo       string
	storage          *Storage
	logger           *slog.Logger
	simulateErrors   bool
	errorProbability float64
	now              func() time.Time
}

// NewSender creates a new sandbox sender. An empty mode means production.
func NewSender(realSender channel.Sender, mode string, storage *Storage, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if mode == "" {
		mode = ModeProduction
	}
	return &Sender{
		realSender:       realSender,
		mode:             mode,
		storage:          storage,
		logger:           logger,
		errorProbability: 0.1,
		now:              time.Now,
	}
}

// SetRedirect sets the address that receives every message in redirect mode
func (s *Sender) SetRedirect(address string) {
	s.redirectTo = address
}

// SetErrorSimulation enables/disables error simulation
func (s *Sender) SetErrorSimulation(enabled bool, probability float64) {
	s.simulateErrors = enabled
	if probability > 0 && probability <= 1 {
		s.errorProbability = probability
	}
}

// Mode returns the configured mode
func (s *Sender) Mode() string {
	return s.mode
}

// Send routes the message based on mode
func (s *Sender) Send(ctx context.Context, msg *channel.Message) error {
	switch s.mode {
	case ModeSandbox:
		return s.handleSandbox(ctx, msg)
	case ModeRedirect:
		return s.handleRedirect(ctx, msg)
	default:
		if s.realSender == nil {
			return &channel.DeliveryError{
				Channel:     msg.Channel,
				Unavailable: true,
				Message:     "transport not configured",
			}
		}
		return s.realSender.Send(ctx, msg)
	}
}

func (s *Sender) capture(msg *channel.Message, mode string) *Message {
	return &Message{
		ID:         msg.ID,
		Channel:    string(msg.Channel),
		To:         msg.To,
		Name:       msg.Name,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Tags:       msg.Tags,
		Mode:       mode,
		CapturedAt: s.now(),
	}
}

// handleSandbox stores the message instead of sending
func (s *Sender) handleSandbox(ctx context.Context, msg *channel.Message) error {
	captured := s.capture(msg, ModeSandbox)

	if s.simulateErrors && rand.Float64() < s.errorProbability {
		errorTypes := []string{
			"recipient rejected",
			"gateway timeout",
			"quota exceeded",
		}
		captured.SimulatedErr = errorTypes[rand.Intn(len(errorTypes))]

		if err := s.storage.Save(ctx, captured); err != nil {
			s.logger.Error("sandbox: failed to save message", "error", err)
		}

		return &channel.DeliveryError{
			Channel:   msg.Channel,
			Temporary: captured.SimulatedErr != "recipient rejected",
			Message:   "simulated: " + captured.SimulatedErr,
		}
	}

	if err := s.storage.Save(ctx, captured); err != nil {
		return fmt.Errorf("sandbox: failed to save message: %w", err)
	}

	s.logger.Debug("sandbox: message captured",
		"id", msg.ID,
		"channel", msg.Channel,
		"to", msg.To,
	)

	return nil
}

// handleRedirect delivers the message to the configured test address
func (s *Sender) handleRedirect(ctx context.Context, msg *channel.Message) error {
	if s.redirectTo == "" || s.realSender == nil {
		s.logger.Warn("redirect: no redirect address or transport, using sandbox",
			"channel", msg.Channel,
		)
		return s.handleSandbox(ctx, msg)
	}

	captured := s.capture(msg, ModeRedirect)
	captured.OriginalTo = msg.To
	captured.To = s.redirectTo
	if err := s.storage.Save(ctx, captured); err != nil {
		s.logger.Warn("redirect: failed to save to sandbox", "error", err)
	}

	redirected := *msg
	redirected.To = s.redirectTo

	s.logger.Info("redirect: redirecting message",
		"id", msg.ID,
		"channel", msg.Channel,
		"original_to", msg.To,
		"redirect_to", s.redirectTo,
	)

	return s.realSender.Send(ctx, &redirected)
}
