package channel

import (
	"context"
	"fmt"

	"github.com/foxzi/courier/internal/ratelimit"
)

// Limiter decides whether a send may proceed
type Limiter interface {
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
}

// LimitedSender applies rate limits before delegating to the next sender
type LimitedSender struct {
	next    Sender
	limiter Limiter
	onDeny  func(ch Channel, level ratelimit.Level)
}

// NewLimitedSender wraps next with limiter
func NewLimitedSender(next Sender, limiter Limiter) *LimitedSender {
	return &LimitedSender{next: next, limiter: limiter}
}

// OnDeny registers a callback invoked for every rejected send
func (s *LimitedSender) OnDeny(fn func(ch Channel, level ratelimit.Level)) {
	s.onDeny = fn
}

// Send checks the limits and forwards the message
func (s *LimitedSender) Send(ctx context.Context, msg *Message) error {
	res, err := s.limiter.Allow(ctx, &ratelimit.Request{
		Channel:   string(msg.Channel),
		Recipient: msg.To,
	})
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}

	if !res.Allowed {
		if s.onDeny != nil {
			s.onDeny(msg.Channel, res.DeniedBy)
		}
		return &DeliveryError{
			Channel: msg.Channel,
			Message: fmt.Sprintf("rate limit exceeded (%s), retry after %s", res.DeniedBy, res.RetryAfter.Round(1e9)),
		}
	}

	return s.next.Send(ctx, msg)
}
