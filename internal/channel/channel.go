package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Channel is a delivery medium
type Channel string

const (
	Email    Channel = "email"
	SMS      Channel = "sms"
	WhatsApp Channel = "whatsapp"
)

// All lists every supported channel in canonical order
var All = []Channel{Email, SMS, WhatsApp}

// Valid reports whether c is a supported channel
func (c Channel) Valid() bool {
	switch c {
	case Email, SMS, WhatsApp:
		return true
	}
	return false
}

// Rank returns the canonical sort position of the channel
func (c Channel) Rank() int {
	for i, ch := range All {
		if ch == c {
			return i
		}
	}
	return len(All)
}

// Parse converts a string to a Channel
func Parse(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// Normalize removes duplicates and sorts channels canonically
func Normalize(channels []Channel) []Channel {
	seen := make(map[Channel]bool, len(channels))
	out := make([]Channel, 0, len(channels))
	for _, c := range channels {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

// Message is a single outbound message to one address over one channel
type Message struct {
	ID      string            `json:"id"`
	Channel Channel           `json:"channel"`
	To      string            `json:"to"`
	Name    string            `json:"name,omitempty"`
	Subject string            `json:"subject,omitempty"`
	Body    string            `json:"body"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Sender delivers a message over a transport
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(ctx context.Context, msg *Message) error

func (f SenderFunc) Send(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// ErrTransportUnavailable marks failures where a whole channel cannot deliver
var ErrTransportUnavailable = errors.New("transport unavailable")

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Channel     Channel
	Temporary   bool
	Unavailable bool
	Message     string
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Channel, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Channel, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransportUnavailable) match unavailable delivery errors
func (e *DeliveryError) Is(target error) bool {
	return target == ErrTransportUnavailable && e.Unavailable
}

// IsTransportUnavailable reports whether err means the transport is down
func IsTransportUnavailable(err error) bool {
	return errors.Is(err, ErrTransportUnavailable)
}

// Router sends each message through the sender registered for its channel
type Router struct {
	mu      sync.RWMutex
	senders map[Channel]Sender
	logger  *slog.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		senders: make(map[Channel]Sender),
		logger:  logger,
	}
}

// Register sets the sender for a channel
func (r *Router) Register(ch Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = s
}

// Channels returns the channels that have a sender
func (r *Router) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	return Normalize(out)
}

// Send routes the message by channel
func (r *Router) Send(ctx context.Context, msg *Message) error {
	r.mu.RLock()
	s, ok := r.senders[msg.Channel]
	r.mu.RUnlock()

	if !ok {
		return &DeliveryError{
			Channel:     msg.Channel,
			Unavailable: true,
			Message:     "no sender configured",
		}
	}

	return s.Send(ctx, msg)
}
