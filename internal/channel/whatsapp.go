package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// WhatsAppConfig contains message gateway broker settings
type WhatsAppConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Producer   string
}

// Publisher publishes a single AMQP message and returns once the broker
// has confirmed or refused it
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

// Broker verdicts on a confirmed publish
var (
	ErrPublishNacked = errors.New("broker nacked the message")
	ErrUnroutable    = errors.New("message returned as unroutable")
)

// returnBuffer bounds returns awaiting their publisher. It must exceed the
// number of concurrent publishes on one channel.
const returnBuffer = 1024

// confirmPublisher publishes mandatory messages on a channel in confirm mode
type confirmPublisher struct {
	ch      *amqp.Channel
	returns chan amqp.Return

	mu       sync.Mutex
	returned map[string]string // message id -> reply text
}

func newConfirmPublisher(ch *amqp.Channel) (*confirmPublisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &confirmPublisher{
		ch:       ch,
		returns:  ch.NotifyReturn(make(chan amqp.Return, returnBuffer)),
		returned: make(map[string]string),
	}, nil
}

// Publish waits for the confirmation. The broker sends basic.return before
// the ack of an unroutable message, so a return is already buffered when
// the ack is seen.
func (p *confirmPublisher) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, true, false, msg)
	if err != nil {
		return err
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if reason, ok := p.takeReturn(msg.MessageId); ok {
		return fmt.Errorf("%w: %s", ErrUnroutable, reason)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

func (p *confirmPublisher) takeReturn(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

drain:
	for {
		select {
		case r, ok := <-p.returns:
			if !ok {
				break drain
			}
			p.returned[r.MessageId] = r.ReplyText
		default:
			break drain
		}
	}

	reason, ok := p.returned[id]
	delete(p.returned, id)
	return reason, ok
}

func (p *confirmPublisher) close() {
	if p.ch != nil {
		p.ch.Close()
	}
}

// Envelope wraps a notification for the gateway
type Envelope struct {
	Meta EnvelopeMeta `json:"meta"`
	Data Notification `json:"data"`
}

// EnvelopeMeta carries routing and correlation data
type EnvelopeMeta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Notification is the gateway payload for one recipient
type Notification struct {
	Channel Channel           `json:"channel"`
	To      string            `json:"to"`
	Name    string            `json:"name,omitempty"`
	Body    string            `json:"body"`
	Meta    map[string]string `json:"meta,omitempty"`
}

const whatsAppEventType = "notifications.whatsapp.v1"

// WhatsAppSender publishes messages to the WhatsApp gateway exchange
type WhatsAppSender struct {
	cfg       WhatsAppConfig
	publisher Publisher

	mu   sync.Mutex
	conn *amqp.Connection
	live *confirmPublisher
}

// NewWhatsAppSender creates a sender that dials the broker on first use
func NewWhatsAppSender(cfg WhatsAppConfig) *WhatsAppSender {
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "whatsapp.send"
	}
	if cfg.Producer == "" {
		cfg.Producer = "courier"
	}
	return &WhatsAppSender{cfg: cfg}
}

// NewWhatsAppSenderWithPublisher creates a sender over an existing publisher
func NewWhatsAppSenderWithPublisher(cfg WhatsAppConfig, p Publisher) *WhatsAppSender {
	s := NewWhatsAppSender(cfg)
	s.publisher = p
	return s
}

// Send publishes one notification envelope
func (s *WhatsAppSender) Send(ctx context.Context, msg *Message) error {
	if msg.To == "" {
		return &DeliveryError{Channel: WhatsApp, Message: "empty recipient number"}
	}

	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}

	env := Envelope{
		Meta: EnvelopeMeta{
			ID:            id,
			CorrelationID: msg.Tags["campaign_id"],
			Producer:      s.cfg.Producer,
			Time:          time.Now().UTC(),
			Type:          whatsAppEventType,
		},
		Data: Notification{
			Channel: WhatsApp,
			To:      msg.To,
			Name:    msg.Name,
			Body:    msg.Body,
			Meta:    msg.Tags,
		},
	}
	if env.Meta.CorrelationID == "" {
		env.Meta.CorrelationID = env.Meta.ID
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pub, err := s.getPublisher()
	if err != nil {
		return &DeliveryError{
			Channel:     WhatsApp,
			Temporary:   true,
			Unavailable: true,
			Message:     "broker connection failed",
			Err:         err,
		}
	}

	err = pub.Publish(ctx, s.cfg.Exchange, s.cfg.RoutingKey, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         s.cfg.Producer,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPublishNacked):
		return &DeliveryError{Channel: WhatsApp, Temporary: true, Message: "broker refused message", Err: err}
	case errors.Is(err, ErrUnroutable):
		return &DeliveryError{Channel: WhatsApp, Message: "no gateway queue bound", Err: err}
	case ctx.Err() != nil:
		return &DeliveryError{Channel: WhatsApp, Temporary: true, Message: "publish cancelled", Err: err}
	default:
		s.reset(pub)
		return &DeliveryError{Channel: WhatsApp, Temporary: true, Message: "publish failed", Err: err}
	}
}

func (s *WhatsAppSender) getPublisher() (Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publisher != nil {
		return s.publisher, nil
	}
	if s.live != nil && !s.live.ch.IsClosed() {
		return s.live, nil
	}

	if s.conn == nil || s.conn.IsClosed() {
		conn, err := amqp.Dial(s.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		s.conn = conn
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	live, err := newConfirmPublisher(ch)
	if err != nil {
		ch.Close()
		return nil, err
	}
	s.live = live
	return live, nil
}

// reset drops the channel behind failed. A publish that failed on an older
// channel leaves the current one to the other in-flight sends.
func (s *WhatsAppSender) reset(failed Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil && Publisher(s.live) == failed {
		s.live.close()
		s.live = nil
	}
}

// Close closes the broker connection
func (s *WhatsAppSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		s.live.close()
		s.live = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
