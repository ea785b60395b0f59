package events

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Event is one of the event types declared in this package
type Event interface {
	event()
}

// CampaignTransitioned is published after a campaign status change is stored
type CampaignTransitioned struct {
	CampaignID string
	From       string
	To         string
	Actor      string
	At         time.Time
}

// CampaignDispatched is published when a campaign dispatch finishes
type CampaignDispatched struct {
	CampaignID string
	Total      int
	Sent       int
	Failed     int
	Duration   time.Duration
}

// MessageAttempted is published for every single send attempt
type MessageAttempted struct {
	Source  string // campaign or reminder
	Channel string
	OK      bool
}

// ReminderRecorded is published after a ledger entry is completed
type ReminderRecorded struct {
	InvoiceID string
	Tier      string
	Outcome   string
}

// SchedulerTicked is published after each reminder scan
type SchedulerTicked struct {
	Duration time.Duration
	Invoices int
	Sent     int
	Fault    error
}

// SendRateLimited is published when a rate limit rejects a send
type SendRateLimited struct {
	Channel string
	Level   string
}

func (CampaignTransitioned) event() {}
func (CampaignDispatched) event()   {}
func (MessageAttempted) event()     {}
func (ReminderRecorded) event()     {}
func (SchedulerTicked) event()      {}
func (SendRateLimited) event()      {}

// Handler receives published events
type Handler func(Event)

// Bus delivers events synchronously to subscribers
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	next     int
	logger   *slog.Logger
}

// NewBus creates an event bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		logger:   logger,
	}
}

// Subscribe registers h and returns a function that removes it
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish calls every handler in subscription order. A panicking handler is logged and skipped.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(h, e)
	}
}

func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked", "event", fmt.Sprintf("%T", e), "panic", r)
		}
	}()
	h(e)
}
