package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/channel"
	"github.com/foxzi/courier/internal/dispatch"
	"github.com/foxzi/courier/internal/events"
	"github.com/foxzi/courier/internal/template"
)

// ErrAlreadyRunning is returned by Start on a running scheduler
var ErrAlreadyRunning = errors.New("reminder scheduler already running")

// FaultError aborts a single tick. The scheduler keeps running.
type FaultError struct {
	Op  string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("reminder tick failed: %s: %v", e.Op, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// Config contains scheduler settings
type Config struct {
	Interval time.Duration
	Location *time.Location
	Tiers    []Tier
	Channels []channel.Channel
}

// TickResult summarizes one scan
type TickResult struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Invoices  int           `json:"invoices"`
	Recorded  int           `json:"recorded"`
	Skipped   int           `json:"skipped"`
	Error     string        `json:"error,omitempty"`
}

// Stats describes the scheduler state
type Stats struct {
	Running  bool           `json:"running"`
	Interval string         `json:"interval"`
	LastTick *TickResult    `json:"lastTick,omitempty"`
	ByTier   map[string]int `json:"byTier"`
	Total    int            `json:"total"`
}

// Scheduler sends tiered payment reminders for overdue invoices
type Scheduler struct {
	cfg        Config
	invoices   InvoiceSource
	directory  audience.Directory
	dispatcher *dispatch.Dispatcher
	ledger     *Ledger
	engine     *template.Engine
	bus        *events.Bus
	logger     *slog.Logger
	now        func() time.Time

	// runMu makes ticks single-flight
	runMu sync.Mutex

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastTick *TickResult
}

// NewScheduler creates a reminder scheduler
func NewScheduler(cfg Config, invoices InvoiceSource, directory audience.Directory, dispatcher *dispatch.Dispatcher, ledger *Ledger, engine *template.Engine, bus *events.Bus, logger *slog.Logger) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []channel.Channel{channel.Email, channel.WhatsApp}
	}
	if engine == nil {
		engine = template.NewEngine()
	}

	if err := ValidateTiers(cfg.Tiers); err != nil {
		return nil, err
	}
	for _, t := range cfg.Tiers {
		if err := engine.Validate(&template.Template{Name: t.Name, Subject: t.Subject, Body: t.Body}); err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.Name, err)
		}
	}
	cfg.Tiers = SortTiers(cfg.Tiers)
	cfg.Channels = channel.Normalize(cfg.Channels)

	return &Scheduler{
		cfg:        cfg,
		invoices:   invoices,
		directory:  directory,
		dispatcher: dispatcher,
		ledger:     ledger,
		engine:     engine,
		bus:        bus,
		logger:     logger.With("component", "reminders"),
		now:        time.Now,
	}, nil
}

// SetClock replaces the time source
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Ledger returns the scheduler's ledger
func (s *Scheduler) Ledger() *Ledger {
	return s.ledger
}

// Tiers returns the escalation table in ascending order
func (s *Scheduler) Tiers() []Tier {
	return SortTiers(s.cfg.Tiers)
}

// Start launches the periodic scan
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("reminder scheduler started", "interval", s.cfg.Interval, "tiers", len(s.cfg.Tiers))
	return nil
}

// Stop halts the periodic scan and waits for an in-flight tick
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("reminder scheduler stopped")
}

// Running reports whether the periodic scan is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.runMu.TryLock() {
				s.logger.Debug("tick skipped, previous run still in progress")
				continue
			}
			s.tick(ctx)
			s.runMu.Unlock()
		}
	}
}

// TriggerOnce runs one scan synchronously, waiting for an in-flight tick first
func (s *Scheduler) TriggerOnce(ctx context.Context) (*TickResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	return s.tick(ctx)
}

// Stats returns scheduler state and ledger counts
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.ledger.CountByTier(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	st := &Stats{
		Running:  s.running,
		Interval: s.cfg.Interval.String(),
		LastTick: s.lastTick,
		ByTier:   counts,
	}
	s.mu.Unlock()

	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

func (s *Scheduler) tick(ctx context.Context) (result *TickResult, err error) {
	start := s.now()
	result = &TickResult{StartedAt: start}

	defer func() {
		if r := recover(); r != nil {
			err = &FaultError{Op: "panic", Err: fmt.Errorf("%v", r)}
		}
		result.Duration = s.now().Sub(start)
		if err != nil {
			result.Error = err.Error()
			s.logger.Error("reminder tick failed", "error", err)
		} else {
			s.logger.Info("reminder tick completed",
				"invoices", result.Invoices,
				"recorded", result.Recorded,
				"skipped", result.Skipped,
				"duration", result.Duration,
			)
		}

		s.mu.Lock()
		s.lastTick = result
		s.mu.Unlock()

		s.bus.Publish(events.SchedulerTicked{
			Duration: result.Duration,
			Invoices: result.Invoices,
			Sent:     result.Recorded,
			Fault:    err,
		})
	}()

	err = s.scan(ctx, start, result)
	return result, err
}

func (s *Scheduler) scan(ctx context.Context, now time.Time, result *TickResult) error {
	y, m, d := now.In(s.cfg.Location).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)

	invoices, err := s.invoices.OpenInvoices(ctx, today)
	if err != nil {
		return &FaultError{Op: "list invoices", Err: err}
	}
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].ID < invoices[j].ID })

	for _, inv := range invoices {
		if ctx.Err() != nil {
			return nil
		}
		if !inv.Open() {
			continue
		}

		days := DaysPastDue(inv.DueDate, now, s.cfg.Location)
		if days < 1 {
			continue
		}
		result.Invoices++

		due := DueTiers(s.cfg.Tiers, days)
		if len(due) == 0 {
			continue
		}

		recorded, err := s.processInvoice(ctx, inv, days, due)
		result.Recorded += recorded
		if err != nil {
			var fault *FaultError
			if errors.As(err, &fault) {
				return err
			}
			result.Skipped++
			s.logger.Warn("invoice skipped", "invoice_id", inv.ID, "error", err)
		}
	}

	return nil
}

// processInvoice sends every due tier of inv that has no ledger entry yet
func (s *Scheduler) processInvoice(ctx context.Context, inv *Invoice, days int, due []Tier) (int, error) {
	unlock := s.ledger.Lock(inv.ID)
	defer unlock()

	client, err := s.directory.GetClient(ctx, inv.ClientID)
	if err != nil {
		return 0, fmt.Errorf("client %s: %w", inv.ClientID, err)
	}

	recorded := 0
	for _, tier := range due {
		has, err := s.ledger.Has(ctx, inv.ID, tier.Name)
		if err != nil {
			return recorded, &FaultError{Op: "read ledger", Err: err}
		}
		if has {
			continue
		}

		rendered, err := s.engine.Render(&template.Template{Name: tier.Name, Subject: tier.Subject, Body: tier.Body}, reminderData{
			ClientName:    client.Name,
			InvoiceNumber: inv.Number,
			Amount:        inv.Amount,
			Currency:      inv.Currency,
			DueDate:       inv.DueDate.In(s.cfg.Location).Format("2006-01-02"),
			DaysOverdue:   days,
			Tier:          tier.Name,
			TierLabel:     tierLabel(tier.Name),
		})
		if err != nil {
			return recorded, fmt.Errorf("render tier %s: %w", tier.Name, err)
		}

		reserved, err := s.ledger.Reserve(ctx, inv.ID, tier, s.now())
		if err != nil {
			return recorded, &FaultError{Op: "reserve ledger entry", Err: err}
		}
		if !reserved {
			continue
		}

		// a reserved tier is always completed, even when the tick is cancelled
		sendCtx := context.WithoutCancel(ctx)

		outcome := OutcomeNoChannels
		sent, failed := 0, 0
		plans := audience.PlansForClient(client, s.cfg.Channels, audience.CategoryPaymentDue)
		if len(plans) > 0 {
			res := s.dispatcher.SendPlans(sendCtx, plans, dispatch.Content{
				Subject: rendered.Subject,
				Body:    rendered.Body,
				Source:  dispatch.SourceReminder,
				Tags: map[string]string{
					"invoice_id": inv.ID,
					"tier":       tier.Name,
				},
			})
			outcome = summarize(res)
			sent, failed = res.Sent, res.Failed
		}

		if err := s.ledger.Complete(sendCtx, inv.ID, tier.Name, outcome, sent, failed, s.now()); err != nil {
			return recorded, &FaultError{Op: "complete ledger entry", Err: err}
		}
		recorded++

		s.logger.Info("reminder recorded",
			"invoice_id", inv.ID,
			"tier", tier.Name,
			"days_past_due", days,
			"outcome", outcome,
		)
		s.bus.Publish(events.ReminderRecorded{
			InvoiceID: inv.ID,
			Tier:      tier.Name,
			Outcome:   outcome,
		})
	}

	return recorded, nil
}

// summarize renders per-channel outcomes as "email:sent,whatsapp:failed"
func summarize(res *dispatch.Result) string {
	parts := make([]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		parts = append(parts, string(o.Channel)+":"+string(o.Status))
	}
	return strings.Join(parts, ",")
}
