package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/channel"
	"github.com/foxzi/courier/internal/events"
	"github.com/foxzi/courier/internal/models"
	"github.com/foxzi/courier/internal/template"
)

// Sources of dispatched messages
const (
	SourceCampaign = "campaign"
	SourceReminder = "reminder"
)

// Config contains dispatcher settings
type Config struct {
	// Concurrency bounds in-flight sends per dispatch
	Concurrency int
	// CostPerMessage is charged for every successful send on a channel
	CostPerMessage map[channel.Channel]decimal.Decimal
}

// Content is a message sent to a list of plans
type Content struct {
	Subject string
	Body    string
	Tags    map[string]string
	Source  string
	// Personalize renders Subject and Body as templates per plan
	Personalize bool
}

// PlanData is the template data available when personalizing a message
type PlanData struct {
	ClientID string
	Name     string
	Channel  string
	Address  string
	Campaign string
	Variant  string
}

// Result aggregates the outcomes of one dispatch
type Result struct {
	Recipients int                                   `json:"recipients"`
	Total      int                                   `json:"total"`
	Sent       int                                   `json:"sent"`
	Failed     int                                   `json:"failed"`
	PerChannel map[channel.Channel]models.CountStats `json:"perChannel"`
	PerVariant map[string]models.CountStats          `json:"perVariant,omitempty"`
	Cost       decimal.Decimal                       `json:"cost"`
	Outcomes   []models.Delivery                     `json:"outcomes"`
	Duration   time.Duration                         `json:"duration"`
}

// Empty reports whether nothing was attempted
func (r *Result) Empty() bool {
	return r.Total == 0
}

// AllUnavailable reports whether every attempt failed because its transport was down
func (r *Result) AllUnavailable() bool {
	if r.Total == 0 || r.Sent > 0 {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.Unavailable {
			return false
		}
	}
	return true
}

// PartialError returns a PartialDeliveryError when any attempt failed
func (r *Result) PartialError() error {
	if r.Failed == 0 {
		return nil
	}
	reasons := make(map[string]int)
	for _, o := range r.Outcomes {
		if o.Status == models.DeliveryFailed {
			reasons[o.Error]++
		}
	}
	return &PartialDeliveryError{Total: r.Total, Failed: r.Failed, Reasons: reasons}
}

// PartialDeliveryError summarizes failed sends of a dispatch that otherwise completed
type PartialDeliveryError struct {
	Total   int
	Failed  int
	Reasons map[string]int
}

func (e *PartialDeliveryError) Error() string {
	keys := make([]string, 0, len(e.Reasons))
	for k := range e.Reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s (x%d)", k, e.Reasons[k]))
	}
	return fmt.Sprintf("%d of %d deliveries failed: %s", e.Failed, e.Total, strings.Join(parts, "; "))
}

// Dispatcher fans plans out to channel senders with bounded concurrency
type Dispatcher struct {
	resolver *audience.Resolver
	sender   channel.Sender
	engine   *template.Engine
	bus      *events.Bus
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a dispatcher
func New(resolver *audience.Resolver, sender channel.Sender, engine *template.Engine, bus *events.Bus, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if engine == nil {
		engine = template.NewEngine()
	}
	return &Dispatcher{
		resolver: resolver,
		sender:   sender,
		engine:   engine,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Concurrency returns the fan-out bound
func (d *Dispatcher) Concurrency() int {
	return d.cfg.Concurrency
}

// Preview resolves the campaign audience without sending
func (d *Dispatcher) Preview(ctx context.Context, c *models.Campaign) (*audience.Resolution, error) {
	return d.resolver.Resolve(ctx, c.TargetAudience, c.Channels, c.Category())
}

// CheckContent executes every template a dispatch of c would render
// against sample recipient data. Unknown fields only fail on execution, so
// parsing alone is not enough. The first failure is reported as a
// ValidationError naming the field it came from.
func (d *Dispatcher) CheckContent(c *models.Campaign) error {
	sample := PlanData{
		ClientID: "sample",
		Name:     "Sample Client",
		Address:  "sample@example.com",
		Campaign: c.Title,
	}

	check := func(field, src string) error {
		if !strings.Contains(src, "{{") {
			return nil
		}
		if _, err := d.engine.RenderString(src, sample); err != nil {
			return &models.ValidationError{Field: field, Message: fmt.Sprintf("invalid template: %v", err)}
		}
		return nil
	}

	if err := check("title", c.Title); err != nil {
		return err
	}
	if err := check("content", c.Content); err != nil {
		return err
	}
	for _, ch := range channel.All {
		cfg, ok := c.ChannelConfigs[ch]
		if !ok {
			continue
		}
		sample.Channel = string(ch)
		if err := check("channelConfigs."+string(ch)+".subject", cfg.Subject); err != nil {
			return err
		}
		if err := check("channelConfigs."+string(ch)+".content", cfg.Content); err != nil {
			return err
		}
	}
	if c.ABTest.Enabled {
		for _, v := range c.ABTest.Variants {
			sample.Variant = v.Name
			if err := check("abTest.variants."+v.Name+".subject", v.Subject); err != nil {
				return err
			}
			if err := check("abTest.variants."+v.Name+".content", v.Content); err != nil {
				return err
			}
		}
	}

	return nil
}

type job struct {
	plan    audience.Plan
	variant *models.Variant
	content Content
}

// Send resolves the campaign audience and sends to every plan. The error
// is non-nil only when the audience could not be resolved; per-recipient
// failures are reported in the Result.
func (d *Dispatcher) Send(ctx context.Context, c *models.Campaign) (*Result, error) {
	res, err := d.Preview(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	jobs := make([]job, 0, len(res.Plans))
	for _, p := range res.Plans {
		var variant *models.Variant
		if c.ABTest.Enabled {
			variant = AssignVariant(p.ClientID, c.ABTest.Variants)
		}
		subject, body := c.ContentFor(p.Channel, variant)
		jobs = append(jobs, job{
			plan:    p,
			variant: variant,
			content: Content{
				Subject:     subject,
				Body:        body,
				Tags:        map[string]string{"campaign_id": c.ID},
				Source:      SourceCampaign,
				Personalize: true,
			},
		})
	}

	result := d.run(ctx, c.ID, c.Title, jobs)
	result.Recipients = res.Recipients

	d.logger.Info("campaign dispatched",
		"campaign_id", c.ID,
		"recipients", result.Recipients,
		"total", result.Total,
		"sent", result.Sent,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	if perr := result.PartialError(); perr != nil {
		d.logger.Warn("partial delivery", "campaign_id", c.ID, "error", perr)
	}

	return result, nil
}

// SendPlans sends the same content to every plan
func (d *Dispatcher) SendPlans(ctx context.Context, plans []audience.Plan, content Content) *Result {
	if content.Source == "" {
		content.Source = SourceReminder
	}
	jobs := make([]job, 0, len(plans))
	for _, p := range plans {
		jobs = append(jobs, job{plan: p, content: content})
	}
	return d.run(ctx, "", "", jobs)
}

func (d *Dispatcher) run(ctx context.Context, campaignID, title string, jobs []job) *Result {
	start := d.now()
	outcomes := make([]models.Delivery, len(jobs))

	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := range jobs {
		sem <- struct{}{}
		wg.Add(1)

		go func(i int) {
			defer func() {
				<-sem
				wg.Done()
			}()

			outcomes[i] = d.sendOne(ctx, campaignID, title, &jobs[i])
		}(i)
	}

	wg.Wait()

	result := &Result{
		Total:      len(jobs),
		PerChannel: make(map[channel.Channel]models.CountStats),
		Cost:       decimal.Zero,
		Outcomes:   outcomes,
		Duration:   d.now().Sub(start),
	}

	for _, o := range outcomes {
		cs := result.PerChannel[o.Channel]
		var vs models.CountStats
		if o.Variant != "" {
			if result.PerVariant == nil {
				result.PerVariant = make(map[string]models.CountStats)
			}
			vs = result.PerVariant[o.Variant]
		}

		if o.Status == models.DeliverySent {
			result.Sent++
			cs.Sent++
			vs.Sent++
			if cost, ok := d.cfg.CostPerMessage[o.Channel]; ok {
				result.Cost = result.Cost.Add(cost)
			}
		} else {
			result.Failed++
			cs.Failed++
			vs.Failed++
		}

		result.PerChannel[o.Channel] = cs
		if o.Variant != "" {
			result.PerVariant[o.Variant] = vs
		}
	}

	return result
}

func (d *Dispatcher) sendOne(ctx context.Context, campaignID, title string, j *job) models.Delivery {
	out := models.Delivery{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		ClientID:   j.plan.ClientID,
		Channel:    j.plan.Channel,
		Address:    j.plan.Address,
	}
	if j.variant != nil {
		out.Variant = j.variant.Name
	}

	err := d.deliver(ctx, title, j, out.ID, out.Variant)
	out.AttemptedAt = d.now()

	if err != nil {
		out.Status = models.DeliveryFailed
		out.Error = err.Error()
		var de *channel.DeliveryError
		if errors.As(err, &de) {
			out.Temporary = de.Temporary
			out.Unavailable = de.Unavailable
		}
		d.logger.Debug("delivery failed",
			"campaign_id", campaignID,
			"client_id", j.plan.ClientID,
			"channel", j.plan.Channel,
			"error", err,
		)
	} else {
		out.Status = models.DeliverySent
	}

	d.bus.Publish(events.MessageAttempted{
		Source:  j.content.Source,
		Channel: string(j.plan.Channel),
		OK:      err == nil,
	})

	return out
}

func (d *Dispatcher) deliver(ctx context.Context, title string, j *job, id, variant string) error {
	if err := ctx.Err(); err != nil {
		return &channel.DeliveryError{Channel: j.plan.Channel, Temporary: true, Message: "cancelled", Err: err}
	}

	subject, body := j.content.Subject, j.content.Body
	if j.content.Personalize {
		rendered, err := d.engine.Render(&template.Template{Subject: subject, Body: body}, PlanData{
			ClientID: j.plan.ClientID,
			Name:     j.plan.Name,
			Channel:  string(j.plan.Channel),
			Address:  j.plan.Address,
			Campaign: title,
			Variant:  variant,
		})
		if err != nil {
			return fmt.Errorf("render content: %w", err)
		}
		subject, body = rendered.Subject, rendered.Body
	}

	tags := make(map[string]string, len(j.content.Tags)+2)
	for k, v := range j.content.Tags {
		tags[k] = v
	}
	tags["client_id"] = j.plan.ClientID
	if variant != "" {
		tags["variant"] = variant
	}

	return d.sender.Send(ctx, &channel.Message{
		ID:      id,
		Channel: j.plan.Channel,
		To:      j.plan.Address,
		Name:    j.plan.Name,
		Subject: subject,
		Body:    body,
		Tags:    tags,
	})
}
