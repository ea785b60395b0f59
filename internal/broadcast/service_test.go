package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/channel"
	"github.com/foxzi/courier/internal/dispatch"
	"github.com/foxzi/courier/internal/events"
	"github.com/foxzi/courier/internal/models"
)

type memDirectory struct {
	clients []*audience.Client
	err     error
}

func (d *memDirectory) GetClient(ctx context.Context, id string) (*audience.Client, error) {
	for _, c := range d.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, audience.ErrClientNotFound
}

func (d *memDirectory) ListClients(ctx context.Context, filter audience.Filter) ([]*audience.Client, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []*audience.Client
	for _, c := range d.clients {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubSender struct {
	mu   sync.Mutex
	sent int
	fail func(msg *channel.Message) error
}

func (s *stubSender) Send(ctx context.Context, msg *channel.Message) error {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	if s.fail != nil {
		return s.fail(msg)
	}
	return nil
}

type fixture struct {
	svc    *Service
	store  *Storage
	dir    *memDirectory
	sender *stubSender
	bus    *events.Bus
	now    time.Time
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, clients int) *fixture {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStorage(db)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	f := &fixture{
		store:  store,
		dir:    &memDirectory{},
		sender: &stubSender{},
		bus:    events.NewBus(testLogger()),
		now:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	for i := 0; i < clients; i++ {
		f.dir.clients = append(f.dir.clients, &audience.Client{
			ID:     fmt.Sprintf("c%03d", i),
			Name:   fmt.Sprintf("Client %d", i),
			Email:  fmt.Sprintf("c%03d@example.com", i),
			Active: true,
		})
	}

	resolver := audience.NewResolver(f.dir, testLogger())
	d := dispatch.New(resolver, f.sender, nil, f.bus, dispatch.Config{Concurrency: 4}, testLogger())
	f.svc = NewService(store, d, f.bus, testLogger())
	f.svc.SetClock(func() time.Time { return f.now })

	return f
}

func newCampaign() *models.Campaign {
	return &models.Campaign{
		Title:          "Festive greetings",
		Content:        "Dear {{.Name}}, season's greetings",
		Type:           models.TypeFestival,
		Channels:       []channel.Channel{channel.Email},
		TargetAudience: audience.TargetingSpec{AllClients: true},
	}
}

// approved walks a new campaign to approved
func (f *fixture) approved(t *testing.T, c *models.Campaign) *models.Campaign {
	t.Helper()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, c, "author")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Submit(ctx, created.ID, "author"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	approved, err := f.svc.Approve(ctx, created.ID, "manager", "looks good")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	return approved
}

func TestLifecycleHappyPath(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	var transitions []string
	f.bus.Subscribe(func(e events.Event) {
		if tr, ok := e.(events.CampaignTransitioned); ok {
			transitions = append(transitions, tr.To)
		}
	})

	c := f.approved(t, newCampaign())
	if c.Approval.ApprovedBy != "manager" || c.Approval.Comment != "looks good" {
		t.Errorf("approval not recorded: %+v", c.Approval)
	}

	sent, err := f.svc.Send(ctx, c.ID, "manager")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if sent.Status != models.StatusSent {
		t.Fatalf("status = %s, want sent", sent.Status)
	}
	if sent.Stats.TotalRecipients != 5 || sent.Stats.SentCount != 5 || sent.Stats.FailedCount != 0 {
		t.Errorf("stats = %+v", sent.Stats)
	}
	if sent.SentAt == nil || !sent.SentAt.Equal(f.now) {
		t.Errorf("sentAt = %v", sent.SentAt)
	}

	want := []string{"pending_approval", "approved", "scheduled", "sending", "sent"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
	if len(sent.History) != len(want) {
		t.Errorf("history has %d entries, want %d", len(sent.History), len(want))
	}

	deliveries, total, err := f.svc.Deliveries(ctx, c.ID, models.DeliveryListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(deliveries) != 5 {
		t.Errorf("deliveries = %d (total %d), want 5", len(deliveries), total)
	}
}

func TestDraftToSendingIsInvalid(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, newCampaign(), "author")
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Send(ctx, c.ID, "author")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != models.StatusDraft || ite.To != models.StatusSending {
		t.Errorf("unexpected error %+v", ite)
	}

	stored, _ := f.svc.Get(ctx, c.ID)
	if stored.Status != models.StatusDraft || len(stored.History) != 0 {
		t.Errorf("campaign changed: %s, %d history entries", stored.Status, len(stored.History))
	}
	if f.sender.sent != 0 {
		t.Error("nothing should be sent")
	}
}

func TestEmptyAudienceReachesSent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	c := newCampaign()
	c.TargetAudience = audience.TargetingSpec{}
	c = f.approved(t, c)

	sent, err := f.svc.Send(ctx, c.ID, "manager")
	if err != nil {
		t.Fatal(err)
	}
	if sent.Status != models.StatusSent {
		t.Errorf("status = %s, want sent", sent.Status)
	}
	if sent.Stats.TotalRecipients != 0 || sent.Stats.Note != NoteNoRecipients {
		t.Errorf("stats = %+v", sent.Stats)
	}
}

func TestStatsConservation(t *testing.T) {
	f := newFixture(t, 100)
	f.sender.fail = func(msg *channel.Message) error {
		var i int
		fmt.Sscanf(msg.Tags["client_id"], "c%03d", &i)
		if i < 30 {
			return &channel.DeliveryError{Channel: msg.Channel, Message: "rejected"}
		}
		return nil
	}
	c := f.approved(t, newCampaign())

	sent, err := f.svc.Send(context.Background(), c.ID, "manager")
	if err != nil {
		t.Fatal(err)
	}

	s := sent.Stats
	if sent.Status != models.StatusSent {
		t.Errorf("partial failure should still be sent, got %s", sent.Status)
	}
	if s.TotalRecipients != 100 || s.SentCount != 70 || s.FailedCount != 30 {
		t.Errorf("stats = %+v", s)
	}
	if s.SentCount+s.FailedCount > s.TotalRecipients {
		t.Error("sent + failed exceeds total")
	}
}

func TestStatsCountClientsAndDeliveries(t *testing.T) {
	f := newFixture(t, 4)
	for _, cl := range f.dir.clients {
		cl.Phone = "+1555" + cl.ID
		cl.Preferences = &audience.Preferences{Channels: map[channel.Channel]audience.ChannelPreference{
			channel.Email: {Enabled: true},
			channel.SMS:   {Enabled: true},
		}}
	}
	c := newCampaign()
	c.Channels = []channel.Channel{channel.Email, channel.SMS}
	c = f.approved(t, c)

	sent, err := f.svc.Send(context.Background(), c.ID, "manager")
	if err != nil {
		t.Fatal(err)
	}

	s := sent.Stats
	if s.Recipients != 4 || s.TotalRecipients != 8 || s.SentCount != 8 {
		t.Errorf("stats = %+v, want 4 clients over 8 deliveries", s)
	}
	if s.PerChannel[channel.Email].Sent != 4 || s.PerChannel[channel.SMS].Sent != 4 {
		t.Errorf("per channel = %+v", s.PerChannel)
	}
}

func TestCancelledSendCompletesAudience(t *testing.T) {
	f := newFixture(t, 10)
	c := f.approved(t, newCampaign())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	f.sender.fail = func(msg *channel.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	}

	sent, err := f.svc.Send(ctx, c.ID, "manager")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent.Status != models.StatusSent {
		t.Errorf("status = %s, want sent", sent.Status)
	}
	if sent.Stats.SentCount != 10 || sent.Stats.FailedCount != 0 {
		t.Errorf("stats = %+v, want all 10 sent after cancellation", sent.Stats)
	}
	if f.sender.sent != 10 {
		t.Errorf("transport calls = %d, want 10", f.sender.sent)
	}
}

func TestAllTransportsDownFails(t *testing.T) {
	f := newFixture(t, 3)
	f.sender.fail = func(msg *channel.Message) error {
		return &channel.DeliveryError{Channel: msg.Channel, Unavailable: true, Message: "not configured"}
	}
	c := f.approved(t, newCampaign())

	failed, err := f.svc.Send(context.Background(), c.ID, "manager")
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.StatusFailed || failed.Stats.Note != NoteAllUnavailable {
		t.Errorf("got %s / %q", failed.Status, failed.Stats.Note)
	}
}

func TestResolutionErrorFails(t *testing.T) {
	f := newFixture(t, 0)
	f.dir.err = errors.New("directory offline")
	c := f.approved(t, newCampaign())

	failed, err := f.svc.Send(context.Background(), c.ID, "manager")
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}
}

func TestTemplateValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		edit  func(c *models.Campaign)
		field string
	}{
		{
			name:  "unknown field in content",
			edit:  func(c *models.Campaign) { c.Content = "Dear {{.FirstName}}, offer inside" },
			field: "content",
		},
		{
			name:  "unclosed action",
			edit:  func(c *models.Campaign) { c.Content = "Dear {{.Name" },
			field: "content",
		},
		{
			name:  "bad title",
			edit:  func(c *models.Campaign) { c.Title = "Hi {{.Policy}}" },
			field: "title",
		},
		{
			name: "channel override",
			edit: func(c *models.Campaign) {
				c.ChannelConfigs = map[channel.Channel]models.ChannelConfig{channel.Email: {Subject: "{{.Premium}}"}}
			},
			field: "channelConfigs.email.subject",
		},
		{
			name: "variant content",
			edit: func(c *models.Campaign) {
				c.ABTest = models.ABTest{Enabled: true, Variants: []models.Variant{
					{Name: "A", Content: "Hello {{.Name}}", Weight: 1},
					{Name: "B", Content: "Hello {{nosuchfunc .Name}}", Weight: 1},
				}}
			},
			field: "abTest.variants.B.content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3)

			c := newCampaign()
			tt.edit(c)
			var ve *ValidationError
			if _, err := f.svc.Create(ctx, c, "author"); !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("Create() error = %v, want validation error on %s", err, tt.field)
			}

			// a stored draft edited into a broken template is refused too
			good, err := f.svc.Create(ctx, newCampaign(), "author")
			if err != nil {
				t.Fatal(err)
			}
			edited := newCampaign()
			tt.edit(edited)
			if _, err := f.svc.Update(ctx, good.ID, edited); !errors.As(err, &ve) {
				t.Fatalf("Update() error = %v, want validation error", err)
			}
			stored, _ := f.svc.Get(ctx, good.ID)
			if stored.Content != newCampaign().Content || stored.Title != newCampaign().Title {
				t.Errorf("failed update was stored: %+v", stored)
			}
		})
	}
}

func TestTransitionGuards(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, newCampaign(), "author")
	if err != nil {
		t.Fatal(err)
	}

	empty := newCampaign()
	empty.Content = "  "
	e, err := f.svc.Create(ctx, empty, "author")
	if err != nil {
		t.Fatal(err)
	}
	var ve *ValidationError
	if _, err := f.svc.Submit(ctx, e.ID, "author"); !errors.As(err, &ve) || ve.Field != "content" {
		t.Errorf("submit without content: %v", err)
	}
	if got, _ := f.svc.Get(ctx, e.ID); got.Status != models.StatusDraft {
		t.Errorf("failed submit changed status to %s", got.Status)
	}

	var ite *InvalidTransitionError

	if _, err := f.svc.Approve(ctx, c.ID, "manager", ""); !errors.As(err, &ite) {
		t.Errorf("approve from draft: %v", err)
	}

	if _, err := f.svc.Submit(ctx, c.ID, "author"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Approve(ctx, c.ID, " ", ""); !errors.As(err, &ve) {
		t.Errorf("approve without approver: %v", err)
	}
	if _, err := f.svc.Reject(ctx, c.ID, "manager", ""); !errors.As(err, &ve) {
		t.Errorf("reject without reason: %v", err)
	}

	rejected, err := f.svc.Reject(ctx, c.ID, "manager", "tone is off")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Approval.RejectionReason != "tone is off" {
		t.Errorf("reason = %q", rejected.Approval.RejectionReason)
	}

	edit := newCampaign()
	edit.Title = "Festive greetings, revised"
	updated, err := f.svc.Update(ctx, c.ID, edit)
	if err != nil {
		t.Fatalf("rejected campaign should be editable: %v", err)
	}
	if updated.Status != models.StatusRejected || updated.Title != edit.Title {
		t.Errorf("unexpected update result %s %q", updated.Status, updated.Title)
	}

	if _, err := f.svc.Submit(ctx, c.ID, "author"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if _, err := f.svc.Update(ctx, c.ID, edit); !errors.As(err, &ite) {
		t.Errorf("update while pending: %v", err)
	}
	if err := f.svc.Delete(ctx, c.ID); !errors.As(err, &ite) {
		t.Errorf("delete while pending: %v", err)
	}

	if _, err := f.svc.Approve(ctx, c.ID, "manager", ""); err != nil {
		t.Fatal(err)
	}
	past := f.now.Add(-time.Hour)
	if _, err := f.svc.Schedule(ctx, c.ID, "manager", false, &past); !errors.As(err, &ve) {
		t.Errorf("schedule in the past: %v", err)
	}
	if _, err := f.svc.Schedule(ctx, c.ID, "manager", false, nil); !errors.As(err, &ve) {
		t.Errorf("schedule without time: %v", err)
	}
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, newCampaign(), "author")
	if err != nil {
		t.Fatal(err)
	}

	bad := newCampaign()
	bad.Channels = nil
	var ve *ValidationError
	if _, err := f.svc.Update(ctx, c.ID, bad); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	stored, _ := f.svc.Get(ctx, c.ID)
	if len(stored.Channels) != 1 {
		t.Error("invalid update must not be stored")
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	f := newFixture(t, 0)

	c := newCampaign()
	c.Type = "spam"
	var ve *ValidationError
	if _, err := f.svc.Create(context.Background(), c, "author"); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDeleteDraft(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, newCampaign(), "author")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunDue(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	c := f.approved(t, newCampaign())
	at := f.now.Add(time.Hour)
	if _, err := f.svc.Schedule(ctx, c.ID, "manager", false, &at); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.RunDue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("nothing should be due yet: n=%d err=%v", n, err)
	}

	f.now = f.now.Add(2 * time.Hour)
	n, err = f.svc.RunDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one dispatch: n=%d err=%v", n, err)
	}

	stored, _ := f.svc.Get(ctx, c.ID)
	if stored.Status != models.StatusSent {
		t.Errorf("status = %s, want sent", stored.Status)
	}

	n, _ = f.svc.RunDue(ctx)
	if n != 0 {
		t.Error("sent campaign must not be dispatched again")
	}
}

func TestPendingWarnings(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	c := newCampaign()
	c.Compliance = models.Compliance{RegulatoryApproved: true}
	created, err := f.svc.Create(ctx, c, "author")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Submit(ctx, created.ID, "author"); err != nil {
		t.Fatal(err)
	}

	items, err := f.svc.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || len(items[0].Warnings) != 1 {
		t.Fatalf("unexpected pending items %+v", items)
	}

	// warnings never block approval
	if _, err := f.svc.Approve(ctx, created.ID, "manager", ""); err != nil {
		t.Errorf("approval blocked: %v", err)
	}
}

func TestRecordRevenue(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	c := f.approved(t, newCampaign())
	if _, err := f.svc.Send(ctx, c.ID, "manager"); err != nil {
		t.Fatal(err)
	}
	_, err := f.store.Modify(ctx, c.ID, func(c *models.Campaign) error {
		c.Stats.Cost = decimal.NewFromInt(100)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := f.svc.RecordRevenue(ctx, c.ID, decimal.NewFromInt(250))
	if err != nil {
		t.Fatal(err)
	}
	if !updated.Stats.ROI.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("ROI = %s, want 1.5", updated.Stats.ROI)
	}

	var ve *ValidationError
	if _, err := f.svc.RecordRevenue(ctx, c.ID, decimal.Zero); !errors.As(err, &ve) {
		t.Errorf("zero revenue: %v", err)
	}
}

func TestEligibleClients(t *testing.T) {
	f := newFixture(t, 3)
	f.dir.clients[1].Preferences = &audience.Preferences{
		Channels:   map[channel.Channel]audience.ChannelPreference{channel.Email: {Enabled: true}},
		Categories: map[string]bool{audience.CategoryOffer: false},
	}

	res, err := f.svc.EligibleClients(context.Background(),
		audience.TargetingSpec{AllClients: true},
		[]channel.Channel{channel.Email},
		models.TypeOffer,
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Plans) != 2 {
		t.Errorf("plans = %d, want 2", len(res.Plans))
	}

	var ve *ValidationError
	if _, err := f.svc.EligibleClients(context.Background(), audience.TargetingSpec{}, []channel.Channel{"fax"}, ""); !errors.As(err, &ve) {
		t.Errorf("unknown channel: %v", err)
	}
}

func TestConcurrentSendDispatchesOnce(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	c := f.approved(t, newCampaign())
	if _, err := f.svc.Schedule(ctx, c.ID, "manager", true, nil); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(ctx, c.ID, "manager")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful send, got %d", ok)
	}
	if f.sender.sent != 10 {
		t.Errorf("sent = %d, want 10", f.sender.sent)
	}
}
