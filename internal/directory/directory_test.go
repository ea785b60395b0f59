package directory

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/channel"
)

const sampleYAML = `
clients:
  - id: c1
    name: Asha Rao
    type: individual
    tier: gold
    city: Pune
    state: MH
    email: asha@example.com
    phone: "+919800000001"
    active: true
    preferences:
      channels:
        email: {enabled: true}
        whatsapp: {enabled: true}
      categories:
        offer: false
  - id: c2
    name: Kiran Shah
    type: corporate
    tier: silver
    city: Mumbai
    state: MH
    email: kiran@example.com
    active: true
  - id: c3
    name: Dormant
    type: individual
    email: dormant@example.com
    active: false
invoices:
  - id: inv-1
    number: INV-001
    client_id: c1
    amount: "1250.50"
    currency: INR
    due_date: 2024-01-01T00:00:00Z
    status: open
  - id: inv-2
    number: INV-002
    client_id: c2
    amount: "99"
    due_date: 2024-01-10T00:00:00Z
    status: paid
  - id: inv-3
    number: INV-003
    client_id: c2
    amount: "10"
    due_date: 2024-02-01T00:00:00Z
    status: open
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileDirectory(t *testing.T) {
	ctx := context.Background()
	d, err := NewFileDirectory(writeFile(t, sampleYAML))
	if err != nil {
		t.Fatalf("NewFileDirectory: %v", err)
	}
	defer d.Close()

	c, err := d.GetClient(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Asha Rao" || c.Preferences == nil {
		t.Fatalf("unexpected client %+v", c)
	}
	if !c.Preferences.Allows(channel.WhatsApp, audience.CategoryPaymentDue) {
		t.Error("whatsapp should be allowed for payment reminders")
	}
	if c.Preferences.Allows(channel.Email, audience.CategoryOffer) {
		t.Error("offers are opted out")
	}

	if _, err := d.GetClient(ctx, "nope"); !errors.Is(err, audience.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}

	all, err := d.ListClients(ctx, audience.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "c1" || all[1].ID != "c2" {
		t.Errorf("unexpected active clients %v", ids(all))
	}

	gold, _ := d.ListClients(ctx, audience.Filter{Tiers: []string{"GOLD"}})
	if len(gold) != 1 || gold[0].ID != "c1" {
		t.Errorf("tier filter returned %v", ids(gold))
	}

	invoices, err := d.OpenInvoices(ctx, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 1 || invoices[0].ID != "inv-1" {
		t.Fatalf("unexpected invoices %+v", invoices)
	}
	if !invoices[0].Amount.Equal(decimal.RequireFromString("1250.50")) {
		t.Errorf("amount = %s", invoices[0].Amount)
	}
}

func TestFileDirectoryRejectsDuplicates(t *testing.T) {
	_, err := NewFileDirectory(writeFile(t, "clients:\n  - id: a\n    name: A\n  - id: a\n    name: B\n"))
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mongo"}); err == nil {
		t.Fatal("expected error")
	}
}

func setupSQL(t *testing.T) *SQLDirectory {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	d := NewSQLDirectoryFromDB(db, DriverSQLite)
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clients := []struct {
		id, name, typ, tier, city, state, email string
		active                                  bool
		prefs                                   any
	}{
		{"c1", "Asha Rao", "individual", "gold", "Pune", "MH", "asha@example.com", true, `{"channels":{"email":{"enabled":true},"sms":{"enabled":true}}}`},
		{"c2", "Kiran Shah", "corporate", "silver", "Mumbai", "MH", "kiran@example.com", true, nil},
		{"c3", "Ravi Iyer", "individual", "silver", "Chennai", "TN", "ravi@example.com", true, nil},
		{"c4", "Dormant", "individual", "gold", "Pune", "MH", "old@example.com", false, nil},
	}
	for _, c := range clients {
		_, err := db.Exec(`INSERT INTO clients (id, name, type, tier, city, state, email, active, preferences) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.id, c.name, c.typ, c.tier, c.city, c.state, c.email, c.active, c.prefs)
		if err != nil {
			t.Fatalf("insert client: %v", err)
		}
	}

	invoices := []struct {
		id, client, amount, status string
		due                        time.Time
	}{
		{"inv-1", "c1", "1250.50", "open", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"inv-2", "c2", "99.00", "PAID", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"inv-3", "c3", "10.00", "overdue", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, inv := range invoices {
		_, err := db.Exec(`INSERT INTO invoices (id, number, client_id, amount, currency, due_date, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			inv.id, "N-"+inv.id, inv.client, inv.amount, "INR", inv.due, inv.status)
		if err != nil {
			t.Fatalf("insert invoice: %v", err)
		}
	}

	return d
}

func TestSQLDirectoryClients(t *testing.T) {
	d := setupSQL(t)
	ctx := context.Background()

	c, err := d.GetClient(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Preferences == nil || !c.Preferences.Allows(channel.SMS, "") {
		t.Errorf("preferences not loaded: %+v", c.Preferences)
	}

	c2, _ := d.GetClient(ctx, "c2")
	if c2.Preferences != nil {
		t.Error("null preferences should stay nil")
	}

	if _, err := d.GetClient(ctx, "missing"); !errors.Is(err, audience.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}

	tests := []struct {
		name   string
		filter audience.Filter
		want   []string
	}{
		{"all active", audience.Filter{}, []string{"c1", "c2", "c3"}},
		{"type or tier", audience.Filter{Types: []string{"Corporate"}, Tiers: []string{"gold"}}, []string{"c1", "c2"}},
		{"ids", audience.Filter{IDs: []string{"c3", "c4"}}, []string{"c3"}},
		{"state only", audience.Filter{Locations: []audience.Location{{State: "mh"}}}, []string{"c1", "c2"}},
		{"location or tier", audience.Filter{Tiers: []string{"silver"}, Locations: []audience.Location{{City: "Pune"}}}, []string{"c1", "c2", "c3"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.ListClients(ctx, tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			if g := ids(got); !equal(g, tc.want) {
				t.Errorf("got %v, want %v", g, tc.want)
			}
		})
	}
}

func TestSQLDirectoryOpenInvoices(t *testing.T) {
	d := setupSQL(t)

	invoices, err := d.OpenInvoices(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 1 {
		t.Fatalf("got %d invoices, want 1", len(invoices))
	}
	inv := invoices[0]
	if inv.ID != "inv-1" || inv.ClientID != "c1" || inv.Currency != "INR" {
		t.Errorf("unexpected invoice %+v", inv)
	}
	if !inv.Amount.Equal(decimal.RequireFromString("1250.5")) {
		t.Errorf("amount = %s", inv.Amount)
	}
	if !inv.DueDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("due date = %v", inv.DueDate)
	}
}

func TestRebind(t *testing.T) {
	pg := NewSQLDirectoryFromDB(nil, DriverPostgres)
	if got := pg.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Errorf("rebind = %q", got)
	}
	lite := NewSQLDirectoryFromDB(nil, DriverSQLite)
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("rebind = %q", got)
	}
}

func ids(clients []*audience.Client) []string {
	out := make([]string, len(clients))
	for i, c := range clients {
		out[i] = c.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
