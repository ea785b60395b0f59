package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/reminder"
)

// Schema creates the tables read by SQLDirectory. Deployments backed by an
// existing back-office database expose views with the same columns instead.
const Schema = `
CREATE TABLE IF NOT EXISTS clients (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT '',
    tier TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    whatsapp TEXT NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    preferences TEXT
);

CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL,
    client_id TEXT NOT NULL REFERENCES clients(id),
    amount NUMERIC NOT NULL,
    currency TEXT NOT NULL DEFAULT '',
    due_date TIMESTAMP NOT NULL,
    status TEXT NOT NULL
);
`

const clientColumns = `id, name, type, tier, city, state, email, phone, whatsapp, active, preferences`

// SQLDirectory reads clients and invoices from PostgreSQL or SQLite
type SQLDirectory struct {
	db     *sql.DB
	driver string
}

// NewSQLDirectory opens and pings the database
func NewSQLDirectory(ctx context.Context, driver, dsn string) (*SQLDirectory, error) {
	if dsn == "" {
		return nil, fmt.Errorf("directory dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLDirectory{db: db, driver: driver}, nil
}

// NewSQLDirectoryFromDB wraps an open database
func NewSQLDirectoryFromDB(db *sql.DB, driver string) *SQLDirectory {
	return &SQLDirectory{db: db, driver: driver}
}

// Migrate creates the directory tables if they do not exist
func (d *SQLDirectory) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres
func (d *SQLDirectory) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetClient returns a client by id
func (d *SQLDirectory) GetClient(ctx context.Context, id string) (*audience.Client, error) {
	row := d.db.QueryRowContext(ctx, d.rebind(`SELECT `+clientColumns+` FROM clients WHERE id = ?`), id)

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audience.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// ListClients returns active clients matching any populated filter criterion, sorted by id
func (d *SQLDirectory) ListClients(ctx context.Context, filter audience.Filter) ([]*audience.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE active = ?`
	args := []any{true}

	// location pairs with wildcards are matched in Go
	if !filter.IsEmpty() && len(filter.Locations) == 0 {
		var conds []string
		if len(filter.IDs) > 0 {
			conds = append(conds, "id IN ("+placeholders(len(filter.IDs))+")")
			for _, id := range filter.IDs {
				args = append(args, id)
			}
		}
		if len(filter.Types) > 0 {
			conds = append(conds, "LOWER(type) IN ("+placeholders(len(filter.Types))+")")
			for _, t := range filter.Types {
				args = append(args, strings.ToLower(t))
			}
		}
		if len(filter.Tiers) > 0 {
			conds = append(conds, "LOWER(tier) IN ("+placeholders(len(filter.Tiers))+")")
			for _, t := range filter.Tiers {
				args = append(args, strings.ToLower(t))
			}
		}
		query += " AND (" + strings.Join(conds, " OR ") + ")"
	}
	query += " ORDER BY id"

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*audience.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		if filter.Matches(c) {
			clients = append(clients, c)
		}
	}

	return clients, rows.Err()
}

// OpenInvoices returns invoices not paid or cancelled that are due before dueBefore
func (d *SQLDirectory) OpenInvoices(ctx context.Context, dueBefore time.Time) ([]*reminder.Invoice, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(`
		SELECT id, number, client_id, amount, currency, due_date, status
		FROM invoices
		WHERE LOWER(status) NOT IN (?, ?)
		ORDER BY id`), reminder.InvoicePaid, reminder.InvoiceCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*reminder.Invoice
	for rows.Next() {
		var inv reminder.Invoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.ClientID, &inv.Amount, &inv.Currency, &inv.DueDate, &inv.Status); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		if inv.DueDate.Before(dueBefore) {
			invoices = append(invoices, &inv)
		}
	}

	return invoices, rows.Err()
}

// Close closes the database
func (d *SQLDirectory) Close() error {
	return d.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(s scanner) (*audience.Client, error) {
	var c audience.Client
	var prefs sql.NullString

	err := s.Scan(&c.ID, &c.Name, &c.Type, &c.Tier, &c.City, &c.State, &c.Email, &c.Phone, &c.WhatsApp, &c.Active, &prefs)
	if err != nil {
		return nil, err
	}

	if prefs.Valid && strings.TrimSpace(prefs.String) != "" {
		var p audience.Preferences
		if err := json.Unmarshal([]byte(prefs.String), &p); err != nil {
			return nil, fmt.Errorf("client %s: invalid preferences: %w", c.ID, err)
		}
		c.Preferences = &p
	}

	return &c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
