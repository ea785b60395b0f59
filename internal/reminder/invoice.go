package reminder

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice statuses that stop reminders
const (
	InvoicePaid      = "paid"
	InvoiceCancelled = "cancelled"
)

// Invoice is an invoice as seen by the reminder scheduler
type Invoice struct {
	ID       string          `json:"id" yaml:"id"`
	Number   string          `json:"number" yaml:"number"`
	ClientID string          `json:"clientId" yaml:"client_id"`
	Amount   decimal.Decimal `json:"amount" yaml:"amount"`
	Currency string          `json:"currency,omitempty" yaml:"currency,omitempty"`
	DueDate  time.Time       `json:"dueDate" yaml:"due_date"`
	Status   string          `json:"status" yaml:"status"`
}

// Open reports whether the invoice can still receive reminders
func (i *Invoice) Open() bool {
	switch strings.ToLower(i.Status) {
	case InvoicePaid, InvoiceCancelled:
		return false
	}
	return true
}

// InvoiceSource lists invoices that may be overdue
type InvoiceSource interface {
	// OpenInvoices returns invoices not paid or cancelled with a due date before the given time
	OpenInvoices(ctx context.Context, dueBefore time.Time) ([]*Invoice, error)
}

// reminderData is the template data of a reminder message
type reminderData struct {
	ClientName    string
	InvoiceNumber string
	Amount        decimal.Decimal
	Currency      string
	DueDate       string
	DaysOverdue   int
	Tier          string
	TierLabel     string
}

func tierLabel(name string) string {
	switch name {
	case TierFirst:
		return "Payment reminder"
	case TierSecond:
		return "Second payment reminder"
	case TierFinal:
		return "Final payment reminder"
	case TierEscalation:
		return "Overdue payment escalation"
	}
	return "Payment reminder"
}
