package reminder

import (
	"fmt"
	"sort"
	"time"
)

// Tier is one step of the escalation table
type Tier struct {
	Name    string `yaml:"name" json:"name"`
	Days    int    `yaml:"days" json:"days"`
	Subject string `yaml:"subject" json:"subject"`
	Body    string `yaml:"body" json:"body"`
}

// Default tier names
const (
	TierFirst      = "first_reminder"
	TierSecond     = "second_reminder"
	TierFinal      = "final_reminder"
	TierEscalation = "escalation"
)

const defaultSubject = `{{.TierLabel}}: invoice {{.InvoiceNumber}} is {{.DaysOverdue}} {{plural .DaysOverdue "day" "days"}} overdue`

// DefaultTiers returns the built-in escalation table
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name:    TierFirst,
			Days:    1,
			Subject: defaultSubject,
			Body: `Dear {{.ClientName}},

This is a friendly reminder that invoice {{.InvoiceNumber}} for {{.Currency}} {{money .Amount}} was due on {{.DueDate}}.
If you have already paid, please ignore this message.`,
		},
		{
			Name:    TierSecond,
			Days:    7,
			Subject: defaultSubject,
			Body: `Dear {{.ClientName}},

Invoice {{.InvoiceNumber}} for {{.Currency}} {{money .Amount}} is now {{.DaysOverdue}} days overdue.
Please arrange payment at your earliest convenience to keep your cover active.`,
		},
		{
			Name:    TierFinal,
			Days:    14,
			Subject: defaultSubject,
			Body: `Dear {{.ClientName}},

This is the final reminder for invoice {{.InvoiceNumber}} ({{.Currency}} {{money .Amount}}), {{.DaysOverdue}} days overdue.
Your policy may lapse if payment is not received.`,
		},
		{
			Name:    TierEscalation,
			Days:    30,
			Subject: defaultSubject,
			Body: `Dear {{.ClientName}},

Invoice {{.InvoiceNumber}} ({{.Currency}} {{money .Amount}}) is {{.DaysOverdue}} days overdue and has been escalated to your account manager.
Please contact us immediately.`,
		},
	}
}

// SortTiers orders tiers by threshold
func SortTiers(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Days < out[j].Days })
	return out
}

// ValidateTiers checks names are unique and thresholds positive
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	names := make(map[string]bool)
	for _, t := range tiers {
		if t.Name == "" {
			return fmt.Errorf("tier name is required")
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		names[t.Name] = true
		if t.Days < 1 {
			return fmt.Errorf("tier %q: days must be at least 1", t.Name)
		}
		if t.Body == "" {
			return fmt.Errorf("tier %q: body is required", t.Name)
		}
	}
	return nil
}

// DueTiers returns the tiers whose threshold is at or below daysPastDue, ascending
func DueTiers(tiers []Tier, daysPastDue int) []Tier {
	var due []Tier
	for _, t := range SortTiers(tiers) {
		if t.Days <= daysPastDue {
			due = append(due, t)
		}
	}
	return due
}

// DaysPastDue counts calendar days between the due date and now in loc
func DaysPastDue(due, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	dy, dm, dd := due.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()

	dueDay := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(today.Sub(dueDay).Hours() / 24)
}
