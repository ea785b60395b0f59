package template

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEngine_Validate(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name    string
		tmpl    *Template
		wantErr bool
	}{
		{
			name:    "valid template",
			tmpl:    &Template{Subject: "Hello {{.Name}}", Body: "Welcome {{.Name}}!"},
			wantErr: false,
		},
		{
			name:    "invalid subject syntax",
			tmpl:    &Template{Subject: "Hello {{.Name", Body: "Welcome"},
			wantErr: true,
		},
		{
			name:    "invalid body syntax",
			tmpl:    &Template{Subject: "Hello", Body: "Welcome {{.Name"},
			wantErr: true,
		},
		{
			name:    "unknown function",
			tmpl:    &Template{Body: "{{shout .Name}}"},
			wantErr: true,
		},
		{
			name:    "empty template",
			tmpl:    &Template{},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Validate(tt.tmpl)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngine_Render(t *testing.T) {
	engine := NewEngine()

	data := struct {
		ClientName    string
		InvoiceNumber string
		Amount        decimal.Decimal
		DaysOverdue   int
	}{
		ClientName:    "Jane Doe",
		InvoiceNumber: "INV-1001",
		Amount:        decimal.RequireFromString("1250.5"),
		DaysOverdue:   7,
	}

	res, err := engine.Render(&Template{
		Subject: "Reminder: invoice {{.InvoiceNumber}}",
		Body:    "Dear {{.ClientName}}, {{money .Amount}} is {{.DaysOverdue}} {{plural .DaysOverdue \"day\" \"days\"}} overdue.",
	}, data)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if res.Subject != "Reminder: invoice INV-1001" {
		t.Errorf("unexpected subject %q", res.Subject)
	}
	want := "Dear Jane Doe, 1250.50 is 7 days overdue."
	if res.Body != want {
		t.Errorf("body = %q, want %q", res.Body, want)
	}
}

func TestEngine_RenderMap(t *testing.T) {
	engine := NewEngine()

	res, err := engine.Render(&Template{Body: "Hi {{default \"there\" .Name}}{{.Missing}}"}, map[string]any{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasPrefix(res.Body, "Hi there") {
		t.Errorf("unexpected body %q", res.Body)
	}
}

func TestEngine_CachesParsedTemplates(t *testing.T) {
	engine := NewEngine()
	src := "Hello {{.Name}}"

	for i := 0; i < 3; i++ {
		if _, err := engine.RenderString(src, map[string]string{"Name": "A"}); err != nil {
			t.Fatalf("RenderString failed: %v", err)
		}
	}

	n := 0
	engine.cache.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Errorf("expected 1 cached template, got %d", n)
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{decimal.RequireFromString("10"), "10.00"},
		{12.345, "12.35"},
		{int64(5), "5.00"},
		{"99.9", "99.90"},
		{"n/a", "n/a"},
	}
	for _, tc := range tests {
		if got := money(tc.in); got != tc.want {
			t.Errorf("money(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
