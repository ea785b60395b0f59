package template

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	textTemplate "text/template"

	"github.com/shopspring/decimal"
)

// Engine renders message templates with data. Parsed templates are cached by source.
type Engine struct {
	funcs textTemplate.FuncMap
	cache sync.Map // source -> *textTemplate.Template
}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{
		funcs: textTemplate.FuncMap{
			"money":   money,
			"upper":   strings.ToUpper,
			"lower":   strings.ToLower,
			"title":   title,
			"default": defaultValue,
			"plural":  plural,
		},
	}
}

// Render renders subject and body with the provided data
func (e *Engine) Render(tmpl *Template, data any) (*RenderResult, error) {
	result := &RenderResult{}

	if tmpl.Subject != "" {
		subject, err := e.RenderString(tmpl.Subject, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render subject: %w", err)
		}
		result.Subject = strings.TrimSpace(subject)
	}

	body, err := e.RenderString(tmpl.Body, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}
	result.Body = body

	return result, nil
}

// RenderString renders a single template source
func (e *Engine) RenderString(src string, data any) (string, error) {
	t, err := e.parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Validate checks if template syntax is valid
func (e *Engine) Validate(tmpl *Template) error {
	if tmpl.Subject != "" {
		if _, err := e.parse(tmpl.Subject); err != nil {
			return fmt.Errorf("invalid subject template: %w", err)
		}
	}
	if _, err := e.parse(tmpl.Body); err != nil {
		return fmt.Errorf("invalid body template: %w", err)
	}
	return nil
}

func (e *Engine) parse(src string) (*textTemplate.Template, error) {
	if cached, ok := e.cache.Load(src); ok {
		return cached.(*textTemplate.Template), nil
	}
	t, err := textTemplate.New("message").Funcs(e.funcs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, err
	}
	e.cache.Store(src, t)
	return t, nil
}

// money formats an amount with two decimals
func money(v any) string {
	switch a := v.(type) {
	case decimal.Decimal:
		return a.StringFixed(2)
	case *decimal.Decimal:
		if a == nil {
			return "0.00"
		}
		return a.StringFixed(2)
	case float64:
		return decimal.NewFromFloat(a).StringFixed(2)
	case int:
		return decimal.NewFromInt(int64(a)).StringFixed(2)
	case int64:
		return decimal.NewFromInt(a).StringFixed(2)
	case string:
		d, err := decimal.NewFromString(a)
		if err != nil {
			return a
		}
		return d.StringFixed(2)
	default:
		return fmt.Sprint(v)
	}
}

func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func defaultValue(def string, v any) string {
	s := fmt.Sprint(v)
	if v == nil || s == "" || s == "<nil>" {
		return def
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
