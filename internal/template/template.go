package template

// Template is a subject/body pair rendered per recipient
type Template struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Subject string `json:"subject,omitempty" yaml:"subject"`
	Body    string `json:"body" yaml:"body"`
}

// RenderResult contains rendered template output
type RenderResult struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}
