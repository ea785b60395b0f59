package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/reminder"
)

type fileData struct {
	Clients  []*audience.Client  `yaml:"clients"`
	Invoices []*reminder.Invoice `yaml:"invoices"`
}

// FileDirectory serves clients and invoices from a YAML file
type FileDirectory struct {
	path string

	mu       sync.RWMutex
	clients  map[string]*audience.Client
	invoices []*reminder.Invoice
	modTime  time.Time
}

// NewFileDirectory loads the YAML file at path
func NewFileDirectory(path string) (*FileDirectory, error) {
	if path == "" {
		return nil, fmt.Errorf("directory path is required")
	}
	d := &FileDirectory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the file
func (d *FileDirectory) Reload() error {
	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("failed to stat directory file: %w", err)
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read directory file: %w", err)
	}

	var fd fileData
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return fmt.Errorf("failed to parse directory file: %w", err)
	}

	clients := make(map[string]*audience.Client, len(fd.Clients))
	for i, c := range fd.Clients {
		if c.ID == "" {
			return fmt.Errorf("clients[%d]: id is required", i)
		}
		if _, dup := clients[c.ID]; dup {
			return fmt.Errorf("clients[%d]: duplicate id %q", i, c.ID)
		}
		clients[c.ID] = c
	}
	for i, inv := range fd.Invoices {
		if inv.ID == "" || inv.ClientID == "" {
			return fmt.Errorf("invoices[%d]: id and client_id are required", i)
		}
	}

	d.mu.Lock()
	d.clients = clients
	d.invoices = fd.Invoices
	d.modTime = info.ModTime()
	d.mu.Unlock()

	return nil
}

// reloadIfChanged picks up edits to the file between calls
func (d *FileDirectory) reloadIfChanged() error {
	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("failed to stat directory file: %w", err)
	}

	d.mu.RLock()
	changed := !info.ModTime().Equal(d.modTime)
	d.mu.RUnlock()

	if changed {
		return d.Reload()
	}
	return nil
}

// GetClient returns a client by id
func (d *FileDirectory) GetClient(ctx context.Context, id string) (*audience.Client, error) {
	if err := d.reloadIfChanged(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.clients[id]
	if !ok {
		return nil, audience.ErrClientNotFound
	}
	return c, nil
}

// ListClients returns active clients matching filter, sorted by id
func (d *FileDirectory) ListClients(ctx context.Context, filter audience.Filter) ([]*audience.Client, error) {
	if err := d.reloadIfChanged(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*audience.Client, 0, len(d.clients))
	for _, c := range d.clients {
		if c.Active && filter.Matches(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// OpenInvoices returns unpaid invoices due before dueBefore
func (d *FileDirectory) OpenInvoices(ctx context.Context, dueBefore time.Time) ([]*reminder.Invoice, error) {
	if err := d.reloadIfChanged(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*reminder.Invoice
	for _, inv := range d.invoices {
		if inv.Open() && inv.DueDate.Before(dueBefore) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// Close is a no-op
func (d *FileDirectory) Close() error {
	return nil
}
