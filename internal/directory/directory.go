package directory

import (
	"context"
	"fmt"

	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/reminder"
)

// Drivers
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects the client and invoice record store
type Config struct {
	Driver string `yaml:"driver"`
	// Path of the YAML file for the file driver
	Path string `yaml:"path"`
	// DSN for sql drivers
	DSN string `yaml:"dsn"`
}

// Directory provides client records and overdue invoice candidates
type Directory interface {
	audience.Directory
	reminder.InvoiceSource
	Close() error
}

// Open creates the directory selected by cfg
func Open(ctx context.Context, cfg Config) (Directory, error) {
	switch cfg.Driver {
	case DriverFile, "":
		return NewFileDirectory(cfg.Path)
	case DriverSQLite, DriverPostgres:
		return NewSQLDirectory(ctx, cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown directory driver %q", cfg.Driver)
	}
}
