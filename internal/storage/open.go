package storage

import (
	"context"
	"fmt"
	"strings"

	logx "calsched/pkg/logx"
)

// Store is the persistence API used by the scheduler.
type Store interface {
	SaveTrigger(ctx context.Context, rec Record) error
	// LoadTrigger returns ErrNotFound when no record exists.
	LoadTrigger(ctx context.Context, name string) (Record, error)
	DeleteTrigger(ctx context.Context, name string) error
	// ListTriggers returns every record ordered by name.
	ListTriggers(ctx context.Context) ([]Record, error)

	AppendHistory(ctx context.Context, e HistoryEntry) error
	// History returns up to limit most recent entries for name, newest first.
	History(ctx context.Context, name string, limit int) ([]HistoryEntry, error)

	Close() error
}

// Disabled reports whether driver selects no storage.
func Disabled(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none", "disabled", "off":
		return true
	}
	return false
}

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if Disabled(cfg.Driver) {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("storage: empty trigger name")
	}
	return name, nil
}
