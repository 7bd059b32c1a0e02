package storage

import (
	"errors"
	"time"

	"calsched/internal/task/trigger"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("trigger not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the persisted form of one scheduled trigger.
type Record struct {
	Name      string        `json:"name"`
	Job       string        `json:"job,omitempty"`
	Calendar  string        `json:"calendar,omitempty"`
	State     trigger.State `json:"state"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HistoryEntry records something that happened to a trigger.
// Keep it compact and schema-stable.
type HistoryEntry struct {
	At          time.Time `json:"at"`
	Trigger     string    `json:"trigger"`
	Kind        string    `json:"kind"`
	FireTime    time.Time `json:"fire_time,omitempty"`
	Instruction string    `json:"instruction,omitempty"`
	Error       string    `json:"error,omitempty"`
}
