package config

import (
	"calsched/internal/task/calendar"
	logx "calsched/pkg/logx"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`

	// Calendars are referenced by name from triggers and from other
	// calendars (base).
	Calendars map[string]calendar.Spec `json:"calendars,omitempty"`
	Triggers  []TriggerConfig          `json:"triggers"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert mirrors warn+ events to stderr as one-line summaries.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Logx converts the logging section into the logger service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

// SchedulerConfig controls the trigger driver.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - timezone: UTC
//   - misfire_threshold: 60s
//   - tick_max_sleep: 60s
//   - alert_rate_per_sec: 1
type SchedulerConfig struct {
	// Timezone is the location whose wall clock drives day/week/month/year
	// stepping and the default location of calendars.
	Timezone         string `json:"timezone,omitempty"`
	MisfireThreshold string `json:"misfire_threshold,omitempty"`
	TickMaxSleep     string `json:"tick_max_sleep,omitempty"`
	AlertRatePerSec  int    `json:"alert_rate_per_sec,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/calsched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TriggerConfig declares one calendar-interval trigger.
//
// Start and End are RFC 3339 timestamps or plain dates ("2006-01-02", read in
// the scheduler timezone). An empty Start means "when the scheduler first
// looks at the trigger".
type TriggerConfig struct {
	Name string `json:"name"`
	// Job groups triggers for SetAllJobTriggersComplete. Defaults to Name.
	Job      string `json:"job,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Interval int    `json:"interval,omitempty"`
	Unit     string `json:"unit"`
	Misfire  string `json:"misfire,omitempty"`
	Calendar string `json:"calendar,omitempty"`
}

// JobName returns the job the trigger belongs to.
func (t TriggerConfig) JobName() string {
	if t.Job != "" {
		return t.Job
	}
	return t.Name
}
