package scheduler

import (
	"context"
	"errors"
	"time"

	"calsched/internal/task/trigger"
)

var (
	// ErrWillNeverFire is returned by Add when the trigger has no fire time
	// under its calendar (or its persisted state is already exhausted).
	ErrWillNeverFire = errors.New("trigger will never fire")
	ErrDuplicate     = errors.New("trigger already scheduled")
	ErrNotFound      = errors.New("trigger not scheduled")
	ErrUnknownCal    = errors.New("unknown calendar")
)

// Event types published on the bus.
const (
	EventFired     = "trigger.fired"
	EventMisfired  = "trigger.misfired"
	EventCompleted = "trigger.completed"
	EventRemoved   = "trigger.removed"
)

// Config controls the scheduler.
//
// Defaults (when fields are zero):
//   - MisfireThreshold: 60s
//   - TickMaxSleep: 60s
//   - AlertRatePerSec: 1
//   - MaxRefires: 10
type Config struct {
	MisfireThreshold time.Duration
	TickMaxSleep     time.Duration
	AlertRatePerSec  int
	// MaxRefires caps consecutive ReExecuteJob instructions for one firing.
	MaxRefires int
}

func (c Config) withDefaults() Config {
	if c.MisfireThreshold <= 0 {
		c.MisfireThreshold = 60 * time.Second
	}
	if c.TickMaxSleep <= 0 {
		c.TickMaxSleep = 60 * time.Second
	}
	if c.AlertRatePerSec <= 0 {
		c.AlertRatePerSec = 1
	}
	if c.MaxRefires <= 0 {
		c.MaxRefires = 10
	}
	return c
}

// Job is the work bound to a trigger. The returned error may carry
// completion signals (see Refire, Unschedule, UnscheduleAll).
type Job func(ctx context.Context, f Firing) error

// Definition binds a trigger to a job.
type Definition struct {
	// ID is assigned by Add when empty.
	ID   string
	Name string
	// Job groups triggers for UnscheduleAll. Defaults to Name.
	Job      string
	Calendar string
	Trigger  *trigger.CalendarIntervalTrigger
	Run      Job
	// Timeout bounds one job run; zero means no timeout.
	Timeout time.Duration
}

// Firing describes one job run.
type Firing struct {
	TriggerID string
	Trigger   string
	Job       string

	// ScheduledTime is the grid instant that came due; FireTime is when
	// the scheduler acted on it.
	ScheduledTime    time.Time
	FireTime         time.Time
	PreviousFireTime time.Time
	NextFireTime     time.Time
	Refire           int
}

// TriggerInfo is a point-in-time view of one scheduled trigger.
type TriggerInfo struct {
	ID             string
	Name           string
	Job            string
	Calendar       string
	Interval       int
	Unit           trigger.IntervalUnit
	Misfire        trigger.MisfireInstruction
	Next           time.Time
	Previous       time.Time
	Final          time.Time
	TimesTriggered int
}

type Snapshot struct {
	Timezone           string
	MisfireThreshold   time.Duration
	MisfiresSuppressed uint64
	Triggers           []TriggerInfo
}
