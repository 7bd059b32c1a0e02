package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"calsched/internal/clock"
	"calsched/internal/task/calendar"
	"calsched/internal/task/trigger"
)

const (
	DefaultMisfireThreshold = 60 * time.Second
	DefaultTickMaxSleep     = 60 * time.Second
	DefaultAlertRatePerSec  = 1
)

// Resolved is the runtime form of a Config: durations parsed, calendars and
// triggers constructed.
type Resolved struct {
	Location         *time.Location
	MisfireThreshold time.Duration
	TickMaxSleep     time.Duration
	AlertRatePerSec  int

	Calendars map[string]calendar.Calendar
	Triggers  []TriggerDef
}

// TriggerDef is a constructed trigger plus the names it was declared with.
type TriggerDef struct {
	Name     string
	Job      string
	Calendar string
	Trigger  *trigger.CalendarIntervalTrigger
}

// Validate builds every calendar and trigger so errors surface before a
// config is committed. It matches the Manager validator signature.
func Validate(ctx context.Context, cfg *Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := Resolve(cfg, clock.System())
	return err
}

// Resolve parses cfg into runtime values. Triggers read time from clk.
func Resolve(cfg *Config, clk clock.Clock) (*Resolved, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	out := &Resolved{Location: time.UTC}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: invalid location %q: %w", tz, err)
		}
		out.Location = loc
	}

	var err error
	if out.MisfireThreshold, err = ParseDurationOrDefault("scheduler.misfire_threshold", cfg.Scheduler.MisfireThreshold, DefaultMisfireThreshold); err != nil {
		return nil, err
	}
	if out.TickMaxSleep, err = ParseDurationOrDefault("scheduler.tick_max_sleep", cfg.Scheduler.TickMaxSleep, DefaultTickMaxSleep); err != nil {
		return nil, err
	}
	switch {
	case cfg.Scheduler.AlertRatePerSec < 0:
		return nil, fmt.Errorf("scheduler.alert_rate_per_sec: must be >= 0")
	case cfg.Scheduler.AlertRatePerSec == 0:
		out.AlertRatePerSec = DefaultAlertRatePerSec
	default:
		out.AlertRatePerSec = cfg.Scheduler.AlertRatePerSec
	}

	if cfg.Storage != nil {
		if err := validateStorage(cfg.Storage); err != nil {
			return nil, err
		}
	}

	if out.Calendars, err = calendar.BuildAll(cfg.Calendars, out.Location); err != nil {
		return nil, err
	}

	seen := make(map[string]int, len(cfg.Triggers))
	for i, tc := range cfg.Triggers {
		def, err := buildTrigger(tc, i, out, clk)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("triggers[%d].name: %q already declared by triggers[%d]", i, def.Name, prev)
		}
		seen[def.Name] = i
		out.Triggers = append(out.Triggers, def)
	}
	return out, nil
}

func validateStorage(sc *StorageConfig) error {
	switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
	case "", "none", "disabled", "off":
		return nil
	case "sqlite", "file":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", sc.Driver)
	}
	if strings.TrimSpace(sc.Path) == "" {
		return fmt.Errorf("storage.path: required for driver %q", sc.Driver)
	}
	_, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	return err
}

func buildTrigger(tc TriggerConfig, i int, r *Resolved, clk clock.Clock) (TriggerDef, error) {
	field := func(name string) string { return fmt.Sprintf("triggers[%d].%s", i, name) }

	name := strings.TrimSpace(tc.Name)
	if name == "" {
		return TriggerDef{}, fmt.Errorf("%s: required", field("name"))
	}

	unit, err := trigger.ParseIntervalUnit(tc.Unit)
	if err != nil {
		return TriggerDef{}, fmt.Errorf("%s: %w", field("unit"), err)
	}
	interval := tc.Interval
	if interval == 0 {
		interval = 1
	}
	misfire, err := trigger.ParseMisfireInstruction(tc.Misfire)
	if err != nil {
		return TriggerDef{}, fmt.Errorf("%s: %w", field("misfire"), err)
	}

	opts := []trigger.Option{
		trigger.WithClock(clk),
		trigger.WithLocation(r.Location),
		trigger.WithInterval(interval, unit),
		trigger.WithMisfireInstruction(misfire),
	}
	if s := strings.TrimSpace(tc.Start); s != "" {
		start, err := ParseTimeField(field("start"), s, r.Location)
		if err != nil {
			return TriggerDef{}, err
		}
		opts = append(opts, trigger.WithStartTime(start))
	}
	if s := strings.TrimSpace(tc.End); s != "" {
		end, err := ParseTimeField(field("end"), s, r.Location)
		if err != nil {
			return TriggerDef{}, err
		}
		opts = append(opts, trigger.WithEndTime(end))
	}

	calName := strings.TrimSpace(tc.Calendar)
	if calName != "" {
		if _, ok := r.Calendars[calName]; !ok {
			return TriggerDef{}, fmt.Errorf("%s: unknown calendar %q", field("calendar"), calName)
		}
	}

	t, err := trigger.New(opts...)
	if err != nil {
		return TriggerDef{}, fmt.Errorf("triggers[%d] (%s): %w", i, name, err)
	}
	return TriggerDef{Name: name, Job: tc.JobName(), Calendar: calName, Trigger: t}, nil
}

// ParseTimeField accepts RFC 3339 or a plain date read in loc.
func ParseTimeField(path, raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s: invalid time %q, expected RFC 3339 or YYYY-MM-DD", path, raw)
}
