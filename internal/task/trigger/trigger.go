package trigger

import (
	"time"

	"calsched/internal/clock"
)

// CalendarIntervalTrigger fires every RepeatInterval units of
// RepeatIntervalUnit, starting at StartTime, until EndTime.
//
// The zero value is not usable; build one with New. A trigger holds no lock:
// the scheduler owning it must serialize every call.
type CalendarIntervalTrigger struct {
	clock clock.Clock
	loc   *time.Location

	startTime *time.Time
	endTime   *time.Time
	interval  int
	unit      IntervalUnit
	misfire   MisfireInstruction

	nextFireTime     *time.Time
	previousFireTime *time.Time
	timesTriggered   int
	complete         bool
}

var _ Schedulable = (*CalendarIntervalTrigger)(nil)

// Option configures a trigger under construction.
type Option func(t *CalendarIntervalTrigger) error

// WithStartTime sets the schedule origin. Without it the origin is the
// clock's "now" at first use.
func WithStartTime(start time.Time) Option {
	return func(t *CalendarIntervalTrigger) error { return t.SetStartTime(start) }
}

func WithEndTime(end time.Time) Option {
	return func(t *CalendarIntervalTrigger) error { return t.SetEndTime(end) }
}

func WithInterval(n int, unit IntervalUnit) Option {
	return func(t *CalendarIntervalTrigger) error {
		if err := t.SetRepeatIntervalUnit(unit); err != nil {
			return err
		}
		return t.SetRepeatInterval(n)
	}
}

func WithMisfireInstruction(m MisfireInstruction) Option {
	return func(t *CalendarIntervalTrigger) error { return t.SetMisfireInstruction(m) }
}

// WithLocation sets the location whose wall clock drives Day, Week, Month
// and Year stepping. Stored instants remain UTC.
func WithLocation(loc *time.Location) Option {
	return func(t *CalendarIntervalTrigger) error {
		if loc == nil {
			return configError("location", "location is nil")
		}
		t.loc = loc
		return nil
	}
}

func WithClock(c clock.Clock) Option {
	return func(t *CalendarIntervalTrigger) error {
		if c == nil {
			return configError("clock", "clock is nil")
		}
		t.clock = c
		return nil
	}
}

// New builds a trigger firing once a day with the smart misfire policy,
// then applies opts in order.
func New(opts ...Option) (*CalendarIntervalTrigger, error) {
	t := &CalendarIntervalTrigger{
		clock:    clock.System(),
		loc:      time.UTC,
		interval: 1,
		unit:     UnitDay,
		misfire:  MisfireSmartPolicy,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *CalendarIntervalTrigger) now() time.Time { return t.clock.Now().UTC() }

// StartTime returns the schedule origin, pinning it to "now" on first read
// when it was never set.
func (t *CalendarIntervalTrigger) StartTime() time.Time {
	if t.startTime == nil {
		now := t.now()
		t.startTime = &now
	}
	return *t.startTime
}

// HasStartTime reports whether the start time was set or already pinned.
func (t *CalendarIntervalTrigger) HasStartTime() bool { return t.startTime != nil }

func (t *CalendarIntervalTrigger) SetStartTime(start time.Time) error {
	start = start.UTC()
	if t.endTime != nil && t.endTime.Before(start) {
		return configError("start_time", "end time %s cannot be before start time %s",
			t.endTime.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	t.startTime = &start
	return nil
}

func (t *CalendarIntervalTrigger) EndTime() (time.Time, bool) {
	return optional(t.endTime)
}

func (t *CalendarIntervalTrigger) SetEndTime(end time.Time) error {
	end = end.UTC()
	if t.startTime != nil && end.Before(*t.startTime) {
		return configError("end_time", "end time %s cannot be before start time %s",
			end.Format(time.RFC3339), t.startTime.Format(time.RFC3339))
	}
	t.endTime = &end
	return nil
}

// ClearEndTime removes the end bound.
func (t *CalendarIntervalTrigger) ClearEndTime() { t.endTime = nil }

func (t *CalendarIntervalTrigger) RepeatInterval() int { return t.interval }

func (t *CalendarIntervalTrigger) SetRepeatInterval(n int) error {
	if n < 1 {
		return configError("interval", "repeat interval must be >= 1, got %d", n)
	}
	t.interval = n
	return nil
}

func (t *CalendarIntervalTrigger) RepeatIntervalUnit() IntervalUnit { return t.unit }

func (t *CalendarIntervalTrigger) SetRepeatIntervalUnit(u IntervalUnit) error {
	if !u.Valid() {
		return configError("unit", "unknown interval unit %d", int(u))
	}
	t.unit = u
	return nil
}

func (t *CalendarIntervalTrigger) MisfireInstruction() MisfireInstruction { return t.misfire }

func (t *CalendarIntervalTrigger) SetMisfireInstruction(m MisfireInstruction) error {
	if !m.Valid() {
		return configError("misfire", "unknown misfire instruction %d", int(m))
	}
	t.misfire = m
	return nil
}

func (t *CalendarIntervalTrigger) Location() *time.Location { return t.loc }

func (t *CalendarIntervalTrigger) NextFireTime() (time.Time, bool) {
	return optional(t.nextFireTime)
}

func (t *CalendarIntervalTrigger) PreviousFireTime() (time.Time, bool) {
	return optional(t.previousFireTime)
}

func (t *CalendarIntervalTrigger) TimesTriggered() int { return t.timesTriggered }

func (t *CalendarIntervalTrigger) Complete() bool { return t.complete }

// MarkComplete retires the trigger: it will never report a fire time again.
func (t *CalendarIntervalTrigger) MarkComplete() {
	t.complete = true
	t.nextFireTime = nil
}

// MayFireAgain reports whether a next fire time is pending.
func (t *CalendarIntervalTrigger) MayFireAgain() bool { return t.nextFireTime != nil }

func (t *CalendarIntervalTrigger) setNextFireTime(v time.Time, ok bool) {
	if !ok || t.complete {
		t.nextFireTime = nil
		return
	}
	v = v.UTC()
	t.nextFireTime = &v
}

func optional(p *time.Time) (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	return *p, true
}
