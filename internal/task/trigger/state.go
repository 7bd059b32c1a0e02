package trigger

import (
	"time"

	"calsched/internal/clock"
)

// State is a serializable snapshot of a trigger's configuration and cursor.
type State struct {
	StartTime          time.Time          `json:"start_time"`
	EndTime            *time.Time         `json:"end_time,omitempty"`
	RepeatInterval     int                `json:"repeat_interval"`
	RepeatIntervalUnit IntervalUnit       `json:"repeat_interval_unit"`
	MisfireInstruction MisfireInstruction `json:"misfire_instruction"`
	Location           string             `json:"location,omitempty"`

	NextFireTime     *time.Time `json:"next_fire_time,omitempty"`
	PreviousFireTime *time.Time `json:"previous_fire_time,omitempty"`
	TimesTriggered   int        `json:"times_triggered"`
	Complete         bool       `json:"complete,omitempty"`
}

// State captures the trigger. The start time is pinned if it was unset.
func (t *CalendarIntervalTrigger) State() State {
	st := State{
		StartTime:          t.StartTime(),
		EndTime:            copyTime(t.endTime),
		RepeatInterval:     t.interval,
		RepeatIntervalUnit: t.unit,
		MisfireInstruction: t.misfire,
		NextFireTime:       copyTime(t.nextFireTime),
		PreviousFireTime:   copyTime(t.previousFireTime),
		TimesTriggered:     t.timesTriggered,
		Complete:           t.complete,
	}
	if t.loc != nil && t.loc != time.UTC {
		st.Location = t.loc.String()
	}
	return st
}

// FromState rebuilds a trigger from a snapshot, re-running every
// configuration check.
func FromState(st State, c clock.Clock) (*CalendarIntervalTrigger, error) {
	opts := []Option{
		WithStartTime(st.StartTime),
		WithInterval(st.RepeatInterval, st.RepeatIntervalUnit),
		WithMisfireInstruction(st.MisfireInstruction),
	}
	if st.EndTime != nil {
		opts = append(opts, WithEndTime(*st.EndTime))
	}
	if st.Location != "" {
		loc, err := time.LoadLocation(st.Location)
		if err != nil {
			return nil, configError("location", "%v", err)
		}
		opts = append(opts, WithLocation(loc))
	}
	if c != nil {
		opts = append(opts, WithClock(c))
	}
	t, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if st.TimesTriggered < 0 {
		return nil, configError("times_triggered", "must be >= 0, got %d", st.TimesTriggered)
	}
	t.timesTriggered = st.TimesTriggered
	t.previousFireTime = utcCopy(st.PreviousFireTime)
	t.nextFireTime = utcCopy(st.NextFireTime)
	if st.Complete {
		t.MarkComplete()
	}
	return t, nil
}

// SameSchedule reports whether s and o describe the same grid. Cursor
// fields (next, previous, count, complete) are ignored.
func (s State) SameSchedule(o State) bool {
	return s.StartTime.Equal(o.StartTime) &&
		equalTime(s.EndTime, o.EndTime) &&
		s.RepeatInterval == o.RepeatInterval &&
		s.RepeatIntervalUnit == o.RepeatIntervalUnit &&
		s.MisfireInstruction == o.MisfireInstruction &&
		s.Location == o.Location
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func utcCopy(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := p.UTC()
	return &v
}
