package trigger

import (
	"errors"
	"testing"
	"time"

	"calsched/internal/clock"
)

type calendarFunc func(time.Time) bool

func (f calendarFunc) IsTimeIncluded(t time.Time) bool { return f(t) }

func excludeInstants(ts ...time.Time) Calendar {
	return calendarFunc(func(t time.Time) bool {
		for _, x := range ts {
			if x.Equal(t) {
				return false
			}
		}
		return true
	})
}

func TestComputeFirstFireTimeEndEqualsStart(t *testing.T) {
	t.Parallel()
	start := utc(2024, 6, 1, 12, 0, 0)
	for _, unit := range []IntervalUnit{UnitSecond, UnitDay, UnitMonth} {
		tr := mustTrigger(t, WithStartTime(start), WithEndTime(start), WithInterval(1, unit))
		got, ok := tr.ComputeFirstFireTime(nil)
		if !ok || !got.Equal(start) {
			t.Fatalf("%s: first = %v/%v, want %v", unit, got, ok, start)
		}
		tr.Triggered(nil)
		if tr.MayFireAgain() {
			t.Fatalf("%s: trigger should fire exactly once", unit)
		}
	}
}

func TestEndBeforeLazyStartIsRejected(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(utc(2026, 10, 19, 12, 0, 0))
	end := utc(2020, 1, 1, 0, 0, 0)
	tr := mustTrigger(t, WithClock(clk), WithEndTime(end), WithInterval(1, UnitHour))

	if err := tr.Validate(); !IsConfigError(err) {
		t.Fatalf("Validate = %v, want configuration error", err)
	}
	if tr.HasStartTime() {
		t.Fatal("Validate pinned the start time")
	}
	if got, ok := tr.ComputeFirstFireTime(nil); ok {
		t.Fatalf("first fire time %v after end %v", got, end)
	}
	if tr.MayFireAgain() {
		t.Fatal("trigger past its end may fire again")
	}

	future := mustTrigger(t, WithClock(clk), WithEndTime(utc(2027, 1, 1, 0, 0, 0)), WithInterval(1, UnitHour))
	if err := future.Validate(); err != nil {
		t.Fatalf("Validate with future end = %v", err)
	}
}

func TestComputeFirstFireTimeBeyondGiveUpYear(t *testing.T) {
	t.Parallel()
	tr := mustTrigger(t, WithStartTime(utc(GiveUpYear+1, 3, 1, 0, 0, 0)), WithInterval(1, UnitDay))
	if got, ok := tr.ComputeFirstFireTime(nil); ok {
		t.Fatalf("first = %v, want none past the cutoff year", got)
	}
}

func TestComputeFirstFireTimeSkipsExcluded(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 1, 9, 0, 0)
	tr := mustTrigger(t, WithStartTime(start), WithInterval(1, UnitDay))
	cal := excludeInstants(start, start.AddDate(0, 0, 1))

	got, ok := tr.ComputeFirstFireTime(cal)
	if want := start.AddDate(0, 0, 2); !ok || !got.Equal(want) {
		t.Fatalf("first = %v/%v, want %v", got, ok, want)
	}
	if next, _ := tr.NextFireTime(); !next.Equal(got) {
		t.Fatalf("NextFireTime = %v, want %v", next, got)
	}
}

func TestComputeFirstFireTimeNeverIncluded(t *testing.T) {
	t.Parallel()
	tr := mustTrigger(t, WithStartTime(utc(2024, 1, 1, 0, 0, 0)), WithInterval(1, UnitMonth))
	never := calendarFunc(func(time.Time) bool { return false })

	if got, ok := tr.ComputeFirstFireTime(never); ok {
		t.Fatalf("expected no first fire time, got %v", got)
	}
	if tr.MayFireAgain() {
		t.Fatal("MayFireAgain = true for a trigger that never fires")
	}
	if got := tr.ExecutionComplete(nil); got != DeleteTrigger {
		t.Fatalf("ExecutionComplete = %s, want %s", got, DeleteTrigger)
	}
}

func TestTriggeredAdvancesCursor(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 1, 0, 0, 0)
	tr := mustTrigger(t, WithStartTime(start), WithInterval(2, UnitHour))
	tr.ComputeFirstFireTime(nil)

	skip := start.Add(4 * time.Hour)
	tr.Triggered(excludeInstants(skip))
	tr.Triggered(excludeInstants(skip))

	if tr.TimesTriggered() != 2 {
		t.Fatalf("TimesTriggered = %d, want 2", tr.TimesTriggered())
	}
	prev, ok := tr.PreviousFireTime()
	if !ok || !prev.Equal(start.Add(2*time.Hour)) {
		t.Fatalf("PreviousFireTime = %v/%v", prev, ok)
	}
	next, _ := tr.NextFireTime()
	if want := start.Add(6 * time.Hour); !next.Equal(want) {
		t.Fatalf("NextFireTime = %v, want %v (04:00 excluded)", next, want)
	}
}

func TestMisfireDoNothingSkipsExcludedInstants(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 1, 0, 0, 0)
	fc := clock.NewFake(utc(2024, 1, 1, 10, 30, 0))
	tr := mustTrigger(t,
		WithStartTime(start),
		WithInterval(1, UnitHour),
		WithMisfireInstruction(MisfireDoNothing),
		WithClock(fc),
	)
	tr.ComputeFirstFireTime(nil)

	cal := excludeInstants(utc(2024, 1, 1, 11, 0, 0), utc(2024, 1, 1, 12, 0, 0), utc(2024, 1, 1, 13, 0, 0))
	tr.UpdateAfterMisfire(cal)

	next, ok := tr.NextFireTime()
	if want := utc(2024, 1, 1, 14, 0, 0); !ok || !next.Equal(want) {
		t.Fatalf("NextFireTime = %v/%v, want %v", next, ok, want)
	}
}

func TestMisfireFireOnceNowKeepsTimeOfDay(t *testing.T) {
	t.Parallel()
	for _, m := range []MisfireInstruction{MisfireFireOnceNow, MisfireSmartPolicy} {
		start := utc(2024, 1, 1, 9, 0, 0)
		now := utc(2024, 1, 5, 13, 17, 0)
		tr := mustTrigger(t,
			WithStartTime(start),
			WithInterval(1, UnitDay),
			WithMisfireInstruction(m),
			WithClock(clock.NewFake(now)),
		)
		tr.ComputeFirstFireTime(nil)
		tr.UpdateAfterMisfire(nil)

		next, _ := tr.NextFireTime()
		if !next.Equal(now) {
			t.Fatalf("%s: NextFireTime = %v, want now %v", m, next, now)
		}
		tr.Triggered(nil)
		next, _ = tr.NextFireTime()
		if want := utc(2024, 1, 6, 9, 0, 0); !next.Equal(want) {
			t.Fatalf("%s: following fire = %v, want %v", m, next, want)
		}
	}
}

func TestUpdateWithNewCalendarSkipsStaleCandidates(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 1, 0, 0, 0)
	now := utc(2024, 1, 1, 10, 0, 0)
	cal := excludeInstants(utc(2024, 1, 1, 3, 0, 0))

	tests := []struct {
		name      string
		threshold time.Duration
		want      time.Time
	}{
		{"stale candidate skipped", time.Hour, utc(2024, 1, 1, 5, 0, 0)},
		{"within threshold kept", 24 * time.Hour, utc(2024, 1, 1, 4, 0, 0)},
	}
	for _, tt := range tests {
		tr := mustTrigger(t, WithStartTime(start), WithInterval(1, UnitHour), WithClock(clock.NewFake(now)))
		tr.ComputeFirstFireTime(nil)
		tr.Triggered(nil)
		tr.Triggered(nil)
		tr.Triggered(nil) // previous = 02:00

		tr.UpdateWithNewCalendar(cal, tt.threshold)
		next, ok := tr.NextFireTime()
		if !ok || !next.Equal(tt.want) {
			t.Fatalf("%s: NextFireTime = %v/%v, want %v", tt.name, next, ok, tt.want)
		}
	}
}

func TestUpdateWithNewCalendarNilCalendar(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 1, 0, 0, 0)
	tr := mustTrigger(t, WithStartTime(start), WithInterval(1, UnitWeek), WithClock(clock.NewFake(start)))
	tr.ComputeFirstFireTime(nil)
	tr.Triggered(nil)

	tr.UpdateWithNewCalendar(nil, time.Minute)
	next, _ := tr.NextFireTime()
	if want := start.AddDate(0, 0, 7); !next.Equal(want) {
		t.Fatalf("NextFireTime = %v, want %v", next, want)
	}
}

func TestExecutionCompletePriority(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 1, 0, 0, 0)
	live := mustTrigger(t, WithStartTime(start))
	live.ComputeFirstFireTime(nil)
	done := mustTrigger(t, WithStartTime(start))

	tests := []struct {
		name string
		tr   *CalendarIntervalTrigger
		res  *ExecutionResult
		want CompletedExecutionInstruction
	}{
		{"refire wins", live, &ExecutionResult{RefireImmediately: true, UnscheduleFiringTrigger: true, UnscheduleAllTriggers: true}, ReExecuteJob},
		{"unschedule this", live, &ExecutionResult{UnscheduleFiringTrigger: true, UnscheduleAllTriggers: true}, SetTriggerComplete},
		{"unschedule all", live, &ExecutionResult{UnscheduleAllTriggers: true}, SetAllJobTriggersComplete},
		{"no more fires", done, &ExecutionResult{Err: errors.New("boom")}, DeleteTrigger},
		{"nothing", live, nil, NoInstruction},
	}
	for _, tt := range tests {
		if got := tt.tr.ExecutionComplete(tt.res); got != tt.want {
			t.Fatalf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestConfigurationErrors(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 2, 0, 0, 0)
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero interval", []Option{WithInterval(0, UnitDay)}},
		{"negative interval", []Option{WithInterval(-3, UnitHour)}},
		{"unknown unit", []Option{WithInterval(1, IntervalUnit(42))}},
		{"unknown misfire", []Option{WithMisfireInstruction(MisfireInstruction(9))}},
		{"end before start", []Option{WithStartTime(start), WithEndTime(start.Add(-time.Second))}},
		{"start after end", []Option{WithEndTime(start), WithStartTime(start.Add(time.Second))}},
		{"nil location", []Option{WithLocation(nil)}},
	}
	for _, tt := range tests {
		_, err := New(tt.opts...)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if !IsConfigError(err) {
			t.Fatalf("%s: error %v does not wrap ErrInvalidConfig", tt.name, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tr := mustTrigger(t)
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tr.interval = 0
	if err := tr.Validate(); !IsConfigError(err) {
		t.Fatalf("Validate with interval 0 = %v, want config error", err)
	}
	var zero CalendarIntervalTrigger
	zero.interval, zero.unit = 1, UnitDay
	if err := zero.Validate(); !IsConfigError(err) {
		t.Fatalf("Validate on zero value = %v, want config error", err)
	}
}

func TestParseNames(t *testing.T) {
	t.Parallel()
	units := map[string]IntervalUnit{"second": UnitSecond, "Minutes": UnitMinute, " week ": UnitWeek, "years": UnitYear}
	for raw, want := range units {
		got, err := ParseIntervalUnit(raw)
		if err != nil || got != want {
			t.Fatalf("ParseIntervalUnit(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseIntervalUnit("fortnight"); !IsConfigError(err) {
		t.Fatalf("expected config error for unknown unit, got %v", err)
	}

	misfires := map[string]MisfireInstruction{"": MisfireSmartPolicy, "smart": MisfireSmartPolicy, "fire-once-now": MisfireFireOnceNow, "do_nothing": MisfireDoNothing}
	for raw, want := range misfires {
		got, err := ParseMisfireInstruction(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMisfireInstruction(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseMisfireInstruction("ignore"); !IsConfigError(err) {
		t.Fatalf("expected config error for unknown misfire, got %v", err)
	}
}

func TestFromStateRestoresCursor(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 1, 0, 0, 0)
	tr := mustTrigger(t, WithStartTime(start), WithEndTime(utc(2024, 12, 31, 0, 0, 0)), WithInterval(1, UnitMonth))
	tr.ComputeFirstFireTime(nil)
	tr.Triggered(nil)

	restored, err := FromState(tr.State(), nil)
	if err != nil {
		t.Fatalf("FromState: %v", err)
	}
	restored.Triggered(nil)
	tr.Triggered(nil)

	a, _ := tr.NextFireTime()
	b, _ := restored.NextFireTime()
	if !a.Equal(b) || restored.TimesTriggered() != tr.TimesTriggered() {
		t.Fatalf("restored trigger diverged: %v/%d vs %v/%d", b, restored.TimesTriggered(), a, tr.TimesTriggered())
	}

	bad := tr.State()
	bad.RepeatInterval = 0
	if _, err := FromState(bad, nil); !IsConfigError(err) {
		t.Fatalf("FromState with interval 0 = %v, want config error", err)
	}
}

func TestStateSameScheduleIgnoresCursor(t *testing.T) {
	t.Parallel()
	start := utc(2024, 1, 1, 0, 0, 0)
	a := mustTrigger(t, WithStartTime(start), WithInterval(2, UnitWeek))
	b := mustTrigger(t, WithStartTime(start), WithInterval(2, UnitWeek))
	b.ComputeFirstFireTime(nil)
	b.Triggered(nil)
	if !a.State().SameSchedule(b.State()) {
		t.Fatal("cursor difference should not change the schedule")
	}
	if err := b.SetEndTime(utc(2025, 1, 1, 0, 0, 0)); err != nil {
		t.Fatalf("SetEndTime: %v", err)
	}
	if a.State().SameSchedule(b.State()) {
		t.Fatal("end time difference not detected")
	}

	lazy := mustTrigger(t)
	if lazy.HasStartTime() {
		t.Fatal("start time should be unset before first read")
	}
	lazy.StartTime()
	if !lazy.HasStartTime() {
		t.Fatal("start time should be pinned after first read")
	}
}
