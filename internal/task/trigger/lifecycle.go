package trigger

import "time"

// skipExcluded advances candidate along the grid until cal includes it.
// The search gives up once the year passes GiveUpYear.
func (t *CalendarIntervalTrigger) skipExcluded(candidate time.Time, ok bool, cal Calendar) (time.Time, bool) {
	if ok && candidate.Year() > GiveUpYear {
		return time.Time{}, false
	}
	for ok && cal != nil && !cal.IsTimeIncluded(candidate) {
		candidate, ok = t.fireTimeAfter(candidate, false)
		if ok && candidate.Year() > GiveUpYear {
			return time.Time{}, false
		}
	}
	return candidate, ok
}

// ComputeFirstFireTime initializes the next fire time from the start time
// and returns it. ok is false when the trigger will never fire under cal.
func (t *CalendarIntervalTrigger) ComputeFirstFireTime(cal Calendar) (time.Time, bool) {
	first, ok := t.skipExcluded(t.StartTime(), !t.complete, cal)
	if ok && t.endTime != nil && first.After(*t.endTime) {
		ok = false
	}
	t.setNextFireTime(first, ok)
	if !ok {
		return time.Time{}, false
	}
	return first, true
}

// Triggered records a firing and advances to the next included grid point.
func (t *CalendarIntervalTrigger) Triggered(cal Calendar) {
	t.timesTriggered++
	t.previousFireTime = t.nextFireTime

	after := t.now()
	if t.previousFireTime != nil {
		after = *t.previousFireTime
	}
	next, ok := t.fireTimeAfter(after, false)
	t.setNextFireTime(t.skipExcluded(next, ok, cal))
}

// UpdateAfterMisfire resolves a missed firing per the misfire instruction.
func (t *CalendarIntervalTrigger) UpdateAfterMisfire(cal Calendar) {
	now := t.now()
	switch t.misfire {
	case MisfireSmartPolicy, MisfireFireOnceNow:
		// Later fire times are re-derived from the start time, so the
		// original time of day comes back on the following firing.
		t.setNextFireTime(now, true)
	case MisfireDoNothing:
		next, ok := t.fireTimeAfter(now, false)
		t.setNextFireTime(t.skipExcluded(next, ok, cal))
	}
}

// UpdateWithNewCalendar recomputes the next fire time from the previous one
// under a replacement calendar. Excluded candidates that are already older
// than misfireThreshold are skipped one extra interval, as a misfire would.
func (t *CalendarIntervalTrigger) UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration) {
	after := t.now()
	if t.previousFireTime != nil {
		after = *t.previousFireTime
	}
	next, ok := t.fireTimeAfter(after, false)
	if !ok || cal == nil {
		t.setNextFireTime(next, ok)
		return
	}

	now := t.now()
	for ok && !cal.IsTimeIncluded(next) {
		next, ok = t.fireTimeAfter(next, false)
		if !ok {
			break
		}
		if next.Year() > GiveUpYear {
			ok = false
			break
		}
		if next.Before(now) && now.Sub(next) >= misfireThreshold {
			next, ok = t.fireTimeAfter(next, false)
		}
	}
	t.setNextFireTime(next, ok)
}

// ExecutionComplete maps a finished job run to a scheduler instruction.
// A nil result carries no flags.
func (t *CalendarIntervalTrigger) ExecutionComplete(res *ExecutionResult) CompletedExecutionInstruction {
	if res != nil {
		switch {
		case res.RefireImmediately:
			return ReExecuteJob
		case res.UnscheduleFiringTrigger:
			return SetTriggerComplete
		case res.UnscheduleAllTriggers:
			return SetAllJobTriggersComplete
		}
	}
	if !t.MayFireAgain() {
		return DeleteTrigger
	}
	return NoInstruction
}

// Validate reports configuration errors that would keep the trigger from
// being scheduled.
func (t *CalendarIntervalTrigger) Validate() error {
	if t.interval < 1 {
		return configError("interval", "repeat interval must be >= 1, got %d", t.interval)
	}
	if !t.unit.Valid() {
		return configError("unit", "unknown interval unit %d", int(t.unit))
	}
	if !t.misfire.Valid() {
		return configError("misfire", "unknown misfire instruction %d", int(t.misfire))
	}
	if t.loc == nil || t.clock == nil {
		return configError("trigger", "trigger was not built with New")
	}
	if t.endTime != nil {
		// An unset start is checked against the instant it would be pinned
		// to, without pinning it.
		start := t.now()
		if t.startTime != nil {
			start = *t.startTime
		}
		if t.endTime.Before(start) {
			return configError("end_time", "end time %s cannot be before start time %s",
				t.endTime.Format(time.RFC3339), start.Format(time.RFC3339))
		}
	}
	return nil
}
