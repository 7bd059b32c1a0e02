package trigger

import "time"

// bulkJumpThreshold is the estimate above which Day/Week computation makes a
// dampened bulk jump before stepping.
const bulkJumpThreshold = 20

// FireTimeAfter returns the first grid point strictly after after, honoring
// the end time. ok is false when the trigger will not fire after that instant.
func (t *CalendarIntervalTrigger) FireTimeAfter(after time.Time) (time.Time, bool) {
	return t.fireTimeAfter(after, false)
}

// FireTimeAfterNow is FireTimeAfter relative to the trigger's clock.
func (t *CalendarIntervalTrigger) FireTimeAfterNow() (time.Time, bool) {
	return t.fireTimeAfter(t.now(), false)
}

func (t *CalendarIntervalTrigger) fireTimeAfter(after time.Time, ignoreEnd bool) (time.Time, bool) {
	if t.complete {
		return time.Time{}, false
	}
	strat, ok := strategyFor(t.unit)
	if !ok {
		return time.Time{}, false
	}

	// One second past after, so the same instant is never selected twice.
	ref := after.UTC().Add(time.Second)
	start := t.StartTime()
	end, hasEnd := t.EndTime()

	if !ignoreEnd && hasEnd && !end.After(ref) {
		return time.Time{}, false
	}
	if ref.Before(start) {
		return start, true
	}

	var fire time.Time
	if strat.fixed {
		fire = t.fixedFireTime(strat, start, ref)
	} else {
		fire, ok = t.steppedFireTime(strat, start, ref)
		if !ok {
			return time.Time{}, false
		}
	}

	if !ignoreEnd && hasEnd && !fire.Before(end) {
		return time.Time{}, false
	}
	return fire, true
}

// fixedFireTime jumps straight to the grid point at or after ref.
func (t *CalendarIntervalTrigger) fixedFireTime(strat unitStrategy, start, ref time.Time) time.Time {
	step := int64(t.interval) * strat.seconds
	secs := elapsedSeconds(start, ref)
	jumps := secs / step
	if secs%step != 0 {
		jumps++
	}
	return addSeconds(start, jumps*step)
}

// steppedFireTime walks the calendar grid in the trigger's location. Day and
// Week first leap most of the way with a dampened estimate; a leap must never
// overshoot since the stepping below only moves forward.
func (t *CalendarIntervalTrigger) steppedFireTime(strat unitStrategy, start, ref time.Time) (time.Time, bool) {
	work := start.In(t.loc)

	if strat.seconds > 0 {
		jumps := elapsedSeconds(start, ref) / (int64(t.interval) * strat.seconds)
		if jumps > bulkJumpThreshold {
			jumps = dampenJumps(jumps)
			work = strat.add(work, t.interval*int(jumps))
		}
	}

	for work.Before(ref) && work.Year() <= GiveUpYear {
		work = strat.add(work, t.interval)
	}
	if work.Before(ref) {
		return time.Time{}, false
	}
	return work.UTC(), true
}

// FinalFireTime returns the last grid point at or before the end time.
func (t *CalendarIntervalTrigger) FinalFireTime() (time.Time, bool) {
	if t.complete || t.endTime == nil {
		return time.Time{}, false
	}
	end := *t.endTime

	fire, ok := t.fireTimeAfter(end.Add(-time.Second), true)
	if !ok {
		return time.Time{}, false
	}
	if fire.Equal(end) {
		return fire, true
	}

	strat, _ := strategyFor(t.unit)
	prev := strat.add(fire.In(t.loc), -t.interval).UTC()
	// Stepping back from a clamped month can undershoot the first grid point.
	if start := t.StartTime(); prev.Before(start) {
		prev = start
	}
	return prev, true
}
