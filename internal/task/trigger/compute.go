package trigger

import "time"

// ComputeFireTimes lists up to n fire times at or after from that cal
// includes. The cursor (next/previous fire time, count) is not touched; a
// lazy start time is pinned.
func (t *CalendarIntervalTrigger) ComputeFireTimes(cal Calendar, from time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	next, ok := t.fireTimeAfter(from.Add(-time.Second), false)
	for ok && len(out) < n {
		if next.Year() > GiveUpYear {
			break
		}
		if cal == nil || cal.IsTimeIncluded(next) {
			out = append(out, next)
		}
		next, ok = t.fireTimeAfter(next, false)
	}
	return out
}
