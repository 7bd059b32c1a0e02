package trigger

import "time"

// unitStrategy describes how one interval unit measures and moves time.
type unitStrategy struct {
	// seconds is the nominal length of one unit. Fixed units are exact;
	// for Day and Week it only feeds the bulk-jump estimate; Month and Year
	// leave it at zero (no estimate, pure stepping).
	seconds int64
	// fixed units are computed by integer division with no stepping.
	fixed bool
	// add moves t by n units in t's location.
	add func(t time.Time, n int) time.Time
}

var unitStrategies = map[IntervalUnit]unitStrategy{
	UnitSecond: {seconds: 1, fixed: true, add: addSecondsFunc(1)},
	UnitMinute: {seconds: 60, fixed: true, add: addSecondsFunc(60)},
	UnitHour:   {seconds: 3600, fixed: true, add: addSecondsFunc(3600)},
	UnitDay:    {seconds: 24 * 3600, add: func(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }},
	UnitWeek:   {seconds: 7 * 24 * 3600, add: func(t time.Time, n int) time.Time { return t.AddDate(0, 0, 7*n) }},
	UnitMonth:  {add: addMonths},
	UnitYear:   {add: func(t time.Time, n int) time.Time { return addMonths(t, 12*n) }},
}

func strategyFor(u IntervalUnit) (unitStrategy, bool) {
	s, ok := unitStrategies[u]
	return s, ok
}

func addSecondsFunc(unit int64) func(time.Time, int) time.Time {
	return func(t time.Time, n int) time.Time { return addSeconds(t, int64(n)*unit) }
}

// addSeconds avoids time.Duration so jumps spanning centuries cannot overflow.
func addSeconds(t time.Time, n int64) time.Time {
	return time.Unix(t.Unix()+n, int64(t.Nanosecond())).In(t.Location())
}

// elapsedSeconds returns the whole seconds from a to b (b >= a).
func elapsedSeconds(a, b time.Time) int64 {
	secs := b.Unix() - a.Unix()
	if b.Nanosecond() < a.Nanosecond() {
		secs--
	}
	return secs
}

// addMonths moves t by n months, clamping the day to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29). Repeated application keeps the
// clamped day: Jan 31, Feb 29, Mar 29, ...
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	idx := int(m) - 1 + n
	y += floorDiv(idx, 12)
	idx -= floorDiv(idx, 12) * 12
	month := time.Month(idx + 1)

	if last := daysIn(y, month, t.Location()); d > last {
		d = last
	}
	return time.Date(y, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, m time.Month, loc *time.Location) int {
	return time.Date(year, m+1, 0, 12, 0, 0, 0, loc).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// dampenJumps shrinks a bulk-jump estimate so the stepping phase never has to
// walk backwards. The ratios are fixed for compatibility.
func dampenJumps(n int64) int64 {
	switch {
	case n < 50:
		return int64(float64(n) * 0.80)
	case n < 500:
		return int64(float64(n) * 0.90)
	default:
		return int64(float64(n) * 0.95)
	}
}
