package calendar

import "time"

// Weekly excludes whole weekdays, evaluated in its location.
type Weekly struct {
	chain
	excluded [7]bool
}

func NewWeekly(base Calendar, loc *time.Location, days ...time.Weekday) *Weekly {
	w := &Weekly{chain: newChain(base, loc)}
	for _, d := range days {
		w.SetDayExcluded(d, true)
	}
	return w
}

func (w *Weekly) SetDayExcluded(d time.Weekday, excluded bool) {
	if d < time.Sunday || d > time.Saturday {
		return
	}
	w.excluded[d] = excluded
}

func (w *Weekly) IsDayExcluded(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday && w.excluded[d]
}

// AreAllDaysExcluded is true when no instant can ever be included.
func (w *Weekly) AreAllDaysExcluded() bool {
	for _, x := range w.excluded {
		if !x {
			return false
		}
	}
	return true
}

func (w *Weekly) IsTimeIncluded(t time.Time) bool {
	if !w.baseIncludes(t) {
		return false
	}
	return !w.excluded[t.In(w.loc).Weekday()]
}
