package calendar

import (
	"sort"
	"time"
)

type dateKey struct {
	y int
	m time.Month
	d int
}

// Holiday excludes whole days, evaluated in its location.
type Holiday struct {
	chain
	dates map[dateKey]struct{}
}

func NewHoliday(base Calendar, loc *time.Location, dates ...time.Time) *Holiday {
	h := &Holiday{chain: newChain(base, loc), dates: map[dateKey]struct{}{}}
	for _, d := range dates {
		h.AddExcludedDate(d)
	}
	return h
}

func (h *Holiday) key(t time.Time) dateKey {
	y, m, d := t.In(h.loc).Date()
	return dateKey{y, m, d}
}

func (h *Holiday) AddExcludedDate(t time.Time) { h.dates[h.key(t)] = struct{}{} }

func (h *Holiday) RemoveExcludedDate(t time.Time) { delete(h.dates, h.key(t)) }

// ExcludedDates returns the excluded days as local midnights, ascending.
func (h *Holiday) ExcludedDates() []time.Time {
	out := make([]time.Time, 0, len(h.dates))
	for k := range h.dates {
		out = append(out, time.Date(k.y, k.m, k.d, 0, 0, 0, 0, h.loc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (h *Holiday) IsTimeIncluded(t time.Time) bool {
	if !h.baseIncludes(t) {
		return false
	}
	_, excluded := h.dates[h.key(t)]
	return !excluded
}
