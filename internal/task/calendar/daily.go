package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Daily excludes a time-of-day window [From, To) on every day. A window whose
// From is later than To wraps past midnight. With Invert set, only the window
// is included.
type Daily struct {
	chain
	from, to time.Duration
	invert   bool
}

func NewDaily(base Calendar, loc *time.Location, from, to time.Duration, invert bool) (*Daily, error) {
	if from < 0 || from >= day {
		return nil, fmt.Errorf("%w: daily from %s out of range", ErrInvalid, from)
	}
	if to < 0 || to > day {
		return nil, fmt.Errorf("%w: daily to %s out of range", ErrInvalid, to)
	}
	if from == to {
		return nil, fmt.Errorf("%w: daily window is empty (%s)", ErrInvalid, from)
	}
	return &Daily{chain: newChain(base, loc), from: from, to: to, invert: invert}, nil
}

func (d *Daily) inWindow(t time.Time) bool {
	// Wall-clock offset, so DST days keep the same window.
	hh, mm, ss := t.In(d.loc).Clock()
	offset := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute +
		time.Duration(ss)*time.Second + time.Duration(t.Nanosecond())
	if d.from < d.to {
		return offset >= d.from && offset < d.to
	}
	return offset >= d.from || offset < d.to
}

func (d *Daily) IsTimeIncluded(t time.Time) bool {
	if !d.baseIncludes(t) {
		return false
	}
	return d.inWindow(t) == d.invert
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
// "24:00" is accepted as the end of the day.
func ParseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM or HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in %q", s)
		}
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	if d > day {
		return 0, fmt.Errorf("invalid time %q, past end of day", s)
	}
	return d, nil
}
