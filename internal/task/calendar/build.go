package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Spec is the declarative form of a calendar, as found in config files.
//
// Type values:
//   - "holiday": Dates lists excluded days ("2006-01-02")
//   - "daily":   From/To bound an excluded time-of-day window ("22:00" - "06:00")
//   - "weekly":  Days lists excluded weekdays ("saturday", "sun")
//   - "cron":    Expr is a cron expression whose matching seconds are excluded
type Spec struct {
	Type     string   `json:"type"`
	Location string   `json:"location,omitempty"`
	Base     string   `json:"base,omitempty"`
	Dates    []string `json:"dates,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Invert   bool     `json:"invert,omitempty"`
	Days     []string `json:"days,omitempty"`
	Expr     string   `json:"expr,omitempty"`
}

// BuildAll constructs every named calendar, resolving base references by
// name. defaultLoc applies to specs without a location.
func BuildAll(specs map[string]Spec, defaultLoc *time.Location) (map[string]Calendar, error) {
	b := builder{specs: specs, loc: defaultLoc, built: map[string]Calendar{}, visiting: map[string]bool{}}
	if b.loc == nil {
		b.loc = time.UTC
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := b.build(name); err != nil {
			return nil, err
		}
	}
	return b.built, nil
}

type builder struct {
	specs    map[string]Spec
	loc      *time.Location
	built    map[string]Calendar
	visiting map[string]bool
}

func (b *builder) build(name string) (Calendar, error) {
	if c, ok := b.built[name]; ok {
		return c, nil
	}
	spec, ok := b.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown calendar %q", ErrInvalid, name)
	}
	if b.visiting[name] {
		return nil, fmt.Errorf("%w: calendar %q has a cyclic base chain", ErrInvalid, name)
	}
	b.visiting[name] = true
	defer delete(b.visiting, name)

	var base Calendar
	if ref := strings.TrimSpace(spec.Base); ref != "" {
		c, err := b.build(ref)
		if err != nil {
			return nil, err
		}
		base = c
	}

	c, err := Build(spec, base, b.loc)
	if err != nil {
		return nil, fmt.Errorf("calendars.%s: %w", name, err)
	}
	b.built[name] = c
	return c, nil
}

// Build constructs a single calendar on top of base.
func Build(spec Spec, base Calendar, defaultLoc *time.Location) (Calendar, error) {
	loc := defaultLoc
	if tz := strings.TrimSpace(spec.Location); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: location %q: %v", ErrInvalid, tz, err)
		}
		loc = l
	}

	switch strings.ToLower(strings.TrimSpace(spec.Type)) {
	case "holiday":
		h := NewHoliday(base, loc)
		for _, raw := range spec.Dates {
			d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), h.Location())
			if err != nil {
				return nil, fmt.Errorf("%w: holiday date %q: %v", ErrInvalid, raw, err)
			}
			h.AddExcludedDate(d)
		}
		return h, nil
	case "daily":
		from, err := ParseTimeOfDay(spec.From)
		if err != nil {
			return nil, fmt.Errorf("%w: from: %v", ErrInvalid, err)
		}
		to, err := ParseTimeOfDay(spec.To)
		if err != nil {
			return nil, fmt.Errorf("%w: to: %v", ErrInvalid, err)
		}
		return NewDaily(base, loc, from, to, spec.Invert)
	case "weekly":
		w := NewWeekly(base, loc)
		for _, raw := range spec.Days {
			d, err := ParseWeekday(raw)
			if err != nil {
				return nil, err
			}
			w.SetDayExcluded(d, true)
		}
		return w, nil
	case "cron":
		return NewCron(base, loc, spec.Expr)
	default:
		return nil, fmt.Errorf("%w: unknown calendar type %q", ErrInvalid, spec.Type)
	}
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) == 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalid, raw)
}
