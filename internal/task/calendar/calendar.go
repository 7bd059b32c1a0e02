package calendar

import (
	"errors"
	"time"
)

// Calendar reports whether an instant may fire.
type Calendar interface {
	IsTimeIncluded(t time.Time) bool
}

// ErrInvalid is wrapped by calendar construction errors.
var ErrInvalid = errors.New("invalid calendar")

// chain holds the optional base calendar and the evaluation location shared
// by every implementation.
type chain struct {
	base Calendar
	loc  *time.Location
}

func newChain(base Calendar, loc *time.Location) chain {
	if loc == nil {
		loc = time.UTC
	}
	return chain{base: base, loc: loc}
}

func (c chain) baseIncludes(t time.Time) bool {
	return c.base == nil || c.base.IsTimeIncluded(t)
}

// Base returns the chained calendar, or nil.
func (c chain) Base() Calendar { return c.base }

func (c chain) Location() *time.Location { return c.loc }

// Func adapts a predicate to Calendar.
type Func func(t time.Time) bool

func (f Func) IsTimeIncluded(t time.Time) bool { return f(t) }
