package calendar

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field and 6-field (leading seconds) specs plus
// descriptors like @daily.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron excludes every second matched by a cron expression.
type Cron struct {
	chain
	expr  string
	sched *cron.SpecSchedule
}

func NewCron(base Calendar, loc *time.Location, expr string) (*Cron, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalid, expr, err)
	}
	spec, ok := s.(*cron.SpecSchedule)
	if !ok {
		// @every is relative to its first activation and cannot match instants.
		return nil, fmt.Errorf("%w: cron %q is not a field expression", ErrInvalid, expr)
	}
	c := &Cron{chain: newChain(base, loc), expr: expr, sched: spec}
	if spec.Location == time.Local {
		spec.Location = c.loc
	}
	return c, nil
}

func (c *Cron) Expression() string { return c.expr }

// matches reports whether the second containing t is activated by the cron schedule.
func (c *Cron) matches(t time.Time) bool {
	sec := t.In(c.sched.Location).Truncate(time.Second)
	return c.sched.Next(sec.Add(-time.Second)).Equal(sec)
}

func (c *Cron) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncludes(t) {
		return false
	}
	return !c.matches(t)
}
