package trigger

import (
	"fmt"
	"strings"
	"time"
)

// GiveUpYear bounds every stepping loop. A candidate whose year exceeds it is
// treated as "never fires again".
const GiveUpYear = 2299

// Calendar is the exclusion predicate consumed by the trigger.
// A nil Calendar includes every instant.
type Calendar interface {
	IsTimeIncluded(t time.Time) bool
}

// IntervalUnit is the granularity at which the repeat interval is interpreted.
type IntervalUnit int

const (
	UnitSecond IntervalUnit = iota + 1
	UnitMinute
	UnitHour
	UnitDay
	UnitWeek
	UnitMonth
	UnitYear
)

var unitNames = map[IntervalUnit]string{
	UnitSecond: "second",
	UnitMinute: "minute",
	UnitHour:   "hour",
	UnitDay:    "day",
	UnitWeek:   "week",
	UnitMonth:  "month",
	UnitYear:   "year",
}

func (u IntervalUnit) String() string {
	if s, ok := unitNames[u]; ok {
		return s
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

func (u IntervalUnit) Valid() bool {
	_, ok := unitNames[u]
	return ok
}

func (u IntervalUnit) MarshalText() ([]byte, error) {
	if !u.Valid() {
		return nil, configError("unit", "unknown interval unit %d", int(u))
	}
	return []byte(u.String()), nil
}

func (u *IntervalUnit) UnmarshalText(b []byte) error {
	v, err := ParseIntervalUnit(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// ParseIntervalUnit accepts singular or plural unit names ("day", "Days").
func ParseIntervalUnit(raw string) (IntervalUnit, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, "s")
	for u, name := range unitNames {
		if name == s {
			return u, nil
		}
	}
	return 0, configError("unit", "unknown interval unit %q", raw)
}

// MisfireInstruction selects how a missed firing is reconciled.
type MisfireInstruction int

const (
	// MisfireSmartPolicy behaves like MisfireFireOnceNow for this trigger kind.
	MisfireSmartPolicy MisfireInstruction = iota
	// MisfireFireOnceNow fires immediately, then resumes the original grid.
	MisfireFireOnceNow
	// MisfireDoNothing skips to the next included grid point after now.
	MisfireDoNothing
)

var misfireNames = map[MisfireInstruction]string{
	MisfireSmartPolicy: "smart",
	MisfireFireOnceNow: "fire_once_now",
	MisfireDoNothing:   "do_nothing",
}

func (m MisfireInstruction) String() string {
	if s, ok := misfireNames[m]; ok {
		return s
	}
	return fmt.Sprintf("misfire(%d)", int(m))
}

func (m MisfireInstruction) Valid() bool {
	_, ok := misfireNames[m]
	return ok
}

func (m MisfireInstruction) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, configError("misfire", "unknown misfire instruction %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *MisfireInstruction) UnmarshalText(b []byte) error {
	v, err := ParseMisfireInstruction(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMisfireInstruction parses "smart", "fire_once_now" or "do_nothing".
// Dashes and spaces are accepted in place of underscores; empty means smart.
func ParseMisfireInstruction(raw string) (MisfireInstruction, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if s == "" || s == "smart_policy" {
		return MisfireSmartPolicy, nil
	}
	for m, name := range misfireNames {
		if name == s {
			return m, nil
		}
	}
	return 0, configError("misfire", "unknown misfire instruction %q", raw)
}

// CompletedExecutionInstruction tells the scheduler what to do with the
// trigger after a job run finished.
type CompletedExecutionInstruction int

const (
	NoInstruction CompletedExecutionInstruction = iota
	ReExecuteJob
	SetTriggerComplete
	DeleteTrigger
	SetAllJobTriggersComplete
)

func (c CompletedExecutionInstruction) String() string {
	switch c {
	case NoInstruction:
		return "none"
	case ReExecuteJob:
		return "re_execute_job"
	case SetTriggerComplete:
		return "set_trigger_complete"
	case DeleteTrigger:
		return "delete_trigger"
	case SetAllJobTriggersComplete:
		return "set_all_job_triggers_complete"
	default:
		return fmt.Sprintf("instruction(%d)", int(c))
	}
}

// ExecutionResult carries the flags a job run may raise. Any subset may be set.
type ExecutionResult struct {
	RefireImmediately       bool
	UnscheduleFiringTrigger bool
	UnscheduleAllTriggers   bool

	// Err is the job's failure, if any. It does not influence the instruction.
	Err error
}
