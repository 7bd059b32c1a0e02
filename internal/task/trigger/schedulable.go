package trigger

import "time"

// Schedulable is the capability set a scheduler needs from a trigger kind.
// Each kind implements it directly; there is no shared base type.
type Schedulable interface {
	ComputeFirstFireTime(cal Calendar) (time.Time, bool)
	FireTimeAfter(after time.Time) (time.Time, bool)
	Triggered(cal Calendar)
	UpdateAfterMisfire(cal Calendar)
	UpdateWithNewCalendar(cal Calendar, misfireThreshold time.Duration)
	ExecutionComplete(res *ExecutionResult) CompletedExecutionInstruction

	NextFireTime() (time.Time, bool)
	PreviousFireTime() (time.Time, bool)
	FinalFireTime() (time.Time, bool)
	MayFireAgain() bool
	MarkComplete()

	Validate() error
}
