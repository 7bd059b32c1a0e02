package scheduler

import (
	"errors"
	"fmt"

	"calsched/internal/task/trigger"
)

type signal int

const (
	signalRefire signal = iota + 1
	signalUnschedule
	signalUnscheduleAll
)

var signalNames = map[signal]string{
	signalRefire:        "refire",
	signalUnschedule:    "unschedule",
	signalUnscheduleAll: "unschedule-all",
}

// Refire asks the scheduler to run the job again immediately. err may be nil.
//
// Example:
//
//	return scheduler.Refire(fmt.Errorf("lock busy: %w", err))
func Refire(err error) error { return signalError{sig: signalRefire, err: err} }

// Unschedule marks the firing trigger complete after this run. err may be nil.
func Unschedule(err error) error { return signalError{sig: signalUnschedule, err: err} }

// UnscheduleAll marks every trigger of the same job complete. err may be nil.
func UnscheduleAll(err error) error { return signalError{sig: signalUnscheduleAll, err: err} }

type signalError struct {
	sig signal
	err error
}

func (e signalError) Error() string {
	if e.err == nil {
		return signalNames[e.sig]
	}
	return fmt.Sprintf("%s: %v", signalNames[e.sig], e.err)
}

func (e signalError) Unwrap() error { return e.err }

// resultFromError converts a job's return value into the trigger's execution
// result. Signals may be nested inside other wrapped errors.
func resultFromError(err error) *trigger.ExecutionResult {
	if err == nil {
		return nil
	}
	res := &trigger.ExecutionResult{Err: err}
	inner := err
	for {
		var se signalError
		if !errors.As(inner, &se) {
			break
		}
		switch se.sig {
		case signalRefire:
			res.RefireImmediately = true
		case signalUnschedule:
			res.UnscheduleFiringTrigger = true
		case signalUnscheduleAll:
			res.UnscheduleAllTriggers = true
		}
		inner = se.err
	}
	// A bare signal is not a failure.
	if inner == nil {
		res.Err = nil
	}
	return res
}
