// Package scheduler drives calendar-interval triggers: it decides when each
// trigger is due, resolves misfires, runs the bound job and applies the
// trigger's completion instruction.
//
// The scheduler is single-threaded with respect to trigger state: Tick and
// the mutating API serialize on one mutex, and jobs run on the Tick
// goroutine with that mutex released. A slow job delays later firings; those
// firings then go through misfire handling like any other late trigger.
package scheduler
