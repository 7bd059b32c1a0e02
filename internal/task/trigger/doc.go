// Package trigger computes fire times for calendar-interval schedules.
//
// A CalendarIntervalTrigger fires at StartTime and then every N units of
// Second, Minute, Hour, Day, Week, Month or Year. Fixed units (Second, Minute,
// Hour) are solved with integer arithmetic. Calendar units are stepped on the
// wall clock of the trigger's location, so a daily trigger keeps its time of
// day across DST changes and a monthly trigger started on the 31st clamps to
// the last day of shorter months (and stays on the clamped day afterwards).
//
// The package is pure computation:
//   - it never sleeps, spawns goroutines or performs I/O
//   - "now" comes from an injected clock.Clock
//   - exclusion windows come from an external Calendar predicate
//
// Every search stops once candidates pass GiveUpYear; that outcome is
// reported as "no next fire time", never as an error.
package trigger
