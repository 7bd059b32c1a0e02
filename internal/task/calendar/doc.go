// Package calendar provides exclusion calendars consumed by triggers.
//
// A calendar answers one question: is this instant allowed to fire? Every
// calendar may chain to a base calendar; an instant is included only when the
// base includes it too. Calendars are read-only once handed to a scheduler.
package calendar
