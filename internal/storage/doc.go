// Package storage persists trigger state so a restarted scheduler resumes
// each trigger's cursor (next/previous fire time, firing count) instead of
// recomputing it from the start time.
//
// It currently supports:
//   - Trigger records (keyed by trigger name)
//   - An append-only firing history (fired, misfired, completed, removed)
package storage
