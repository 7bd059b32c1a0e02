// Package logx is calsched's structured logging, a thin layer over zerolog.
//
// A Logger obtained from a Service follows Service.Apply, so a config reload
// can change level and sinks without re-plumbing loggers. The zero Logger
// discards everything.
//
// Sinks: a console writer (colored only on a terminal), an optional JSON
// file, and an optional alert sink that mirrors warnings and errors to
// stderr as one compact throttled line each.
package logx
