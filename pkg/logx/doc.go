// Package logx is flowup's structured logger: zerolog underneath, a value
// Logger on top that is safe to use when zero, and a Service that lets the
// config reload swap level and sinks without rebuilding every component
// logger.
//
// Console output is human readable; the optional file sink writes JSON lines.
// Reminder and activity code logs through the domain fields in fields.go so
// the same keys show up everywhere.
package logx
