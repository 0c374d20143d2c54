// Package storage persists pending reminders.
//
// One row per activity id holds the next fire time, the rendered notification
// text and a generation number. Every Put bumps the generation; the last issued
// generation per activity survives Delete so a later Put never reuses a value an
// in-flight timer callback may still carry.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, darwin migrations)
//   - "file":   snapshot + fsync'd JSON Lines journal, single process only
package storage
