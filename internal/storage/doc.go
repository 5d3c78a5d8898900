// Package storage persists reminder records.
//
// Drivers:
//   - "memory": process-local map, lost on restart (default)
//   - "file": JSON Lines journal plus periodic snapshot
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
