// Package storage keeps the delivery audit trail: one record per destination
// per broadcast. It never stores catalog snapshots.
//
// Drivers:
//   - "file": JSON Lines next to the configured path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
