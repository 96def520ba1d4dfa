// Package storage is the persistence layer for the rotation queue.
//
// It keeps:
//   - The ordered user queue (dense 0-based positions)
//   - The single active reminder row
//   - The append-only history log
//   - Operator settings (trigger schedules, group chat target, skip-once flag)
//
// All multi-row mutations run inside one transaction so the database never
// exposes a half-applied queue state.
package storage
