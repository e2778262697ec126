// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying storage mechanism from the
// scheduler and query logic, so the task records can live in JSON files or
// PostgreSQL (optionally fronted by redis) without changing callers.
//
// Two stores exist: TaskStore holds task records and OutputStore holds the
// published result files. Both report failures through the sentinel errors in
// errors.go so callers can use errors.Is regardless of backend.
package store
