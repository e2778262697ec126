// Package postgres provides the PostgreSQL task record store. It owns the
// connection setup, the embedded goose migrations for the tasks table, and the
// mapping of driver errors onto the store package's sentinels.
//
// The filesystem store is the default backend; this one is selected when a
// database URL is configured.
package postgres
