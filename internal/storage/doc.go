// Package storage implements queue.Store.
//
// Drivers:
//   - "sqlite": embedded database file (modernc.org/sqlite), the default
//   - "postgres": network database through pgx's database/sql driver
//   - "memory": process-local, for tests and dry runs
package storage
