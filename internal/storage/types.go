package storage

import (
	"time"
)

// Config configures the queue store.
//
// Driver values: "sqlite" (default), "postgres", "memory".
type Config struct {
	Driver string
	// Path is the sqlite database file.
	Path string
	// DSN is the postgres connection string.
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

const (
	defaultSQLitePath  = "./data/lulubot.db"
	defaultBusyTimeout = 5 * time.Second
	defaultPGMaxConns  = 4
)
