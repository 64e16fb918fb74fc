package storage

import (
	"fmt"
	"strings"

	"lulubot/internal/queue"
	logx "lulubot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (queue.Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, &queue.ConfigurationError{Reason: fmt.Sprintf("unknown storage driver %q", driver)}
	}
}
