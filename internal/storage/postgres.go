package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lulubot/internal/queue"
	logx "lulubot/pkg/logx"
)

func openPostgres(cfg Config, log logx.Logger) (queue.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, &queue.ConfigurationError{Reason: "storage.dsn is required for postgres"}
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &queue.PersistenceError{Op: "open", Err: err}
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = defaultPGMaxConns
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &queue.PersistenceError{Op: "ping", Err: err}
	}

	st := newSQLStore(db, sq.StatementBuilder.PlaceholderFormat(sq.Dollar), log.With(logx.String("driver", "postgres")))
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}
