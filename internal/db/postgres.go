package db

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres opens a PostgreSQL connection through the pgx stdlib
// driver and verifies it with a ping. Zero maxConns or idleConns fall
// back to 25 and 5.
func OpenPostgres(dsn string, maxConns, idleConns int) (*sql.DB, error) {
	handle, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if idleConns <= 0 {
		idleConns = 5
	}
	handle.SetMaxOpenConns(maxConns)
	handle.SetMaxIdleConns(idleConns)

	if err := handle.Ping(); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return handle, nil
}
