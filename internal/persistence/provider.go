package persistence

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/config"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/db"
)

// Provide opens the configured database and returns a migrated store
// with its cleanup function.
func Provide(cfg *config.Config, log *logger.Logger) (*Store, func() error, error) {
	pool, err := openPool(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	store, err := NewStore(pool, log)
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}

	log.Info("database initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.String("path", cfg.Database.Path))

	cleanup := func() error {
		if cfg.Database.Driver == "sqlite" {
			// Refresh query planner statistics before closing; the
			// SQLite-recommended lightweight maintenance call.
			_, _ = pool.Writer().Exec("PRAGMA optimize")
		}
		return pool.Close()
	}
	return store, cleanup, nil
}

func openPool(dbCfg *config.DatabaseConfig) (*db.Pool, error) {
	switch dbCfg.Driver {
	case "sqlite":
		writer, err := db.OpenSQLite(dbCfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		reader, err := db.OpenSQLiteReader(dbCfg.Path)
		if err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("failed to open sqlite reader: %w", err)
		}
		return db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")), nil

	case "postgres":
		conn, err := db.OpenPostgres(dbCfg.DSN(), dbCfg.MaxConns, 0)
		if err != nil {
			return nil, err
		}
		// pgx pools internally; writer and reader share one handle.
		handle := sqlx.NewDb(conn, "pgx")
		return db.NewPool(handle, handle), nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dbCfg.Driver)
	}
}
