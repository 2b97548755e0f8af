// Package db provides SQLite connection management for the atelier
// execution log. Connections are opened with WAL journaling, foreign
// keys, and a busy timeout so the batch worker and CLI commands can
// share the same database file.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/glowworks/atelier/errors"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked
// database before returning SQLITE_BUSY.
const SQLiteBusyTimeoutMS = 5000

// Open opens the SQLite database at path, applying connection pragmas.
// It does not run migrations; use OpenWithMigrations for that.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d", path, SQLiteBusyTimeoutMS)

	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening database at %s", path)
	}

	// sql.Open defers connecting; ping now so a bad path fails here
	// instead of on first query.
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "pinging database at %s", path)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn between the pool's connections.
	database.SetMaxOpenConns(1)

	if log != nil {
		log.Debugw("database opened", "path", path)
	}

	return database, nil
}

// OpenWithMigrations opens the database and brings the schema up to
// date before returning it.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	database, err := Open(path, log)
	if err != nil {
		return nil, err
	}

	if err := Migrate(database, log); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}
