package db

import (
	"database/sql"

	"github.com/glowworks/atelier/errors"
)

// ErrDatabaseClosed marks operations attempted on a closed connection.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err is a closed-connection error,
// either ours or the driver's.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	// go-sqlite3 returns a plain string error for use-after-close.
	return err.Error() == "sql: database is closed"
}
