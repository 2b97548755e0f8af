package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/glowworks/atelier/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFiles embed.FS

type migration struct {
	version int
	name    string
	sql     string
}

// Migrate applies any pending schema migrations in version order.
// Each migration runs in its own transaction and is recorded in
// schema_migrations, so re-running is a no-op.
func Migrate(database *sql.DB, log *zap.SugaredLogger) error {
	if _, err := database.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return errors.Wrap(err, "creating schema_migrations table")
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	applied, err := appliedVersions(database)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := database.Begin()
		if err != nil {
			return errors.Wrapf(err, "beginning transaction for migration %d", m.version)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "applying migration %d (%s)", m.version, m.name)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "recording migration %d", m.version)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "committing migration %d", m.version)
		}

		if log != nil {
			log.Infow("applied migration", "version", m.version, "name", m.name)
		}
	}

	return nil
}

// loadMigrations reads embedded migration files named like
// 001_create_image_logs.sql and returns them sorted by version.
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "sqlite/migrations")
	if err != nil {
		return nil, errors.Wrap(err, "reading embedded migrations")
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		base := strings.TrimSuffix(name, ".sql")
		idx := strings.Index(base, "_")
		if idx < 0 {
			return nil, errors.Newf("migration file %s missing version prefix", name)
		}

		version, err := strconv.Atoi(base[:idx])
		if err != nil {
			return nil, errors.Wrapf(err, "parsing version from migration file %s", name)
		}

		content, err := migrationFiles.ReadFile("sqlite/migrations/" + name)
		if err != nil {
			return nil, errors.Wrapf(err, "reading migration file %s", name)
		}

		migrations = append(migrations, migration{
			version: version,
			name:    base[idx+1:],
			sql:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}

func appliedVersions(database *sql.DB) (map[int]bool, error) {
	rows, err := database.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "querying applied migrations")
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, errors.Wrap(err, "scanning migration version")
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
