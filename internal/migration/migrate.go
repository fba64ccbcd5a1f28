package migration

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/repository"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// Run applies pending schema migrations for the given dialect. PostgreSQL
// schemas are managed by goose and SQLite schemas by golang-migrate.
func Run(db *sql.DB, dialect repository.Dialect, logger zerolog.Logger) error {
	adapter := NewLogAdapter(logger)

	switch dialect {
	case repository.DialectPostgres:
		return runGoose(db, adapter)
	case repository.DialectSQLite:
		return runMigrate(db, adapter)
	default:
		return errors.Errorf("no migrations for dialect %q", dialect)
	}
}

func runGoose(db *sql.DB, logger *LogAdapter) error {
	goose.SetBaseFS(postgresMigrations)
	goose.SetLogger(logger)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set goose dialect")
	}
	if err := goose.Up(db, "migrations/postgres"); err != nil {
		return errors.Wrap(err, "run goose migrations")
	}
	logger.Printf("postgres migrations completed")
	return nil
}

func runMigrate(db *sql.DB, logger *LogAdapter) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "create sqlite migration driver")
	}

	source, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return errors.Wrap(err, "open embedded sqlite migrations")
	}

	// Closing the instance would close db, which the caller owns.
	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "create migrator")
	}
	instance.Log = logger

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "run sqlite migrations")
	}
	logger.Printf("sqlite migrations completed")
	return nil
}
