package history

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/5gconnect/charmd/internal/log"

	// Register migrate's sqlite3 driver.
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ConnectionString returns the migrate URL for a database file.
func ConnectionString(path string) string {
	return "sqlite3://" + path
}

// Up applies all pending migrations to the database at path.
func Up(path string, logger log.Logger) error {
	m, err := newMigrate(path, logger)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("No new history migrations to apply")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Debug("History migrations applied")
	return nil
}

// Down rolls back every migration.
func Down(path string, logger log.Logger) error {
	m, err := newMigrate(path, logger)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func newMigrate(path string, logger log.Logger) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, ConnectionString(path))
	if err != nil {
		return nil, err
	}
	m.Log = &migrationLogger{logger: logger}
	return m, nil
}

type migrationLogger struct {
	logger log.Logger
}

func (l *migrationLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug("Migration: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrationLogger) Verbose() bool {
	return false
}
