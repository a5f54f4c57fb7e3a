package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func NewMigrator(migrations fs.FS, databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("error opening migrations, %v", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error initializing migrator, %v", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration, an up-to-date schema is not an error.
func MigrateUp(migrations fs.FS, databaseURL string) error {
	m, err := NewMigrator(migrations, databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			slog.Error("error closing migrator", "sourceErr", sourceErr, "dbErr", dbErr)
		}
	}()

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error applying migrations, %v", err)
	}
	return nil
}
