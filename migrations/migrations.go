// Package migrations holds the schema for the attendance store, one
// directory per SQL dialect, applied with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"

	"attendance-recorder/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

//go:embed mysql/*.sql sqlite3/*.sql
var files embed.FS

// Up applies every pending migration for cfg.DBDriver. It uses its own
// connection pool because the migrate drivers close the pool they are
// handed.
func Up(cfg *config.Config, log logrus.FieldLogger) error {
	db, err := sql.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return errors.Wrap(err, "open migration connection")
	}

	m, err := newMigrate(db, cfg.DBDriver)
	if err != nil {
		db.Close()
		return err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.WithFields(logrus.Fields{"source": srcErr, "database": dbErr}).Warn("closing migrator")
		}
	}()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "apply migrations")
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return errors.Wrap(err, "read migration version")
	}
	log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("schema up to date")
	return nil
}

func newMigrate(db *sql.DB, driverName string) (*migrate.Migrate, error) {
	var (
		target database.Driver
		err    error
	)
	switch driverName {
	case config.DriverMySQL:
		target, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	case config.DriverSQLite:
		target, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return nil, errors.Errorf("no migrations for driver %q", driverName)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s migration driver", driverName)
	}

	src, err := iofs.New(files, driverName)
	if err != nil {
		return nil, errors.Wrap(err, "migration source")
	}

	m, err := migrate.NewWithInstance("iofs", src, driverName, target)
	if err != nil {
		return nil, errors.Wrap(err, "create migrator")
	}
	return m, nil
}
