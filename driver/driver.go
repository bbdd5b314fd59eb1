package driver

import (
	"context"
	"database/sql"
	"time"

	"attendance-recorder/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const pingTimeout = 5 * time.Second

// ConnectDB opens the connection pool for the configured driver and
// checks that the database answers.
func ConnectDB(cfg *config.Config, log logrus.FieldLogger) (*sql.DB, error) {
	db, err := sql.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	log.WithFields(logrus.Fields{
		"driver":         cfg.DBDriver,
		"max_open_conns": cfg.DBMaxOpenConns,
	}).Info("database connected")
	return db, nil
}
