package commands

import (
	"database/sql"

	"github.com/errwatch/errwatch/config"
	"github.com/errwatch/errwatch/db"
	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/logger"
)

// openDatabase opens the configured state database and applies pending
// migrations. The caller owns the returned handle.
func openDatabase() (*sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open database")
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "migrate database")
	}

	return database, cfg, nil
}
