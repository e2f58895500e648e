package database

import (
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
)

// RunMigrations applies every pending goose migration in dir to the master.
func RunMigrations(database *dbpg.DB, dir string) error {
	if database == nil || database.Master == nil {
		return fmt.Errorf("run migrations: no master connection")
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(database.Master, dir); err != nil {
		return fmt.Errorf("apply migrations from %s: %w", dir, err)
	}

	version, err := goose.GetDBVersion(database.Master)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	zlog.Logger.Info().Int64("version", version).Str("dir", dir).Msg("migrations applied")
	return nil
}
