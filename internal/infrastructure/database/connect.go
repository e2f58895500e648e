package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/helpers"
)

const (
	defaultConnectRetries = 15
	defaultConnectDelay   = 3
)

// Connect opens master and replicas from config, retrying until the master answers a ping.
func Connect(cfg config.DatabaseConfig) (*dbpg.DB, error) {
	slaves := []string{}
	if strings.TrimSpace(cfg.Slaves) != "" {
		slaves = helpers.SplitAndTrim(cfg.Slaves, ",")
	}
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSec) * time.Second,
	}

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = defaultConnectRetries
	}
	delay := cfg.ConnectRetryDelaySec
	if delay <= 0 {
		delay = defaultConnectDelay
	}

	return ConnectWithRetries(cfg.DSN, slaves, opts, retries, delay)
}

func ConnectWithRetries(masterDSN string, slaves []string, opts *dbpg.Options, retries int, delaySec int) (*dbpg.DB, error) {
	if retries <= 0 {
		retries = 1
	}
	if delaySec <= 0 {
		delaySec = 1
	}

	var (
		database *dbpg.DB
		err      error
	)

	for i := 0; i < retries; i++ {
		zlog.Logger.Info().Msgf("Database connection attempt %d/%d", i+1, retries)

		database, err = dbpg.New(masterDSN, slaves, opts)
		switch {
		case err != nil:
			zlog.Logger.Warn().Err(err).Msgf("dbpg.New failed on attempt %d/%d", i+1, retries)
			database = nil
		case database.Master == nil:
			err = fmt.Errorf("database.Master is nil")
			zlog.Logger.Warn().Err(err).Msgf("nil master connection on attempt %d/%d", i+1, retries)
			database = nil
		default:
			if pingErr := database.Master.Ping(); pingErr != nil {
				err = pingErr
				zlog.Logger.Warn().Err(pingErr).Msgf("db ping failed on attempt %d/%d", i+1, retries)
				Close(database)
				database = nil
			}
		}

		if database != nil {
			zlog.Logger.Info().Msg("Database connection established successfully")
			return database, nil
		}
		if i < retries-1 {
			time.Sleep(time.Duration(delaySec) * time.Second)
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d retries: %w", retries, err)
}

// Close closes master and every replica, logging failures.
func Close(database *dbpg.DB) {
	if database == nil {
		return
	}
	if database.Master != nil {
		if err := database.Master.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("closing db master failed")
		}
	}
	for i, s := range database.Slaves {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			zlog.Logger.Error().Err(err).Int("slave_index", i).Msg("closing db slave failed")
		}
	}
}
