package storage

import (
	"errors"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
	"github.com/yokitheyo/styleshot/internal/domain"
)

var ErrObjectNotFound = errors.New("object not found")

// Storage keeps uploaded sources and per-platform outputs.
type Storage = domain.StorageService

func New(cfg *config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "local":
		zlog.Logger.Info().Msg("Initializing local storage")
		return NewLocalStorage(cfg)
	case "s3":
		zlog.Logger.Info().Msg("Initializing S3 storage")
		return NewS3Storage(cfg)
	default:
		zlog.Logger.Error().Str("type", cfg.Type).Msg("Unsupported storage type, use 'local' or 's3'")
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedStorageType, cfg.Type)
	}
}

func dirs(cfg *config.StorageConfig) (string, string) {
	source, output := cfg.SourceDir, cfg.OutputDir
	if source == "" {
		source = "sources"
	}
	if output == "" {
		output = "outputs"
	}
	return source, output
}
