package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
)

type localStorage struct {
	basePath  string
	sourceDir string
	outputDir string
}

func NewLocalStorage(cfg *config.StorageConfig) (Storage, error) {
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("LocalPath is empty, set storage.local_path in config or env")
	}
	sourceDir, outputDir := dirs(cfg)

	s := &localStorage{
		basePath:  cfg.LocalPath,
		sourceDir: sourceDir,
		outputDir: outputDir,
	}

	for _, dir := range []string{sourceDir, outputDir} {
		if err := os.MkdirAll(filepath.Join(s.basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return s, nil
}

func (s *localStorage) SaveSource(ctx context.Context, filename string, reader io.Reader) (string, error) {
	return s.saveFile(ctx, s.sourceDir, filename, reader)
}

// SaveOutput accepts nested names such as "<request>/<platform>.jpg".
func (s *localStorage) SaveOutput(ctx context.Context, filename string, reader io.Reader) (string, error) {
	return s.saveFile(ctx, s.outputDir, filename, reader)
}

func (s *localStorage) saveFile(ctx context.Context, dir, filename string, reader io.Reader) (string, error) {
	if reader == nil {
		zlog.Logger.Error().Str("filename", filename).Msg("reader is nil")
		return "", fmt.Errorf("reader is nil")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	relativePath, err := confine(dir, filepath.Join(dir, filename))
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, relativePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", relativePath, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to create file")
		return "", fmt.Errorf("create file %s: %w", fullPath, err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to write file")
		return "", fmt.Errorf("write file %s: %w", fullPath, err)
	}
	if written == 0 {
		zlog.Logger.Error().Str("path", fullPath).Msg("no bytes written to file")
		return "", fmt.Errorf("no bytes written to file %s", fullPath)
	}

	zlog.Logger.Debug().
		Str("path", relativePath).
		Int64("bytes", written).
		Msg("file saved")

	return filepath.ToSlash(relativePath), nil
}

func (s *localStorage) GetSource(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.getFile(ctx, s.sourceDir, path)
}

// GetOutput only opens files under the output directory.
func (s *localStorage) GetOutput(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.getFile(ctx, s.outputDir, path)
}

func (s *localStorage) getFile(_ context.Context, dir, path string) (io.ReadCloser, error) {
	relativePath, err := confine(dir, path)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.basePath, relativePath)

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			zlog.Logger.Warn().Str("path", fullPath).Msg("file not found")
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
		}
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to open file")
		return nil, fmt.Errorf("open file %s: %w", fullPath, err)
	}

	return file, nil
}

func (s *localStorage) Delete(_ context.Context, path string) error {
	if path == "" {
		return nil
	}
	relativePath, err := clean(path)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(s.basePath, relativePath)

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			zlog.Logger.Warn().Str("path", fullPath).Msg("file not found, skipping delete")
			return nil
		}
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to delete file")
		return fmt.Errorf("delete file %s: %w", fullPath, err)
	}

	zlog.Logger.Info().Str("path", path).Msg("file deleted successfully")
	return nil
}

// confine cleans p and requires it to sit below dir.
func confine(dir, p string) (string, error) {
	c, err := clean(p)
	if err != nil {
		return "", err
	}
	root := filepath.Clean(filepath.FromSlash(dir))
	if !strings.HasPrefix(c, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside %s", ErrObjectNotFound, p, dir)
	}
	return c, nil
}

// clean rejects paths that would escape the storage root.
func clean(p string) (string, error) {
	c := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(p, "/")))
	if c == "." || c == ".." || strings.HasPrefix(c, ".."+string(filepath.Separator)) || filepath.IsAbs(c) {
		return "", fmt.Errorf("%w: invalid path %q", ErrObjectNotFound, p)
	}
	return c, nil
}
