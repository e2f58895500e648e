package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/config"
)

type s3Storage struct {
	client    *minio.Client
	bucket    string
	sourceDir string
	outputDir string
}

func NewS3Storage(cfg *config.StorageConfig) (Storage, error) {
	if cfg.S3Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	sourceDir, outputDir := dirs(cfg)

	creds := credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, "")
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check s3 bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{Region: cfg.S3Region}); err != nil {
			zlog.Logger.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("unable to create bucket, ensure it exists and credentials are correct")
		} else {
			zlog.Logger.Info().Str("bucket", cfg.S3Bucket).Msg("created s3 bucket")
		}
	}

	return &s3Storage{
		client:    client,
		bucket:    cfg.S3Bucket,
		sourceDir: sourceDir,
		outputDir: outputDir,
	}, nil
}

func (s *s3Storage) SaveSource(ctx context.Context, filename string, reader io.Reader) (string, error) {
	return s.saveObject(ctx, s.sourceDir, filename, reader)
}

func (s *s3Storage) SaveOutput(ctx context.Context, filename string, reader io.Reader) (string, error) {
	return s.saveObject(ctx, s.outputDir, filename, reader)
}

func (s *s3Storage) saveObject(ctx context.Context, dir, filename string, reader io.Reader) (string, error) {
	if reader == nil {
		zlog.Logger.Error().Str("filename", filename).Msg("reader is nil")
		return "", fmt.Errorf("reader is nil")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("no bytes to store for %s", filename)
	}
	objectName, err := confineObject(dir, path.Join(dir, strings.TrimPrefix(filename, "/")))
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimetype.Detect(data).String(),
	})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("object", objectName).Msg("failed to put object to s3")
		return "", fmt.Errorf("put object %s: %w", objectName, err)
	}

	zlog.Logger.Info().Str("path", objectName).Int("bytes", len(data)).Msg("object saved to s3")
	return objectName, nil
}

func (s *s3Storage) GetSource(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.getObject(ctx, s.sourceDir, path)
}

// GetOutput only reads objects under the output prefix.
func (s *s3Storage) GetOutput(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.getObject(ctx, s.outputDir, path)
}

func (s *s3Storage) getObject(ctx context.Context, dir, objectPath string) (io.ReadCloser, error) {
	objectPath, err := confineObject(dir, objectPath)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("object", objectPath).Msg("failed to get object")
		return nil, fmt.Errorf("get object %s: %w", objectPath, err)
	}

	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		zlog.Logger.Warn().Err(err).Str("object", objectPath).Msg("object not found or inaccessible")
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
	}

	return obj, nil
}

func (s *s3Storage) Delete(ctx context.Context, objectPath string) error {
	if objectPath == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		zlog.Logger.Error().Err(err).Str("path", objectPath).Msg("failed to delete object from s3")
		return fmt.Errorf("remove object %s: %w", objectPath, err)
	}
	zlog.Logger.Info().Str("path", objectPath).Msg("object deleted from s3")
	return nil
}

// confineObject cleans an object key and requires it to sit below the dir prefix.
func confineObject(dir, key string) (string, error) {
	c := path.Clean("/" + key)[1:]
	if !strings.HasPrefix(c, path.Clean(dir)+"/") {
		return "", fmt.Errorf("%w: %q is outside %s", ErrObjectNotFound, key, dir)
	}
	return c, nil
}
