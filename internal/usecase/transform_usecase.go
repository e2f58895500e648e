package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/infrastructure/storage"
)

type TransformConfig struct {
	// SupportedFormats are file extensions without the dot, e.g. "jpg", "png".
	SupportedFormats []string
	// Timeout bounds one synchronous transformation; zero means the caller's context only.
	Timeout time.Duration
}

type TransformUsecase struct {
	transformer domain.TransformService
	storage     storage.Storage
	repo        domain.JobRepository
	queue       domain.QueueService
	cfg         TransformConfig
}

// NewTransformUsecase wires the synchronous path. repo and queue may be nil, which disables Submit.
func NewTransformUsecase(
	transformer domain.TransformService,
	storage storage.Storage,
	repo domain.JobRepository,
	queue domain.QueueService,
	cfg TransformConfig,
) *TransformUsecase {
	return &TransformUsecase{
		transformer: transformer,
		storage:     storage,
		repo:        repo,
		queue:       queue,
		cfg:         cfg,
	}
}

// Transform runs the orchestrator and stores every platform output. The returned map holds
// storage paths by platform; it is empty for a cancelled result.
func (u *TransformUsecase) Transform(ctx context.Context, in domain.TransformInput) (*domain.TransformationResult, map[string]string, error) {
	if err := u.checkFormat(in.Source); err != nil {
		return nil, nil, err
	}

	if u.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
	}

	req := domain.NewTransformationRequest(uuid.New().String(), in.Source, in.Style, in.Platforms, in.Options)
	res, err := u.transformer.Transform(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if res.Cancelled() {
		zlog.Logger.Warn().Str("request_id", res.RequestID).Msg("transformation cancelled, nothing stored")
		return res, map[string]string{}, nil
	}

	// outputs are written even if the caller has gone away
	paths, err := storeOutputs(context.WithoutCancel(ctx), u.storage, res)
	if err != nil {
		return nil, nil, err
	}

	zlog.Logger.Info().
		Str("request_id", res.RequestID).
		Str("tier", string(res.Tier)).
		Str("provider", res.Provider).
		Bool("guarantee_applied", res.GuaranteeApplied).
		Float64("quality", res.Quality.Score).
		Int("outputs", len(paths)).
		Msg("transformation completed")

	return res, paths, nil
}

// Submit stores the source and queues a job for the worker.
func (u *TransformUsecase) Submit(ctx context.Context, in domain.TransformInput) (*domain.TransformJob, error) {
	if u.repo == nil || u.queue == nil {
		return nil, domain.ErrJobsDisabled
	}
	if err := u.precheck(in); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	ext := mimetype.Detect(in.Source).Extension()
	sourcePath, err := u.storage.SaveSource(ctx, jobID+ext, bytes.NewReader(in.Source))
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to save source file")
		return nil, fmt.Errorf("%w: save source: %v", domain.ErrStorageFailed, err)
	}

	req := domain.NewTransformationRequest(jobID, nil, in.Style, in.Platforms, in.Options)
	now := time.Now()
	job := &domain.TransformJob{
		ID:         jobID,
		SourcePath: sourcePath,
		Style:      in.Style,
		Platforms:  req.Platforms(),
		Options:    in.Options,
		Status:     domain.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := u.repo.Create(ctx, job); err != nil {
		_ = u.storage.Delete(ctx, sourcePath)
		zlog.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to create job record")
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := u.queue.PublishTransformTask(ctx, jobID); err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to publish transform task")
		job.MarkAsFailed("failed to queue job")
		if uerr := u.repo.Update(ctx, job); uerr != nil {
			zlog.Logger.Error().Err(uerr).Str("job_id", jobID).Msg("failed to mark job as failed")
		}
		return nil, err
	}

	zlog.Logger.Info().
		Str("job_id", jobID).
		Str("style", string(in.Style)).
		Strs("platforms", job.Platforms).
		Msg("transform job submitted")

	return job, nil
}

func (u *TransformUsecase) GetJob(ctx context.Context, id string) (*domain.TransformJob, error) {
	if u.repo == nil {
		return nil, domain.ErrJobsDisabled
	}
	return u.repo.FindByID(ctx, id)
}

func (u *TransformUsecase) ListJobs(ctx context.Context, limit, offset int) ([]*domain.TransformJob, error) {
	if u.repo == nil {
		return nil, domain.ErrJobsDisabled
	}
	jobs, err := u.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// OpenOutput reads a stored output and sniffs its content type.
func (u *TransformUsecase) OpenOutput(ctx context.Context, path string) ([]byte, string, error) {
	file, err := u.storage.GetOutput(ctx, strings.TrimPrefix(path, "/"))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", domain.ErrOutputNotFound
		}
		zlog.Logger.Error().Err(err).Str("path", path).Msg("failed to open output")
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read output: %w", err)
	}
	return data, mimetype.Detect(data).String(), nil
}

// precheck rejects what the worker would reject later, so an async caller learns it now.
func (u *TransformUsecase) precheck(in domain.TransformInput) error {
	var problems []string
	if len(in.Source) == 0 {
		problems = append(problems, "source image is empty")
	} else if err := u.checkFormat(in.Source); err != nil {
		problems = append(problems, err.(*domain.ValidationError).Problems...)
	}
	if !in.Style.Valid() {
		problems = append(problems, fmt.Sprintf("unrecognised style %q", in.Style))
	}
	platforms := domain.NewTransformationRequest("", nil, in.Style, in.Platforms, in.Options).Platforms()
	if len(platforms) == 0 {
		problems = append(problems, "at least one target platform is required")
	}
	for _, p := range domain.InvalidPlatformIDs(platforms) {
		problems = append(problems, fmt.Sprintf("invalid platform id %q", p))
	}
	if in.Options.MaxOutputs < 0 {
		problems = append(problems, "max outputs must not be negative")
	}
	if len(problems) > 0 {
		return domain.NewValidationError(problems...)
	}
	return nil
}

// checkFormat only looks at non-empty payloads; emptiness is reported by the orchestrator.
func (u *TransformUsecase) checkFormat(data []byte) error {
	if len(data) == 0 || len(u.cfg.SupportedFormats) == 0 {
		return nil
	}
	mt := mimetype.Detect(data)
	if isSupported(mt, u.cfg.SupportedFormats) {
		return nil
	}
	return domain.NewValidationError(fmt.Sprintf("unsupported image format %s, allowed: %s",
		mt.String(), strings.Join(u.cfg.SupportedFormats, ", ")))
}

func isSupported(mt *mimetype.MIME, formats []string) bool {
	ext := strings.TrimPrefix(mt.Extension(), ".")
	for _, f := range formats {
		f = strings.ToLower(strings.TrimPrefix(f, "."))
		if f == ext || (f == "jpeg" && ext == "jpg") || (f == "jpg" && ext == "jpeg") {
			return true
		}
	}
	return false
}
