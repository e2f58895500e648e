package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/infrastructure/storage"
)

type JobUsecase struct {
	repo        domain.JobRepository
	storage     storage.Storage
	transformer domain.TransformService
	timeout     time.Duration
}

func NewJobUsecase(
	repo domain.JobRepository,
	storage storage.Storage,
	transformer domain.TransformService,
	timeout time.Duration,
) *JobUsecase {
	return &JobUsecase{
		repo:        repo,
		storage:     storage,
		transformer: transformer,
		timeout:     timeout,
	}
}

// ProcessJob returns an error only when running the job again may succeed; a failed job can be
// picked up again. Validation problems and timeouts are terminal and recorded on the job instead.
func (u *JobUsecase) ProcessJob(ctx context.Context, jobID string) error {
	job, err := u.repo.FindByID(ctx, jobID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to find job")
		return fmt.Errorf("find job: %w", err)
	}

	if job.Status == domain.JobProcessing {
		zlog.Logger.Warn().Str("job_id", jobID).Msg("job is already being processed")
		return domain.ErrJobAlreadyProcessing
	}
	if !job.CanBeProcessed() {
		zlog.Logger.Warn().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("job cannot be processed in current status")
		return nil
	}

	job.MarkAsProcessing()
	if err := u.repo.Update(ctx, job); err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to update status to processing")
		return fmt.Errorf("update status to processing: %w", err)
	}

	source, err := u.readSource(ctx, job.SourcePath)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", jobID).Str("path", job.SourcePath).Msg("failed to read source file")
		cause := err
		if errors.Is(err, storage.ErrObjectNotFound) {
			cause = nil
		}
		return u.fail(ctx, job, fmt.Sprintf("failed to read source file: %v", err), cause)
	}

	runCtx := ctx
	if u.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	req := domain.NewTransformationRequest(job.ID, source, job.Style, job.Platforms, job.Options)
	res, err := u.transformer.Transform(runCtx, req)
	if err != nil {
		// validation problems will not go away on retry
		zlog.Logger.Warn().Err(err).Str("job_id", jobID).Msg("job rejected")
		return u.fail(ctx, job, err.Error(), nil)
	}

	if res.Cancelled() {
		if ctx.Err() != nil {
			// worker is shutting down; the task stays uncommitted
			job.MarkAsFailed("interrupted by worker shutdown")
			if err := u.repo.Update(context.WithoutCancel(ctx), job); err != nil {
				zlog.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to update status after shutdown")
			}
			return ctx.Err()
		}
		job.MarkAsCancelled()
		if err := u.repo.Update(ctx, job); err != nil {
			return fmt.Errorf("update status to cancelled: %w", err)
		}
		zlog.Logger.Warn().Str("job_id", jobID).Dur("timeout", u.timeout).Msg("job timed out")
		return nil
	}

	paths, err := storeOutputs(ctx, u.storage, res)
	if err != nil {
		return u.fail(ctx, job, err.Error(), err)
	}

	job.MarkAsCompleted(res, paths)
	if err := u.repo.Update(ctx, job); err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to update status to completed")
		return fmt.Errorf("update status to completed: %w", err)
	}

	zlog.Logger.Info().
		Str("job_id", jobID).
		Str("tier", string(res.Tier)).
		Str("provider", res.Provider).
		Bool("guarantee_applied", res.GuaranteeApplied).
		Float64("quality", res.Quality.Score).
		Int("outputs", len(paths)).
		Msg("job completed")

	return nil
}

func (u *JobUsecase) readSource(ctx context.Context, path string) ([]byte, error) {
	file, err := u.storage.GetSource(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// fail records msg on the job and returns cause, so a nil cause means "do not retry".
func (u *JobUsecase) fail(ctx context.Context, job *domain.TransformJob, msg string, cause error) error {
	job.MarkAsFailed(msg)
	if err := u.repo.Update(ctx, job); err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to update status to failed")
		return errors.Join(cause, fmt.Errorf("update status to failed: %w", err))
	}
	return cause
}
