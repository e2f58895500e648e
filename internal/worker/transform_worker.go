package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/dto"
)

// TransformWorker обрабатывает задачи из очереди
type TransformWorker struct {
	jobs domain.JobProcessor
}

func NewTransformWorker(jobs domain.JobProcessor) *TransformWorker {
	return &TransformWorker{jobs: jobs}
}

// HandleTransformTask is the kafka message handler. An error makes the consumer run the task again.
func (w *TransformWorker) HandleTransformTask(ctx context.Context, task *dto.TransformTask) error {
	if task == nil || task.JobID == "" {
		zlog.Logger.Error().Msg("transform task without job id")
		return nil
	}

	zlog.Logger.Info().Str("job_id", task.JobID).Msg("starting transform task")

	err := w.jobs.ProcessJob(ctx, task.JobID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobNotFound):
		// the record is gone, a retry cannot help
		zlog.Logger.Warn().Str("job_id", task.JobID).Msg("job not found, dropping task")
		return nil
	case errors.Is(err, domain.ErrJobAlreadyProcessing):
		zlog.Logger.Warn().Str("job_id", task.JobID).Msg("duplicate delivery, dropping task")
		return nil
	default:
		zlog.Logger.Error().Err(err).Str("job_id", task.JobID).Msg("failed to process job")
		return fmt.Errorf("process job %s: %w", task.JobID, err)
	}

	zlog.Logger.Info().Str("job_id", task.JobID).Msg("transform task finished")
	return nil
}
