package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
)

const jobColumns = `id, source_path, style, platforms, options, status, tier, provider,
	guarantee_applied, quality_score, outputs, error_message, created_at, updated_at, completed_at`

type jobRepository struct {
	db       *dbpg.DB
	strategy retry.Strategy
}

func NewJobRepository(db *dbpg.DB, strategy retry.Strategy) domain.JobRepository {
	return &jobRepository{
		db:       db,
		strategy: strategy,
	}
}

func (r *jobRepository) Create(ctx context.Context, job *domain.TransformJob) error {
	platforms, options, outputs, err := encodeJSON(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transform_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecWithRetry(ctx, r.strategy, query,
		job.ID,
		job.SourcePath,
		string(job.Style),
		platforms,
		options,
		string(job.Status),
		nullString(string(job.Tier)),
		nullString(job.Provider),
		job.GuaranteeApplied,
		nullFloat(job.QualityScore),
		outputs,
		nullString(job.ErrorMessage),
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to create job")
		return fmt.Errorf("create job: %w", err)
	}

	zlog.Logger.Info().Str("job_id", job.ID).Msg("job created successfully")
	return nil
}

func (r *jobRepository) FindByID(ctx context.Context, id string) (*domain.TransformJob, error) {
	query := `SELECT ` + jobColumns + ` FROM transform_jobs WHERE id = $1`

	row := r.db.Master.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", id).Msg("failed to find job")
		return nil, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

func (r *jobRepository) Update(ctx context.Context, job *domain.TransformJob) error {
	platforms, options, outputs, err := encodeJSON(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE transform_jobs
		SET source_path = $2,
		    style = $3,
		    platforms = $4,
		    options = $5,
		    status = $6,
		    tier = $7,
		    provider = $8,
		    guarantee_applied = $9,
		    quality_score = $10,
		    outputs = $11,
		    error_message = $12,
		    completed_at = $13,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecWithRetry(ctx, r.strategy, query,
		job.ID,
		job.SourcePath,
		string(job.Style),
		platforms,
		options,
		string(job.Status),
		nullString(string(job.Tier)),
		nullString(job.Provider),
		job.GuaranteeApplied,
		nullFloat(job.QualityScore),
		outputs,
		nullString(job.ErrorMessage),
		job.CompletedAt,
	)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to update job")
		return fmt.Errorf("update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	zlog.Logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("job updated")
	return nil
}

func (r *jobRepository) List(ctx context.Context, limit, offset int) ([]*domain.TransformJob, error) {
	query := `SELECT ` + jobColumns + ` FROM transform_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryWithRetry(ctx, r.strategy, query, limit, offset)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list jobs")
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.TransformJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.TransformJob, error) {
	var (
		job                         domain.TransformJob
		style, status               string
		platforms, options, outputs []byte
		tier, provider, errorMsg    sql.NullString
		score                       sql.NullFloat64
		completedAt                 sql.NullTime
	)

	err := s.Scan(
		&job.ID,
		&job.SourcePath,
		&style,
		&platforms,
		&options,
		&status,
		&tier,
		&provider,
		&job.GuaranteeApplied,
		&score,
		&outputs,
		&errorMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Style = domain.Style(style)
	job.Status = domain.JobStatus(status)
	job.Tier = domain.TierKind(tier.String)
	job.Provider = provider.String
	job.ErrorMessage = errorMsg.String
	job.QualityScore = score.Float64
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	if err := json.Unmarshal(platforms, &job.Platforms); err != nil {
		return nil, fmt.Errorf("decode platforms: %w", err)
	}
	if err := json.Unmarshal(options, &job.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal(outputs, &job.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	return &job, nil
}

// encodeJSON renders the jsonb columns as text; the driver would send []byte as bytea.
func encodeJSON(job *domain.TransformJob) (platforms, options, outputs string, err error) {
	list := job.Platforms
	if list == nil {
		list = []string{}
	}
	out := job.Outputs
	if out == nil {
		out = map[string]string{}
	}

	p, err := json.Marshal(list)
	if err != nil {
		return "", "", "", fmt.Errorf("encode platforms: %w", err)
	}
	o, err := json.Marshal(job.Options)
	if err != nil {
		return "", "", "", fmt.Errorf("encode options: %w", err)
	}
	r, err := json.Marshal(out)
	if err != nil {
		return "", "", "", fmt.Errorf("encode outputs: %w", err)
	}
	return string(p), string(o), string(r), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
