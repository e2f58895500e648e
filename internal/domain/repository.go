package domain

import "context"

type JobRepository interface {
	Create(ctx context.Context, job *TransformJob) error
	FindByID(ctx context.Context, id string) (*TransformJob, error)
	Update(ctx context.Context, job *TransformJob) error
	List(ctx context.Context, limit, offset int) ([]*TransformJob, error)
}
