package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/yokitheyo/styleshot/internal/domain"
)

type BatchItem struct {
	Result *domain.TransformationResult
	Err    error
}

// TransformBatch runs independent requests concurrently, at most BatchLimit at a time.
// Items are returned in request order.
func (o *Orchestrator) TransformBatch(ctx context.Context, reqs []domain.TransformationRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.cfg.BatchLimit)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := o.Transform(ctx, req)
			items[i] = BatchItem{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return items
}
