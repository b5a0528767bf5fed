package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/finsight/internal/domain"
)

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, taskID string, sub domain.Submission) domain.Record

func (f RunnerFunc) Run(ctx context.Context, taskID string, sub domain.Submission) domain.Record {
	return f(ctx, taskID, sub)
}

// ItemTaskID names the run of the i-th submission of a batch.
func ItemTaskID(batchID string, i int) string {
	return fmt.Sprintf("%s-%d", batchID, i)
}

// ProcessBatch runs subs with at most limit in flight. Each submission ends
// in its own record; a failed item does not stop the others.
func ProcessBatch(ctx context.Context, runner Runner, batchID string, subs []domain.Submission, limit int) domain.BatchResult {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, sub := range subs {
		g.Go(func() error {
			runner.Run(gctx, ItemTaskID(batchID, i), sub)
			return nil
		})
	}
	_ = g.Wait()

	return domain.BatchResult{
		Status:         domain.BatchCompleted,
		FilesProcessed: len(subs),
	}
}
