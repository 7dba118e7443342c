package pipeline

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkerLimit bounds concurrent per-item operations in a batch. The
// limit caps memory and external-API concurrency at the same time.
const DefaultWorkerLimit = 3

// BatchOptions controls batch execution.
type BatchOptions struct {
	// WorkerLimit is the maximum number of concurrent item operations.
	// Zero means DefaultWorkerLimit.
	WorkerLimit int

	// ContinueOnError captures one item's failure in the report without
	// aborting the rest of the batch. When false, the first failure
	// cancels outstanding work.
	ContinueOnError bool
}

// ItemResult is the outcome for one batch item.
type ItemResult struct {
	ID  uuid.UUID `json:"id"`
	Err error     `json:"error,omitempty"`
}

// Report enumerates per-item outcomes in the original input order,
// regardless of the concurrent execution order.
type Report struct {
	Results []ItemResult `json:"results"`
}

// Succeeded returns the ids that completed, preserving input order.
func (r *Report) Succeeded() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.ID)
		}
	}
	return out
}

// Failed returns the failed results, preserving input order.
func (r *Report) Failed() []ItemResult {
	out := make([]ItemResult, 0)
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// RunBatch processes ids with a bounded worker pool. With ContinueOnError
// set, the returned error is always nil and per-item failures live in the
// report; otherwise the first failure is returned alongside the partial
// report.
func RunBatch(ctx context.Context, ids []uuid.UUID, opts BatchOptions, fn func(ctx context.Context, id uuid.UUID) error) (*Report, error) {
	limit := opts.WorkerLimit
	if limit <= 0 {
		limit = DefaultWorkerLimit
	}

	results := make([]ItemResult, len(ids))
	for i, id := range ids {
		results[i] = ItemResult{ID: id}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			err := fn(gctx, id)
			results[i].Err = err
			if err != nil && !opts.ContinueOnError {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	report := &Report{Results: results}
	if err != nil {
		return report, err
	}
	return report, nil
}
