package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// BatchItem is the outcome of one request in a batch, in request order.
type BatchItem struct {
	Index int                `json:"index"`
	Run   domain.PipelineRun `json:"run"`
	Err   error              `json:"-"`
}

// ProcessBatch runs independent requests with bounded concurrency. A
// rejected request does not stop the others.
func (o *Orchestrator) ProcessBatch(ctx context.Context, reqs []Request) []BatchItem {
	items := make([]BatchItem, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			items[i].Index = i
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			items[i].Run, items[i].Err = o.Process(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	return items
}
