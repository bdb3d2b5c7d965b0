package rewards

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cppla/habitledger/apperr"
)

// BatchResult is the per-event result of HandleBatch. Exactly one of
// Outcome and Error is set.
type BatchResult struct {
	Index   int           `json:"index"`
	Outcome *Outcome      `json:"outcome,omitempty"`
	Error   *apperr.Error `json:"-"`
}

// Failed reports whether the event was not applied.
func (r BatchResult) Failed() bool { return r.Error != nil }

// HandleBatch applies events independently on a bounded worker pool. One
// failing event never aborts the others; results keep the input order.
func (o *Orchestrator) HandleBatch(ctx context.Context, events []ActivityEvent) []BatchResult {
	results := make([]BatchResult, len(events))
	var g errgroup.Group
	g.SetLimit(o.cfg.BatchConcurrency)
	for i, ev := range events {
		g.Go(func() error {
			res := BatchResult{Index: i}
			if err := ctx.Err(); err != nil {
				res.Error = apperr.Transient(err)
				results[i] = res
				return nil
			}
			out, err := o.HandleActivity(ctx, ev)
			if err != nil {
				res.Error = apperr.From(err)
			} else {
				res.Outcome = &out
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
