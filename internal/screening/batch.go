package screening

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome for one transaction of a batch. On failure Result
// holds the fail-safe manual_review result and Err the cause.
type BatchItem struct {
	Result *domain.PreScreeningResult `json:"result"`
	Err    error                      `json:"-"`
}

// ScreenBatch screens transactions concurrently over one registry snapshot.
// Items are returned in input order.
func (s *Screener) ScreenBatch(ctx context.Context, txs []*domain.PaymentTransaction) []BatchItem {
	ctx, span := tracer.Start(ctx, "screening.ScreenBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(txs)))

	items := make([]BatchItem, len(txs))
	if len(txs) == 0 {
		return items
	}

	ordered := rules.Prioritize(s.registry.Snapshot())

	var g errgroup.Group
	g.SetLimit(s.workers)

	for i, tx := range txs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i] = BatchItem{Result: s.FailSafe(tx, err), Err: err}
				return nil
			}
			result, err := s.preScreen(ctx, tx, ordered)
			if err != nil {
				items[i] = BatchItem{Result: s.FailSafe(tx, err), Err: err}
				return nil
			}
			items[i] = BatchItem{Result: result}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("batch.failed", failed))
	slog.Info("batch screened", "size", len(txs), "failed", failed, "workers", s.workers)
	return items
}
