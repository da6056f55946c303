// Package worker screens transactions submitted asynchronously over the
// event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/screening"
)

// Store persists what the worker produces.
type Store interface {
	SaveTransaction(ctx context.Context, tx *domain.PaymentTransaction) error
	SaveScreening(ctx context.Context, result *domain.PreScreeningResult) error
}

// Outcome is published as the reply to a request on the submission topic.
type Outcome struct {
	Screening *domain.PreScreeningResult   `json:"screening"`
	Fraud     *domain.FraudDetectionResult `json:"fraud,omitempty"`
	Error     string                       `json:"error,omitempty"`
}

// Worker consumes domain.TopicTransactionSubmitted, screens every
// transaction, runs the fraud detector and publishes the results.
type Worker struct {
	bus      domain.EventBus
	screener *screening.Screener
	detector *fraud.Detector
	store    Store

	mu            sync.Mutex
	subscriptions []domain.Subscription

	processed atomic.Int64
	failed    atomic.Int64
	now       func() time.Time
}

// NewWorker creates a worker. detector and store may be nil.
func NewWorker(b domain.EventBus, screener *screening.Screener, detector *fraud.Detector, store Store) *Worker {
	return &Worker{
		bus:      b,
		screener: screener,
		detector: detector,
		store:    store,
		now:      time.Now,
	}
}

// Start subscribes to the submission topic.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, domain.TopicTransactionSubmitted, w.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicTransactionSubmitted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("screening worker started", "topic", domain.TopicTransactionSubmitted)
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	var tx domain.PaymentTransaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		w.failed.Add(1)
		w.reply(ctx, msg, &Outcome{Error: "invalid transaction payload"})
		return fmt.Errorf("decode transaction %s: %w", msg.ID, err)
	}

	outcome := w.Process(ctx, &tx)
	w.reply(ctx, msg, outcome)
	return nil
}

// Process screens one transaction and publishes the outcome. Screening
// failures produce the fail-safe result rather than an error.
func (w *Worker) Process(ctx context.Context, tx *domain.PaymentTransaction) *Outcome {
	start := time.Now()
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = w.now().UTC()
	}

	if w.store != nil {
		if err := w.store.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
	}

	outcome := &Outcome{}
	enriched, err := w.screener.Enrich(ctx, tx)
	if err != nil {
		w.failed.Add(1)
		outcome.Screening = w.screener.FailSafe(tx, err)
		outcome.Error = err.Error()
		slog.Warn("screening fell back to manual review", "tx_id", tx.ID, "error", err)
	} else {
		outcome.Screening = w.screener.Evaluate(ctx, enriched)
		if w.detector != nil {
			fr, err := w.detector.Detect(ctx, enriched)
			if err != nil {
				slog.Error("fraud detection failed", "tx_id", tx.ID, "error", err)
			}
			outcome.Fraud = fr
		}
	}

	if w.store != nil {
		if err := w.store.SaveScreening(ctx, outcome.Screening); err != nil {
			slog.Error("failed to save screening", "tx_id", tx.ID, "error", err)
		}
	}

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicScreeningResult, outcome.Screening); err != nil {
		slog.Error("failed to publish screening result", "tx_id", tx.ID, "error", err)
	}
	if outcome.Fraud != nil && outcome.Fraud.IsFraudulent {
		if err := bus.PublishJSON(ctx, w.bus, domain.TopicFraudAlert, outcome.Fraud); err != nil {
			slog.Error("failed to publish fraud alert", "tx_id", tx.ID, "error", err)
		}
	}

	w.processed.Add(1)
	slog.Info("transaction screened",
		"tx_id", tx.ID,
		"decision", outcome.Screening.Decision,
		"risk_score", outcome.Screening.RiskScore,
		"fraudulent", outcome.Fraud != nil && outcome.Fraud.IsFraudulent,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, outcome *Outcome) {
	if msg.Metadata[bus.ReplyToKey] == "" {
		return
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		slog.Error("failed to encode reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := bus.Reply(ctx, w.bus, msg, data); err != nil {
		slog.Error("failed to reply", "message_id", msg.ID, "error", err)
	}
}

// Stop unsubscribes from the bus.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	slog.Info("screening worker stopped")
	return nil
}

// Stats is a point-in-time view of worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
