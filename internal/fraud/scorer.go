package fraud

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AnomalyScorer rates how unusual the device behind a transaction looks,
// from 0 (expected) to 1 (certainly anomalous).
type AnomalyScorer interface {
	Score(ctx context.Context, tx *domain.EnrichedTransaction) (float64, error)
}

// DeviceHistoryScorer flags bots and devices the customer has never used
// before. Customers with no history and no fingerprint score a neutral 0.
type DeviceHistoryScorer struct{}

func (DeviceHistoryScorer) Score(_ context.Context, tx *domain.EnrichedTransaction) (float64, error) {
	switch {
	case tx.Device.Bot:
		return 1, nil
	case tx.Device.Fingerprint == "" || tx.PriorTransactionCount == 0:
		return 0, nil
	case !tx.Device.Known:
		return 1, nil
	}
	return 0, nil
}

// RandomScorer draws a uniform score per call. It stands in for an external
// device intelligence feed in demos and load tests.
type RandomScorer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomScorer seeds a scorer. A zero seed uses the current time.
func NewRandomScorer(seed int64) *RandomScorer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomScorer{rnd: rand.New(rand.NewSource(seed))}
}

func (s *RandomScorer) Score(context.Context, *domain.EnrichedTransaction) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64(), nil
}

// StaticScorer always returns the same score.
type StaticScorer float64

func (s StaticScorer) Score(context.Context, *domain.EnrichedTransaction) (float64, error) {
	return float64(s), nil
}

// NewScorer builds the scorer named in config.
func NewScorer(name string) AnomalyScorer {
	if name == "random" {
		return NewRandomScorer(0)
	}
	return DeviceHistoryScorer{}
}
