// Package fraud implements the heuristic fraud indicator detector. It runs
// beside the rule engine on the same enriched transaction and produces an
// independent verdict.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Heuristic weights.
const (
	velocityLimit      = 10
	velocityPoints     = 30
	deviationFactor    = 5
	deviationPoints    = 20
	unusualTimePoints  = 10
	deviceAnomalyPoint = 35

	fraudThreshold        = 60
	verificationThreshold = 30
	maxConfidence         = 95
)

// JitterFunc returns the random component added to the confidence.
type JitterFunc func() float64

// UniformJitter returns a JitterFunc drawing from [0, max).
func UniformJitter(max float64) JitterFunc {
	if max <= 0 {
		return func() float64 { return 0 }
	}
	return func() float64 { return rand.Float64() * max }
}

// Detector scores enriched transactions for fraud.
type Detector struct {
	scorer    AnomalyScorer
	threshold float64
	jitter    JitterFunc
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithJitter overrides the confidence jitter.
func WithJitter(j JitterFunc) Option {
	return func(d *Detector) { d.jitter = j }
}

// WithThreshold sets the anomaly score at which a device counts as anomalous.
func WithThreshold(t float64) Option {
	return func(d *Detector) { d.threshold = t }
}

// WithMetrics records verdicts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithClock overrides the detection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a detector. A nil scorer uses DeviceHistoryScorer.
func NewDetector(scorer AnomalyScorer, opts ...Option) *Detector {
	if scorer == nil {
		scorer = DeviceHistoryScorer{}
	}
	d := &Detector{
		scorer:    scorer,
		threshold: 0.9,
		jitter:    UniformJitter(10),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewFromConfig creates a detector from config.
func NewFromConfig(cfg domain.FraudConfig, m *metrics.Metrics) *Detector {
	opts := []Option{WithJitter(UniformJitter(cfg.MaxJitter)), WithMetrics(m)}
	if cfg.AnomalyThreshold > 0 {
		opts = append(opts, WithThreshold(cfg.AnomalyThreshold))
	}
	return NewDetector(NewScorer(cfg.AnomalyScorer), opts...)
}

// Detect evaluates every heuristic. A scorer failure is logged and the device
// heuristic is skipped; the other signals still count.
func (d *Detector) Detect(ctx context.Context, tx *domain.EnrichedTransaction) (*domain.FraudDetectionResult, error) {
	if tx == nil {
		return nil, errors.New("fraud: nil transaction")
	}

	var indicators []domain.FraudIndicator
	score := 0

	add := func(ind domain.FraudIndicator) {
		indicators = append(indicators, ind)
		score += ind.Points
	}

	if tx.TransactionVelocity24h > velocityLimit {
		add(domain.FraudIndicator{
			Type:        domain.IndicatorVelocity,
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("%d transactions in the last 24 hours", tx.TransactionVelocity24h),
			Confidence:  85,
			Points:      velocityPoints,
		})
	}

	if avg := tx.AverageTransactionAmount; avg > 0 && tx.AmountFloat() > deviationFactor*avg {
		add(domain.FraudIndicator{
			Type:        domain.IndicatorAmountDeviation,
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("amount %.2f is %.1fx the customer average of %.2f", tx.AmountFloat(), tx.AmountFloat()/avg, avg),
			Confidence:  70,
			Points:      deviationPoints,
		})
	}

	if !tx.Timestamp.IsZero() {
		if h := tx.Timestamp.Hour(); h < 6 || h > 22 {
			add(domain.FraudIndicator{
				Type:        domain.IndicatorUnusualTime,
				Severity:    domain.SeverityLow,
				Description: fmt.Sprintf("transaction at %02d:%02d is outside normal hours", h, tx.Timestamp.Minute()),
				Confidence:  40,
				Points:      unusualTimePoints,
			})
		}
	}

	anomaly, err := d.scorer.Score(ctx, tx)
	if err != nil {
		slog.Warn("anomaly scorer failed", "tx_id", tx.ID, "error", err)
	} else if anomaly >= d.threshold {
		add(domain.FraudIndicator{
			Type:        domain.IndicatorDeviceAnomaly,
			Severity:    domain.SeverityHigh,
			Description: "device fingerprint does not match the customer's usual devices",
			Confidence:  math.Round(math.Min(anomaly, 1) * 100),
			Points:      deviceAnomalyPoint,
		})
	}

	score = clamp(score, 0, 100)
	result := &domain.FraudDetectionResult{
		TransactionID:   tx.ID,
		IsFraudulent:    score > fraudThreshold,
		RiskScore:       score,
		Confidence:      math.Min(float64(score)+d.jitter(), maxConfidence),
		Indicators:      indicators,
		Recommendations: recommendations(score),
		DetectedAt:      d.now().UTC(),
	}
	if result.Indicators == nil {
		result.Indicators = []domain.FraudIndicator{}
	}

	d.metrics.ObserveFraud(result.IsFraudulent)
	if result.IsFraudulent {
		slog.Info("fraud indicators exceeded threshold",
			"tx_id", tx.ID,
			"risk_score", score,
			"indicators", len(indicators),
		)
	}
	return result, nil
}

func recommendations(score int) []string {
	switch {
	case score > fraudThreshold:
		return []string{
			"Decline the transaction",
			"Flag the customer account for fraud investigation",
			"Report the transaction to the fraud team",
		}
	case score > verificationThreshold:
		return []string{"Require additional verification before processing"}
	}
	return []string{}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
