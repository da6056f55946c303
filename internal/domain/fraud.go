package domain

import "time"

// IndicatorType names a fraud heuristic.
type IndicatorType string

const (
	IndicatorVelocity        IndicatorType = "velocity"
	IndicatorAmountDeviation IndicatorType = "amount_deviation"
	IndicatorUnusualTime     IndicatorType = "unusual_time"
	IndicatorDeviceAnomaly   IndicatorType = "device_anomaly"
)

// FraudIndicator is one heuristic signal contributing to the fraud verdict.
type FraudIndicator struct {
	Type        IndicatorType `json:"type"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	Confidence  float64       `json:"confidence"`
	Points      int           `json:"points"`
}

// FraudDetectionResult is the verdict of the heuristic fraud detector.
type FraudDetectionResult struct {
	TransactionID   string           `json:"transactionId"`
	IsFraudulent    bool             `json:"isFraudulent"`
	RiskScore       int              `json:"riskScore"`
	Confidence      float64          `json:"confidence"`
	Indicators      []FraudIndicator `json:"indicators"`
	Recommendations []string         `json:"recommendations"`
	DetectedAt      time.Time        `json:"detectedAt"`
}
