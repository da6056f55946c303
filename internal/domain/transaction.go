package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods recognised by the risk scorer.
const (
	PaymentCreditCard   = "credit_card"
	PaymentDebitCard    = "debit_card"
	PaymentBankTransfer = "bank_transfer"
	PaymentCash         = "cash"
	PaymentWallet       = "wallet"
)

// PaymentTransaction is an incoming payment from the booking/payment flow.
type PaymentTransaction struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	CustomerID    string          `json:"customerId"`
	MerchantID    string          `json:"merchantId,omitempty"`
	BookingID     string          `json:"bookingId,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`

	// Client context captured at checkout
	IPAddress         string `json:"ipAddress,omitempty"`
	IPCountry         string `json:"ipCountry,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	UserAgent         string `json:"userAgent,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsCardPayment reports whether the transaction was paid by card.
func (t *PaymentTransaction) IsCardPayment() bool {
	return t.PaymentMethod == PaymentCreditCard || t.PaymentMethod == PaymentDebitCard
}

// IsManualPayment reports whether the payment method needs manual reconciliation.
func (t *PaymentTransaction) IsManualPayment() bool {
	return t.PaymentMethod == PaymentBankTransfer || t.PaymentMethod == PaymentCash
}

// Geography holds location context for a transaction.
type Geography struct {
	Country   string `json:"country,omitempty"`   // customer's registered country
	IPCountry string `json:"ipCountry,omitempty"` // country resolved from the client IP
	Mismatch  bool   `json:"mismatch"`
}

// DeviceInfo holds the device context derived from the fingerprint and user agent.
type DeviceInfo struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Browser     string `json:"browser,omitempty"`
	OS          string `json:"os,omitempty"`
	Mobile      bool   `json:"mobile"`
	Bot         bool   `json:"bot"`
	Known       bool   `json:"known"` // seen before for this customer
}

// EnrichedTransaction is the raw transaction plus the contextual fields rules run against.
type EnrichedTransaction struct {
	PaymentTransaction

	CustomerRiskScore        float64    `json:"customerRiskScore"`
	AccountAgeDays           int        `json:"accountAgeDays"`
	IsVIP                    bool       `json:"isVip"`
	AccountVerified          bool       `json:"accountVerified"`
	TransactionVelocity24h   int        `json:"transactionVelocity24h"`
	TransactionTotal24h      float64    `json:"transactionTotal24h"`
	PriorTransactionCount    int        `json:"priorTransactionCount"`
	AverageTransactionAmount float64    `json:"averageTransactionAmount"`
	Geography                Geography  `json:"geography"`
	Device                   DeviceInfo `json:"device"`
	EnrichedAt               time.Time  `json:"enrichedAt"`
}

// AmountFloat returns the amount as a float for scoring.
func (e *EnrichedTransaction) AmountFloat() float64 {
	return e.Amount.InexactFloat64()
}

// Record renders the enriched transaction as the dot-addressable record that
// rule conditions are evaluated against. Numbers are float64 so that values
// decoded from JSON rule definitions compare naturally.
func (e *EnrichedTransaction) Record() map[string]any {
	metadata := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		metadata[k] = v
	}

	return map[string]any{
		"id":                       e.ID,
		"amount":                   e.AmountFloat(),
		"currency":                 e.Currency,
		"paymentMethod":            e.PaymentMethod,
		"customerId":               e.CustomerID,
		"merchantId":               e.MerchantID,
		"bookingId":                e.BookingID,
		"timestamp":                e.Timestamp.Format(time.RFC3339),
		"hour":                     float64(e.Timestamp.Hour()),
		"ipAddress":                e.IPAddress,
		"customerRiskScore":        e.CustomerRiskScore,
		"accountAgeDays":           float64(e.AccountAgeDays),
		"isVip":                    e.IsVIP,
		"accountVerified":          e.AccountVerified,
		"transactionVelocity24h":   float64(e.TransactionVelocity24h),
		"transactionTotal24h":      e.TransactionTotal24h,
		"priorTransactionCount":    float64(e.PriorTransactionCount),
		"averageTransactionAmount": e.AverageTransactionAmount,
		"geography": map[string]any{
			"country":   e.Geography.Country,
			"ipCountry": e.Geography.IPCountry,
			"mismatch":  e.Geography.Mismatch,
		},
		"device": map[string]any{
			"fingerprint": e.Device.Fingerprint,
			"browser":     e.Device.Browser,
			"os":          e.Device.OS,
			"mobile":      e.Device.Mobile,
			"bot":         e.Device.Bot,
			"known":       e.Device.Known,
		},
		"metadata": metadata,
	}
}

// CustomerProfile is the stored customer context used during enrichment.
type CustomerProfile struct {
	CustomerID       string    `json:"customerId"`
	RiskScore        float64   `json:"riskScore"`
	VIP              bool      `json:"vip"`
	Verified         bool      `json:"verified"`
	Country          string    `json:"country,omitempty"`
	AccountCreatedAt time.Time `json:"accountCreatedAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TransactionHistory summarises a customer's previous transactions.
type TransactionHistory struct {
	Count24h      int             `json:"count24h"`
	Total24h      decimal.Decimal `json:"total24h"`
	PriorCount    int             `json:"priorCount"`
	AverageAmount decimal.Decimal `json:"averageAmount"`
	KnownDevices  []string        `json:"knownDevices,omitempty"`
}

// HasDevice reports whether the fingerprint appears in the history.
func (h *TransactionHistory) HasDevice(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	for _, d := range h.KnownDevices {
		if d == fingerprint {
			return true
		}
	}
	return false
}

// Enricher augments a raw transaction with the context rules depend on.
// Implementations must fail rather than return a partially populated record.
type Enricher interface {
	Enrich(ctx context.Context, tx *PaymentTransaction) (*EnrichedTransaction, error)
}
