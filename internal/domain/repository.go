// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// TransactionStore persists inbound transactions and answers history queries.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx *PaymentTransaction) error
	GetTransaction(ctx context.Context, txID string) (*PaymentTransaction, error)

	// TransactionHistory summarises the customer's transactions before asOf,
	// excluding excludeID.
	TransactionHistory(ctx context.Context, customerID, excludeID string, asOf time.Time) (*TransactionHistory, error)
}

// ProfileStore persists customer profiles.
type ProfileStore interface {
	SaveProfile(ctx context.Context, p *CustomerProfile) error
	GetProfile(ctx context.Context, customerID string) (*CustomerProfile, error)
}

// ScreeningStore persists pre-screening results.
type ScreeningStore interface {
	SaveScreening(ctx context.Context, r *PreScreeningResult) error
	GetScreening(ctx context.Context, id string) (*PreScreeningResult, error)
}

// RuleRepository loads and saves the custom rule set as one document.
type RuleRepository interface {
	LoadRules(ctx context.Context) ([]*AutomationRule, error)
	SaveRules(ctx context.Context, rules []*AutomationRule) error
}

// Repository is the full persistence surface.
type Repository interface {
	TransactionStore
	ProfileStore
	ScreeningStore
	RuleRepository

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
