package domain

import "errors"

var (
	// ErrRuleNotFound is returned when a rule id is not in the registry.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrInvalidRule is returned when a rule draft fails validation.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrEnrichmentFailed is returned when the transaction could not be enriched.
	// Callers must treat the transaction as manual_review.
	ErrEnrichmentFailed = errors.New("enrichment failed")
)
