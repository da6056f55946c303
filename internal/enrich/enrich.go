// Package enrich turns raw payment transactions into enriched records using
// stored customer profiles, transaction history and the client user agent.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Profile used for customers with no stored profile: middling risk, a brand
// new unverified account.
const defaultRiskScore = 50

// Service implements domain.Enricher.
type Service struct {
	profiles   domain.ProfileStore
	history    domain.TransactionStore
	cache      domain.Cache
	profileTTL time.Duration
	now        func() time.Time
}

// NewService creates an enricher. cache may be nil.
func NewService(profiles domain.ProfileStore, history domain.TransactionStore, c domain.Cache, profileTTL time.Duration) *Service {
	if profileTTL <= 0 {
		profileTTL = 5 * time.Minute
	}
	return &Service{
		profiles:   profiles,
		history:    history,
		cache:      c,
		profileTTL: profileTTL,
		now:        time.Now,
	}
}

var _ domain.Enricher = (*Service)(nil)

// Enrich looks up the customer's profile and history. Any lookup failure
// fails the whole call with domain.ErrEnrichmentFailed.
func (s *Service) Enrich(ctx context.Context, tx *domain.PaymentTransaction) (*domain.EnrichedTransaction, error) {
	if tx == nil || tx.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrEnrichmentFailed)
	}

	profile, err := s.profile(ctx, tx.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", domain.ErrEnrichmentFailed, tx.CustomerID, err)
	}

	asOf := tx.Timestamp
	if asOf.IsZero() {
		asOf = s.now()
	}

	history, err := s.history.TransactionHistory(ctx, tx.CustomerID, tx.ID, asOf)
	if err != nil {
		return nil, fmt.Errorf("%w: history %s: %v", domain.ErrEnrichmentFailed, tx.CustomerID, err)
	}

	enriched := &domain.EnrichedTransaction{
		PaymentTransaction:       *tx,
		CustomerRiskScore:        profile.RiskScore,
		AccountAgeDays:           accountAgeDays(profile.AccountCreatedAt, asOf),
		IsVIP:                    profile.VIP,
		AccountVerified:          profile.Verified,
		TransactionVelocity24h:   history.Count24h,
		TransactionTotal24h:      history.Total24h.InexactFloat64(),
		PriorTransactionCount:    history.PriorCount,
		AverageTransactionAmount: history.AverageAmount.InexactFloat64(),
		Geography:                geography(profile.Country, tx.IPCountry),
		Device:                   device(tx, history),
		EnrichedAt:               s.now().UTC(),
	}
	enriched.Timestamp = asOf

	return enriched, nil
}

// profile reads through the cache. A missing profile is not an error.
func (s *Service) profile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	key := "profile:" + customerID

	if s.cache != nil {
		var cached domain.CustomerProfile
		ok, err := cache.GetJSON(ctx, s.cache, key, &cached)
		if err != nil {
			slog.Warn("profile cache read failed", "customer_id", customerID, "error", err)
		}
		if ok {
			return &cached, nil
		}
	}

	p, err := s.profiles.GetProfile(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		p = &domain.CustomerProfile{
			CustomerID:       customerID,
			RiskScore:        defaultRiskScore,
			AccountCreatedAt: s.now(),
		}
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, p, s.profileTTL); err != nil {
			slog.Warn("profile cache write failed", "customer_id", customerID, "error", err)
		}
	}
	return p, nil
}

// Invalidate drops a cached profile after it changes.
func (s *Service) Invalidate(ctx context.Context, customerID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, "profile:"+customerID)
}

func accountAgeDays(created, asOf time.Time) int {
	if created.IsZero() || created.After(asOf) {
		return 0
	}
	return int(asOf.Sub(created).Hours() / 24)
}

func geography(country, ipCountry string) domain.Geography {
	country = strings.ToUpper(strings.TrimSpace(country))
	ipCountry = strings.ToUpper(strings.TrimSpace(ipCountry))
	return domain.Geography{
		Country:   country,
		IPCountry: ipCountry,
		Mismatch:  country != "" && ipCountry != "" && country != ipCountry,
	}
}

func device(tx *domain.PaymentTransaction, history *domain.TransactionHistory) domain.DeviceInfo {
	info := domain.DeviceInfo{
		Fingerprint: tx.DeviceFingerprint,
		Known:       history.HasDevice(tx.DeviceFingerprint),
	}
	if tx.UserAgent == "" {
		return info
	}

	ua := useragent.New(tx.UserAgent)
	info.Browser, _ = ua.Browser()
	info.OS = ua.OS()
	info.Mobile = ua.Mobile()
	info.Bot = ua.Bot()
	return info
}
