package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	profiles     map[string]*domain.CustomerProfile
	history      *domain.TransactionHistory
	profileErr   error
	historyErr   error
	profileReads int
}

func (f *fakeStore) SaveProfile(ctx context.Context, p *domain.CustomerProfile) error {
	f.profiles[p.CustomerID] = p
	return nil
}

func (f *fakeStore) GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	f.profileReads++
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p, ok := f.profiles[customerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) SaveTransaction(ctx context.Context, tx *domain.PaymentTransaction) error {
	return nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, txID string) (*domain.PaymentTransaction, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeStore) TransactionHistory(ctx context.Context, customerID, excludeID string, asOf time.Time) (*domain.TransactionHistory, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if f.history == nil {
		return &domain.TransactionHistory{}, nil
	}
	return f.history, nil
}

var when = time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC)

func newTx() *domain.PaymentTransaction {
	return &domain.PaymentTransaction{
		ID:                "tx-1",
		Amount:            decimal.NewFromInt(2500),
		Currency:          "EUR",
		PaymentMethod:     domain.PaymentCreditCard,
		CustomerID:        "cust-1",
		Timestamp:         when,
		IPCountry:         "fr",
		DeviceFingerprint: "fp-new",
		UserAgent:         "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
	}
}

func TestEnrich(t *testing.T) {
	store := &fakeStore{
		profiles: map[string]*domain.CustomerProfile{
			"cust-1": {
				CustomerID:       "cust-1",
				RiskScore:        22,
				VIP:              true,
				Verified:         true,
				Country:          "DE",
				AccountCreatedAt: when.Add(-90 * 24 * time.Hour),
			},
		},
		history: &domain.TransactionHistory{
			Count24h:      3,
			Total24h:      decimal.RequireFromString("450.50"),
			PriorCount:    12,
			AverageAmount: decimal.RequireFromString("120.25"),
			KnownDevices:  []string{"fp-old"},
		},
	}
	svc := NewService(store, store, nil, 0)
	svc.now = func() time.Time { return when.Add(time.Second) }

	got, err := svc.Enrich(context.Background(), newTx())
	require.NoError(t, err)

	assert.Equal(t, "tx-1", got.ID)
	assert.Equal(t, 22.0, got.CustomerRiskScore)
	assert.Equal(t, 90, got.AccountAgeDays)
	assert.True(t, got.IsVIP)
	assert.True(t, got.AccountVerified)
	assert.Equal(t, 3, got.TransactionVelocity24h)
	assert.InDelta(t, 450.5, got.TransactionTotal24h, 1e-9)
	assert.Equal(t, 12, got.PriorTransactionCount)
	assert.InDelta(t, 120.25, got.AverageTransactionAmount, 1e-9)

	assert.Equal(t, domain.Geography{Country: "DE", IPCountry: "FR", Mismatch: true}, got.Geography)

	assert.Equal(t, "fp-new", got.Device.Fingerprint)
	assert.False(t, got.Device.Known)
	assert.True(t, got.Device.Mobile)
	assert.False(t, got.Device.Bot)
	assert.Equal(t, "Safari", got.Device.Browser)

	rec := got.Record()
	assert.Equal(t, 2500.0, rec["amount"])
	assert.Equal(t, 14.0, rec["hour"])
	assert.Equal(t, true, rec["geography"].(map[string]any)["mismatch"])
}

func TestEnrichUnknownCustomerUsesDefaultProfile(t *testing.T) {
	store := &fakeStore{profiles: map[string]*domain.CustomerProfile{}}
	svc := NewService(store, store, nil, 0)

	tx := newTx()
	tx.CustomerID = "brand-new"
	tx.UserAgent = ""

	got, err := svc.Enrich(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, float64(defaultRiskScore), got.CustomerRiskScore)
	assert.Zero(t, got.AccountAgeDays)
	assert.False(t, got.AccountVerified)
	assert.False(t, got.Geography.Mismatch)
	assert.Empty(t, got.Device.Browser)
}

func TestEnrichFailures(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
		tx    *domain.PaymentTransaction
	}{
		{"profile store down", &fakeStore{profileErr: errors.New("connection refused")}, newTx()},
		{"history store down", &fakeStore{profiles: map[string]*domain.CustomerProfile{}, historyErr: errors.New("timeout")}, newTx()},
		{"missing customer id", &fakeStore{}, &domain.PaymentTransaction{ID: "tx-x"}},
		{"nil transaction", &fakeStore{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.store, tt.store, nil, 0)
			got, err := svc.Enrich(context.Background(), tt.tx)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, domain.ErrEnrichmentFailed)
		})
	}
}

func TestEnrichCachesProfiles(t *testing.T) {
	store := &fakeStore{
		profiles: map[string]*domain.CustomerProfile{
			"cust-1": {CustomerID: "cust-1", RiskScore: 40, Country: "FR", AccountCreatedAt: when.Add(-48 * time.Hour)},
		},
		history: &domain.TransactionHistory{KnownDevices: []string{"fp-new"}},
	}
	lru := cache.NewLRUCache(10)
	svc := NewService(store, store, lru, time.Minute)
	ctx := context.Background()

	first, err := svc.Enrich(ctx, newTx())
	require.NoError(t, err)
	second, err := svc.Enrich(ctx, newTx())
	require.NoError(t, err)

	assert.Equal(t, 1, store.profileReads)
	assert.Equal(t, first.CustomerRiskScore, second.CustomerRiskScore)
	assert.Equal(t, 2, second.AccountAgeDays)
	assert.True(t, second.Device.Known)
	assert.False(t, second.Geography.Mismatch)

	require.NoError(t, svc.Invalidate(ctx, "cust-1"))
	_, err = svc.Enrich(ctx, newTx())
	require.NoError(t, err)
	assert.Equal(t, 2, store.profileReads)
}
