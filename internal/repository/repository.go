// Package repository provides the SQL persistence layer for transactions,
// customer profiles, screening results and the custom rule document.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// customRulesKey addresses the JSON array of custom rules in kv_documents.
const customRulesKey = "rules.custom"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction. Re-submitting an id is rejected.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.PaymentTransaction) error {
	if tx == nil || tx.ID == "" || tx.CustomerID == "" {
		return fmt.Errorf("%w: transaction id and customer id are required", ErrInvalidInput)
	}

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("%w: metadata: %v", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO transactions (
			id, customer_id, amount, currency, payment_method, merchant_id, booking_id,
			timestamp, ip_address, ip_country, device_fingerprint, user_agent, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.CustomerID, tx.Amount.String(), tx.Currency, tx.PaymentMethod,
		tx.MerchantID, tx.BookingID, tx.Timestamp.UTC(),
		tx.IPAddress, tx.IPCountry, tx.DeviceFingerprint, tx.UserAgent,
		string(metadata), time.Now().UTC(),
	)
	return err
}

const transactionColumns = `
	id, customer_id, amount, currency, payment_method, merchant_id, booking_id,
	timestamp, ip_address, ip_country, device_fingerprint, user_agent, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.PaymentTransaction, error) {
	var tx domain.PaymentTransaction
	var amount string
	var merchantID, bookingID, ipAddress, ipCountry, device, userAgent, metadata sql.NullString

	if err := row.Scan(
		&tx.ID, &tx.CustomerID, &amount, &tx.Currency, &tx.PaymentMethod,
		&merchantID, &bookingID, &tx.Timestamp,
		&ipAddress, &ipCountry, &device, &userAgent, &metadata,
	); err != nil {
		return nil, err
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s has invalid amount %q: %w", tx.ID, amount, err)
	}
	tx.Amount = dec
	tx.MerchantID = merchantID.String
	tx.BookingID = bookingID.String
	tx.IPAddress = ipAddress.String
	tx.IPCountry = ipCountry.String
	tx.DeviceFingerprint = device.String
	tx.UserAgent = userAgent.String

	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("transaction %s has invalid metadata: %w", tx.ID, err)
		}
	}
	return &tx, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// TransactionHistory aggregates the customer's transactions up to asOf. The
// windows are evaluated in SQL so the cost is bounded by the index range, not
// by how long the customer has been paying.
func (r *SQLRepository) TransactionHistory(ctx context.Context, customerID, excludeID string, asOf time.Time) (*domain.TransactionHistory, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	asOf = asOf.UTC()
	windowStart := asOf.Add(-24 * time.Hour)

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CAST(amount AS NUMERIC)), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN CAST(amount AS NUMERIC) ELSE 0 END), 0)
		FROM transactions
		WHERE customer_id = ? AND id <> ? AND timestamp <= ?
	`

	var priorCount, count24h int
	var total, total24h sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		windowStart, windowStart, customerID, excludeID, asOf,
	).Scan(&priorCount, &total, &count24h, &total24h)
	if err != nil {
		return nil, fmt.Errorf("aggregate history: %w", err)
	}

	h := &domain.TransactionHistory{
		Count24h:      count24h,
		PriorCount:    priorCount,
		AverageAmount: decimal.Zero,
	}
	if h.Total24h, err = sumDecimal(total24h); err != nil {
		return nil, err
	}
	sum, err := sumDecimal(total)
	if err != nil {
		return nil, err
	}
	if priorCount > 0 {
		h.AverageAmount = sum.Div(decimal.NewFromInt(int64(priorCount)))
	}

	devices := `
		SELECT DISTINCT device_fingerprint
		FROM transactions
		WHERE customer_id = ? AND id <> ? AND timestamp <= ?
			AND device_fingerprint IS NOT NULL AND device_fingerprint <> ''
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(devices), customerID, excludeID, asOf)
	if err != nil {
		return nil, fmt.Errorf("known devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var device string
		if err := rows.Scan(&device); err != nil {
			return nil, err
		}
		h.KnownDevices = append(h.KnownDevices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return h, nil
}

// sumDecimal parses an aggregate. SQLite returns integers or reals here and
// PostgreSQL returns numeric text; both arrive as strings.
func sumDecimal(v sql.NullString) (decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid aggregate amount %q: %w", v.String, err)
	}
	return d, nil
}

// SaveProfile inserts or replaces a customer profile.
func (r *SQLRepository) SaveProfile(ctx context.Context, p *domain.CustomerProfile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO customer_profiles (
			customer_id, risk_score, vip, verified, country, account_created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			risk_score = excluded.risk_score,
			vip = excluded.vip,
			verified = excluded.verified,
			country = excluded.country,
			account_created_at = excluded.account_created_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.CustomerID, p.RiskScore, boolToInt(p.VIP), boolToInt(p.Verified), p.Country,
		p.AccountCreatedAt.UTC(), updatedAt.UTC(),
	)
	return err
}

// GetProfile retrieves a customer profile.
func (r *SQLRepository) GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	query := `
		SELECT customer_id, risk_score, vip, verified, country, account_created_at, updated_at
		FROM customer_profiles
		WHERE customer_id = ?
	`

	var p domain.CustomerProfile
	var vip, verified int
	var country sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(
		&p.CustomerID, &p.RiskScore, &vip, &verified, &country, &p.AccountCreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.VIP = vip == 1
	p.Verified = verified == 1
	p.Country = country.String
	return &p, nil
}

// SaveScreening stores a pre-screening result as JSON alongside indexed columns.
func (r *SQLRepository) SaveScreening(ctx context.Context, res *domain.PreScreeningResult) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("%w: screening id is required", ErrInvalidInput)
	}

	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode screening: %w", err)
	}

	query := `
		INSERT INTO screenings (id, tx_id, decision, risk_score, result, screened_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		res.ID, res.TransactionID, string(res.Decision), res.RiskScore, string(body), res.ScreenedAt.UTC(),
	)
	return err
}

// GetScreening retrieves a pre-screening result by ID.
func (r *SQLRepository) GetScreening(ctx context.Context, id string) (*domain.PreScreeningResult, error) {
	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT result FROM screenings WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var res domain.PreScreeningResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("failed to decode screening %s: %w", id, err)
	}
	return &res, nil
}

// LoadRules returns the stored custom rules, or none if nothing was saved yet.
func (r *SQLRepository) LoadRules(ctx context.Context) ([]*domain.AutomationRule, error) {
	body, err := r.getDocument(ctx, customRulesKey)
	if errors.Is(err, ErrNotFound) {
		return []*domain.AutomationRule{}, nil
	}
	if err != nil {
		return nil, err
	}

	var rules []*domain.AutomationRule
	if err := json.Unmarshal(body, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode custom rules: %w", err)
	}
	return rules, nil
}

// SaveRules replaces the stored custom rule set. Only ids with the custom
// prefix are written; built-ins are recreated from code on start.
func (r *SQLRepository) SaveRules(ctx context.Context, rules []*domain.AutomationRule) error {
	custom := make([]*domain.AutomationRule, 0, len(rules))
	for _, rule := range rules {
		if rule != nil && strings.HasPrefix(rule.ID, domain.CustomRulePrefix) {
			custom = append(custom, rule)
		}
	}

	body, err := json.Marshal(custom)
	if err != nil {
		return fmt.Errorf("failed to encode custom rules: %w", err)
	}
	return r.putDocument(ctx, customRulesKey, body)
}

func (r *SQLRepository) getDocument(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT doc_value FROM kv_documents WHERE doc_key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (r *SQLRepository) putDocument(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_documents (doc_key, doc_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(doc_key) DO UPDATE SET
			doc_value = excluded.doc_value,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), key, string(value), time.Now().UTC())
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
