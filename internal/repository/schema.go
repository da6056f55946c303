package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// Amounts are stored as decimal text so no precision is lost on either driver.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    merchant_id TEXT,
    booking_id TEXT,
    timestamp TIMESTAMP NOT NULL,
    ip_address TEXT,
    ip_country TEXT,
    device_fingerprint TEXT,
    user_agent TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(customer_id, timestamp);
`

const schemaCustomerProfiles = `
CREATE TABLE IF NOT EXISTS customer_profiles (
    customer_id TEXT PRIMARY KEY,
    risk_score REAL NOT NULL DEFAULT 50,
    vip INTEGER NOT NULL DEFAULT 0,
    verified INTEGER NOT NULL DEFAULT 0,
    country TEXT,
    account_created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaScreenings = `
CREATE TABLE IF NOT EXISTS screenings (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    result TEXT NOT NULL,
    screened_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screenings_tx ON screenings(tx_id);
CREATE INDEX IF NOT EXISTS idx_screenings_decision ON screenings(decision);
`

// schemaDocuments holds JSON documents addressed by key, such as the custom rule set.
const schemaDocuments = `
CREATE TABLE IF NOT EXISTS kv_documents (
    doc_key TEXT PRIMARY KEY,
    doc_value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaCustomerProfiles,
		schemaScreenings,
		schemaDocuments,
	}
}
