package repository

import "strings"

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL; the only divergence is the
// auto-assigned key column, substituted per driver below.

const autoKeyPlaceholder = "__AUTO_KEY__"

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    customer_id TEXT PRIMARY KEY,
    registration_date TIMESTAMP NOT NULL,
    total_transactions INTEGER NOT NULL DEFAULT 0,
    total_fraud_cases INTEGER NOT NULL DEFAULT 0,
    risk_score DECIMAL(6,2) NOT NULL DEFAULT 0
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL REFERENCES customers(customer_id) ON DELETE CASCADE,
    timestamp TIMESTAMP NOT NULL,
    amount DECIMAL(12,2) NOT NULL,
    hour_of_day INTEGER NOT NULL DEFAULT 0,
    day_of_week INTEGER NOT NULL DEFAULT 0,
    is_weekend INTEGER NOT NULL DEFAULT 0,
    is_night INTEGER NOT NULL DEFAULT 0,
    merchant_category TEXT,
    transaction_type TEXT,
    device_type TEXT,
    location_match INTEGER NOT NULL DEFAULT 1,
    high_risk_category INTEGER NOT NULL DEFAULT 0,
    amount_deviation DECIMAL(10,4) NOT NULL DEFAULT 0,
    historical_tx_count INTEGER NOT NULL DEFAULT 0,
    risk_score DECIMAL(6,2) NOT NULL DEFAULT 0,
    is_fraud INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_fraud ON transactions(is_fraud);
CREATE INDEX IF NOT EXISTS idx_transactions_amount ON transactions(amount);
`

// schemaPredictions enforces one prediction per (transaction, model);
// re-scoring overwrites via ON CONFLICT in SavePrediction.
const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    id ` + autoKeyPlaceholder + `,
    transaction_id TEXT NOT NULL REFERENCES transactions(transaction_id) ON DELETE CASCADE,
    model_name TEXT NOT NULL,
    predicted_fraud INTEGER NOT NULL DEFAULT 0,
    fraud_probability DECIMAL(6,5) NOT NULL,
    risk_category TEXT,
    prediction_date TIMESTAMP NOT NULL,
    UNIQUE (transaction_id, model_name)
);

CREATE INDEX IF NOT EXISTS idx_predictions_transaction ON predictions(transaction_id);
CREATE INDEX IF NOT EXISTS idx_predictions_probability ON predictions(fraud_probability);
`

const schemaModelPerformance = `
CREATE TABLE IF NOT EXISTS model_performance (
    id ` + autoKeyPlaceholder + `,
    model_name TEXT NOT NULL,
    training_date TIMESTAMP NOT NULL,
    accuracy DECIMAL(6,5) NOT NULL DEFAULT 0,
    precision_score DECIMAL(6,5) NOT NULL DEFAULT 0,
    recall DECIMAL(6,5) NOT NULL DEFAULT 0,
    f1_score DECIMAL(6,5) NOT NULL DEFAULT 0,
    roc_auc DECIMAL(6,5) NOT NULL DEFAULT 0,
    total_samples INTEGER NOT NULL DEFAULT 0,
    fraud_samples INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_model_performance_name ON model_performance(model_name);
`

// AllSchemas returns all schema statements in order, with the
// auto-assigned key column rendered for the given driver.
func AllSchemas(driver string) []string {
	autoKey := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		autoKey = "BIGSERIAL PRIMARY KEY"
	}

	schemas := []string{
		schemaCustomers,
		schemaTransactions,
		schemaPredictions,
		schemaModelPerformance,
	}
	for i, s := range schemas {
		schemas[i] = strings.ReplaceAll(s, autoKeyPlaceholder, autoKey)
	}
	return schemas
}
