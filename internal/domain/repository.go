// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence: the customer
// ledger, transaction log, prediction log, model registry, and the five
// reporting views computed from them.
type Repository interface {
	// Customer ledger operations
	UpsertCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	SetCustomerRisk(ctx context.Context, customerID string, riskScore float64) error

	// DeleteCustomer is an administrative purge: it cascades to the
	// customer's transactions and their predictions.
	DeleteCustomer(ctx context.Context, customerID string) error

	// Transaction log operations. SaveTransaction increments the
	// customer's ledger totals in the same database transaction.
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactionsByCustomer(ctx context.Context, customerID string, since time.Time) ([]*Transaction, error)

	// Prediction log operations. SavePrediction upserts on
	// (transaction_id, model_name): re-scoring overwrites.
	SavePrediction(ctx context.Context, p *Prediction) error
	ListPredictionsByTransaction(ctx context.Context, txID string) ([]*Prediction, error)

	// Model registry operations
	SaveModelRun(ctx context.Context, run *ModelRun) error
	LatestModelRun(ctx context.Context, modelName string) (*ModelRun, error)

	// Reporting views, recomputed on every call
	TransactionSummary(ctx context.Context, modelName string) ([]*TransactionSummaryRow, error)
	DailyFraudSummary(ctx context.Context) ([]*DailyFraudSummaryRow, error)
	HighRiskTransactions(ctx context.Context, modelName string, threshold float64) ([]*HighRiskTransactionRow, error)
	CustomerRiskProfile(ctx context.Context, modelName string) ([]*CustomerRiskProfileRow, error)
	ModelPerformanceSummary(ctx context.Context) ([]*ModelPerformanceSummaryRow, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
