// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrForeignKey marks an insert that references a missing parent row.
	ErrForeignKey = errors.New("referenced record does not exist")

	// ErrDuplicate marks an insert that collides with an existing key.
	ErrDuplicate = errors.New("record already exists")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
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

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// UpsertCustomer inserts a customer ledger row if absent. Existing rows
// are left untouched; aggregates move only via SaveTransaction and
// SetCustomerRisk.
func (r *SQLRepository) UpsertCustomer(ctx context.Context, c *domain.Customer) error {
	if c.ID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO customers (
			customer_id, registration_date, total_transactions, total_fraud_cases, risk_score
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (customer_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.RegistrationDate,
		c.TotalTransactions, c.TotalFraudCases, c.RiskScore,
	)
	return mapWriteErr(err)
}

// GetCustomer retrieves a customer ledger row by identifier.
func (r *SQLRepository) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	query := `
		SELECT customer_id, registration_date, total_transactions, total_fraud_cases, risk_score
		FROM customers
		WHERE customer_id = ?
	`

	var c domain.Customer
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(
		&c.ID, &c.RegistrationDate,
		&c.TotalTransactions, &c.TotalFraudCases, &c.RiskScore,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// SetCustomerRisk stores a risk score computed by the external scoring
// pipeline. Kestrel does not compute risk scores itself.
func (r *SQLRepository) SetCustomerRisk(ctx context.Context, customerID string, riskScore float64) error {
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	query := `UPDATE customers SET risk_score = ? WHERE customer_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), riskScore, customerID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteCustomer purges a customer. The cascading foreign keys remove the
// customer's transactions and, through them, their predictions. This is
// destructive and unaudited.
func (r *SQLRepository) DeleteCustomer(ctx context.Context, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	query := `DELETE FROM customers WHERE customer_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), customerID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveTransaction appends a transaction log row and increments the owning
// customer's ledger totals in the same database transaction. Inserts
// referencing a missing customer fail with ErrForeignKey.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if tx.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	insert := `
		INSERT INTO transactions (
			transaction_id, customer_id, timestamp, amount,
			hour_of_day, day_of_week, is_weekend, is_night,
			merchant_category, transaction_type, device_type,
			location_match, high_risk_category, amount_deviation,
			historical_tx_count, risk_score, is_fraud
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = dbtx.ExecContext(ctx, r.rebind(insert),
		tx.ID, tx.CustomerID, tx.Timestamp, tx.Amount,
		tx.HourOfDay, tx.DayOfWeek, boolToInt(tx.IsWeekend), boolToInt(tx.IsNight),
		tx.MerchantCategory, tx.TransactionType, tx.DeviceType,
		boolToInt(tx.LocationMatch), boolToInt(tx.HighRiskCategory), tx.AmountDeviation,
		tx.HistoricalTxCount, tx.RiskScore, boolToInt(tx.IsFraud),
	)
	if err != nil {
		return mapWriteErr(err)
	}

	ledger := `
		UPDATE customers
		SET total_transactions = total_transactions + 1,
		    total_fraud_cases = total_fraud_cases + ?
		WHERE customer_id = ?
	`

	if _, err := dbtx.ExecContext(ctx, r.rebind(ledger), boolToInt(tx.IsFraud), tx.CustomerID); err != nil {
		return err
	}

	return dbtx.Commit()
}

const transactionColumns = `transaction_id, customer_id, timestamp, amount,
		   hour_of_day, day_of_week, is_weekend, is_night,
		   merchant_category, transaction_type, device_type,
		   location_match, high_risk_category, amount_deviation,
		   historical_tx_count, risk_score, is_fraud`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var tx domain.Transaction
	var weekend, night, locMatch, highRisk, fraud int
	var merchant, txType, device sql.NullString

	err := row.Scan(
		&tx.ID, &tx.CustomerID, &tx.Timestamp, &tx.Amount,
		&tx.HourOfDay, &tx.DayOfWeek, &weekend, &night,
		&merchant, &txType, &device,
		&locMatch, &highRisk, &tx.AmountDeviation,
		&tx.HistoricalTxCount, &tx.RiskScore, &fraud,
	)
	if err != nil {
		return nil, err
	}

	tx.IsWeekend = weekend == 1
	tx.IsNight = night == 1
	tx.LocationMatch = locMatch == 1
	tx.HighRiskCategory = highRisk == 1
	tx.IsFraud = fraud == 1
	tx.MerchantCategory = merchant.String
	tx.TransactionType = txType.String
	tx.DeviceType = device.String

	return &tx, nil
}

// GetTransaction retrieves a transaction by identifier.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE transaction_id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// ListTransactionsByCustomer retrieves a customer's transactions since
// the given time, newest first.
func (r *SQLRepository) ListTransactionsByCustomer(ctx context.Context, customerID string, since time.Time) ([]*domain.Transaction, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE customer_id = ?
		  AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// SavePrediction stores a model's verdict on a transaction. Re-scoring
// the same transaction with the same model overwrites the previous row.
// Inserts referencing a missing transaction fail with ErrForeignKey.
func (r *SQLRepository) SavePrediction(ctx context.Context, p *domain.Prediction) error {
	if p.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if p.ModelName == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidInput)
	}
	if p.FraudProbability < 0 || p.FraudProbability > 1 {
		return fmt.Errorf("%w: fraud probability must be in [0, 1]", ErrInvalidInput)
	}

	query := `
		INSERT INTO predictions (
			transaction_id, model_name, predicted_fraud,
			fraud_probability, risk_category, prediction_date
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id, model_name) DO UPDATE SET
			predicted_fraud = excluded.predicted_fraud,
			fraud_probability = excluded.fraud_probability,
			risk_category = excluded.risk_category,
			prediction_date = excluded.prediction_date
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.TransactionID, p.ModelName, boolToInt(p.PredictedFraud),
		p.FraudProbability, p.RiskCategory, p.PredictionDate,
	)
	return mapWriteErr(err)
}

// ListPredictionsByTransaction retrieves all predictions for a transaction,
// one per model.
func (r *SQLRepository) ListPredictionsByTransaction(ctx context.Context, txID string) ([]*domain.Prediction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, transaction_id, model_name, predicted_fraud,
		       fraud_probability, risk_category, prediction_date
		FROM predictions
		WHERE transaction_id = ?
		ORDER BY model_name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		var predicted int
		var category sql.NullString

		if err := rows.Scan(
			&p.ID, &p.TransactionID, &p.ModelName, &predicted,
			&p.FraudProbability, &category, &p.PredictionDate,
		); err != nil {
			return nil, err
		}

		p.PredictedFraud = predicted == 1
		p.RiskCategory = category.String
		predictions = append(predictions, &p)
	}

	return predictions, rows.Err()
}

// SaveModelRun appends a training-run snapshot to the model registry.
func (r *SQLRepository) SaveModelRun(ctx context.Context, run *domain.ModelRun) error {
	if run.ModelName == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO model_performance (
			model_name, training_date, accuracy, precision_score,
			recall, f1_score, roc_auc, total_samples, fraud_samples
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ModelName, run.TrainingDate, run.Accuracy, run.Precision,
		run.Recall, run.F1, run.ROCAUC, run.TotalSamples, run.FraudSamples,
	)
	return mapWriteErr(err)
}

// LatestModelRun retrieves the most recent training run for a model,
// by training date with ties broken by insertion order.
func (r *SQLRepository) LatestModelRun(ctx context.Context, modelName string) (*domain.ModelRun, error) {
	if modelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrInvalidInput)
	}

	query := `
		SELECT id, model_name, training_date, accuracy, precision_score,
		       recall, f1_score, roc_auc, total_samples, fraud_samples
		FROM model_performance
		WHERE model_name = ?
		ORDER BY training_date DESC, id DESC
		LIMIT 1
	`

	var run domain.ModelRun
	err := r.db.QueryRowContext(ctx, r.rebind(query), modelName).Scan(
		&run.ID, &run.ModelName, &run.TrainingDate, &run.Accuracy, &run.Precision,
		&run.Recall, &run.F1, &run.ROCAUC, &run.TotalSamples, &run.FraudSamples,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &run, nil
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

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mapWriteErr translates driver-specific integrity violations into the
// package sentinels. Matched by message substring so the mapping covers
// both modernc SQLite and lib/pq without driver imports here.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "violates foreign key constraint"):
		return fmt.Errorf("%w: %s", ErrForeignKey, msg)
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "duplicate key value violates unique constraint"):
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	}
	return err
}
