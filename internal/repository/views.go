package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// The five reporting views. Each is a pure read over the base tables,
// recomputed on every call; nothing here is materialized or cached.
// Output column sets and ordering are part of the dashboard contract.

// dayExpr renders calendar-day truncation of a timestamp column as a
// YYYY-MM-DD string for the active driver.
func (r *SQLRepository) dayExpr(col string) string {
	if r.driver == "postgres" {
		return fmt.Sprintf("TO_CHAR(%s, 'YYYY-MM-DD')", col)
	}
	return fmt.Sprintf("DATE(%s)", col)
}

// TransactionSummary left-joins the transaction log to the given model's
// predictions and labels each row with its classification outcome.
// Transactions the model never scored keep a null outcome.
func (r *SQLRepository) TransactionSummary(ctx context.Context, modelName string) ([]*domain.TransactionSummaryRow, error) {
	if modelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrInvalidInput)
	}

	query := `
		SELECT t.transaction_id, t.customer_id, t.timestamp,
		       ` + r.dayExpr("t.timestamp") + ` AS transaction_day,
		       t.amount, t.merchant_category, t.transaction_type, t.is_fraud,
		       p.predicted_fraud, p.fraud_probability, p.risk_category,
		       CASE
		           WHEN t.is_fraud = 1 AND p.predicted_fraud = 1 THEN 'True Positive'
		           WHEN t.is_fraud = 0 AND p.predicted_fraud = 0 THEN 'True Negative'
		           WHEN t.is_fraud = 0 AND p.predicted_fraud = 1 THEN 'False Positive'
		           WHEN t.is_fraud = 1 AND p.predicted_fraud = 0 THEN 'False Negative'
		       END AS classification_outcome
		FROM transactions t
		LEFT JOIN predictions p
		       ON p.transaction_id = t.transaction_id
		      AND p.model_name = ?
		ORDER BY t.timestamp
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), modelName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summary []*domain.TransactionSummaryRow
	for rows.Next() {
		var row domain.TransactionSummaryRow
		var fraud int
		var merchant, txType sql.NullString
		var predicted sql.NullInt64
		var probability sql.NullFloat64
		var category, outcome sql.NullString

		if err := rows.Scan(
			&row.TransactionID, &row.CustomerID, &row.Timestamp,
			&row.TransactionDay,
			&row.Amount, &merchant, &txType, &fraud,
			&predicted, &probability, &category,
			&outcome,
		); err != nil {
			return nil, err
		}

		row.MerchantCategory = merchant.String
		row.TransactionType = txType.String
		row.IsFraud = fraud == 1
		if predicted.Valid {
			p := predicted.Int64 == 1
			row.PredictedFraud = &p
		}
		if probability.Valid {
			row.FraudProbability = &probability.Float64
		}
		if category.Valid {
			row.RiskCategory = &category.String
		}
		if outcome.Valid {
			row.ClassificationOutcome = &outcome.String
		}

		summary = append(summary, &row)
	}

	return summary, rows.Err()
}

// DailyFraudSummary groups the transaction log by calendar day, oldest
// day first. The fraud rate is a percentage at 2 decimals; the division
// is guarded, so an empty group would surface as a null rate.
func (r *SQLRepository) DailyFraudSummary(ctx context.Context) ([]*domain.DailyFraudSummaryRow, error) {
	day := r.dayExpr("t.timestamp")

	query := `
		SELECT ` + day + ` AS day,
		       COUNT(*) AS total_transactions,
		       SUM(t.is_fraud) AS fraud_cases,
		       ROUND(SUM(t.is_fraud) * 100.0 / NULLIF(COUNT(*), 0), 2) AS fraud_rate,
		       SUM(t.amount) AS total_amount,
		       SUM(CASE WHEN t.is_fraud = 1 THEN t.amount ELSE 0 END) AS fraud_amount
		FROM transactions t
		GROUP BY ` + day + `
		ORDER BY day
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summary []*domain.DailyFraudSummaryRow
	for rows.Next() {
		var row domain.DailyFraudSummaryRow
		var rate sql.NullFloat64

		if err := rows.Scan(
			&row.Day, &row.TotalTransactions, &row.FraudCases,
			&rate, &row.TotalAmount, &row.FraudAmount,
		); err != nil {
			return nil, err
		}

		if rate.Valid {
			row.FraudRate = &rate.Float64
		}

		summary = append(summary, &row)
	}

	return summary, rows.Err()
}

// HighRiskTransactions returns transactions the given model scored
// strictly above the threshold, highest probability first.
func (r *SQLRepository) HighRiskTransactions(ctx context.Context, modelName string, threshold float64) ([]*domain.HighRiskTransactionRow, error) {
	if modelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrInvalidInput)
	}

	query := `
		SELECT t.transaction_id, t.customer_id, t.timestamp, t.amount,
		       t.merchant_category, t.transaction_type,
		       p.model_name, p.fraud_probability, p.risk_category, t.is_fraud
		FROM transactions t
		JOIN predictions p ON p.transaction_id = t.transaction_id
		WHERE p.model_name = ?
		  AND p.fraud_probability > ?
		ORDER BY p.fraud_probability DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), modelName, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var highRisk []*domain.HighRiskTransactionRow
	for rows.Next() {
		var row domain.HighRiskTransactionRow
		var fraud int
		var merchant, txType, category sql.NullString

		if err := rows.Scan(
			&row.TransactionID, &row.CustomerID, &row.Timestamp, &row.Amount,
			&merchant, &txType,
			&row.ModelName, &row.FraudProbability, &category, &fraud,
		); err != nil {
			return nil, err
		}

		row.MerchantCategory = merchant.String
		row.TransactionType = txType.String
		row.RiskCategory = category.String
		row.IsFraud = fraud == 1

		highRisk = append(highRisk, &row)
	}

	return highRisk, rows.Err()
}

// CustomerRiskProfile aggregates per customer over their transactions and
// the given model's predictions. The transactions join is inner, so
// customers with no transactions do not appear; the predictions join is
// left, so the average probability is null when the model never scored
// any of the customer's transactions.
func (r *SQLRepository) CustomerRiskProfile(ctx context.Context, modelName string) ([]*domain.CustomerRiskProfileRow, error) {
	if modelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrInvalidInput)
	}

	query := `
		SELECT c.customer_id, c.registration_date, c.risk_score,
		       COUNT(t.transaction_id) AS total_transactions,
		       SUM(t.is_fraud) AS fraud_cases,
		       ROUND(SUM(t.is_fraud) * 100.0 / NULLIF(COUNT(t.transaction_id), 0), 2) AS fraud_rate,
		       ROUND(AVG(t.amount), 2) AS avg_transaction_amount,
		       ROUND(MAX(t.amount), 2) AS max_transaction_amount,
		       ROUND(AVG(p.fraud_probability), 4) AS avg_fraud_probability,
		       MAX(t.timestamp) AS last_transaction
		FROM customers c
		JOIN transactions t ON t.customer_id = c.customer_id
		LEFT JOIN predictions p
		       ON p.transaction_id = t.transaction_id
		      AND p.model_name = ?
		GROUP BY c.customer_id, c.registration_date, c.risk_score
		ORDER BY c.customer_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), modelName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.CustomerRiskProfileRow
	for rows.Next() {
		var row domain.CustomerRiskProfileRow
		var rate, avgProb sql.NullFloat64
		var last any

		if err := rows.Scan(
			&row.CustomerID, &row.RegistrationDate, &row.RiskScore,
			&row.TotalTransactions, &row.FraudCases,
			&rate, &row.AvgAmount, &row.MaxAmount,
			&avgProb, &last,
		); err != nil {
			return nil, err
		}

		if rate.Valid {
			row.FraudRate = &rate.Float64
		}
		if avgProb.Valid {
			row.AvgFraudProbability = &avgProb.Float64
		}

		ts, err := parseTime(last)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last transaction time for %s: %w", row.CustomerID, err)
		}
		row.LastTransaction = ts

		profiles = append(profiles, &row)
	}

	return profiles, rows.Err()
}

// ModelPerformanceSummary returns one row per model name: the latest
// training run, by training date with ties broken by insertion order.
// Explicit latest-row selection, not relaxed grouping.
func (r *SQLRepository) ModelPerformanceSummary(ctx context.Context) ([]*domain.ModelPerformanceSummaryRow, error) {
	query := `
		SELECT mp.model_name, mp.training_date, mp.accuracy, mp.precision_score,
		       mp.recall, mp.f1_score, mp.roc_auc, mp.total_samples, mp.fraud_samples
		FROM model_performance mp
		WHERE mp.id = (
		    SELECT m2.id
		    FROM model_performance m2
		    WHERE m2.model_name = mp.model_name
		    ORDER BY m2.training_date DESC, m2.id DESC
		    LIMIT 1
		)
		ORDER BY mp.model_name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summary []*domain.ModelPerformanceSummaryRow
	for rows.Next() {
		var row domain.ModelPerformanceSummaryRow

		if err := rows.Scan(
			&row.ModelName, &row.LatestTrainingDate, &row.Accuracy, &row.Precision,
			&row.Recall, &row.F1, &row.ROCAUC, &row.TotalSamples, &row.FraudSamples,
		); err != nil {
			return nil, err
		}

		summary = append(summary, &row)
	}

	return summary, rows.Err()
}

// Time layouts produced by the supported drivers for timestamp
// expressions (MAX and friends lose the declared column type, so the
// value can come back as text).
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time format %q", t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected time type %T", v)
	}
}
