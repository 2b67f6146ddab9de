package domain

import (
	"time"
)

// Row types for the five reporting views. The dashboard binds to these
// column sets directly, so field names and JSON tags are part of the
// external contract. Nullable columns (anything sourced from a missing
// prediction, plus guarded rate computations) use pointer fields.

// Classification outcomes assigned by the transaction summary view.
const (
	OutcomeTruePositive  = "True Positive"
	OutcomeTrueNegative  = "True Negative"
	OutcomeFalsePositive = "False Positive"
	OutcomeFalseNegative = "False Negative"
)

// TransactionSummaryRow joins a transaction with the fixed model's
// prediction and labels the classification outcome.
type TransactionSummaryRow struct {
	TransactionID    string    `json:"transactionId"`
	CustomerID       string    `json:"customerId"`
	Timestamp        time.Time `json:"timestamp"`
	TransactionDay   string    `json:"transactionDay"`
	Amount           float64   `json:"amount"`
	MerchantCategory string    `json:"merchantCategory"`
	TransactionType  string    `json:"transactionType"`
	IsFraud          bool      `json:"isFraud"`

	PredictedFraud        *bool    `json:"predictedFraud,omitempty"`
	FraudProbability      *float64 `json:"fraudProbability,omitempty"`
	RiskCategory          *string  `json:"riskCategory,omitempty"`
	ClassificationOutcome *string  `json:"classificationOutcome,omitempty"`
}

// DailyFraudSummaryRow aggregates the transaction log by calendar day.
type DailyFraudSummaryRow struct {
	Day               string `json:"day"`
	TotalTransactions int64  `json:"totalTransactions"`
	FraudCases        int64  `json:"fraudCases"`

	// FraudRate is a percentage rounded to 2 decimals; null for an
	// empty group (guarded division).
	FraudRate   *float64 `json:"fraudRate"`
	TotalAmount float64  `json:"totalAmount"`
	FraudAmount float64  `json:"fraudAmount"`
}

// HighRiskTransactionRow is a transaction the fixed model scored above
// the high-risk probability threshold.
type HighRiskTransactionRow struct {
	TransactionID    string    `json:"transactionId"`
	CustomerID       string    `json:"customerId"`
	Timestamp        time.Time `json:"timestamp"`
	Amount           float64   `json:"amount"`
	MerchantCategory string    `json:"merchantCategory"`
	TransactionType  string    `json:"transactionType"`
	ModelName        string    `json:"modelName"`
	FraudProbability float64   `json:"fraudProbability"`
	RiskCategory     string    `json:"riskCategory"`
	IsFraud          bool      `json:"isFraud"`
}

// CustomerRiskProfileRow aggregates per customer. Customers with zero
// transactions are excluded (inner join).
type CustomerRiskProfileRow struct {
	CustomerID        string    `json:"customerId"`
	RegistrationDate  time.Time `json:"registrationDate"`
	RiskScore         float64   `json:"riskScore"`
	TotalTransactions int64     `json:"totalTransactions"`
	FraudCases        int64     `json:"fraudCases"`
	FraudRate         *float64  `json:"fraudRate"`
	AvgAmount         float64   `json:"avgTransactionAmount"`
	MaxAmount         float64   `json:"maxTransactionAmount"`

	// AvgFraudProbability averages the fixed model's predictions over
	// the customer's transactions; null when none exist.
	AvgFraudProbability *float64  `json:"avgFraudProbability"`
	LastTransaction     time.Time `json:"lastTransaction"`
}

// ModelPerformanceSummaryRow is the latest training run per model name.
type ModelPerformanceSummaryRow struct {
	ModelName          string    `json:"modelName"`
	LatestTrainingDate time.Time `json:"latestTrainingDate"`
	Accuracy           float64   `json:"accuracy"`
	Precision          float64   `json:"precision"`
	Recall             float64   `json:"recall"`
	F1                 float64   `json:"f1"`
	ROCAUC             float64   `json:"rocAuc"`
	TotalSamples       int64     `json:"totalSamples"`
	FraudSamples       int64     `json:"fraudSamples"`
}
