package domain

import (
	"time"
)

// Transaction represents a recorded card transaction with the engineered
// features produced by the external feature-engineering step. Rows are
// immutable once written; they only disappear through a customer purge.
type Transaction struct {
	// Core identifiers
	ID         string `json:"transactionId"`
	CustomerID string `json:"customerId"`

	// Financial details
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`

	// Temporal features
	HourOfDay int  `json:"hourOfDay"`
	DayOfWeek int  `json:"dayOfWeek"`
	IsWeekend bool `json:"isWeekend"`
	IsNight   bool `json:"isNight"`

	// Categorical features
	MerchantCategory string `json:"merchantCategory"`
	TransactionType  string `json:"transactionType"`
	DeviceType       string `json:"deviceType"`

	// Behavioral features
	LocationMatch     bool    `json:"locationMatch"`
	HighRiskCategory  bool    `json:"highRiskCategory"`
	AmountDeviation   float64 `json:"amountDeviation"`
	HistoricalTxCount int64   `json:"historicalTxCount"`
	RiskScore         float64 `json:"riskScore"`

	// Ground-truth label, confirmed after the fact
	IsFraud bool `json:"isFraud"`
}

// TransactionRequest is the API request payload for transaction ingestion.
// Features arrive verbatim from the external feature-engineering step;
// the service stores them without recomputation.
type TransactionRequest struct {
	TransactionID     string     `json:"transactionId"`
	CustomerID        string     `json:"customerId"`
	Timestamp         *time.Time `json:"timestamp,omitempty"`
	Amount            float64    `json:"amount"`
	HourOfDay         int        `json:"hourOfDay"`
	DayOfWeek         int        `json:"dayOfWeek"`
	IsWeekend         bool       `json:"isWeekend"`
	IsNight           bool       `json:"isNight"`
	MerchantCategory  string     `json:"merchantCategory"`
	TransactionType   string     `json:"transactionType"`
	DeviceType        string     `json:"deviceType"`
	LocationMatch     bool       `json:"locationMatch"`
	HighRiskCategory  bool       `json:"highRiskCategory"`
	AmountDeviation   float64    `json:"amountDeviation"`
	HistoricalTxCount int64      `json:"historicalTxCount"`
	RiskScore         float64    `json:"riskScore"`
	IsFraud           bool       `json:"isFraud"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	ts := time.Now().UTC()
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	return &Transaction{
		ID:                r.TransactionID,
		CustomerID:        r.CustomerID,
		Timestamp:         ts,
		Amount:            r.Amount,
		HourOfDay:         r.HourOfDay,
		DayOfWeek:         r.DayOfWeek,
		IsWeekend:         r.IsWeekend,
		IsNight:           r.IsNight,
		MerchantCategory:  r.MerchantCategory,
		TransactionType:   r.TransactionType,
		DeviceType:        r.DeviceType,
		LocationMatch:     r.LocationMatch,
		HighRiskCategory:  r.HighRiskCategory,
		AmountDeviation:   r.AmountDeviation,
		HistoricalTxCount: r.HistoricalTxCount,
		RiskScore:         r.RiskScore,
		IsFraud:           r.IsFraud,
	}
}
