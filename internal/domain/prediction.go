package domain

import (
	"time"
)

// Prediction is one model's verdict on one transaction. At most one row
// exists per (transaction, model) pair; re-scoring overwrites.
type Prediction struct {
	ID             int64  `json:"id"`
	TransactionID  string `json:"transactionId"`
	ModelName      string `json:"modelName"`
	PredictedFraud bool   `json:"predictedFraud"`

	// FraudProbability is in [0, 1], stored at 5 decimal digits.
	FraudProbability float64 `json:"fraudProbability"`

	// RiskCategory is a banded label ("High", "Medium", "Low") derived
	// from the probability; see the banding package.
	RiskCategory string `json:"riskCategory"`

	PredictionDate time.Time `json:"predictionDate"`
}

// PredictionRequest is the API request payload for recording a prediction.
// RiskCategory may be omitted, in which case the service derives it from
// the configured risk bands.
type PredictionRequest struct {
	TransactionID    string     `json:"transactionId"`
	ModelName        string     `json:"modelName"`
	PredictedFraud   bool       `json:"predictedFraud"`
	FraudProbability float64    `json:"fraudProbability"`
	RiskCategory     string     `json:"riskCategory,omitempty"`
	PredictionDate   *time.Time `json:"predictionDate,omitempty"`
}

// ToPrediction converts a request to a Prediction domain object.
func (r *PredictionRequest) ToPrediction() *Prediction {
	at := time.Now().UTC()
	if r.PredictionDate != nil {
		at = r.PredictionDate.UTC()
	}
	return &Prediction{
		TransactionID:    r.TransactionID,
		ModelName:        r.ModelName,
		PredictedFraud:   r.PredictedFraud,
		FraudProbability: r.FraudProbability,
		RiskCategory:     r.RiskCategory,
		PredictionDate:   at,
	}
}

// ModelRun is one training-run evaluation snapshot in the model registry.
// Rows are appended per run and never updated.
type ModelRun struct {
	ID           int64     `json:"id"`
	ModelName    string    `json:"modelName"`
	TrainingDate time.Time `json:"trainingDate"`
	Accuracy     float64   `json:"accuracy"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1           float64   `json:"f1"`
	ROCAUC       float64   `json:"rocAuc"`
	TotalSamples int64     `json:"totalSamples"`
	FraudSamples int64     `json:"fraudSamples"`
}

// ModelRunRequest is the API request payload for registering a training run.
type ModelRunRequest struct {
	ModelName    string     `json:"modelName"`
	TrainingDate *time.Time `json:"trainingDate,omitempty"`
	Accuracy     float64    `json:"accuracy"`
	Precision    float64    `json:"precision"`
	Recall       float64    `json:"recall"`
	F1           float64    `json:"f1"`
	ROCAUC       float64    `json:"rocAuc"`
	TotalSamples int64      `json:"totalSamples"`
	FraudSamples int64      `json:"fraudSamples"`
}

// ToModelRun converts a request to a ModelRun domain object.
func (r *ModelRunRequest) ToModelRun() *ModelRun {
	trained := time.Now().UTC()
	if r.TrainingDate != nil {
		trained = r.TrainingDate.UTC()
	}
	return &ModelRun{
		ModelName:    r.ModelName,
		TrainingDate: trained,
		Accuracy:     r.Accuracy,
		Precision:    r.Precision,
		Recall:       r.Recall,
		F1:           r.F1,
		ROCAUC:       r.ROCAUC,
		TotalSamples: r.TotalSamples,
		FraudSamples: r.FraudSamples,
	}
}
