package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/banding"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// createTestServer wires a server against a temp SQLite database, an
// in-memory cache, and a channel bus.
func createTestServer(t *testing.T) *Server {
	t.Helper()
	server, _ := createTestServerWithBander(t)
	return server
}

func createTestServerWithBander(t *testing.T) (*Server, *banding.Bander) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	bander, err := banding.New()
	if err != nil {
		t.Fatalf("failed to create bander: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	views := domain.ViewConfig{
		ModelName:         "Random Forest",
		HighRiskThreshold: 0.7,
	}

	return NewServer(cfg, repo, cache.NewLRUCache(100), eventBus, bander, views, "test-v1"), bander
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func seedCustomer(t *testing.T, server *Server, id string) {
	t.Helper()
	rec := doJSON(t, server, http.MethodPost, "/customers", domain.CustomerRequest{CustomerID: id})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed customer failed: %d %s", rec.Code, rec.Body.String())
	}
}

func seedTransaction(t *testing.T, server *Server, txID, customerID string, amount float64, fraud bool, ts time.Time) {
	t.Helper()
	rec := doJSON(t, server, http.MethodPost, "/transactions", domain.TransactionRequest{
		TransactionID:    txID,
		CustomerID:       customerID,
		Timestamp:        &ts,
		Amount:           amount,
		MerchantCategory: "retail",
		TransactionType:  "purchase",
		DeviceType:       "mobile",
		IsFraud:          fraud,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed transaction failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var health map[string]string
	json.Unmarshal(rec.Body.Bytes(), &health)
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}
	if health["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %s", health["version"])
	}

	rec = doJSON(t, server, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestCustomerEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Create", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/customers", domain.CustomerRequest{CustomerID: "cust-api-001"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("CreateMissingID", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/customers", domain.CustomerRequest{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/customers/cust-api-001", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var c domain.Customer
		json.Unmarshal(rec.Body.Bytes(), &c)
		if c.ID != "cust-api-001" {
			t.Errorf("expected cust-api-001, got %s", c.ID)
		}

		// Second read should come from cache
		rec = doJSON(t, server, http.MethodGet, "/customers/cust-api-001", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Header().Get("X-Cache") != "hit" {
			t.Error("expected cache hit on second read")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/customers/nonexistent", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("SetRisk", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPut, "/customers/cust-api-001/risk", map[string]float64{"riskScore": 12.5})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		// The risk write invalidated the cached row
		rec = doJSON(t, server, http.MethodGet, "/customers/cust-api-001", nil)
		var c domain.Customer
		json.Unmarshal(rec.Body.Bytes(), &c)
		if c.RiskScore != 12.5 {
			t.Errorf("expected risk score 12.5, got %.2f", c.RiskScore)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodDelete, "/customers/cust-api-001", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		rec = doJSON(t, server, http.MethodGet, "/customers/cust-api-001", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", rec.Code)
		}
	})
}

func TestTransactionEndpoints(t *testing.T) {
	server := createTestServer(t)
	seedCustomer(t, server, "C1")

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Create", func(t *testing.T) {
		seedTransaction(t, server, "T1", "C1", 100.00, false, ts)

		rec := doJSON(t, server, http.MethodGet, "/transactions/T1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var tx domain.Transaction
		json.Unmarshal(rec.Body.Bytes(), &tx)
		if tx.Amount != 100.00 {
			t.Errorf("expected amount 100.00, got %.2f", tx.Amount)
		}
	})

	t.Run("UnknownCustomerRejected", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/transactions", domain.TransactionRequest{
			TransactionID: "T-ghost",
			CustomerID:    "ghost",
			Amount:        10,
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/transactions", domain.TransactionRequest{
			TransactionID: "T1",
			CustomerID:    "C1",
			Amount:        50,
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("NegativeAmountRejected", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/transactions", domain.TransactionRequest{
			TransactionID: "T-neg",
			CustomerID:    "C1",
			Amount:        -5,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("ListByCustomer", func(t *testing.T) {
		seedTransaction(t, server, "T2", "C1", 500.00, true, ts.Add(2*time.Hour))

		rec := doJSON(t, server, http.MethodGet, "/customers/C1/transactions", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 transactions, got %d", resp.Count)
		}
	})

	t.Run("ListByCustomerSince", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/customers/C1/transactions?since=2024-03-01T11:00:00Z", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 transaction since cutoff, got %d", resp.Count)
		}

		rec = doJSON(t, server, http.MethodGet, "/customers/C1/transactions?since=yesterday", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad since, got %d", rec.Code)
		}
	})
}

func TestPredictionEndpoints(t *testing.T) {
	server := createTestServer(t)
	seedCustomer(t, server, "C1")
	seedTransaction(t, server, "T1", "C1", 100.00, false, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	t.Run("CreateDerivesCategory", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/predictions", domain.PredictionRequest{
			TransactionID:    "T1",
			ModelName:        "Random Forest",
			PredictedFraud:   true,
			FraudProbability: 0.92,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var p domain.Prediction
		json.Unmarshal(rec.Body.Bytes(), &p)
		if p.RiskCategory != "High" {
			t.Errorf("expected derived category High, got %q", p.RiskCategory)
		}
	})

	t.Run("ExplicitCategoryKept", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/predictions", domain.PredictionRequest{
			TransactionID:    "T1",
			ModelName:        "XGBoost",
			FraudProbability: 0.92,
			RiskCategory:     "Review",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}

		var p domain.Prediction
		json.Unmarshal(rec.Body.Bytes(), &p)
		if p.RiskCategory != "Review" {
			t.Errorf("expected Review, got %q", p.RiskCategory)
		}
	})

	t.Run("OutOfRangeProbability", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/predictions", domain.PredictionRequest{
			TransactionID:    "T1",
			ModelName:        "Random Forest",
			FraudProbability: 1.2,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("UnknownTransaction", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/predictions", domain.PredictionRequest{
			TransactionID:    "T-ghost",
			ModelName:        "Random Forest",
			FraudProbability: 0.5,
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("ListByTransaction", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/transactions/T1/predictions", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 predictions, got %d", resp.Count)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	server := createTestServer(t)

	trained := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	rec := doJSON(t, server, http.MethodPost, "/models/runs", domain.ModelRunRequest{
		ModelName:    "Random Forest",
		TrainingDate: &trained,
		Accuracy:     0.94,
		TotalSamples: 5000,
		FraudSamples: 260,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodGet, "/models/Random%20Forest/latest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var run domain.ModelRun
	json.Unmarshal(rec.Body.Bytes(), &run)
	if run.Accuracy != 0.94 {
		t.Errorf("expected accuracy 0.94, got %.5f", run.Accuracy)
	}

	// A newer run must displace the cached latest answer
	later := trained.AddDate(0, 1, 0)
	rec = doJSON(t, server, http.MethodPost, "/models/runs", domain.ModelRunRequest{
		ModelName:    "Random Forest",
		TrainingDate: &later,
		Accuracy:     0.96,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/models/Random%20Forest/latest", nil)
	json.Unmarshal(rec.Body.Bytes(), &run)
	if run.Accuracy != 0.96 {
		t.Errorf("expected accuracy 0.96 after new run, got %.5f", run.Accuracy)
	}

	rec = doJSON(t, server, http.MethodGet, "/models/nonexistent/latest", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestViewEndpoints(t *testing.T) {
	server := createTestServer(t)
	seedCustomer(t, server, "C1")

	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	seedTransaction(t, server, "T1", "C1", 100.00, false, day)
	seedTransaction(t, server, "T2", "C1", 500.00, true, day.Add(12*time.Hour))

	for _, p := range []domain.PredictionRequest{
		{TransactionID: "T1", ModelName: "Random Forest", PredictedFraud: false, FraudProbability: 0.1},
		{TransactionID: "T2", ModelName: "Random Forest", PredictedFraud: true, FraudProbability: 0.9},
	} {
		if rec := doJSON(t, server, http.MethodPost, "/predictions", p); rec.Code != http.StatusCreated {
			t.Fatalf("seed prediction failed: %d", rec.Code)
		}
	}

	t.Run("TransactionSummary", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/views/transaction-summary", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Model string                          `json:"model"`
			Rows  []*domain.TransactionSummaryRow `json:"rows"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Model != "Random Forest" {
			t.Errorf("expected model Random Forest, got %s", resp.Model)
		}
		if len(resp.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(resp.Rows))
		}
		if resp.Rows[1].ClassificationOutcome == nil || *resp.Rows[1].ClassificationOutcome != domain.OutcomeTruePositive {
			t.Errorf("expected True Positive for T2, got %v", resp.Rows[1].ClassificationOutcome)
		}
	})

	t.Run("DailyFraudSummary", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/views/daily-fraud-summary", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Rows []*domain.DailyFraudSummaryRow `json:"rows"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Rows) != 1 {
			t.Fatalf("expected 1 day, got %d", len(resp.Rows))
		}
		if resp.Rows[0].FraudRate == nil || *resp.Rows[0].FraudRate != 50.00 {
			t.Errorf("expected fraud rate 50.00, got %v", resp.Rows[0].FraudRate)
		}
	})

	t.Run("HighRiskTransactions", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/views/high-risk-transactions", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Threshold float64                          `json:"threshold"`
			Rows      []*domain.HighRiskTransactionRow `json:"rows"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Threshold != 0.7 {
			t.Errorf("expected default threshold 0.7, got %.2f", resp.Threshold)
		}
		if len(resp.Rows) != 1 || resp.Rows[0].TransactionID != "T2" {
			t.Errorf("expected only T2 above threshold, got %d rows", len(resp.Rows))
		}
	})

	t.Run("HighRiskThresholdOverride", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/views/high-risk-transactions?threshold=0.05", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Rows []*domain.HighRiskTransactionRow `json:"rows"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Rows) != 2 {
			t.Errorf("expected 2 rows at threshold 0.05, got %d", len(resp.Rows))
		}

		rec = doJSON(t, server, http.MethodGet, "/views/high-risk-transactions?threshold=2", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for out-of-range threshold, got %d", rec.Code)
		}
	})

	t.Run("CustomerRiskProfile", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/views/customer-risk-profile", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Rows []*domain.CustomerRiskProfileRow `json:"rows"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Rows) != 1 {
			t.Fatalf("expected 1 customer, got %d", len(resp.Rows))
		}
		if resp.Rows[0].AvgAmount != 300.00 {
			t.Errorf("expected avg amount 300.00, got %.2f", resp.Rows[0].AvgAmount)
		}
	})

	t.Run("ModelPerformance", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/models/runs", domain.ModelRunRequest{
			ModelName: "Random Forest",
			Accuracy:  0.94,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed model run failed: %d", rec.Code)
		}

		rec = doJSON(t, server, http.MethodGet, "/views/model-performance", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Rows []*domain.ModelPerformanceSummaryRow `json:"rows"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Rows) != 1 {
			t.Errorf("expected 1 model, got %d", len(resp.Rows))
		}
	})
}

func TestRequestIDHeader(t *testing.T) {
	server := createTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID header on response")
	}
}

func TestCreatePredictionAmountSensitiveBands(t *testing.T) {
	server, bander := createTestServerWithBander(t)
	if err := bander.Load([]domain.RiskBand{
		{Category: "Critical", Guard: "probability >= 0.5 && amount > 1000.0"},
		{Category: "High", Guard: "probability >= 0.5"},
		{Category: "Low", Guard: "true"},
	}); err != nil {
		t.Fatalf("failed to load bands: %v", err)
	}

	seedCustomer(t, server, "C1")
	ts := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	seedTransaction(t, server, "T-big", "C1", 2500.00, false, ts)
	seedTransaction(t, server, "T-small", "C1", 40.00, false, ts)

	// The guard must see the scored transaction's amount, not a zero.
	t.Run("LargeAmountHitsAmountBand", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/predictions", domain.PredictionRequest{
			TransactionID:    "T-big",
			ModelName:        "Random Forest",
			PredictedFraud:   true,
			FraudProbability: 0.80000,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var p domain.Prediction
		if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if p.RiskCategory != "Critical" {
			t.Errorf("expected Critical for a 2500.00 transaction, got %q", p.RiskCategory)
		}
	})

	t.Run("SmallAmountFallsThrough", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/predictions", domain.PredictionRequest{
			TransactionID:    "T-small",
			ModelName:        "Random Forest",
			PredictedFraud:   true,
			FraudProbability: 0.80000,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var p domain.Prediction
		if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if p.RiskCategory != "High" {
			t.Errorf("expected High for a 40.00 transaction, got %q", p.RiskCategory)
		}
	})
}
