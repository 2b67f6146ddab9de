package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testTransaction(id, customerID string, amount float64, fraud bool, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:               id,
		CustomerID:       customerID,
		Timestamp:        ts,
		Amount:           amount,
		HourOfDay:        ts.Hour(),
		DayOfWeek:        int(ts.Weekday()),
		MerchantCategory: "retail",
		TransactionType:  "purchase",
		DeviceType:       "mobile",
		LocationMatch:    true,
		IsFraud:          fraud,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	registered := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("UpsertAndGetCustomer", func(t *testing.T) {
		c := &domain.Customer{
			ID:               "cust-001",
			RegistrationDate: registered,
		}

		if err := repo.UpsertCustomer(ctx, c); err != nil {
			t.Fatalf("UpsertCustomer failed: %v", err)
		}

		retrieved, err := repo.GetCustomer(ctx, "cust-001")
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}

		if retrieved.ID != "cust-001" {
			t.Errorf("expected ID cust-001, got %s", retrieved.ID)
		}
		if retrieved.TotalTransactions != 0 {
			t.Errorf("expected 0 transactions, got %d", retrieved.TotalTransactions)
		}
	})

	t.Run("SaveTransactionUpdatesLedger", func(t *testing.T) {
		ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

		if err := repo.SaveTransaction(ctx, testTransaction("tx-001", "cust-001", 250.00, false, ts)); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
		if err := repo.SaveTransaction(ctx, testTransaction("tx-002", "cust-001", 980.00, true, ts.Add(time.Hour))); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		c, err := repo.GetCustomer(ctx, "cust-001")
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if c.TotalTransactions != 2 {
			t.Errorf("expected 2 total transactions, got %d", c.TotalTransactions)
		}
		if c.TotalFraudCases != 1 {
			t.Errorf("expected 1 fraud case, got %d", c.TotalFraudCases)
		}
	})

	t.Run("UpsertExistingCustomerKeepsLedger", func(t *testing.T) {
		c := &domain.Customer{ID: "cust-001", RegistrationDate: registered}
		if err := repo.UpsertCustomer(ctx, c); err != nil {
			t.Fatalf("UpsertCustomer failed: %v", err)
		}

		retrieved, err := repo.GetCustomer(ctx, "cust-001")
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if retrieved.TotalTransactions != 2 {
			t.Errorf("expected totals preserved after upsert, got %d", retrieved.TotalTransactions)
		}
	})

	t.Run("GetTransaction", func(t *testing.T) {
		tx, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if tx.CustomerID != "cust-001" {
			t.Errorf("expected customer cust-001, got %s", tx.CustomerID)
		}
		if tx.Amount != 250.00 {
			t.Errorf("expected amount 250.00, got %.2f", tx.Amount)
		}
		if !tx.LocationMatch {
			t.Error("expected location match to round-trip")
		}
		if tx.IsFraud {
			t.Error("expected non-fraud transaction")
		}
	})

	t.Run("ListTransactionsByCustomer", func(t *testing.T) {
		since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		transactions, err := repo.ListTransactionsByCustomer(ctx, "cust-001", since)
		if err != nil {
			t.Fatalf("ListTransactionsByCustomer failed: %v", err)
		}
		if len(transactions) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(transactions))
		}
		// Newest first
		if transactions[0].ID != "tx-002" {
			t.Errorf("expected tx-002 first, got %s", transactions[0].ID)
		}
	})

	t.Run("RejectsTransactionForMissingCustomer", func(t *testing.T) {
		ts := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
		err := repo.SaveTransaction(ctx, testTransaction("tx-ghost", "cust-ghost", 10.00, false, ts))
		if !errors.Is(err, ErrForeignKey) {
			t.Errorf("expected ErrForeignKey, got: %v", err)
		}
	})

	t.Run("RejectsDuplicateTransaction", func(t *testing.T) {
		ts := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
		err := repo.SaveTransaction(ctx, testTransaction("tx-001", "cust-001", 99.00, false, ts))
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got: %v", err)
		}
	})

	t.Run("SavePredictionAndRescore", func(t *testing.T) {
		p := &domain.Prediction{
			TransactionID:    "tx-001",
			ModelName:        "Random Forest",
			PredictedFraud:   false,
			FraudProbability: 0.12345,
			RiskCategory:     "Low",
			PredictionDate:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		if err := repo.SavePrediction(ctx, p); err != nil {
			t.Fatalf("SavePrediction failed: %v", err)
		}

		// Re-scoring the same (transaction, model) overwrites
		p.PredictedFraud = true
		p.FraudProbability = 0.81000
		p.RiskCategory = "High"
		if err := repo.SavePrediction(ctx, p); err != nil {
			t.Fatalf("SavePrediction rescore failed: %v", err)
		}

		predictions, err := repo.ListPredictionsByTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("ListPredictionsByTransaction failed: %v", err)
		}
		if len(predictions) != 1 {
			t.Fatalf("expected 1 prediction after rescore, got %d", len(predictions))
		}
		if predictions[0].FraudProbability != 0.81000 {
			t.Errorf("expected overwritten probability 0.81, got %.5f", predictions[0].FraudProbability)
		}
		if !predictions[0].PredictedFraud {
			t.Error("expected overwritten predicted flag")
		}
	})

	t.Run("RejectsPredictionForMissingTransaction", func(t *testing.T) {
		p := &domain.Prediction{
			TransactionID:    "tx-ghost",
			ModelName:        "Random Forest",
			FraudProbability: 0.5,
			PredictionDate:   time.Now().UTC(),
		}
		err := repo.SavePrediction(ctx, p)
		if !errors.Is(err, ErrForeignKey) {
			t.Errorf("expected ErrForeignKey, got: %v", err)
		}
	})

	t.Run("RejectsOutOfRangeProbability", func(t *testing.T) {
		p := &domain.Prediction{
			TransactionID:    "tx-001",
			ModelName:        "Random Forest",
			FraudProbability: 1.5,
			PredictionDate:   time.Now().UTC(),
		}
		err := repo.SavePrediction(ctx, p)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("SetCustomerRisk", func(t *testing.T) {
		if err := repo.SetCustomerRisk(ctx, "cust-001", 42.50); err != nil {
			t.Fatalf("SetCustomerRisk failed: %v", err)
		}

		c, err := repo.GetCustomer(ctx, "cust-001")
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if c.RiskScore != 42.50 {
			t.Errorf("expected risk score 42.50, got %.2f", c.RiskScore)
		}

		if err := repo.SetCustomerRisk(ctx, "cust-ghost", 1.0); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("ModelRegistryLatestRun", func(t *testing.T) {
		runs := []*domain.ModelRun{
			{
				ModelName:    "Random Forest",
				TrainingDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
				Accuracy:     0.91000,
				TotalSamples: 1000,
				FraudSamples: 50,
			},
			{
				ModelName:    "Random Forest",
				TrainingDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
				Accuracy:     0.95500,
				TotalSamples: 2000,
				FraudSamples: 90,
			},
		}
		for _, run := range runs {
			if err := repo.SaveModelRun(ctx, run); err != nil {
				t.Fatalf("SaveModelRun failed: %v", err)
			}
		}

		latest, err := repo.LatestModelRun(ctx, "Random Forest")
		if err != nil {
			t.Fatalf("LatestModelRun failed: %v", err)
		}
		if latest.Accuracy != 0.95500 {
			t.Errorf("expected latest run accuracy 0.955, got %.5f", latest.Accuracy)
		}

		if _, err := repo.LatestModelRun(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("CascadeDelete", func(t *testing.T) {
		if err := repo.DeleteCustomer(ctx, "cust-001"); err != nil {
			t.Fatalf("DeleteCustomer failed: %v", err)
		}

		if _, err := repo.GetTransaction(ctx, "tx-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected transaction gone after purge, got: %v", err)
		}

		predictions, err := repo.ListPredictionsByTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("ListPredictionsByTransaction failed: %v", err)
		}
		if len(predictions) != 0 {
			t.Errorf("expected predictions gone after purge, got %d", len(predictions))
		}

		if err := repo.DeleteCustomer(ctx, "cust-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetCustomer(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetTransaction(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestAllSchemasDriverKey(t *testing.T) {
	sqlite := AllSchemas("sqlite")[2]
	if want := "INTEGER PRIMARY KEY AUTOINCREMENT"; !strings.Contains(sqlite, want) {
		t.Errorf("sqlite predictions schema missing %q", want)
	}

	postgres := AllSchemas("postgres")[2]
	if want := "BIGSERIAL PRIMARY KEY"; !strings.Contains(postgres, want) {
		t.Errorf("postgres predictions schema missing %q", want)
	}
}
