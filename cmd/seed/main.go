// Seed tool for loading synthetic fraud data into Kestrel.
//
// Usage:
//
//	go run cmd/seed/main.go -url http://localhost:8080 -customers 50 -transactions 2000
//
// This tool:
//  1. Generates customers and feature-engineered card transactions
//  2. Scores each transaction with a synthetic model and posts the prediction
//  3. Compares predictions with the planted fraud labels
//  4. Registers the resulting confusion-matrix metrics as a training run
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metrics tracks seeding results against the planted labels.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalFraud     int64
	TotalErrors    int64
}

var merchantCategories = []string{"retail", "grocery", "electronics", "travel", "gas", "restaurant", "online", "entertainment"}
var transactionTypes = []string{"purchase", "withdrawal", "transfer", "refund"}
var deviceTypes = []string{"mobile", "web", "pos", "atm"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	modelName := flag.String("model", "Random Forest", "Model name to score with")
	customers := flag.Int("customers", 50, "Number of customers to create")
	transactions := flag.Int("transactions", 2000, "Number of transactions to generate")
	fraudRate := flag.Float64("fraud-rate", 0.05, "Fraction of transactions planted as fraud")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 0, "Random seed (0 = time-based)")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL SEED - Synthetic Fraud Data                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL:  %s\n", *baseURL)
	fmt.Printf("Model:        %s\n", *modelName)
	fmt.Printf("Customers:    %d\n", *customers)
	fmt.Printf("Transactions: %d\n", *transactions)
	fmt.Printf("Fraud Rate:   %.2f\n", *fraudRate)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	client := &http.Client{Timeout: 10 * time.Second}

	// Create customers first so transaction inserts pass the foreign key
	customerIDs := make([]string, *customers)
	for i := range customerIDs {
		customerIDs[i] = fmt.Sprintf("CUST_%05d", i+1)
		registered := time.Now().UTC().AddDate(0, 0, -rng.Intn(730))
		req := domain.CustomerRequest{
			CustomerID:       customerIDs[i],
			RegistrationDate: &registered,
		}
		if err := postJSON(client, *baseURL+"/customers", req, nil); err != nil {
			fmt.Printf("ERROR: failed to create customer %s: %v\n", customerIDs[i], err)
			os.Exit(1)
		}
	}
	fmt.Printf("✓ Created %d customers\n", len(customerIDs))

	// Generate transactions up front so workers only do I/O
	batch := make([]domain.TransactionRequest, *transactions)
	for i := range batch {
		batch[i] = generateTransaction(rng, i, customerIDs[rng.Intn(len(customerIDs))], *fraudRate)
	}

	fmt.Printf("\nSeeding with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runSeed(client, batch, *baseURL, *modelName, *workers, *seed)
	duration := time.Since(startTime)

	// Register the synthetic model's run from what was measured
	if err := registerModelRun(client, *baseURL, *modelName, metrics); err != nil {
		fmt.Printf("ERROR: failed to register model run: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Registered training run for %q\n", *modelName)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateTransaction plants a fraud label and shapes the engineered
// features around it: fraudulent rows skew toward night hours, high
// amounts, and location mismatches.
func generateTransaction(rng *rand.Rand, idx int, customerID string, fraudRate float64) domain.TransactionRequest {
	isFraud := rng.Float64() < fraudRate

	hour := rng.Intn(24)
	amount := math.Round(rng.ExpFloat64()*80*100) / 100
	locationMatch := rng.Float64() < 0.95
	highRisk := rng.Float64() < 0.1

	if isFraud {
		hour = (22 + rng.Intn(7)) % 24
		amount = math.Round((200+rng.Float64()*1800)*100) / 100
		locationMatch = rng.Float64() < 0.4
		highRisk = rng.Float64() < 0.5
	}

	ts := time.Now().UTC().AddDate(0, 0, -rng.Intn(90))
	ts = time.Date(ts.Year(), ts.Month(), ts.Day(), hour, rng.Intn(60), rng.Intn(60), 0, time.UTC)
	weekday := int(ts.Weekday())

	return domain.TransactionRequest{
		TransactionID:     fmt.Sprintf("TX_%08d", idx+1),
		CustomerID:        customerID,
		Timestamp:         &ts,
		Amount:            amount,
		HourOfDay:         hour,
		DayOfWeek:         weekday,
		IsWeekend:         weekday == 0 || weekday == 6,
		IsNight:           hour >= 22 || hour < 6,
		MerchantCategory:  merchantCategories[rng.Intn(len(merchantCategories))],
		TransactionType:   transactionTypes[rng.Intn(len(transactionTypes))],
		DeviceType:        deviceTypes[rng.Intn(len(deviceTypes))],
		LocationMatch:     locationMatch,
		HighRiskCategory:  highRisk,
		AmountDeviation:   math.Round(rng.NormFloat64()*100) / 100,
		HistoricalTxCount: int64(rng.Intn(500)),
		RiskScore:         math.Round(rng.Float64()*10000) / 100,
		IsFraud:           isFraud,
	}
}

// scoreTransaction is the synthetic model: a noisy read of the planted
// label, so the seeded dashboard shows all four outcome quadrants.
func scoreTransaction(rng *rand.Rand, tx domain.TransactionRequest) (float64, bool) {
	var probability float64
	if tx.IsFraud {
		probability = 0.55 + rng.Float64()*0.45
		if rng.Float64() < 0.15 {
			probability = rng.Float64() * 0.5 // missed fraud
		}
	} else {
		probability = rng.Float64() * 0.45
		if rng.Float64() < 0.05 {
			probability = 0.5 + rng.Float64()*0.5 // false alarm
		}
	}
	probability = math.Round(probability*1e5) / 1e5
	return probability, probability >= 0.5
}

func runSeed(client *http.Client, batch []domain.TransactionRequest, baseURL, modelName string, numWorkers int, seed int64) *Metrics {
	metrics := &Metrics{}

	work := make(chan domain.TransactionRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerIdx int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(workerIdx)))

			for tx := range work {
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err := postJSON(client, baseURL+"/transactions", tx, nil); err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}

				probability, predicted := scoreTransaction(rng, tx)
				predictionDate := time.Now().UTC()
				pred := domain.PredictionRequest{
					TransactionID:    tx.TransactionID,
					ModelName:        modelName,
					PredictedFraud:   predicted,
					FraudProbability: probability,
					PredictionDate:   &predictionDate,
				}
				if err := postJSON(client, baseURL+"/predictions", pred, nil); err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}

				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				}

				switch {
				case predicted && tx.IsFraud:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !tx.IsFraud:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !tx.IsFraud:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}
			}
		}(i)
	}

	for _, tx := range batch {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func registerModelRun(client *http.Client, baseURL, modelName string, m *Metrics) error {
	precision, recall, f1, accuracy := deriveMetrics(m)

	trained := time.Now().UTC()
	run := domain.ModelRunRequest{
		ModelName:    modelName,
		TrainingDate: &trained,
		Accuracy:     accuracy,
		Precision:    precision,
		Recall:       recall,
		F1:           f1,
		ROCAUC:       math.Round((accuracy+recall)/2*1e5) / 1e5, // rough proxy
		TotalSamples: m.TotalProcessed - m.TotalErrors,
		FraudSamples: m.TotalFraud,
	}

	return postJSON(client, baseURL+"/models/runs", run, nil)
}

func deriveMetrics(m *Metrics) (precision, recall, f1, accuracy float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	round := func(v float64) float64 { return math.Round(v*1e5) / 1e5 }
	return round(precision), round(recall), round(f1), round(accuracy)
}

func postJSON(client *http.Client, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	precision, recall, f1, accuracy := deriveMetrics(m)

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        SEED RESULTS                           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   Fraud      Legit")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 MODEL METRICS (registered as a training run)\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println("\nThe reporting views are ready:")
	fmt.Println("   GET /views/transaction-summary")
	fmt.Println("   GET /views/daily-fraud-summary")
	fmt.Println("   GET /views/high-risk-transactions")
	fmt.Println("   GET /views/customer-risk-profile")
	fmt.Println("   GET /views/model-performance")
	fmt.Println()
}
