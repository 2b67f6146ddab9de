// Package worker provides async ingestion from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/banding"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker consumes the ingest topics and writes rows through the
// repository, so batch producers (feature pipelines, scoring jobs) can
// feed Kestrel without going through the HTTP API.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	bander *banding.Bander

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async ingest worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, bander *banding.Bander) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		bander: bander,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ingest topics.
func (w *Worker) Start() error {
	topics := map[string]domain.MessageHandler{
		domain.TopicIngestTransaction: w.handleTransaction,
		domain.TopicIngestPrediction:  w.handlePrediction,
	}

	for topic, handler := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, handler)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("ingest worker started",
		"topics", len(w.subscriptions),
	)

	return nil
}

// handleTransaction decodes and persists an ingested transaction. The
// owning customer is upserted first so out-of-order feeds do not bounce
// off the foreign key.
func (w *Worker) handleTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx := req.ToTransaction()

	customer := &domain.Customer{
		ID:               tx.CustomerID,
		RegistrationDate: tx.Timestamp,
	}
	if err := w.repo.UpsertCustomer(ctx, customer); err != nil {
		slog.Error("failed to upsert customer",
			"customer_id", tx.CustomerID,
			"error", err,
		)
		return err
	}

	if err := w.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save ingested transaction",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	payload, _ := json.Marshal(tx)
	if err := w.bus.Publish(ctx, domain.TopicTransactionRecorded, payload); err != nil {
		slog.Error("failed to publish transaction event",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	slog.Info("transaction ingested",
		"tx_id", tx.ID,
		"customer_id", tx.CustomerID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// handlePrediction decodes and persists an ingested prediction,
// deriving the risk category when the producer left it out.
func (w *Worker) handlePrediction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.PredictionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse prediction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	p := req.ToPrediction()
	if p.RiskCategory == "" && w.bander != nil {
		// Band guards may reference the transaction amount, so resolve
		// it before categorizing. A missing transaction is caught by
		// the foreign key check in SavePrediction below.
		var amount float64
		if tx, err := w.repo.GetTransaction(ctx, p.TransactionID); err == nil {
			amount = tx.Amount
		}
		p.RiskCategory = w.bander.Categorize(p.FraudProbability, p.PredictedFraud, amount)
	}

	if err := w.repo.SavePrediction(ctx, p); err != nil {
		slog.Error("failed to save ingested prediction",
			"tx_id", p.TransactionID,
			"model", p.ModelName,
			"error", err,
		)
		return err
	}

	payload, _ := json.Marshal(p)
	if err := w.bus.Publish(ctx, domain.TopicPredictionRecorded, payload); err != nil {
		slog.Error("failed to publish prediction event",
			"tx_id", p.TransactionID,
			"error", err,
		)
	}

	slog.Info("prediction ingested",
		"tx_id", p.TransactionID,
		"model", p.ModelName,
		"risk_category", p.RiskCategory,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("ingest worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
