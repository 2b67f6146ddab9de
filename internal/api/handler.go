package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/banding"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	bander  *banding.Bander
	views   domain.ViewConfig
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, bander *banding.Bander, views domain.ViewConfig, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		bander:  bander,
		views:   views,
		version: version,
	}
}

// pointLookupTTL bounds the staleness of cached customer rows and
// latest-run lookups.
const pointLookupTTL = 5 * time.Minute

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateCustomer handles POST /customers. Registering an existing
// customer is a no-op; ledger totals are never reset by registration.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.CustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customerId is required",
		})
		return
	}

	c := req.ToCustomer()
	if err := h.repo.UpsertCustomer(ctx, c); err != nil {
		h.writeError(w, err, "failed to register customer")
		return
	}

	h.invalidate(ctx, domain.CacheKeyCustomer+c.ID)

	writeJSON(w, http.StatusCreated, c)
}

// GetCustomer handles GET /customers/{id}, backed by the point-lookup
// cache.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID := chi.URLParam(r, "id")

	cacheKey := domain.CacheKeyCustomer + customerID
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, cacheKey); err == nil && cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	c, err := h.repo.GetCustomer(ctx, customerID)
	if err != nil {
		h.writeError(w, err, "failed to get customer")
		return
	}

	if h.cache != nil {
		if data, err := json.Marshal(c); err == nil {
			_ = h.cache.Set(ctx, cacheKey, data, pointLookupTTL)
		}
	}

	writeJSON(w, http.StatusOK, c)
}

// SetCustomerRisk handles PUT /customers/{id}/risk.
func (h *Handler) SetCustomerRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID := chi.URLParam(r, "id")

	var req struct {
		RiskScore float64 `json:"riskScore"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.repo.SetCustomerRisk(ctx, customerID, req.RiskScore); err != nil {
		h.writeError(w, err, "failed to set customer risk")
		return
	}

	h.invalidate(ctx, domain.CacheKeyCustomer+customerID)

	writeJSON(w, http.StatusOK, map[string]any{
		"customerId": customerID,
		"riskScore":  req.RiskScore,
	})
}

// DeleteCustomer handles DELETE /customers/{id}: an administrative
// purge cascading to the customer's transactions and predictions.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID := chi.URLParam(r, "id")

	if err := h.repo.DeleteCustomer(ctx, customerID); err != nil {
		h.writeError(w, err, "failed to delete customer")
		return
	}

	h.invalidate(ctx, domain.CacheKeyCustomer+customerID)
	h.publish(ctx, domain.TopicCustomerPurged, map[string]string{"customerId": customerID})

	slog.Info("customer purged", "customer_id", customerID)
	writeJSON(w, http.StatusOK, map[string]string{
		"customerId": customerID,
		"status":     "purged",
	})
}

// ListCustomerTransactions handles GET /customers/{id}/transactions.
// An optional since query parameter (RFC 3339) bounds the window.
func (h *Handler) ListCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID := chi.URLParam(r, "id")

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC 3339",
			})
			return
		}
		since = parsed
	}

	transactions, err := h.repo.ListTransactionsByCustomer(ctx, customerID, since)
	if err != nil {
		h.writeError(w, err, "failed to list transactions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customerId":   customerID,
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// CreateTransaction handles POST /transactions. The transaction arrives
// with its engineered features precomputed; the owning customer must
// already exist.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.TransactionID == "" || req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactionId and customerId are required",
		})
		return
	}
	if req.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}

	tx := req.ToTransaction()
	if err := h.repo.SaveTransaction(ctx, tx); err != nil {
		h.writeError(w, err, "failed to save transaction")
		return
	}

	// The write moved the customer's ledger totals
	h.invalidate(ctx, domain.CacheKeyCustomer+tx.CustomerID)
	h.publish(ctx, domain.TopicTransactionRecorded, tx)

	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		h.writeError(w, err, "failed to get transaction")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListTransactionPredictions handles GET /transactions/{id}/predictions.
func (h *Handler) ListTransactionPredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	predictions, err := h.repo.ListPredictionsByTransaction(ctx, txID)
	if err != nil {
		h.writeError(w, err, "failed to list predictions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactionId": txID,
		"predictions":   predictions,
		"count":         len(predictions),
	})
}

// CreatePrediction handles POST /predictions. When the request omits
// the risk category it is derived from the configured bands. Re-scoring
// the same (transaction, model) pair overwrites the earlier verdict.
func (h *Handler) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.TransactionID == "" || req.ModelName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactionId and modelName are required",
		})
		return
	}
	if req.FraudProbability < 0 || req.FraudProbability > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fraudProbability must be in [0, 1]",
		})
		return
	}

	p := req.ToPrediction()
	if p.RiskCategory == "" && h.bander != nil {
		// Band guards may reference the transaction amount, so resolve
		// it before categorizing. A missing transaction is caught by
		// the foreign key check in SavePrediction below.
		var amount float64
		if tx, err := h.repo.GetTransaction(ctx, p.TransactionID); err == nil {
			amount = tx.Amount
		}
		p.RiskCategory = h.bander.Categorize(p.FraudProbability, p.PredictedFraud, amount)
	}

	if err := h.repo.SavePrediction(ctx, p); err != nil {
		h.writeError(w, err, "failed to save prediction")
		return
	}

	h.publish(ctx, domain.TopicPredictionRecorded, p)

	writeJSON(w, http.StatusCreated, p)
}

// CreateModelRun handles POST /models/runs, appending a training-run
// snapshot to the model registry.
func (h *Handler) CreateModelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ModelRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ModelName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "modelName is required",
		})
		return
	}

	run := req.ToModelRun()
	if err := h.repo.SaveModelRun(ctx, run); err != nil {
		h.writeError(w, err, "failed to save model run")
		return
	}

	// A new run may change the model's latest-run answer
	h.invalidate(ctx, domain.CacheKeyModelRun+run.ModelName)
	h.publish(ctx, domain.TopicModelTrained, run)

	writeJSON(w, http.StatusCreated, run)
}

// GetLatestModelRun handles GET /models/{name}/latest, backed by the
// point-lookup cache.
func (h *Handler) GetLatestModelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelName := chi.URLParam(r, "name")

	cacheKey := domain.CacheKeyModelRun + modelName
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, cacheKey); err == nil && cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	run, err := h.repo.LatestModelRun(ctx, modelName)
	if err != nil {
		h.writeError(w, err, "failed to get latest model run")
		return
	}

	if h.cache != nil {
		if data, err := json.Marshal(run); err == nil {
			_ = h.cache.Set(ctx, cacheKey, data, pointLookupTTL)
		}
	}

	writeJSON(w, http.StatusOK, run)
}

// The view handlers recompute on every request; view results are never
// cached, so the dashboard always sees live data.

// TransactionSummaryView handles GET /views/transaction-summary.
func (h *Handler) TransactionSummaryView(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.TransactionSummary(r.Context(), h.views.ModelName)
	if err != nil {
		h.writeError(w, err, "failed to compute transaction summary")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model": h.views.ModelName,
		"rows":  rows,
		"count": len(rows),
	})
}

// DailyFraudSummaryView handles GET /views/daily-fraud-summary.
func (h *Handler) DailyFraudSummaryView(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.DailyFraudSummary(r.Context())
	if err != nil {
		h.writeError(w, err, "failed to compute daily fraud summary")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rows":  rows,
		"count": len(rows),
	})
}

// HighRiskTransactionsView handles GET /views/high-risk-transactions.
// An optional threshold query parameter overrides the configured cut.
func (h *Handler) HighRiskTransactionsView(w http.ResponseWriter, r *http.Request) {
	threshold := h.views.HighRiskThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "threshold must be a number in [0, 1]",
			})
			return
		}
		threshold = parsed
	}

	rows, err := h.repo.HighRiskTransactions(r.Context(), h.views.ModelName, threshold)
	if err != nil {
		h.writeError(w, err, "failed to compute high risk transactions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model":     h.views.ModelName,
		"threshold": threshold,
		"rows":      rows,
		"count":     len(rows),
	})
}

// CustomerRiskProfileView handles GET /views/customer-risk-profile.
func (h *Handler) CustomerRiskProfileView(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.CustomerRiskProfile(r.Context(), h.views.ModelName)
	if err != nil {
		h.writeError(w, err, "failed to compute customer risk profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model": h.views.ModelName,
		"rows":  rows,
		"count": len(rows),
	})
}

// ModelPerformanceView handles GET /views/model-performance.
func (h *Handler) ModelPerformanceView(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.ModelPerformanceSummary(r.Context())
	if err != nil {
		h.writeError(w, err, "failed to compute model performance summary")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rows":  rows,
		"count": len(rows),
	})
}

// writeError maps repository sentinels onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrForeignKey):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "referenced record does not exist",
		})
	case errors.Is(err, repository.ErrDuplicate):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "record already exists",
		})
	default:
		slog.Error(logMsg, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

// invalidate drops a point-lookup cache entry after a write.
func (h *Handler) invalidate(ctx context.Context, key string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, key); err != nil {
		slog.Warn("cache invalidation failed", "key", key, "error", err)
	}
}

// publish emits a change event; bus failures are logged, not surfaced.
func (h *Handler) publish(ctx context.Context, topic string, payload any) {
	if h.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("event publish failed", "topic", topic, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
