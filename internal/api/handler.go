package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Pagination limits for GET /transactions.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *scoring.Engine
	metrics   *Metrics
	validate  *validator.Validate
	detailTTL time.Duration
	version   string

	worker *worker.Worker
}

// NewHandler creates a new API handler. cache and bus may be nil.
func NewHandler(repo domain.Repository, c domain.Cache, bus domain.EventBus, engine *scoring.Engine, metrics *Metrics, detailTTL time.Duration, version string) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if detailTTL <= 0 {
		detailTTL = 10 * time.Minute
	}

	return &Handler{
		repo:      repo,
		cache:     c,
		bus:       bus,
		engine:    engine,
		metrics:   metrics,
		validate:  v,
		detailTTL: detailTTL,
		version:   version,
	}
}

// DispositionResponse is the response for approve and reject.
type DispositionResponse struct {
	ID     string             `json:"id"`
	Status domain.Disposition `json:"status"`
}

// Root returns service information.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "Kestrel Fraud Review API",
		"version": h.version,
		"status":  "running",
	})
}

// CreateTransaction handles POST /transactions.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.CanonicalRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON request body")
		return
	}

	tx, err := h.Submit(r.Context(), req)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeDetail(w, http.StatusUnprocessableEntity, formatValidationErrors(verrs))
			return
		}
		slog.Error("failed to create transaction", "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to create transaction")
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// Submit validates, scores and stores one record, then announces it on the
// event bus. Seed loading goes through here as well.
func (h *Handler) Submit(ctx context.Context, req domain.CanonicalRecord) (*domain.Transaction, error) {
	if err := h.validate.Struct(req); err != nil {
		return nil, err
	}

	ts := req.Timestamp.UTC()
	result := h.engine.Score(scoring.Input{
		Amount:     req.Amount,
		Payee:      req.Payee,
		Reference:  req.Reference,
		Timestamp:  ts,
		PayeeIsNew: req.PayeeIsNew,
	})

	tx := &domain.Transaction{
		ID:         uuid.New().String(),
		Amount:     req.Amount,
		Payee:      req.Payee,
		Reference:  req.Reference,
		Timestamp:  ts,
		PayeeIsNew: req.PayeeIsNew,
		RiskScore:  result.Score,
		RiskLevel:  result.Level,
		Status:     domain.DispositionPending,
		Factors:    result.Factors,
		CreatedAt:  time.Now().UTC(),
	}

	audit := domain.AuditEntry{
		Timestamp: tx.CreatedAt,
		Action:    domain.AuditCreated,
		Details:   fmt.Sprintf("Transaction created with amount %s%.2f", h.engine.Config().Currency, tx.Amount),
	}
	if err := h.repo.CreateTransaction(ctx, tx, audit); err != nil {
		return nil, err
	}

	if h.metrics != nil {
		h.metrics.observeScored(tx.RiskLevel)
	}
	h.publish(ctx, domain.TopicTransactionCreated, domain.TransactionEvent{
		TxID:        tx.ID,
		RiskLevel:   tx.RiskLevel,
		Disposition: tx.Status,
		TraceID:     GetTraceID(ctx),
	})

	slog.Debug("transaction created",
		"tx_id", tx.ID,
		"risk_score", tx.RiskScore,
		"risk_level", tx.RiskLevel,
	)
	return tx, nil
}

// ListTransactions handles GET /transactions, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		writeDetail(w, http.StatusUnprocessableEntity, "page must be an integer >= 1")
		return
	}
	pageSize, err := queryInt(r, "page_size", DefaultPageSize)
	if err != nil || pageSize < 1 || pageSize > MaxPageSize {
		writeDetail(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("page_size must be an integer between 1 and %d", MaxPageSize))
		return
	}

	items, total, err := h.repo.ListTransactions(r.Context(), (page-1)*pageSize, pageSize)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	writeJSON(w, http.StatusOK, domain.NewPage(items, total, page, pageSize))
}

// GetTransaction handles GET /transactions/{id} with the scorer's explanation.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	// The row is always read so disposition is current; only the explanation is cached.
	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		h.writeRepoError(w, "failed to get transaction", txID, err)
		return
	}

	if h.cache != nil {
		if d, err := cache.GetDetail(ctx, h.cache, *tx); err != nil {
			slog.Warn("detail cache read failed", "tx_id", txID, "error", err)
		} else if d != nil {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}

	detail := h.engine.Explain(*tx)
	if h.cache != nil {
		if err := cache.SetDetail(ctx, h.cache, &detail, h.detailTTL); err != nil {
			slog.Warn("detail cache write failed", "tx_id", txID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, detail)
}

// Approve handles POST /transactions/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.dispose(w, r, domain.DispositionApproved, domain.AuditEntry{
		Action:  domain.AuditApproved,
		Details: "Marked as legitimate by reviewer",
	})
}

// Reject handles POST /transactions/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.dispose(w, r, domain.DispositionRejected, domain.AuditEntry{
		Action:  domain.AuditRejected,
		Details: "Marked as fraud by reviewer",
	})
}

func (h *Handler) dispose(w http.ResponseWriter, r *http.Request, to domain.Disposition, audit domain.AuditEntry) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")
	audit.Timestamp = time.Now().UTC()

	if err := h.repo.SetDisposition(ctx, txID, to, audit); err != nil {
		h.writeRepoError(w, "failed to set disposition", txID, err)
		return
	}

	if h.cache != nil {
		if err := cache.InvalidateDetail(ctx, h.cache, txID); err != nil {
			slog.Warn("detail cache eviction failed", "tx_id", txID, "error", err)
		}
	}
	if h.metrics != nil {
		h.metrics.observeDisposed(to)
	}
	h.publish(ctx, domain.TopicTransactionDisposed, domain.TransactionEvent{
		TxID:        txID,
		Disposition: to,
		TraceID:     GetTraceID(ctx),
	})

	slog.Info("transaction disposed", "tx_id", txID, "disposition", to)
	writeJSON(w, http.StatusOK, DispositionResponse{ID: txID, Status: to})
}

// MarkForReview handles POST /transactions/{id}/review. The status is unchanged.
func (h *Handler) MarkForReview(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	entry := domain.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    domain.AuditReviewed,
		Details:   "Flagged for further review",
	}

	if err := h.repo.AppendAudit(r.Context(), txID, entry); err != nil {
		h.writeRepoError(w, "failed to flag transaction", txID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":      txID,
		"message": "Transaction flagged for review",
	})
}

// AuditTrail handles GET /transactions/{id}/audit.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	entries, err := h.repo.AuditTrail(r.Context(), txID)
	if err != nil {
		h.writeRepoError(w, "failed to read audit trail", txID, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.AuditTrail{Entries: entries})
}

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
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. With a worker
// attached, readiness also requires its lifecycle subscriptions to be live.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ready":   true,
		"factors": h.engine.FactorCount(),
	}
	status := http.StatusOK

	if h.worker != nil {
		stats := h.worker.GetStats()
		resp["worker"] = stats
		if stats.SubscriptionCount == 0 {
			resp["ready"] = false
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (h *Handler) publish(ctx context.Context, topic string, event domain.TransactionEvent) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"tx_id", event.TxID,
			"error", err,
		)
	}
}

func (h *Handler) writeRepoError(w http.ResponseWriter, msg, txID string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, repository.ErrAlreadyDisposed):
		writeDetail(w, http.StatusConflict, "Transaction has already been disposed")
	default:
		slog.Error(msg, "tx_id", txID, "error", err)
		writeDetail(w, http.StatusInternalServerError, msg)
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+": "+validationMessage(e))
	}
	return strings.Join(msgs, "; ")
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field required"
	case "gt":
		return "must be greater than " + e.Param()
	case "max":
		return "must be at most " + e.Param() + " characters"
	default:
		return "failed " + e.Tag() + " validation"
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
