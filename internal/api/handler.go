package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/screening"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Deps are the collaborators the handlers call. Repo, Cache, Bus and Metrics
// may be nil.
type Deps struct {
	Screener *screening.Screener
	Detector *fraud.Detector
	Rules    *rules.Manager
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Metrics  *metrics.Metrics

	// Persist stores transactions and screening results in Repo.
	Persist bool
	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	screener *screening.Screener
	detector *fraud.Detector
	rules    *rules.Manager
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	persist  bool
	version  string
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		screener: deps.Screener,
		detector: deps.Detector,
		rules:    deps.Rules,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		persist:  deps.Persist && deps.Repo != nil,
		version:  deps.Version,
		validate: newValidator(),
		now:      time.Now,
	}
}

// PreScreen handles POST /prescreen. Enrichment failure answers 503 with the
// fail-safe manual_review result so callers never see an approval.
func (h *Handler) PreScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.check(h.validate); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	tx := req.toTransaction(h.now())
	h.saveTransaction(ctx, tx)

	result, err := h.screener.PreScreen(ctx, tx)
	status := http.StatusOK
	if err != nil {
		slog.Warn("pre-screening failed, returning fail-safe result",
			"tx_id", tx.ID,
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		result = h.screener.FailSafe(tx, err)
		status = http.StatusServiceUnavailable
	}

	h.saveScreening(ctx, result)
	h.publish(ctx, domain.TopicScreeningResult, result)
	writeJSON(w, status, result)
}

// PreScreenBatch handles POST /prescreen/batch.
func (h *Handler) PreScreenBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Transactions) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d transactions", maxBatchSize))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	now := h.now()
	txs := make([]*domain.PaymentTransaction, len(req.Transactions))
	for i := range req.Transactions {
		if err := req.Transactions[i].check(h.validate); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("transactions[%d]: %s", i, validationMessage(err)))
			return
		}
		txs[i] = req.Transactions[i].toTransaction(now)
		h.saveTransaction(ctx, txs[i])
	}

	items := h.screener.ScreenBatch(ctx, txs)

	resp := BatchResponse{Results: make([]BatchResult, len(items)), Count: len(items)}
	for i, item := range items {
		resp.Results[i].Result = item.Result
		if item.Err != nil {
			resp.Results[i].Error = item.Err.Error()
			resp.Failed++
		}
		h.saveScreening(ctx, item.Result)
		h.publish(ctx, domain.TopicScreeningResult, item.Result)
	}

	writeJSON(w, http.StatusOK, resp)
}

// DetectFraud handles POST /fraud/detect.
func (h *Handler) DetectFraud(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.detector == nil {
		writeError(w, http.StatusServiceUnavailable, "fraud detector not available")
		return
	}

	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.check(h.validate); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	tx := req.toTransaction(h.now())
	enriched, err := h.screener.Enrich(ctx, tx)
	if err != nil {
		slog.Warn("fraud detection skipped", "tx_id", tx.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	result, err := h.detector.Detect(ctx, enriched)
	if err != nil {
		slog.Error("fraud detection failed", "tx_id", tx.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "fraud detection failed")
		return
	}
	if result.IsFraudulent {
		h.publish(ctx, domain.TopicFraudAlert, result)
	}

	writeJSON(w, http.StatusOK, result)
}

// GetScreening retrieves a stored screening result by id.
func (h *Handler) GetScreening(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	result, err := h.repo.GetScreening(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "screening not found")
		return
	}
	if err != nil {
		slog.Error("failed to get screening", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load screening")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListRules returns every rule, built-in and custom, in registry order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list := h.rules.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule returns one rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates and persists a custom rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var draft rules.RuleDraft
	if !h.decode(w, r, &draft) {
		return
	}
	if err := h.validate.Struct(&draft); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	rule, err := h.rules.Create(r.Context(), draft)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule applies a partial update.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var upd rules.RuleUpdate
	if !h.decode(w, r, &upd) {
		return
	}

	rule, err := h.rules.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeRuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestRule evaluates a rule against sample data without affecting it.
func (h *Handler) TestRule(w http.ResponseWriter, r *http.Request) {
	var req RuleTestRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	eval, err := h.rules.Test(chi.URLParam(r, "id"), req.Sample)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// Health reports the state of each backing component.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := make(map[string]string)

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			return
		}
		components[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready returns 503 until rules are loaded and the repository answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if len(h.rules.List()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no rules loaded")
		return
	}
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "repository unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) saveTransaction(ctx context.Context, tx *domain.PaymentTransaction) {
	if !h.persist {
		return
	}
	if err := h.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
	}
}

func (h *Handler) saveScreening(ctx context.Context, result *domain.PreScreeningResult) {
	if !h.persist || result == nil {
		return
	}
	if err := h.repo.SaveScreening(ctx, result); err != nil {
		slog.Error("failed to save screening", "screening_id", result.ID, "tx_id", result.TransactionID, "error", err)
	}
}

func (h *Handler) publish(ctx context.Context, topic string, v any) {
	if h.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, h.bus, topic, v); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func writeRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("rule operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "rule operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
