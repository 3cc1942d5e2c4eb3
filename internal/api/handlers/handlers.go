// Package handlers implements the HTTP API over the reconciliation engine,
// the ledger store and the allowance scheduler.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seojinlee/notiledger/internal/allowance"
	"github.com/seojinlee/notiledger/internal/api/middleware"
	"github.com/seojinlee/notiledger/internal/jobs"
	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/reconcile"
)

// IngestHandler accepts raw notification events and queues them for the
// workers.
type IngestHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	log       zerolog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(publisher jobs.Publisher, store jobs.JobStore, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{publisher: publisher, store: store, log: log}
}

type ingestRequest struct {
	SourceID string    `json:"source_id"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"posted_at"`
}

// IngestNotification handles POST /api/ledgers/{ledger}/notifications.
func (h *IngestHandler) IngestNotification(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, false)
}

// IngestManualText handles POST /api/ledgers/{ledger}/manual-text.
func (h *IngestHandler) IngestManualText(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, true)
}

func (h *IngestHandler) ingest(w http.ResponseWriter, r *http.Request, manual bool) {
	ledgerID := r.PathValue("ledger")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SourceID == "" || req.Text == "" {
		middleware.WriteError(w, http.StatusBadRequest, "source_id and text are required")
		return
	}
	if req.PostedAt.IsZero() {
		req.PostedAt = time.Now()
	}

	job := &jobs.IngestNotificationJob{
		LedgerID:   ledgerID,
		SourceID:   req.SourceID,
		RawText:    req.Text,
		ManualText: manual,
		PostedAt:   req.PostedAt,
	}
	if err := h.publisher.PublishIngest(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("source_id", req.SourceID).Msg("Failed to queue ingestion job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to queue notification")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": job.JobID})
}

// GetJob handles GET /api/jobs/{job}.
func (h *IngestHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("job"))
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// HoldsHandler exposes the engine's pending decisions and the confirmation
// API.
type HoldsHandler struct {
	engine *reconcile.Engine
	log    zerolog.Logger
}

// NewHoldsHandler creates a new holds handler.
func NewHoldsHandler(engine *reconcile.Engine, log zerolog.Logger) *HoldsHandler {
	return &HoldsHandler{engine: engine, log: log}
}

// List handles GET /api/ledgers/{ledger}/holds.
func (h *HoldsHandler) List(w http.ResponseWriter, r *http.Request) {
	holds := h.engine.Holds(r.PathValue("ledger"))
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"holds": holds,
		"count": len(holds),
	})
}

// Count handles GET /api/ledgers/{ledger}/holds/count. This backs the
// pending-decisions badge.
func (h *HoldsHandler) Count(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]int{
		"pending_decisions": h.engine.PendingDecisionCount(r.PathValue("ledger")),
	})
}

// ConfirmHighValue handles POST /api/transactions/{transaction}/confirm.
func (h *HoldsHandler) ConfirmHighValue(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.ConfirmHighValue(r.Context(), r.PathValue("transaction"))
	if err != nil {
		h.writeEngineError(w, err, "Failed to confirm transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, o)
}

// DismissHighValue handles POST /api/transactions/{transaction}/dismiss.
func (h *HoldsHandler) DismissHighValue(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DismissHighValue(r.Context(), r.PathValue("transaction")); err != nil {
		h.writeEngineError(w, err, "Failed to dismiss transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// ResolveDuplicate handles POST /api/transactions/{transaction}/resolve-duplicate.
// keep=true commits the record; this is also the undo path for a silent
// duplicate rejection.
func (h *HoldsHandler) ResolveDuplicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keep bool `json:"keep"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	o, err := h.engine.ResolveDuplicateHold(r.Context(), r.PathValue("transaction"), req.Keep)
	if err != nil {
		h.writeEngineError(w, err, "Failed to resolve duplicate")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, o)
}

// ResolveGoalAmbiguity handles POST /api/contributions/{contribution}/resolve.
// An empty goal_id discards the contribution.
func (h *HoldsHandler) ResolveGoalAmbiguity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GoalID string `json:"goal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.engine.ResolveGoalAmbiguity(r.Context(), r.PathValue("contribution"), req.GoalID); err != nil {
		h.writeEngineError(w, err, "Failed to resolve contribution")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *HoldsHandler) writeEngineError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, reconcile.ErrNotHeld):
		middleware.WriteError(w, http.StatusConflict, "Transaction is not held")
	default:
		h.log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

// TransactionsHandler serves ledger records and totals.
type TransactionsHandler struct {
	store ledger.Store
	log   zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(store ledger.Store, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{store: store, log: log}
}

// List handles GET /api/ledgers/{ledger}/transactions.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := ledger.TransactionFilter{
		Status:     ledger.Status(r.URL.Query().Get("status")),
		Provenance: ledger.Provenance(r.URL.Query().Get("provenance")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	txs, err := h.store.ListTransactions(r.Context(), r.PathValue("ledger"), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// Get handles GET /api/transactions/{transaction}.
func (h *TransactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.store.GetTransaction(r.Context(), r.PathValue("transaction"))
	if errors.Is(err, ledger.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// UpdateDetails handles PUT /api/transactions/{transaction}. Only the
// user-editable fields of a committed record change here.
func (h *TransactionsHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string           `json:"description"`
		Memo        string           `json:"memo"`
		Category    *ledger.Category `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.store.UpdateTransactionDetails(r.Context(), r.PathValue("transaction"), req.Description, req.Memo, req.Category)
	if errors.Is(err, ledger.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to update transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to update transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Totals handles GET /api/ledgers/{ledger}/totals. Held and rejected records
// are excluded.
func (h *TransactionsHandler) Totals(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("ledger")

	income, err := h.store.CommittedTotal(r.Context(), ledgerID, ledger.DirectionIncome)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to total income")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute totals")
		return
	}
	expense, err := h.store.CommittedTotal(r.Context(), ledgerID, ledger.DirectionExpense)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to total expenses")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute totals")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]int64{
		"income":  income,
		"expense": expense,
		"net":     income - expense,
	})
}

// GoalsHandler serves savings goals and their contributions. Deletion goes
// through the engine so pending holds cascade.
type GoalsHandler struct {
	store  ledger.Store
	engine *reconcile.Engine
	log    zerolog.Logger
}

// NewGoalsHandler creates a new goals handler.
func NewGoalsHandler(store ledger.Store, engine *reconcile.Engine, log zerolog.Logger) *GoalsHandler {
	return &GoalsHandler{store: store, engine: engine, log: log}
}

type goalRequest struct {
	Name         string                  `json:"name"`
	TargetAmount int64                   `json:"target_amount"`
	AutoDeposit  *ledger.AutoDepositLink `json:"auto_deposit"`
}

// Create handles POST /api/ledgers/{ledger}/goals.
func (h *GoalsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.TargetAmount <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "name and a positive target_amount are required")
		return
	}

	now := time.Now()
	g := &ledger.SavingsGoal{
		ID:           uuid.New().String(),
		LedgerID:     r.PathValue("ledger"),
		Name:         req.Name,
		TargetAmount: req.TargetAmount,
		AutoDeposit:  req.AutoDeposit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.CreateGoal(r.Context(), g); err != nil {
		h.log.Error().Err(err).Msg("Failed to create goal")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create goal")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, g)
}

// List handles GET /api/ledgers/{ledger}/goals.
func (h *GoalsHandler) List(w http.ResponseWriter, r *http.Request) {
	goals, err := h.store.ListActiveGoals(r.Context(), r.PathValue("ledger"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list goals")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list goals")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"goals": goals,
		"count": len(goals),
	})
}

// Delete handles DELETE /api/goals/{goal}. Contributions are removed and
// pending holds referencing the goal are invalidated.
func (h *GoalsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.engine.DeleteGoal(r.Context(), r.PathValue("goal"))
	if errors.Is(err, ledger.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Goal not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to delete goal")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to delete goal")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Contributions handles GET /api/goals/{goal}/contributions.
func (h *GoalsHandler) Contributions(w http.ResponseWriter, r *http.Request) {
	goalID := r.PathValue("goal")
	if _, err := h.store.GetGoal(r.Context(), goalID); errors.Is(err, ledger.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Goal not found")
		return
	}

	contributions, err := h.store.ListContributions(r.Context(), goalID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list contributions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list contributions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"contributions": contributions,
		"count":         len(contributions),
	})
}

// AllowanceHandler drives the per-dependent allowance lifecycle.
type AllowanceHandler struct {
	scheduler *allowance.Scheduler
	log       zerolog.Logger
}

// NewAllowanceHandler creates a new allowance handler.
func NewAllowanceHandler(scheduler *allowance.Scheduler, log zerolog.Logger) *AllowanceHandler {
	return &AllowanceHandler{scheduler: scheduler, log: log}
}

// Set handles PUT /api/ledgers/{ledger}/dependents/{dependent}/allowance.
func (h *AllowanceHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string              `json:"name"`
		Amount    int64               `json:"amount"`
		Frequency allowance.Frequency `json:"frequency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg, err := h.scheduler.SetAllowance(r.PathValue("ledger"), r.PathValue("dependent"), req.Name, req.Amount, req.Frequency)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cfg)
}

// Start handles POST /api/dependents/{dependent}/allowance/start.
func (h *AllowanceHandler) Start(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.scheduler.Start(r.PathValue("dependent"))
	if errors.Is(err, allowance.ErrNotConfigured) {
		middleware.WriteError(w, http.StatusConflict, "Allowance is not configured")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to start allowance")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start allowance")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cfg)
}

// Give handles POST /api/dependents/{dependent}/allowance/give. A zero or
// missing amount gives the configured amount.
func (h *AllowanceHandler) Give(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	o, err := h.scheduler.Give(r.Context(), r.PathValue("dependent"), req.Amount)
	if errors.Is(err, allowance.ErrNotConfigured) {
		middleware.WriteError(w, http.StatusConflict, "Allowance is not active")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to give allowance")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to give allowance")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, o)
}

// Cancel handles POST /api/dependents/{dependent}/allowance/cancel.
func (h *AllowanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.scheduler.Cancel(r.PathValue("dependent"))
	if errors.Is(err, allowance.ErrNotConfigured) {
		middleware.WriteError(w, http.StatusConflict, "Allowance is not active or configured")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to cancel allowance")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to cancel allowance")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// List handles GET /api/ledgers/{ledger}/allowances.
func (h *AllowanceHandler) List(w http.ResponseWriter, r *http.Request) {
	configs := h.scheduler.List(r.PathValue("ledger"))
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"allowances": configs,
		"count":      len(configs),
	})
}
