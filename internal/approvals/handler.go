package approvals

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/rbac"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Handler wires HTTP endpoints for approval rules and approval decisions.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	processor *Processor
	records   *Repository
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs the approvals handler.
func NewHandler(logger *slog.Logger, service *Service, processor *Processor, records *Repository, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		processor: processor,
		records:   records,
		validator: validator.New(),
		rbac:      rbac,
	}
}

// MountRuleRoutes registers rule configuration routes.
func (h *Handler) MountRuleRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("approval_rules.view", "approval_rules.manage"))
		r.Get("/", h.handleListRules)
		r.Get("/{ruleID}", h.handleGetRule)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("approval_rules.manage"))
		r.Post("/", h.handleCreateRule)
		r.Patch("/{ruleID}", h.handleUpdateRule)
		r.Delete("/{ruleID}", h.handleArchiveRule)
	})
}

// MountDecisionRoutes registers the per-transfer approval routes on the
// /stock-transfers router, alongside the transfer routes.
func (h *Handler) MountDecisionRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("transfers.approve"))
		r.Get("/{transferID}/approvals", h.handleListRecords)
		r.Post("/{transferID}/approvals/{level}", h.handleApprove)
		r.Post("/{transferID}/approvals/{level}/reject", h.handleReject)
	})
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var input CreateRuleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	rule, err := h.service.CreateRule(r.Context(), *actor, input)
	if err != nil {
		h.logger.Error("create approval rule", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "rule id must be a UUID")
		return
	}
	var input UpdateRuleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rule, err := h.service.UpdateRule(r.Context(), *actor, ruleID, input)
	if err != nil {
		h.logger.Error("update approval rule", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	page := shared.PageFromQuery(r.URL.Query())
	rules, err := h.service.ListRules(r.Context(), *actor, page)
	if err != nil {
		h.logger.Error("list approval rules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "ruleID must be a UUID")
		return
	}
	rule, err := h.service.GetRule(r.Context(), *actor, ruleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) handleArchiveRule(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "ruleID must be a UUID")
		return
	}
	if err := h.service.ArchiveRule(r.Context(), *actor, ruleID); err != nil {
		h.logger.Error("archive approval rule", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decisionRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transferID must be a UUID")
		return
	}
	records, err := h.records.RecordsForTransfer(r.Context(), actor.TenantID, transferID)
	if err != nil {
		h.logger.Error("list approval records", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	actor, transferID, level, req, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	result, err := h.processor.Submit(r.Context(), actor.TenantID, transferID, level, actor.UserID, req.Notes)
	if err != nil {
		h.logger.Warn("approval submit rejected",
			slog.String("transfer_id", transferID.String()),
			slog.Int("level", level),
			slog.Any("error", err))
		respondDecisionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"record":      result.Record,
		"all_cleared": result.AllCleared,
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, transferID, level, req, ok := h.decisionInput(w, r)
	if !ok {
		return
	}
	record, err := h.processor.Reject(r.Context(), actor.TenantID, transferID, level, actor.UserID, req.Notes)
	if err != nil {
		h.logger.Warn("approval reject refused",
			slog.String("transfer_id", transferID.String()),
			slog.Int("level", level),
			slog.Any("error", err))
		respondDecisionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"record": record})
}

func (h *Handler) decisionInput(w http.ResponseWriter, r *http.Request) (shared.Actor, uuid.UUID, int, decisionRequest, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return shared.Actor{}, uuid.Nil, 0, decisionRequest{}, false
	}
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transferID must be a UUID")
		return shared.Actor{}, uuid.Nil, 0, decisionRequest{}, false
	}
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil || level < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Level", "level must be a positive integer")
		return shared.Actor{}, uuid.Nil, 0, decisionRequest{}, false
	}
	var req decisionRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
			return shared.Actor{}, uuid.Nil, 0, decisionRequest{}, false
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return shared.Actor{}, uuid.Nil, 0, decisionRequest{}, false
		}
	}
	return *actor, transferID, level, req, true
}

// respondDecisionError maps processor failures onto HTTP statuses: a wrong
// approver is forbidden, an out-of-order or already-decided submission is a
// conflict, everything else falls through to the shared mapping.
func respondDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotRequiredApprover):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, ErrRecordNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotRequired),
		errors.Is(err, ErrTransferNotPending),
		errors.Is(err, ErrRecordNotPending),
		errors.Is(err, ErrPreviousLevelsIncomplete),
		errors.Is(err, shared.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
