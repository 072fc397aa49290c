package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/rbac"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Handler exposes stock card reads and manual adjustments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		rbac:      rbac,
	}
}

// MountRoutes registers ledger routes; mounted under /stock.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("stock.view", "stock.manage"))
		r.Get("/{branchID}/{productID}/card", h.handleStockCard)
		r.Get("/{branchID}/{productID}/lots", h.handleOpenLots)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("stock.manage"))
		r.Post("/adjustments", h.handleAdjustment)
	})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	actor, branchID, productID, ok := h.stockParams(w, r)
	if !ok {
		return
	}

	filter := CardFilter{
		TenantID:  actor.TenantID,
		ProductID: productID,
		BranchID:  branchID,
	}
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "to must be RFC3339")
			return
		}
		filter.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}

	entries, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		h.logger.Error("stock card", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	onHand, err := h.service.OnHand(r.Context(), actor.TenantID, productID, branchID)
	if err != nil {
		h.logger.Error("stock on hand", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"branch_id":  branchID,
		"product_id": productID,
		"on_hand":    onHand,
		"entries":    entries,
	})
}

func (h *Handler) handleOpenLots(w http.ResponseWriter, r *http.Request) {
	actor, branchID, productID, ok := h.stockParams(w, r)
	if !ok {
		return
	}
	lots, err := h.service.OpenLots(r.Context(), actor.TenantID, productID, branchID)
	if err != nil {
		h.logger.Error("open lots", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

type adjustmentRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	BranchID  uuid.UUID       `json:"branch_id" validate:"required"`
	Qty       int64           `json:"qty" validate:"required"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Reason    string          `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		TenantID:  actor.TenantID,
		ProductID: req.ProductID,
		BranchID:  req.BranchID,
		Qty:       req.Qty,
		UnitCost:  req.UnitCost,
		Reason:    req.Reason,
		ActorID:   actor.UserID,
	})
	if err != nil {
		h.logger.Error("post adjustment", slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stockParams(w http.ResponseWriter, r *http.Request) (shared.Actor, uuid.UUID, uuid.UUID, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return shared.Actor{}, uuid.Nil, uuid.Nil, false
	}
	branchID, err := uuid.Parse(chi.URLParam(r, "branchID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "branch id must be a UUID")
		return shared.Actor{}, uuid.Nil, uuid.Nil, false
	}
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "product id must be a UUID")
		return shared.Actor{}, uuid.Nil, uuid.Nil, false
	}
	return *actor, branchID, productID, true
}

func respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Adjustment", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
