package transfers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/rbac"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

const headerIdempotencyKey = "Idempotency-Key"

// Handler wires HTTP endpoints for the transfer lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs the transfers handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers transfer routes; mounted under /stock-transfers.
// Approval decision routes live in the approvals handler and are mounted
// next to these by the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("transfers.view", "transfers.manage"))
		r.Get("/", h.handleList)
		r.Get("/{transferID}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("transfers.manage"))
		r.Post("/", h.handleCreate)
		r.Post("/{transferID}/ship", h.handleShip)
		r.Post("/{transferID}/receive", h.handleReceive)
		r.Post("/{transferID}/reverse", h.handleReverse)
	})
}

type transferResponse struct {
	Transfer Transfer `json:"transfer"`
	Items    []Item   `json:"items"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.IdempotencyKey = r.Header.Get(headerIdempotencyKey)

	transfer, items, err := h.service.Create(r.Context(), *actor, input)
	if err != nil {
		h.logger.Error("create transfer", slog.Any("error", err))
		respondTransferError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transferResponse{Transfer: transfer, Items: items})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	transfers, err := h.service.List(r.Context(), *actor, shared.PageFromQuery(r.URL.Query()))
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		respondTransferError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, transferID, ok := h.transferID(w, r)
	if !ok {
		return
	}
	transfer, items, err := h.service.Get(r.Context(), actor, transferID)
	if err != nil {
		respondTransferError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transferResponse{Transfer: transfer, Items: items})
}

type batchRequest struct {
	Items []BatchLine `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleShip(w http.ResponseWriter, r *http.Request) {
	actor, transferID, lines, ok := h.batchInput(w, r)
	if !ok {
		return
	}
	transfer, items, err := h.service.Ship(r.Context(), actor, transferID, lines)
	if err != nil {
		h.logger.Warn("ship batch refused",
			slog.String("transfer_id", transferID.String()),
			slog.Any("error", err))
		respondTransferError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transferResponse{Transfer: transfer, Items: items})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	actor, transferID, lines, ok := h.batchInput(w, r)
	if !ok {
		return
	}
	transfer, items, err := h.service.Receive(r.Context(), actor, transferID, lines)
	if err != nil {
		h.logger.Warn("receive batch refused",
			slog.String("transfer_id", transferID.String()),
			slog.Any("error", err))
		respondTransferError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transferResponse{Transfer: transfer, Items: items})
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	actor, transferID, ok := h.transferID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	mirror, items, err := h.service.Reverse(r.Context(), actor, transferID, req.Reason)
	if err != nil {
		h.logger.Warn("reversal refused",
			slog.String("transfer_id", transferID.String()),
			slog.Any("error", err))
		respondTransferError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transferResponse{Transfer: mirror, Items: items})
}

func (h *Handler) transferID(w http.ResponseWriter, r *http.Request) (shared.Actor, uuid.UUID, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return shared.Actor{}, uuid.Nil, false
	}
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transferID must be a UUID")
		return shared.Actor{}, uuid.Nil, false
	}
	return *actor, transferID, true
}

func (h *Handler) batchInput(w http.ResponseWriter, r *http.Request) (shared.Actor, uuid.UUID, []BatchLine, bool) {
	actor, transferID, ok := h.transferID(w, r)
	if !ok {
		return shared.Actor{}, uuid.Nil, nil, false
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return shared.Actor{}, uuid.Nil, nil, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return shared.Actor{}, uuid.Nil, nil, false
	}
	return actor, transferID, req.Items, true
}

// respondTransferError maps lifecycle failures onto HTTP statuses. Overdraw
// failures carry which item and how much headroom remains so the caller can
// correct the batch.
func respondTransferError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTransferNotFound), errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrExceedsApprovedQty),
		errors.Is(err, ErrExceedsShippedQty),
		errors.Is(err, ErrInvalidQty),
		errors.Is(err, ledger.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, ErrNotShippable),
		errors.Is(err, ErrNotReceivable),
		errors.Is(err, ErrNotCompleted),
		errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, shared.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
