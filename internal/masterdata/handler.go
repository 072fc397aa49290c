package masterdata

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/masterdata/branches"
	"github.com/tradewind-erp/tradewind/internal/masterdata/products"
	"github.com/tradewind-erp/tradewind/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind/internal/rbac"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Handler serves branch and product master data.
type Handler struct {
	logger    *slog.Logger
	branches  *branches.Service
	products  *products.Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs the master data handler.
func NewHandler(logger *slog.Logger, branchSvc *branches.Service, productSvc *products.Service, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		branches:  branchSvc,
		products:  productSvc,
		validator: validator.New(),
		rbac:      rbac,
	}
}

// MountRoutes registers master data routes; mounted under /masterdata.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("masterdata.view", "masterdata.manage"))
		r.Get("/branches", h.handleListBranches)
		r.Get("/branches/{branchID}", h.handleGetBranch)
		r.Get("/products", h.handleListProducts)
		r.Get("/products/{productID}", h.handleGetProduct)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("masterdata.manage"))
		r.Post("/branches", h.handleCreateBranch)
		r.Delete("/branches/{branchID}", h.handleArchiveBranch)
		r.Post("/products", h.handleCreateProduct)
		r.Delete("/products/{productID}", h.handleArchiveProduct)
	})
}

type branchRequest struct {
	Code    string `json:"code" validate:"required,max=32"`
	Name    string `json:"name" validate:"required,max=120"`
	Address string `json:"address" validate:"max=500"`
}

func (h *Handler) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req branchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	now := time.Now().UTC()
	branch, err := h.branches.Create(r.Context(), branches.Branch{
		ID:        uuid.New(),
		TenantID:  actor.TenantID,
		Code:      req.Code,
		Name:      req.Name,
		Address:   req.Address,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		h.logger.Error("create branch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, branch)
}

func (h *Handler) handleListBranches(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	list, err := h.branches.List(r.Context(), actor.TenantID, includeArchived)
	if err != nil {
		h.logger.Error("list branches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"branches": list})
}

func (h *Handler) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "branchID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "branch id must be a UUID")
		return
	}
	branch, err := h.branches.Get(r.Context(), actor.TenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) handleArchiveBranch(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "branchID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "branch id must be a UUID")
		return
	}
	if err := h.branches.Archive(r.Context(), actor.TenantID, id, actor.UserID); err != nil {
		h.logger.Error("archive branch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type productRequest struct {
	SKU         string          `json:"sku" validate:"required,max=64"`
	Name        string          `json:"name" validate:"required,max=120"`
	Description string          `json:"description" validate:"max=1000"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	now := time.Now().UTC()
	product, err := h.products.Create(r.Context(), products.Product{
		ID:          uuid.New(),
		TenantID:    actor.TenantID,
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		UnitCost:    req.UnitCost,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		h.logger.Error("create product", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	list, err := h.products.List(r.Context(), actor.TenantID, includeArchived)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": list})
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "product id must be a UUID")
		return
	}
	product, err := h.products.Get(r.Context(), actor.TenantID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleArchiveProduct(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "product id must be a UUID")
		return
	}
	if err := h.products.Archive(r.Context(), actor.TenantID, id, actor.UserID); err != nil {
		h.logger.Error("archive product", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
