package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	domain "github.com/vitrola-discos/api/internal/domain"
	"github.com/vitrola-discos/api/internal/platform/auth"
	"github.com/vitrola-discos/api/internal/platform/httpx"
	"github.com/vitrola-discos/api/internal/services"
)

const maxStockBodySize = 8 * 1024

type stockMutationRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type stockAdjustmentResponse struct {
	ProductID   string `json:"product_id"`
	Delta       int    `json:"delta"`
	Stock       int    `json:"stock"`
	Deactivated bool   `json:"deactivated"`
}

// AdminStockHandlers exposes the warehouse stock ledger to staff tooling.
type AdminStockHandlers struct {
	authn     *auth.Authenticator
	stock     services.StockService
	sanitizer *bluemonday.Policy
}

// NewAdminStockHandlers constructs admin stock handlers.
func NewAdminStockHandlers(authn *auth.Authenticator, stock services.StockService) *AdminStockHandlers {
	return &AdminStockHandlers{
		authn:     authn,
		stock:     stock,
		sanitizer: newPlainTextPolicy(),
	}
}

// Routes registers the admin stock endpoints.
func (h *AdminStockHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Route("/products/{productID}/stock", func(rt chi.Router) {
		rt.Post("/increase", h.increaseStock)
		rt.Post("/decrease", h.decreaseStock)
	})
}

func (h *AdminStockHandlers) increaseStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, h.applyIncrease)
}

func (h *AdminStockHandlers) decreaseStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, h.applyDecrease)
}

func (h *AdminStockHandlers) applyIncrease(ctx context.Context, cmd services.StockMutationCommand) (domain.StockAdjustment, error) {
	return h.stock.IncreaseStock(ctx, cmd)
}

func (h *AdminStockHandlers) applyDecrease(ctx context.Context, cmd services.StockMutationCommand) (domain.StockAdjustment, error) {
	return h.stock.DecreaseStock(ctx, cmd)
}

func (h *AdminStockHandlers) mutateStock(w http.ResponseWriter, r *http.Request, apply func(context.Context, services.StockMutationCommand) (domain.StockAdjustment, error)) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxStockBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var payload stockMutationRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	adjustment, err := apply(ctx, services.StockMutationCommand{
		ProductRef: chi.URLParam(r, "productID"),
		Quantity:   payload.Quantity,
		Reason:     sanitizeText(h.sanitizer, payload.Reason),
		ActorID:    identity.UID,
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockAdjustmentResponse{
		ProductID:   adjustment.ProductRef,
		Delta:       adjustment.Delta,
		Stock:       adjustment.Resulting,
		Deactivated: adjustment.Deactivated,
	})
}

func writeStockError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrStockInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStockProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("stock_error", "failed to adjust stock", http.StatusInternalServerError))
	}
}
