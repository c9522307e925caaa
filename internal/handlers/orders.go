package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vitrola-discos/api/internal/platform/auth"
	"github.com/vitrola-discos/api/internal/platform/httpx"
	"github.com/vitrola-discos/api/internal/services"
)

type orderAdjustmentsResponse struct {
	OrderID  string               `json:"order_id"`
	Requests []adjustmentResponse `json:"requests"`
}

// OrderHandlers exposes the per-order adjustment listing for authenticated
// customers and staff.
type OrderHandlers struct {
	authn       *auth.Authenticator
	adjustments services.AdjustmentService
}

// NewOrderHandlers constructs a new OrderHandlers instance. Either variant's
// adjustment service works here: the listing spans both collections.
func NewOrderHandlers(authn *auth.Authenticator, adjustments services.AdjustmentService) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		adjustments: adjustments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{orderID}/adjustments", h.listAdjustments)
}

func (h *OrderHandlers) listAdjustments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.adjustments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "adjustment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	cmd := services.ListAdjustmentsCommand{OrderID: chi.URLParam(r, "orderID")}
	if !identity.IsStaff() {
		cmd.CustomerID = identity.UID
	}

	requests, err := h.adjustments.ListOrderAdjustments(ctx, cmd)
	if err != nil {
		writeAdjustmentError(ctx, w, err)
		return
	}

	resp := orderAdjustmentsResponse{
		OrderID:  cmd.OrderID,
		Requests: make([]adjustmentResponse, 0, len(requests)),
	}
	for _, request := range requests {
		resp.Requests = append(resp.Requests, toAdjustmentResponse(request))
	}

	writeJSONResponse(w, http.StatusOK, resp)
}
