package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	domain "github.com/vitrola-discos/api/internal/domain"
	"github.com/vitrola-discos/api/internal/platform/auth"
	"github.com/vitrola-discos/api/internal/platform/httpx"
	"github.com/vitrola-discos/api/internal/services"
)

const maxAdjustmentBodySize = 64 * 1024

// The full status vocabulary is assignable here; the service rejects values
// outside its variant's set. Setting completed this way flips the scalar only,
// without restock or coupon side effects.
var staffAssignableStatuses = map[domain.AdjustmentStatus]struct{}{
	domain.AdjustmentStatusPending:    {},
	domain.AdjustmentStatusApproved:   {},
	domain.AdjustmentStatusDenied:     {},
	domain.AdjustmentStatusInProgress: {},
	domain.AdjustmentStatusReceived:   {},
	domain.AdjustmentStatusProcessing: {},
	domain.AdjustmentStatusCompleted:  {},
	domain.AdjustmentStatusCanceled:   {},
}

type createAdjustmentRequest struct {
	OrderID string                        `json:"order_id"`
	Reason  string                        `json:"reason"`
	Notes   string                        `json:"notes"`
	Items   []createAdjustmentItemRequest `json:"items"`
}

type createAdjustmentItemRequest struct {
	SourceItemID string `json:"source_item_id"`
	ProductID    string `json:"product_id"`
	Quantity     int    `json:"quantity"`
	Reason       string `json:"reason"`
}

type updateAdjustmentStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type adjustmentResponse struct {
	ID         string                   `json:"id"`
	Kind       string                   `json:"kind"`
	OrderID    string                   `json:"order_id"`
	CustomerID string                   `json:"customer_id"`
	Status     string                   `json:"status"`
	Reason     string                   `json:"reason,omitempty"`
	Notes      string                   `json:"notes,omitempty"`
	Items      []adjustmentItemResponse `json:"items"`
	CouponCode *string                  `json:"coupon_code,omitempty"`
	ReceivedAt *string                  `json:"received_at,omitempty"`
	CreatedAt  string                   `json:"created_at"`
	UpdatedAt  string                   `json:"updated_at"`
}

type adjustmentItemResponse struct {
	ID           string `json:"id"`
	SourceItemID string `json:"source_item_id,omitempty"`
	ProductID    string `json:"product_id"`
	Quantity     int    `json:"quantity"`
	Reason       string `json:"reason,omitempty"`
}

type adjustmentResolutionResponse struct {
	Request adjustmentResponse   `json:"request"`
	Order   orderSummaryResponse `json:"order"`
	Coupon  *couponResponse      `json:"coupon,omitempty"`
}

type orderSummaryResponse struct {
	ID            string `json:"id"`
	Total         int64  `json:"total"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// AdjustmentHandlers exposes one post-sale request surface. The same handler
// set serves /exchanges and /returns; the wired service decides eligibility
// and transition rules for its variant.
type AdjustmentHandlers struct {
	authn        *auth.Authenticator
	adjustments  services.AdjustmentService
	kind         domain.AdjustmentKind
	terminalPath string
	sanitizer    *bluemonday.Policy
}

// NewExchangeHandlers constructs the handler set mounted under /exchanges.
func NewExchangeHandlers(authn *auth.Authenticator, adjustments services.AdjustmentService) *AdjustmentHandlers {
	return &AdjustmentHandlers{
		authn:        authn,
		adjustments:  adjustments,
		kind:         domain.AdjustmentKindExchange,
		terminalPath: "confirm-received",
		sanitizer:    newPlainTextPolicy(),
	}
}

// NewReturnHandlers constructs the handler set mounted under /returns.
func NewReturnHandlers(authn *auth.Authenticator, adjustments services.AdjustmentService) *AdjustmentHandlers {
	return &AdjustmentHandlers{
		authn:        authn,
		adjustments:  adjustments,
		kind:         domain.AdjustmentKindReturn,
		terminalPath: "received",
		sanitizer:    newPlainTextPolicy(),
	}
}

// Routes registers the request endpoints for this handler's variant.
func (h *AdjustmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createRequest)
	r.Get("/{requestID}", h.getRequest)
	r.Patch("/{requestID}/status", h.updateStatus)
	r.Post("/{requestID}/"+h.terminalPath, h.confirmReceived)
}

func (h *AdjustmentHandlers) createRequest(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxAdjustmentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var payload createAdjustmentRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.CreateAdjustmentCommand{
		OrderID:    strings.TrimSpace(payload.OrderID),
		CustomerID: identity.UID,
		Reason:     sanitizeText(h.sanitizer, payload.Reason),
		Notes:      sanitizeText(h.sanitizer, payload.Notes),
	}
	for _, item := range payload.Items {
		cmd.Items = append(cmd.Items, services.CreateAdjustmentItem{
			SourceItemID: strings.TrimSpace(item.SourceItemID),
			ProductRef:   strings.TrimSpace(item.ProductID),
			Quantity:     item.Quantity,
			Reason:       sanitizeText(h.sanitizer, item.Reason),
		})
	}

	request, err := h.adjustments.CreateRequest(ctx, cmd)
	if err != nil {
		writeAdjustmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toAdjustmentResponse(request))
}

func (h *AdjustmentHandlers) getRequest(w http.ResponseWriter, r *http.Request) {
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

	cmd := services.GetAdjustmentCommand{RequestID: chi.URLParam(r, "requestID")}
	if !identity.IsStaff() {
		cmd.CustomerID = identity.UID
	}

	request, err := h.adjustments.GetRequest(ctx, cmd)
	if err != nil {
		writeAdjustmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toAdjustmentResponse(request))
}

func (h *AdjustmentHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.adjustments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "adjustment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdjustmentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var payload updateAdjustmentStatusRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	status := domain.AdjustmentStatus(strings.ToLower(strings.TrimSpace(payload.Status)))
	if _, ok := staffAssignableStatuses[status]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", fmt.Sprintf("status %q cannot be assigned", payload.Status), http.StatusBadRequest))
		return
	}

	request, err := h.adjustments.UpdateStatus(ctx, services.AdjustmentStatusCommand{
		RequestID: chi.URLParam(r, "requestID"),
		Status:    status,
		Note:      sanitizeText(h.sanitizer, payload.Note),
		ActorID:   identity.UID,
	})
	if err != nil {
		writeAdjustmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toAdjustmentResponse(request))
}

func (h *AdjustmentHandlers) confirmReceived(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.adjustments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "adjustment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}

	resolution, err := h.adjustments.ConfirmReceived(ctx, services.ConfirmReceivedCommand{
		RequestID: chi.URLParam(r, "requestID"),
		ActorID:   identity.UID,
	})
	if err != nil {
		writeAdjustmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toAdjustmentResolutionResponse(resolution))
}

func requireStaff(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if !identity.IsStaff() {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "request body too large", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
	}
}

func writeAdjustmentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrAdjustmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAdjustmentInvalidQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAdjustmentInvalidStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAdjustmentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "request belongs to another customer", http.StatusForbidden))
	case errors.Is(err, services.ErrAdjustmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("adjustment_not_found", "adjustment request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAdjustmentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("adjustment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrAdjustmentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("adjustment_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("adjustment_error", "failed to process adjustment request", http.StatusInternalServerError))
	}
}

func toAdjustmentResponse(request domain.AdjustmentRequest) adjustmentResponse {
	resp := adjustmentResponse{
		ID:         request.ID,
		Kind:       string(request.Kind),
		OrderID:    request.OrderID,
		CustomerID: request.CustomerID,
		Status:     string(request.Status),
		Reason:     request.Reason,
		Notes:      request.Notes,
		Items:      make([]adjustmentItemResponse, 0, len(request.Items)),
		CouponCode: request.CouponCode,
		ReceivedAt: formatTimePointer(request.ReceivedAt),
		CreatedAt:  formatTime(request.CreatedAt),
		UpdatedAt:  formatTime(request.UpdatedAt),
	}
	for _, item := range request.Items {
		resp.Items = append(resp.Items, adjustmentItemResponse{
			ID:           item.ID,
			SourceItemID: item.SourceItemID,
			ProductID:    item.ProductRef,
			Quantity:     item.Quantity,
			Reason:       item.Reason,
		})
	}
	return resp
}

func toAdjustmentResolutionResponse(resolution domain.AdjustmentResolution) adjustmentResolutionResponse {
	resp := adjustmentResolutionResponse{
		Request: toAdjustmentResponse(resolution.Request),
		Order: orderSummaryResponse{
			ID:            resolution.Order.ID,
			Total:         resolution.Order.Total,
			Status:        string(resolution.Order.Status),
			PaymentStatus: string(resolution.Order.PaymentStatus),
		},
	}
	if resolution.Coupon != nil {
		coupon := toCouponResponse(*resolution.Coupon)
		resp.Coupon = &coupon
	}
	return resp
}
