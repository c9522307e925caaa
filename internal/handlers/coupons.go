package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/vitrola-discos/api/internal/domain"
	"github.com/vitrola-discos/api/internal/platform/auth"
	"github.com/vitrola-discos/api/internal/platform/httpx"
	"github.com/vitrola-discos/api/internal/services"
)

type couponResponse struct {
	Code       string  `json:"code"`
	RequestID  string  `json:"request_id"`
	CustomerID string  `json:"customer_id"`
	Value      int64   `json:"value"`
	Used       bool    `json:"used"`
	UsedAt     *string `json:"used_at,omitempty"`
	IssuedAt   string  `json:"issued_at"`
}

type couponValidationResponse struct {
	Valid  bool            `json:"valid"`
	Coupon *couponResponse `json:"coupon,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	couponValidateLimit  = 30
	couponValidateWindow = time.Minute
)

// CouponHandlers exposes the store-credit redemption surface.
type CouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
	limiter attemptLimiter
}

// CouponOption customises coupon handler behaviour.
type CouponOption func(*CouponHandlers)

// WithCouponValidateLimit overrides the per-caller throttle applied to
// coupon validation.
func WithCouponValidateLimit(limit int, window time.Duration) CouponOption {
	return func(h *CouponHandlers) {
		h.limiter = newWindowLimiter(limit, window, nil)
	}
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService, opts ...CouponOption) *CouponHandlers {
	h := &CouponHandlers{
		authn:   authn,
		coupons: coupons,
		limiter: newWindowLimiter(couponValidateLimit, couponValidateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /coupons endpoints. Validation is customer facing;
// redemption is reserved for the checkout path driven by staff tooling.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/{code}/validate", h.validateCoupon)
	r.Post("/{code}/redeem", h.redeemCoupon)
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many validation attempts", http.StatusTooManyRequests))
		return
	}

	cmd := services.ValidateCouponCommand{Code: chi.URLParam(r, "code")}
	if !identity.IsStaff() {
		cmd.CustomerID = identity.UID
	}

	validation, err := h.coupons.Validate(ctx, cmd)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toCouponValidationResponse(validation))
}

func (h *CouponHandlers) redeemCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireStaff(ctx, w); !ok {
		return
	}

	coupon, err := h.coupons.Redeem(ctx, services.RedeemCouponCommand{
		Code: chi.URLParam(r, "code"),
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toCouponResponse(coupon))
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponAlreadyUsed):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_already_used", "coupon has already been redeemed", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to process coupon request", http.StatusInternalServerError))
	}
}

func toCouponResponse(coupon domain.Coupon) couponResponse {
	return couponResponse{
		Code:       coupon.Code,
		RequestID:  coupon.RequestID,
		CustomerID: coupon.CustomerID,
		Value:      coupon.Value,
		Used:       coupon.Used,
		UsedAt:     formatTimePointer(coupon.UsedAt),
		IssuedAt:   formatTime(coupon.IssuedAt),
	}
}

func toCouponValidationResponse(validation domain.CouponValidation) couponValidationResponse {
	resp := couponValidationResponse{
		Valid: validation.Valid,
		Error: validation.Reason,
	}
	if validation.Coupon != nil {
		coupon := toCouponResponse(*validation.Coupon)
		resp.Coupon = &coupon
	}
	return resp
}
