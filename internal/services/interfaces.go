package services

import (
	"context"

	domain "github.com/vitrola-discos/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order                = domain.Order
	OrderTotals          = domain.OrderTotals
	OrderLineItem        = domain.OrderLineItem
	OrderStatus          = domain.OrderStatus
	OrderSummary         = domain.OrderSummary
	PaymentStatus        = domain.PaymentStatus
	Product              = domain.Product
	AdjustmentKind       = domain.AdjustmentKind
	AdjustmentStatus     = domain.AdjustmentStatus
	AdjustmentRequest    = domain.AdjustmentRequest
	AdjustmentItem       = domain.AdjustmentItem
	AdjustmentResolution = domain.AdjustmentResolution
	Coupon               = domain.Coupon
	CouponValidation     = domain.CouponValidation
	StockAdjustment      = domain.StockAdjustment
	SystemHealthReport   = domain.SystemHealthReport
)

// AdjustmentService drives one post-sale request variant (exchange or
// return) from creation through its terminal transition. The variant's
// eligibility and transition rules come from the policy the service is
// constructed with.
type AdjustmentService interface {
	CreateRequest(ctx context.Context, cmd CreateAdjustmentCommand) (AdjustmentRequest, error)
	GetRequest(ctx context.Context, cmd GetAdjustmentCommand) (AdjustmentRequest, error)
	// ListOrderAdjustments returns every adjustment request opened against
	// the order, across both variants.
	ListOrderAdjustments(ctx context.Context, cmd ListAdjustmentsCommand) ([]AdjustmentRequest, error)
	UpdateStatus(ctx context.Context, cmd AdjustmentStatusCommand) (AdjustmentRequest, error)
	ConfirmReceived(ctx context.Context, cmd ConfirmReceivedCommand) (AdjustmentResolution, error)
}

// CouponIssuer values and mints store-credit coupons. Mint is pure: the
// returned coupon is persisted by the caller's transaction.
type CouponIssuer interface {
	Mint(requestID, customerID string, value int64) Coupon
}

// CouponService exposes the redemption surface for minted coupons.
type CouponService interface {
	CouponIssuer
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error)
	Redeem(ctx context.Context, cmd RedeemCouponCommand) (Coupon, error)
}

// StockService wraps the product stock ledger with event emission. The
// increase path never touches the active flag; the decrease path floors at
// zero and deactivates a product that runs out.
type StockService interface {
	IncreaseStock(ctx context.Context, cmd StockMutationCommand) (StockAdjustment, error)
	DecreaseStock(ctx context.Context, cmd StockMutationCommand) (StockAdjustment, error)
}

// SystemService aggregates utility surfaces such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

// CreateAdjustmentCommand opens a request against an order. Items identify
// source lines by id or, when SourceItemID is empty, by product lookup on
// the order.
type CreateAdjustmentCommand struct {
	OrderID    string
	CustomerID string
	Reason     string
	Notes      string
	Items      []CreateAdjustmentItem
}

type CreateAdjustmentItem struct {
	SourceItemID string
	ProductRef   string
	Quantity     int
	Reason       string
}

// GetAdjustmentCommand fetches a request. CustomerID, when set, enforces
// ownership; staff readers leave it empty.
type GetAdjustmentCommand struct {
	RequestID  string
	CustomerID string
}

type ListAdjustmentsCommand struct {
	OrderID    string
	CustomerID string
}

// AdjustmentStatusCommand applies a staff-driven transition. Note, when
// present, is appended to the request's note log.
type AdjustmentStatusCommand struct {
	RequestID string
	Status    AdjustmentStatus
	Note      string
	ActorID   string
}

// ConfirmReceivedCommand fires the terminal transition for a request.
type ConfirmReceivedCommand struct {
	RequestID string
	ActorID   string
}

type ValidateCouponCommand struct {
	Code       string
	CustomerID string
}

type RedeemCouponCommand struct {
	Code string
}

// StockMutationCommand adjusts a product's stock by a positive quantity.
// Reason is recorded when a decrease deactivates the product.
type StockMutationCommand struct {
	ProductRef string
	Quantity   int
	Reason     string
	ActorID    string
}
