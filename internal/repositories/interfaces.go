package repositories

import (
	"context"
	"time"

	domain "github.com/vitrola-discos/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository reads order documents. Line items are embedded in the order
// document; the status flip at the end of an adjustment happens inside the
// adjustment completion transaction, not through this interface.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// ProductRepository owns catalog records and their stock ledger. Stock
// mutations are transactional read-modify-writes; DecreaseStock floors at
// zero and deactivates an active product that lands exactly on zero.
type ProductRepository interface {
	FindByID(ctx context.Context, productRef string) (domain.Product, error)
	IncreaseStock(ctx context.Context, productRef string, quantity int, at time.Time) (domain.StockAdjustment, error)
	DecreaseStock(ctx context.Context, productRef string, quantity int, reason string, at time.Time) (domain.StockAdjustment, error)
}

// AdjustmentCreate carries a validated request plus the per-source-line
// quantity ceilings the transaction re-checks against recorded claims.
type AdjustmentCreate struct {
	Request domain.AdjustmentRequest
	Limits  map[string]int
}

// AdjustmentStatusUpdate mutates a request's status inside one transaction.
// AppendNote is joined onto the existing note log. StampReceivedAt sets
// ReceivedAt when it is not already set. ReleaseClaims returns the request's
// claimed quantities to the order's claim ledger.
type AdjustmentStatusUpdate struct {
	Status          domain.AdjustmentStatus
	AppendNote      string
	StampReceivedAt bool
	ReleaseClaims   bool
	UpdatedAt       time.Time
}

// AdjustmentComplete drives the terminal transition: restock every item,
// optionally persist a pre-valued coupon, mark the request completed and the
// source order returned. ExpectedStatus gates the whole transaction.
// StampReceivedAt refreshes ReceivedAt to the completion time.
type AdjustmentComplete struct {
	RequestID       string
	Kind            domain.AdjustmentKind
	ExpectedStatus  domain.AdjustmentStatus
	Coupon          *domain.Coupon
	StampReceivedAt bool
	CompletedAt     time.Time
}

// AdjustmentCompleteResult reports what the terminal transaction committed.
type AdjustmentCompleteResult struct {
	Request domain.AdjustmentRequest
	Order   domain.OrderSummary
	Coupon  *domain.Coupon
	Stock   []domain.StockAdjustment
}

// AdjustmentRepository persists exchange and return requests with their
// items embedded, plus the per-order claim ledger that caps cumulative
// requested quantities across sibling requests.
type AdjustmentRepository interface {
	// Create persists the request with its items and records their claims in
	// a single transaction. It fails with AdjustmentErrorOverClaimed when any
	// item would push a source line past its ceiling.
	Create(ctx context.Context, req AdjustmentCreate) (domain.AdjustmentRequest, error)
	FindByID(ctx context.Context, kind domain.AdjustmentKind, requestID string) (domain.AdjustmentRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.AdjustmentRequest, error)
	UpdateStatus(ctx context.Context, kind domain.AdjustmentKind, requestID string, update AdjustmentStatusUpdate) (domain.AdjustmentRequest, error)
	Complete(ctx context.Context, req AdjustmentComplete) (AdjustmentCompleteResult, error)
}

// CouponRepository reads minted coupons and flips their used flag. Coupons
// are created exclusively by the adjustment completion transaction.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// MarkUsed flips used false→true; it fails with CouponErrorAlreadyUsed
	// when the coupon was redeemed before.
	MarkUsed(ctx context.Context, code string, usedAt time.Time) (domain.Coupon, error)
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
