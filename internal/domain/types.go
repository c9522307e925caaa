package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusOpen indicates the order has been placed but not yet reviewed.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusApproved indicates the order passed review and awaits dispatch.
	OrderStatusApproved OrderStatus = "approved"
	// OrderStatusInTransit indicates the order has been handed to the carrier.
	OrderStatusInTransit OrderStatus = "in_transit"
	// OrderStatusDelivered indicates the carrier confirmed delivery to the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusReturned indicates a completed exchange or return closed the order.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusCanceled indicates the order was canceled before dispatch.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusRejected indicates the order failed review.
	OrderStatusRejected OrderStatus = "rejected"
)

// PaymentStatus enumerates settlement states tracked on an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not settled yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates payment settled successfully.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the payment attempt failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the payment was refunded in full.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderTotals holds rolled-up monetary fields in centavos.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Total    int64
}

// Order captures an order header with its line items embedded. Financial
// fields are immutable after creation; only Status is mutated post-sale.
type Order struct {
	ID            string
	OrderNumber   string
	CustomerID    string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Totals        OrderTotals
	Items         []OrderLineItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
}

// OrderLineItem snapshots a catalog entry at the time of purchase. The
// sold quantity is the authoritative ceiling for adjustment claims.
type OrderLineItem struct {
	ID         string
	ProductRef string
	Title      string
	Format     string
	Quantity   int
	UnitPrice  int64
	Total      int64
}

// OrderSummary is the trimmed order projection returned from terminal
// adjustment transitions.
type OrderSummary struct {
	ID            string
	Total         int64
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

// Product represents a catalog record with its stock counters.
type Product struct {
	ID                 string
	SKU                string
	Title              string
	Artist             string
	Format             string
	Price              int64
	Stock              int
	Active             bool
	DeactivationReason *string
	DeactivatedAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AdjustmentKind distinguishes the two post-sale request variants.
type AdjustmentKind string

const (
	// AdjustmentKindExchange is a swap-for-store-credit request; completion mints a coupon.
	AdjustmentKindExchange AdjustmentKind = "exchange"
	// AdjustmentKindReturn is a plain return request; completion never mints a coupon.
	AdjustmentKindReturn AdjustmentKind = "return"
)

// AdjustmentStatus enumerates lifecycle states shared by exchanges and
// returns. Which states a request may enter depends on its kind.
type AdjustmentStatus string

const (
	// AdjustmentStatusPending indicates the request awaits staff review.
	AdjustmentStatusPending AdjustmentStatus = "pending"
	// AdjustmentStatusApproved indicates staff accepted the request.
	AdjustmentStatusApproved AdjustmentStatus = "approved"
	// AdjustmentStatusDenied indicates staff rejected the request.
	AdjustmentStatusDenied AdjustmentStatus = "denied"
	// AdjustmentStatusInProgress indicates an approved exchange awaits the item's return shipment.
	AdjustmentStatusInProgress AdjustmentStatus = "in_progress"
	// AdjustmentStatusReceived indicates a returned parcel arrived at the warehouse.
	AdjustmentStatusReceived AdjustmentStatus = "received"
	// AdjustmentStatusProcessing indicates warehouse inspection is underway.
	AdjustmentStatusProcessing AdjustmentStatus = "processing"
	// AdjustmentStatusCompleted indicates the terminal transition ran to completion.
	AdjustmentStatusCompleted AdjustmentStatus = "completed"
	// AdjustmentStatusCanceled indicates the customer or staff withdrew the request.
	AdjustmentStatusCanceled AdjustmentStatus = "canceled"
)

// AdjustmentRequest is a post-sale case opened against one order. Notes is
// an append-only log joined with newlines. CouponCode is set only on
// completed exchanges; ReceivedAt only on returns.
type AdjustmentRequest struct {
	ID         string
	Kind       AdjustmentKind
	OrderID    string
	CustomerID string
	Status     AdjustmentStatus
	Reason     string
	Notes      string
	Items      []AdjustmentItem
	CouponCode *string
	ReceivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AdjustmentItem claims a quantity against one source order line. Immutable
// after the parent request is created.
type AdjustmentItem struct {
	ID           string
	RequestID    string
	SourceItemID string
	ProductRef   string
	Quantity     int
	Reason       string
}

// AdjustmentResolution bundles the outputs of a terminal transition.
type AdjustmentResolution struct {
	Request AdjustmentRequest
	Order   OrderSummary
	Coupon  *Coupon
}

// Coupon is a single-use store credit minted when an exchange completes.
// Value is in centavos and never negative. Used flips false→true once.
type Coupon struct {
	Code       string
	RequestID  string
	CustomerID string
	Value      int64
	Used       bool
	UsedAt     *time.Time
	IssuedAt   time.Time
}

// CouponValidation reports the outcome of a redemption pre-check without
// mutating the coupon.
type CouponValidation struct {
	Valid  bool
	Coupon *Coupon
	Reason string
}

// OrderClaims tracks, per source line item, the quantity already claimed by
// non-canceled adjustment requests against one order.
type OrderClaims struct {
	OrderID   string
	Claimed   map[string]int
	UpdatedAt time.Time
}

// ClaimedFor returns the quantity already claimed against a source line.
func (c OrderClaims) ClaimedFor(sourceItemID string) int {
	if c.Claimed == nil {
		return 0
	}
	return c.Claimed[sourceItemID]
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// StockAdjustment records a single ledger mutation applied to a product.
type StockAdjustment struct {
	ProductRef  string
	Delta       int
	Resulting   int
	Deactivated bool
}
