package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vitrola-discos/api/internal/domain"
	"github.com/vitrola-discos/api/internal/repositories"
)

const (
	adjustmentEventCreated       = "adjustment.created"
	adjustmentEventStatusChanged = "adjustment.status.changed"
	adjustmentEventCompleted     = "adjustment.completed"
	adjustmentEventCouponIssued  = "coupon.issued"

	exchangeIDPrefix       = "exc_"
	returnIDPrefix         = "ret_"
	adjustmentItemIDPrefix = "adi_"
)

var (
	// ErrAdjustmentInvalidInput signals the caller provided invalid data.
	ErrAdjustmentInvalidInput = errors.New("adjustment: invalid input")
	// ErrAdjustmentNotFound indicates the request, order, or source line could not be located.
	ErrAdjustmentNotFound = errors.New("adjustment: not found")
	// ErrAdjustmentForbidden indicates the caller does not own the order or request.
	ErrAdjustmentForbidden = errors.New("adjustment: forbidden")
	// ErrAdjustmentInvalidState indicates the order or request status forbids the operation.
	ErrAdjustmentInvalidState = errors.New("adjustment: invalid state")
	// ErrAdjustmentInvalidQuantity indicates a requested quantity exceeds what remains claimable.
	ErrAdjustmentInvalidQuantity = errors.New("adjustment: invalid quantity")
	// ErrAdjustmentInvalidStatus indicates a target status outside the variant's allowed set.
	ErrAdjustmentInvalidStatus = errors.New("adjustment: invalid status")
	// ErrAdjustmentConflict indicates duplicate creation or a concurrent conflicting write.
	ErrAdjustmentConflict = errors.New("adjustment: conflict")
)

// adjustmentPolicy captures how one request variant diverges from the shared
// workflow: which order statuses make an order eligible, which request
// statuses staff may set, where the terminal transition starts, and whether
// completion mints a coupon.
type adjustmentPolicy struct {
	kind              domain.AdjustmentKind
	idPrefix          string
	eligibleOrder     []domain.OrderStatus
	allowedStatuses   []domain.AdjustmentStatus
	terminalFrom      domain.AdjustmentStatus
	mintsCoupon       bool
	autoPromote       map[domain.AdjustmentStatus]domain.AdjustmentStatus
	stampReceivedOn   map[domain.AdjustmentStatus]bool
	stampOnCompletion bool
}

var exchangePolicy = adjustmentPolicy{
	kind:          domain.AdjustmentKindExchange,
	idPrefix:      exchangeIDPrefix,
	eligibleOrder: []domain.OrderStatus{domain.OrderStatusDelivered},
	allowedStatuses: []domain.AdjustmentStatus{
		domain.AdjustmentStatusPending,
		domain.AdjustmentStatusApproved,
		domain.AdjustmentStatusDenied,
		domain.AdjustmentStatusInProgress,
		domain.AdjustmentStatusProcessing,
		domain.AdjustmentStatusCompleted,
		domain.AdjustmentStatusCanceled,
	},
	terminalFrom: domain.AdjustmentStatusInProgress,
	mintsCoupon:  true,
	// Approval alone does not complete an exchange: the customer still has
	// to ship the item back, so approved is promoted straight to in_progress.
	autoPromote: map[domain.AdjustmentStatus]domain.AdjustmentStatus{
		domain.AdjustmentStatusApproved: domain.AdjustmentStatusInProgress,
	},
}

var returnPolicy = adjustmentPolicy{
	kind:     domain.AdjustmentKindReturn,
	idPrefix: returnIDPrefix,
	eligibleOrder: []domain.OrderStatus{
		domain.OrderStatusApproved,
		domain.OrderStatusInTransit,
		domain.OrderStatusDelivered,
	},
	allowedStatuses: []domain.AdjustmentStatus{
		domain.AdjustmentStatusPending,
		domain.AdjustmentStatusApproved,
		domain.AdjustmentStatusDenied,
		domain.AdjustmentStatusReceived,
		domain.AdjustmentStatusProcessing,
		domain.AdjustmentStatusCompleted,
		domain.AdjustmentStatusCanceled,
	},
	terminalFrom: domain.AdjustmentStatusApproved,
	mintsCoupon:  false,
	stampReceivedOn: map[domain.AdjustmentStatus]bool{
		domain.AdjustmentStatusReceived: true,
	},
	stampOnCompletion: true,
}

// statuses whose transition returns the request's claims to the order ledger.
var claimReleasingStatuses = map[domain.AdjustmentStatus]bool{
	domain.AdjustmentStatusDenied:   true,
	domain.AdjustmentStatusCanceled: true,
}

// AdjustmentEventPublisher publishes adjustment domain events for downstream consumers.
type AdjustmentEventPublisher interface {
	PublishAdjustmentEvent(ctx context.Context, event AdjustmentEvent) error
}

// AdjustmentEvent captures metadata for emitted adjustment domain events.
type AdjustmentEvent struct {
	Type          string
	RequestID     string
	Kind          domain.AdjustmentKind
	OrderID       string
	CustomerID    string
	CurrentStatus string
	ActorID       string
	OccurredAt    time.Time
	Metadata      map[string]any
}

// AdjustmentServiceDeps bundles collaborators required to construct an adjustment service.
type AdjustmentServiceDeps struct {
	Adjustments repositories.AdjustmentRepository
	Orders      repositories.OrderRepository
	Coupons     CouponIssuer
	Clock       func() time.Time
	IDGenerator func() string
	Events      AdjustmentEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type adjustmentService struct {
	policy      adjustmentPolicy
	adjustments repositories.AdjustmentRepository
	orders      repositories.OrderRepository
	coupons     CouponIssuer
	clock       func() time.Time
	newID       func() string
	events      AdjustmentEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewExchangeService builds the adjustment service handling exchange requests.
func NewExchangeService(deps AdjustmentServiceDeps) (AdjustmentService, error) {
	return newAdjustmentService(exchangePolicy, deps)
}

// NewReturnService builds the adjustment service handling return requests.
func NewReturnService(deps AdjustmentServiceDeps) (AdjustmentService, error) {
	return newAdjustmentService(returnPolicy, deps)
}

func newAdjustmentService(policy adjustmentPolicy, deps AdjustmentServiceDeps) (AdjustmentService, error) {
	if deps.Adjustments == nil {
		return nil, errors.New("adjustment service: adjustment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("adjustment service: order repository is required")
	}
	if policy.mintsCoupon && deps.Coupons == nil {
		return nil, errors.New("adjustment service: coupon issuer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &adjustmentService{
		policy:      policy,
		adjustments: deps.Adjustments,
		orders:      deps.Orders,
		coupons:     deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *adjustmentService) CreateRequest(ctx context.Context, cmd CreateAdjustmentCommand) (AdjustmentRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return AdjustmentRequest{}, fmt.Errorf("%w: order id is required", ErrAdjustmentInvalidInput)
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return AdjustmentRequest{}, fmt.Errorf("%w: customer id is required", ErrAdjustmentInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return AdjustmentRequest{}, fmt.Errorf("%w: at least one item is required", ErrAdjustmentInvalidInput)
	}
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return AdjustmentRequest{}, fmt.Errorf("%w: item quantity must be greater than zero", ErrAdjustmentInvalidInput)
		}
		if strings.TrimSpace(item.SourceItemID) == "" && strings.TrimSpace(item.ProductRef) == "" {
			return AdjustmentRequest{}, fmt.Errorf("%w: each item needs a source item id or a product id", ErrAdjustmentInvalidInput)
		}
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return AdjustmentRequest{}, s.mapRepositoryError(err)
	}
	if order.CustomerID != customerID {
		return AdjustmentRequest{}, fmt.Errorf("%w: order %s belongs to another customer", ErrAdjustmentForbidden, orderID)
	}
	if !s.orderEligible(order.Status) {
		return AdjustmentRequest{}, fmt.Errorf("%w: order %s is %s, %s requests require %s",
			ErrAdjustmentInvalidState, orderID, order.Status, s.policy.kind, joinOrderStatuses(s.policy.eligibleOrder))
	}

	now := s.now()
	items := make([]domain.AdjustmentItem, 0, len(cmd.Items))
	limits := make(map[string]int, len(cmd.Items))
	requested := make(map[string]int, len(cmd.Items))
	requestID := s.policy.idPrefix + s.newID()
	for _, item := range cmd.Items {
		source, err := resolveSourceItem(order, item)
		if err != nil {
			return AdjustmentRequest{}, err
		}
		// Sum per source line: two items naming the same line must not claim
		// more together than the line sold.
		requested[source.ID] += item.Quantity
		if requested[source.ID] > source.Quantity {
			return AdjustmentRequest{}, fmt.Errorf("%w: requested %d of item %s, only %d sold",
				ErrAdjustmentInvalidQuantity, requested[source.ID], source.ID, source.Quantity)
		}
		items = append(items, domain.AdjustmentItem{
			ID:           adjustmentItemIDPrefix + s.newID(),
			RequestID:    requestID,
			SourceItemID: source.ID,
			ProductRef:   source.ProductRef,
			Quantity:     item.Quantity,
			Reason:       strings.TrimSpace(item.Reason),
		})
		limits[source.ID] = source.Quantity
	}

	request := domain.AdjustmentRequest{
		ID:         requestID,
		Kind:       s.policy.kind,
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     domain.AdjustmentStatusPending,
		Reason:     strings.TrimSpace(cmd.Reason),
		Notes:      strings.TrimSpace(cmd.Notes),
		Items:      items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.adjustments.Create(ctx, repositories.AdjustmentCreate{
		Request: request,
		Limits:  limits,
	})
	if err != nil {
		return AdjustmentRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, AdjustmentEvent{
		Type:          adjustmentEventCreated,
		RequestID:     created.ID,
		Kind:          created.Kind,
		OrderID:       created.OrderID,
		CustomerID:    created.CustomerID,
		CurrentStatus: string(created.Status),
		ActorID:       customerID,
		OccurredAt:    now,
	})
	return created, nil
}

func (s *adjustmentService) GetRequest(ctx context.Context, cmd GetAdjustmentCommand) (AdjustmentRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return AdjustmentRequest{}, fmt.Errorf("%w: request id is required", ErrAdjustmentInvalidInput)
	}

	request, err := s.adjustments.FindByID(ctx, s.policy.kind, requestID)
	if err != nil {
		return AdjustmentRequest{}, s.mapRepositoryError(err)
	}
	if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" && request.CustomerID != customerID {
		return AdjustmentRequest{}, fmt.Errorf("%w: request %s belongs to another customer", ErrAdjustmentForbidden, requestID)
	}
	return request, nil
}

func (s *adjustmentService) ListOrderAdjustments(ctx context.Context, cmd ListAdjustmentsCommand) ([]AdjustmentRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrAdjustmentInvalidInput)
	}

	if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, s.mapRepositoryError(err)
		}
		if order.CustomerID != customerID {
			return nil, fmt.Errorf("%w: order %s belongs to another customer", ErrAdjustmentForbidden, orderID)
		}
	}

	requests, err := s.adjustments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return requests, nil
}

func (s *adjustmentService) UpdateStatus(ctx context.Context, cmd AdjustmentStatusCommand) (AdjustmentRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return AdjustmentRequest{}, fmt.Errorf("%w: request id is required", ErrAdjustmentInvalidInput)
	}
	if !s.statusAllowed(cmd.Status) {
		return AdjustmentRequest{}, fmt.Errorf("%w: %q is not a valid %s status", ErrAdjustmentInvalidStatus, cmd.Status, s.policy.kind)
	}

	target := cmd.Status
	if promoted, ok := s.policy.autoPromote[target]; ok {
		target = promoted
	}

	now := s.now()
	updated, err := s.adjustments.UpdateStatus(ctx, s.policy.kind, requestID, repositories.AdjustmentStatusUpdate{
		Status:          target,
		AppendNote:      strings.TrimSpace(cmd.Note),
		StampReceivedAt: s.policy.stampReceivedOn[target],
		ReleaseClaims:   claimReleasingStatuses[target],
		UpdatedAt:       now,
	})
	if err != nil {
		return AdjustmentRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, AdjustmentEvent{
		Type:          adjustmentEventStatusChanged,
		RequestID:     updated.ID,
		Kind:          updated.Kind,
		OrderID:       updated.OrderID,
		CustomerID:    updated.CustomerID,
		CurrentStatus: string(updated.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
	})
	return updated, nil
}

func (s *adjustmentService) ConfirmReceived(ctx context.Context, cmd ConfirmReceivedCommand) (AdjustmentResolution, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return AdjustmentResolution{}, fmt.Errorf("%w: request id is required", ErrAdjustmentInvalidInput)
	}

	request, err := s.adjustments.FindByID(ctx, s.policy.kind, requestID)
	if err != nil {
		return AdjustmentResolution{}, s.mapRepositoryError(err)
	}
	if request.Status != s.policy.terminalFrom {
		return AdjustmentResolution{}, fmt.Errorf("%w: request %s is %s, confirmation requires %s",
			ErrAdjustmentInvalidState, requestID, request.Status, s.policy.terminalFrom)
	}

	now := s.now()
	var coupon *domain.Coupon
	if s.policy.mintsCoupon {
		order, err := s.orders.FindByID(ctx, request.OrderID)
		if err != nil {
			return AdjustmentResolution{}, s.mapRepositoryError(err)
		}
		minted := s.coupons.Mint(request.ID, request.CustomerID, s.couponValue(ctx, order))
		coupon = &minted
	}

	result, err := s.adjustments.Complete(ctx, repositories.AdjustmentComplete{
		RequestID:       requestID,
		Kind:            s.policy.kind,
		ExpectedStatus:  s.policy.terminalFrom,
		Coupon:          coupon,
		StampReceivedAt: s.policy.stampOnCompletion,
		CompletedAt:     now,
	})
	if err != nil {
		return AdjustmentResolution{}, s.mapRepositoryError(err)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	s.publishEvent(ctx, AdjustmentEvent{
		Type:          adjustmentEventCompleted,
		RequestID:     result.Request.ID,
		Kind:          result.Request.Kind,
		OrderID:       result.Request.OrderID,
		CustomerID:    result.Request.CustomerID,
		CurrentStatus: string(result.Request.Status),
		ActorID:       actor,
		OccurredAt:    now,
		Metadata:      stockMetadata(result.Stock),
	})
	if result.Coupon != nil {
		s.publishEvent(ctx, AdjustmentEvent{
			Type:          adjustmentEventCouponIssued,
			RequestID:     result.Request.ID,
			Kind:          result.Request.Kind,
			OrderID:       result.Request.OrderID,
			CustomerID:    result.Request.CustomerID,
			CurrentStatus: string(result.Request.Status),
			ActorID:       actor,
			OccurredAt:    now,
			Metadata: map[string]any{
				"couponCode":  result.Coupon.Code,
				"couponValue": result.Coupon.Value,
			},
		})
	}

	return AdjustmentResolution{
		Request: result.Request,
		Order:   result.Order,
		Coupon:  result.Coupon,
	}, nil
}

// couponValue recomputes the refundable amount from the source order's own
// line items rather than the request's. A negative result is clamped to zero
// and logged; it never aborts the completion.
func (s *adjustmentService) couponValue(ctx context.Context, order domain.Order) int64 {
	var subtotal int64
	for _, item := range order.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	value := subtotal - order.Totals.Discount
	if value < 0 {
		s.logger(ctx, "adjustment.coupon.value.clamped", map[string]any{
			"order":    order.ID,
			"subtotal": subtotal,
			"discount": order.Totals.Discount,
			"computed": value,
		})
		return 0
	}
	return value
}

func (s *adjustmentService) orderEligible(status domain.OrderStatus) bool {
	for _, eligible := range s.policy.eligibleOrder {
		if status == eligible {
			return true
		}
	}
	return false
}

func (s *adjustmentService) statusAllowed(status domain.AdjustmentStatus) bool {
	for _, allowed := range s.policy.allowedStatuses {
		if status == allowed {
			return true
		}
	}
	return false
}

func (s *adjustmentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var adjErr *repositories.AdjustmentError
	if errors.As(err, &adjErr) {
		switch adjErr.Code {
		case repositories.AdjustmentErrorNotFound, repositories.AdjustmentErrorOrderNotFound, repositories.AdjustmentErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrAdjustmentNotFound, err)
		case repositories.AdjustmentErrorOverClaimed:
			return fmt.Errorf("%w: %v", ErrAdjustmentInvalidQuantity, err)
		case repositories.AdjustmentErrorInvalidState:
			return fmt.Errorf("%w: %v", ErrAdjustmentInvalidState, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrAdjustmentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrAdjustmentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("adjustment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *adjustmentService) now() time.Time {
	return s.clock()
}

func (s *adjustmentService) publishEvent(ctx context.Context, event AdjustmentEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishAdjustmentEvent(ctx, event); err != nil {
		s.logger(ctx, "adjustment.event.publish.failed", map[string]any{
			"type":    event.Type,
			"request": event.RequestID,
			"error":   err.Error(),
			"status":  event.CurrentStatus,
		})
	}
}

func resolveSourceItem(order domain.Order, item CreateAdjustmentItem) (domain.OrderLineItem, error) {
	if sourceID := strings.TrimSpace(item.SourceItemID); sourceID != "" {
		for _, line := range order.Items {
			if line.ID == sourceID {
				return line, nil
			}
		}
		return domain.OrderLineItem{}, fmt.Errorf("%w: order %s has no line item %s", ErrAdjustmentNotFound, order.ID, sourceID)
	}

	productRef := strings.TrimSpace(item.ProductRef)
	for _, line := range order.Items {
		if line.ProductRef == productRef {
			return line, nil
		}
	}
	return domain.OrderLineItem{}, fmt.Errorf("%w: order %s has no line for product %s", ErrAdjustmentNotFound, order.ID, productRef)
}

func stockMetadata(adjustments []domain.StockAdjustment) map[string]any {
	if len(adjustments) == 0 {
		return nil
	}
	restocked := make([]map[string]any, 0, len(adjustments))
	for _, adj := range adjustments {
		restocked = append(restocked, map[string]any{
			"product":   adj.ProductRef,
			"delta":     adj.Delta,
			"resulting": adj.Resulting,
		})
	}
	return map[string]any{"restocked": restocked}
}

func joinOrderStatuses(statuses []domain.OrderStatus) string {
	parts := make([]string, len(statuses))
	for i, status := range statuses {
		parts[i] = string(status)
	}
	return strings.Join(parts, ", ")
}
