package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/vitrola-discos/api/internal/domain"
	"github.com/vitrola-discos/api/internal/repositories"
)

const couponEventRedeemed = "coupon.redeemed"

// Customer-facing validation reasons, worded for the storefront.
const (
	couponReasonNotFound      = "Cupom não encontrado"
	couponReasonAlreadyUsed   = "Cupom já foi utilizado"
	couponReasonOwnerMismatch = "Cupom pertence a outro cliente"
)

var (
	// ErrCouponInvalidInput signals the caller provided invalid data.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates no coupon exists under the code.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponAlreadyUsed indicates a second redemption of a single-use coupon.
	ErrCouponAlreadyUsed = errors.New("coupon: already used")
)

// CouponEventPublisher publishes coupon lifecycle events for downstream consumers.
type CouponEventPublisher interface {
	PublishCouponEvent(ctx context.Context, event CouponEvent) error
}

// CouponEvent captures metadata for emitted coupon domain events.
type CouponEvent struct {
	Type       string
	Code       string
	RequestID  string
	CustomerID string
	Value      int64
	OccurredAt time.Time
}

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Events  CouponEventPublisher
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
	events  CouponEventPublisher
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		coupons: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// Mint values a fresh single-use coupon for the request's customer. The
// caller is responsible for persisting it exactly once; the adjustment
// workflow guarantees single-call by gating on request status.
func (s *couponService) Mint(requestID, customerID string, value int64) Coupon {
	now := s.clock()
	if value < 0 {
		value = 0
	}
	return domain.Coupon{
		Code:       couponCode(requestID, now),
		RequestID:  strings.TrimSpace(requestID),
		CustomerID: strings.TrimSpace(customerID),
		Value:      value,
		Used:       false,
		IssuedAt:   now,
	}
}

// Validate reports whether the code is redeemable without mutating it. When
// a customer id is supplied, a coupon owned by someone else is invalid.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return CouponValidation{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) && couponErr.Code == repositories.CouponErrorNotFound {
			return CouponValidation{Valid: false, Reason: couponReasonNotFound}, nil
		}
		return CouponValidation{}, s.mapRepositoryError(err)
	}

	if coupon.Used {
		return CouponValidation{Valid: false, Reason: couponReasonAlreadyUsed}, nil
	}
	if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" && coupon.CustomerID != customerID {
		return CouponValidation{Valid: false, Reason: couponReasonOwnerMismatch}, nil
	}
	return CouponValidation{Valid: true, Coupon: &coupon}, nil
}

// Redeem flips the coupon's used flag exactly once.
func (s *couponService) Redeem(ctx context.Context, cmd RedeemCouponCommand) (Coupon, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	now := s.clock()
	coupon, err := s.coupons.MarkUsed(ctx, code, now)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}

	if s.events != nil {
		event := CouponEvent{
			Type:       couponEventRedeemed,
			Code:       coupon.Code,
			RequestID:  coupon.RequestID,
			CustomerID: coupon.CustomerID,
			Value:      coupon.Value,
			OccurredAt: now,
		}
		if err := s.events.PublishCouponEvent(ctx, event); err != nil {
			s.logger(ctx, "coupon.event.publish.failed", map[string]any{
				"type":  event.Type,
				"code":  event.Code,
				"error": err.Error(),
			})
		}
	}
	return coupon, nil
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		switch couponErr.Code {
		case repositories.CouponErrorNotFound:
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repositories.CouponErrorAlreadyUsed:
			return fmt.Errorf("%w: %v", ErrCouponAlreadyUsed, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("coupon: repository unavailable: %w", err)
		}
	}

	return err
}

// couponCode builds the store-credit code issued on exchange completion:
// EXCH plus the request id, then the mint timestamp in upper-case base36.
func couponCode(requestID string, now time.Time) string {
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return fmt.Sprintf("EXCH%s-%s", strings.TrimSpace(requestID), stamp)
}
