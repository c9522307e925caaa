package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/vitrola-discos/api/internal/domain"
	pfirestore "github.com/vitrola-discos/api/internal/platform/firestore"
	"github.com/vitrola-discos/api/internal/repositories"
)

// CouponRepository reads coupons by code (the document id) and flips their
// used flag exactly once.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
}

func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	coupons := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection)
	return &CouponRepository{provider: provider, coupons: coupons}, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon find: code is required")
	}

	doc, err := r.coupons.Get(ctx, code)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", code), err)
		}
		return domain.Coupon{}, wrapCouponError("coupons.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// MarkUsed flips used false→true inside a transaction so concurrent
// redemptions cannot both succeed.
func (r *CouponRepository) MarkUsed(ctx context.Context, code string, usedAt time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon mark used: code is required")
	}

	now := usedAt.UTC()
	var redeemed domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.coupons.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", code), err)
			}
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", code, err)
		}
		if doc.Used {
			return repositories.NewCouponError(repositories.CouponErrorAlreadyUsed, fmt.Sprintf("coupon %s already used", code), nil)
		}
		doc.Used = true
		doc.UsedAt = &now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		redeemed = doc.toDomain(code)
		return nil
	})
	if err != nil {
		return domain.Coupon{}, wrapCouponError("coupons.markUsed", err)
	}
	return redeemed, nil
}

func wrapCouponError(op string, err error) error {
	if err == nil {
		return nil
	}
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		if couponErr.Op == "" {
			couponErr.Op = op
		}
		return couponErr
	}
	return pfirestore.WrapError(op, err)
}
