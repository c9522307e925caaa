package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/vitrola-discos/api/internal/domain"
	pfirestore "github.com/vitrola-discos/api/internal/platform/firestore"
	"github.com/vitrola-discos/api/internal/repositories"
)

const (
	exchangesCollection = "exchanges"
	returnsCollection   = "returns"
	claimsCollection    = "adjustmentClaims"
	couponsCollection   = "coupons"
)

// AdjustmentRepository persists exchange and return requests in separate
// collections sharing one document shape, alongside the per-order claim
// ledger and the coupons minted at completion.
type AdjustmentRepository struct {
	provider  *pfirestore.Provider
	exchanges *pfirestore.BaseRepository[adjustmentDocument]
	returns   *pfirestore.BaseRepository[adjustmentDocument]
	claims    *pfirestore.BaseRepository[claimsDocument]
	orders    *pfirestore.BaseRepository[orderDocument]
	products  *pfirestore.BaseRepository[productDocument]
	coupons   *pfirestore.BaseRepository[couponDocument]
}

func NewAdjustmentRepository(provider *pfirestore.Provider) (*AdjustmentRepository, error) {
	if provider == nil {
		return nil, errors.New("adjustment repository requires firestore provider")
	}
	return &AdjustmentRepository{
		provider:  provider,
		exchanges: pfirestore.NewBaseRepository[adjustmentDocument](provider, exchangesCollection),
		returns:   pfirestore.NewBaseRepository[adjustmentDocument](provider, returnsCollection),
		claims:    pfirestore.NewBaseRepository[claimsDocument](provider, claimsCollection),
		orders:    pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
		products:  pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		coupons:   pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection),
	}, nil
}

func (r *AdjustmentRepository) requestsFor(kind domain.AdjustmentKind) *pfirestore.BaseRepository[adjustmentDocument] {
	if kind == domain.AdjustmentKindReturn {
		return r.returns
	}
	return r.exchanges
}

// Create persists the request with its items and records their claims
// against the order's claim ledger in one transaction.
func (r *AdjustmentRepository) Create(ctx context.Context, req repositories.AdjustmentCreate) (domain.AdjustmentRequest, error) {
	if r == nil || r.provider == nil {
		return domain.AdjustmentRequest{}, errors.New("adjustment repository not initialised")
	}
	request := req.Request
	if strings.TrimSpace(request.ID) == "" {
		return domain.AdjustmentRequest{}, errors.New("adjustment create: request id is required")
	}
	if len(request.Items) == 0 {
		return domain.AdjustmentRequest{}, errors.New("adjustment create: at least one item is required")
	}

	requests := r.requestsFor(request.Kind)
	var created domain.AdjustmentRequest
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimsRef, err := r.claims.DocumentRef(ctx, request.OrderID)
		if err != nil {
			return err
		}
		claims, err := readClaims(tx, claimsRef)
		if err != nil {
			return err
		}

		if err := checkClaimCeilings(request.Items, req.Limits, claims.Claimed); err != nil {
			return err
		}
		for _, item := range request.Items {
			claims.Claimed[item.SourceItemID] += item.Quantity
		}
		claims.OrderRef = request.OrderID
		claims.UpdatedAt = request.CreatedAt.UTC()
		if err := tx.Set(claimsRef, claims); err != nil {
			return err
		}

		reqRef, err := requests.DocumentRef(ctx, request.ID)
		if err != nil {
			return err
		}
		doc := newAdjustmentDocument(request)
		if err := tx.Create(reqRef, doc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewAdjustmentError(repositories.AdjustmentErrorInvalidState, fmt.Sprintf("request %s already exists", request.ID), err)
			}
			return err
		}
		created = doc.toDomain(request.ID)
		return nil
	})
	if err != nil {
		return domain.AdjustmentRequest{}, wrapAdjustmentError("adjustments.create", err)
	}
	return created, nil
}

func (r *AdjustmentRepository) FindByID(ctx context.Context, kind domain.AdjustmentKind, requestID string) (domain.AdjustmentRequest, error) {
	if r == nil || r.provider == nil {
		return domain.AdjustmentRequest{}, errors.New("adjustment repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.AdjustmentRequest{}, errors.New("adjustment find: id is required")
	}

	doc, err := r.requestsFor(kind).Get(ctx, requestID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.AdjustmentRequest{}, repositories.NewAdjustmentError(repositories.AdjustmentErrorNotFound, fmt.Sprintf("request %s not found", requestID), err)
		}
		return domain.AdjustmentRequest{}, wrapAdjustmentError("adjustments.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *AdjustmentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.AdjustmentRequest, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("adjustment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("adjustment list: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapAdjustmentError("adjustments.listByOrder", err)
	}

	var requests []domain.AdjustmentRequest
	for _, collection := range []string{exchangesCollection, returnsCollection} {
		iter := client.Collection(collection).Where("orderRef", "==", orderID).Documents(ctx)
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, wrapAdjustmentError("adjustments.listByOrder", err)
			}
			var doc adjustmentDocument
			if err := snap.DataTo(&doc); err != nil {
				iter.Stop()
				return nil, fmt.Errorf("decode adjustment %s: %w", snap.Ref.ID, err)
			}
			requests = append(requests, doc.toDomain(snap.Ref.ID))
		}
		iter.Stop()
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
	return requests, nil
}

// UpdateStatus runs a read-modify-write on the request document: append to
// the note log, set the status, stamp ReceivedAt first time only, and
// release the request's claims back to the order ledger at most once.
func (r *AdjustmentRepository) UpdateStatus(ctx context.Context, kind domain.AdjustmentKind, requestID string, update repositories.AdjustmentStatusUpdate) (domain.AdjustmentRequest, error) {
	if r == nil || r.provider == nil {
		return domain.AdjustmentRequest{}, errors.New("adjustment repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.AdjustmentRequest{}, errors.New("adjustment update status: id is required")
	}

	now := update.UpdatedAt.UTC()
	requests := r.requestsFor(kind)
	var updated domain.AdjustmentRequest
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		reqRef, err := requests.DocumentRef(ctx, requestID)
		if err != nil {
			return err
		}
		doc, err := getAdjustment(tx, reqRef, requestID)
		if err != nil {
			return err
		}

		releaseClaims := update.ReleaseClaims && !doc.ClaimsReleased
		var (
			claimsRef *firestore.DocumentRef
			claims    claimsDocument
		)
		if releaseClaims {
			claimsRef, err = r.claims.DocumentRef(ctx, doc.OrderRef)
			if err != nil {
				return err
			}
			claims, err = readClaims(tx, claimsRef)
			if err != nil {
				return err
			}
		}

		doc.Status = string(update.Status)
		doc.Notes = appendNote(doc.Notes, update.AppendNote)
		doc.UpdatedAt = now
		if update.StampReceivedAt && doc.ReceivedAt == nil {
			doc.ReceivedAt = &now
		}
		if releaseClaims {
			for _, item := range doc.Items {
				remaining := claims.Claimed[item.SourceItemRef] - item.Quantity
				if remaining <= 0 {
					delete(claims.Claimed, item.SourceItemRef)
				} else {
					claims.Claimed[item.SourceItemRef] = remaining
				}
			}
			claims.UpdatedAt = now
			if err := tx.Set(claimsRef, claims); err != nil {
				return err
			}
			doc.ClaimsReleased = true
		}
		if err := tx.Set(reqRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(requestID)
		return nil
	})
	if err != nil {
		return domain.AdjustmentRequest{}, wrapAdjustmentError("adjustments.updateStatus", err)
	}
	return updated, nil
}

// Complete runs the terminal transition in one transaction: gate on the
// expected request status, restock every item's product, persist the
// pre-valued coupon when present, mark the request completed and the source
// order returned. Restocking never reactivates a deactivated product.
func (r *AdjustmentRepository) Complete(ctx context.Context, req repositories.AdjustmentComplete) (repositories.AdjustmentCompleteResult, error) {
	if r == nil || r.provider == nil {
		return repositories.AdjustmentCompleteResult{}, errors.New("adjustment repository not initialised")
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return repositories.AdjustmentCompleteResult{}, errors.New("adjustment complete: request id is required")
	}

	now := req.CompletedAt.UTC()
	requests := r.requestsFor(req.Kind)
	var result repositories.AdjustmentCompleteResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		reqRef, err := requests.DocumentRef(ctx, requestID)
		if err != nil {
			return err
		}
		doc, err := getAdjustment(tx, reqRef, requestID)
		if err != nil {
			return err
		}
		if doc.Status != string(req.ExpectedStatus) {
			return repositories.NewAdjustmentError(repositories.AdjustmentErrorInvalidState,
				fmt.Sprintf("request %s is %s, expected %s", requestID, doc.Status, req.ExpectedStatus), nil)
		}

		orderRef, err := r.orders.DocumentRef(ctx, doc.OrderRef)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewAdjustmentError(repositories.AdjustmentErrorOrderNotFound, fmt.Sprintf("order %s not found", doc.OrderRef), err)
			}
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("decode order %s: %w", doc.OrderRef, err)
		}

		// All reads happen before the first write per Firestore transaction rules.
		restock := aggregateQuantities(doc.Items)
		productRefs := make([]string, 0, len(restock))
		for productID := range restock {
			productRefs = append(productRefs, productID)
		}
		sort.Strings(productRefs)

		type productRead struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		reads := make(map[string]productRead, len(productRefs))
		for _, productID := range productRefs {
			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewAdjustmentError(repositories.AdjustmentErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var pd productDocument
			if err := snap.DataTo(&pd); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			reads[productID] = productRead{ref: ref, doc: pd}
		}

		stock := make([]domain.StockAdjustment, 0, len(productRefs))
		for _, productID := range productRefs {
			read := reads[productID]
			read.doc.Stock += restock[productID]
			read.doc.UpdatedAt = now
			if err := tx.Set(read.ref, read.doc); err != nil {
				return err
			}
			stock = append(stock, domain.StockAdjustment{
				ProductRef: productID,
				Delta:      restock[productID],
				Resulting:  read.doc.Stock,
			})
		}

		var coupon *domain.Coupon
		if req.Coupon != nil {
			couponRef, err := r.coupons.DocumentRef(ctx, req.Coupon.Code)
			if err != nil {
				return err
			}
			couponDoc := newCouponDocument(*req.Coupon)
			if err := tx.Create(couponRef, couponDoc); err != nil {
				if status.Code(err) == codes.AlreadyExists {
					return repositories.NewAdjustmentError(repositories.AdjustmentErrorInvalidState, fmt.Sprintf("coupon %s already exists", req.Coupon.Code), err)
				}
				return err
			}
			minted := couponDoc.toDomain(req.Coupon.Code)
			coupon = &minted
			doc.CouponCode = req.Coupon.Code
		}

		stampCompletion(&doc, req.StampReceivedAt, now)
		if err := tx.Set(reqRef, doc); err != nil {
			return err
		}

		orderDoc.Status = string(domain.OrderStatusReturned)
		orderDoc.UpdatedAt = now
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		result = repositories.AdjustmentCompleteResult{
			Request: doc.toDomain(requestID),
			Order: domain.OrderSummary{
				ID:            doc.OrderRef,
				Total:         orderDoc.Total,
				Status:        domain.OrderStatus(orderDoc.Status),
				PaymentStatus: domain.PaymentStatus(orderDoc.PaymentStatus),
			},
			Coupon: coupon,
			Stock:  stock,
		}
		return nil
	})
	if err != nil {
		return repositories.AdjustmentCompleteResult{}, wrapAdjustmentError("adjustments.complete", err)
	}
	return result, nil
}

// Helper structures ---------------------------------------------------------

type adjustmentDocument struct {
	Kind           string                   `firestore:"kind"`
	OrderRef       string                   `firestore:"orderRef"`
	CustomerRef    string                   `firestore:"customerRef"`
	Status         string                   `firestore:"status"`
	Reason         string                   `firestore:"reason"`
	Notes          string                   `firestore:"notes,omitempty"`
	Items          []adjustmentItemDocument `firestore:"items"`
	CouponCode     string                   `firestore:"couponCode,omitempty"`
	ClaimsReleased bool                     `firestore:"claimsReleased"`
	ReceivedAt     *time.Time               `firestore:"receivedAt,omitempty"`
	CreatedAt      time.Time                `firestore:"createdAt"`
	UpdatedAt      time.Time                `firestore:"updatedAt"`
}

type adjustmentItemDocument struct {
	ID            string `firestore:"id"`
	SourceItemRef string `firestore:"sourceItemRef"`
	ProductRef    string `firestore:"productRef"`
	Quantity      int    `firestore:"qty"`
	Reason        string `firestore:"reason,omitempty"`
}

func newAdjustmentDocument(req domain.AdjustmentRequest) adjustmentDocument {
	items := make([]adjustmentItemDocument, len(req.Items))
	for i, item := range req.Items {
		items[i] = adjustmentItemDocument{
			ID:            strings.TrimSpace(item.ID),
			SourceItemRef: strings.TrimSpace(item.SourceItemID),
			ProductRef:    strings.TrimSpace(item.ProductRef),
			Quantity:      item.Quantity,
			Reason:        strings.TrimSpace(item.Reason),
		}
	}
	var couponCode string
	if req.CouponCode != nil {
		couponCode = *req.CouponCode
	}
	return adjustmentDocument{
		Kind:        string(req.Kind),
		OrderRef:    strings.TrimSpace(req.OrderID),
		CustomerRef: strings.TrimSpace(req.CustomerID),
		Status:      string(req.Status),
		Reason:      strings.TrimSpace(req.Reason),
		Notes:       req.Notes,
		Items:       items,
		CouponCode:  couponCode,
		ReceivedAt:  req.ReceivedAt,
		CreatedAt:   req.CreatedAt.UTC(),
		UpdatedAt:   req.UpdatedAt.UTC(),
	}
}

func (d adjustmentDocument) toDomain(id string) domain.AdjustmentRequest {
	items := make([]domain.AdjustmentItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.AdjustmentItem{
			ID:           item.ID,
			RequestID:    id,
			SourceItemID: item.SourceItemRef,
			ProductRef:   item.ProductRef,
			Quantity:     item.Quantity,
			Reason:       item.Reason,
		}
	}
	var couponCode *string
	if trimmed := strings.TrimSpace(d.CouponCode); trimmed != "" {
		couponCode = &trimmed
	}
	return domain.AdjustmentRequest{
		ID:         id,
		Kind:       domain.AdjustmentKind(d.Kind),
		OrderID:    d.OrderRef,
		CustomerID: d.CustomerRef,
		Status:     domain.AdjustmentStatus(d.Status),
		Reason:     d.Reason,
		Notes:      d.Notes,
		Items:      items,
		CouponCode: couponCode,
		ReceivedAt: d.ReceivedAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type claimsDocument struct {
	OrderRef  string         `firestore:"orderRef"`
	Claimed   map[string]int `firestore:"claimed"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

func readClaims(tx *firestore.Transaction, ref *firestore.DocumentRef) (claimsDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return claimsDocument{Claimed: map[string]int{}}, nil
		}
		return claimsDocument{}, err
	}
	var doc claimsDocument
	if err := snap.DataTo(&doc); err != nil {
		return claimsDocument{}, fmt.Errorf("decode claims %s: %w", ref.ID, err)
	}
	if doc.Claimed == nil {
		doc.Claimed = map[string]int{}
	}
	return doc, nil
}

type couponDocument struct {
	RequestRef  string     `firestore:"requestRef"`
	CustomerRef string     `firestore:"customerRef"`
	Value       int64      `firestore:"value"`
	Used        bool       `firestore:"used"`
	UsedAt      *time.Time `firestore:"usedAt,omitempty"`
	IssuedAt    time.Time  `firestore:"issuedAt"`
}

func newCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		RequestRef:  strings.TrimSpace(coupon.RequestID),
		CustomerRef: strings.TrimSpace(coupon.CustomerID),
		Value:       coupon.Value,
		Used:        coupon.Used,
		UsedAt:      coupon.UsedAt,
		IssuedAt:    coupon.IssuedAt.UTC(),
	}
}

func (d couponDocument) toDomain(code string) domain.Coupon {
	return domain.Coupon{
		Code:       code,
		RequestID:  d.RequestRef,
		CustomerID: d.CustomerRef,
		Value:      d.Value,
		Used:       d.Used,
		UsedAt:     d.UsedAt,
		IssuedAt:   d.IssuedAt,
	}
}

func getAdjustment(tx *firestore.Transaction, ref *firestore.DocumentRef, requestID string) (adjustmentDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return adjustmentDocument{}, repositories.NewAdjustmentError(repositories.AdjustmentErrorNotFound, fmt.Sprintf("request %s not found", requestID), err)
		}
		return adjustmentDocument{}, err
	}
	var doc adjustmentDocument
	if err := snap.DataTo(&doc); err != nil {
		return adjustmentDocument{}, fmt.Errorf("decode adjustment %s: %w", requestID, err)
	}
	return doc, nil
}

// checkClaimCeilings validates a request's items against the order's claim
// ledger. The request's own quantities are summed per source line first, so a
// duplicated line cannot slip past its ceiling one item at a time.
func checkClaimCeilings(items []domain.AdjustmentItem, limits, claimed map[string]int) error {
	requested := make(map[string]int, len(items))
	for _, item := range items {
		limit, ok := limits[item.SourceItemID]
		if !ok {
			return repositories.NewAdjustmentError(repositories.AdjustmentErrorOverClaimed, fmt.Sprintf("no quantity ceiling for source item %s", item.SourceItemID), nil)
		}
		requested[item.SourceItemID] += item.Quantity
		if claimed[item.SourceItemID]+requested[item.SourceItemID] > limit {
			return repositories.NewAdjustmentError(repositories.AdjustmentErrorOverClaimed,
				fmt.Sprintf("source item %s: %d already claimed, %d requested, %d sold", item.SourceItemID, claimed[item.SourceItemID], requested[item.SourceItemID], limit), nil)
		}
	}
	return nil
}

// stampCompletion marks the request document completed. ReceivedAt is
// refreshed rather than stamp-once: completion records the authoritative
// receipt time.
func stampCompletion(doc *adjustmentDocument, stampReceived bool, now time.Time) {
	doc.Status = string(domain.AdjustmentStatusCompleted)
	doc.UpdatedAt = now
	if stampReceived {
		doc.ReceivedAt = &now
	}
}

func aggregateQuantities(items []adjustmentItemDocument) map[string]int {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		ref := strings.TrimSpace(item.ProductRef)
		if ref == "" || item.Quantity <= 0 {
			continue
		}
		totals[ref] += item.Quantity
	}
	return totals
}

func appendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return note
	}
	return existing + "\n" + note
}

func wrapAdjustmentError(op string, err error) error {
	if err == nil {
		return nil
	}
	var adjErr *repositories.AdjustmentError
	if errors.As(err, &adjErr) {
		if adjErr.Op == "" {
			adjErr.Op = op
		}
		return adjErr
	}
	return pfirestore.WrapError(op, err)
}
