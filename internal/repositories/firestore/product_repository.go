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

const productsCollection = "products"

// ProductRepository persists catalog records and runs the stock ledger
// mutations transactionally.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection)
	return &ProductRepository{provider: provider, products: products}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productRef string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return domain.Product{}, errors.New("product find: id is required")
	}

	doc, err := r.products.Get(ctx, productRef)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productRef), err)
		}
		return domain.Product{}, wrapStockError("products.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) IncreaseStock(ctx context.Context, productRef string, quantity int, at time.Time) (domain.StockAdjustment, error) {
	if r == nil || r.provider == nil {
		return domain.StockAdjustment{}, errors.New("product repository not initialised")
	}
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return domain.StockAdjustment{}, errors.New("stock increase: product id is required")
	}
	if quantity <= 0 {
		return domain.StockAdjustment{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("stock increase for %s: quantity must be > 0", productRef), nil)
	}

	now := at.UTC()
	var result domain.StockAdjustment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, productRef)
		if err != nil {
			return err
		}
		doc.Stock += quantity
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = domain.StockAdjustment{
			ProductRef: productRef,
			Delta:      quantity,
			Resulting:  doc.Stock,
		}
		return nil
	})
	if err != nil {
		return domain.StockAdjustment{}, wrapStockError("products.increaseStock", err)
	}
	return result, nil
}

func (r *ProductRepository) DecreaseStock(ctx context.Context, productRef string, quantity int, reason string, at time.Time) (domain.StockAdjustment, error) {
	if r == nil || r.provider == nil {
		return domain.StockAdjustment{}, errors.New("product repository not initialised")
	}
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return domain.StockAdjustment{}, errors.New("stock decrease: product id is required")
	}
	if quantity <= 0 {
		return domain.StockAdjustment{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("stock decrease for %s: quantity must be > 0", productRef), nil)
	}

	now := at.UTC()
	var result domain.StockAdjustment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, productRef)
		if err != nil {
			return err
		}
		applied := quantity
		if applied > doc.Stock {
			applied = doc.Stock
		}
		doc.Stock -= applied
		doc.UpdatedAt = now
		deactivated := false
		if doc.Stock == 0 && doc.Active {
			doc.Active = false
			doc.DeactivationReason = strings.TrimSpace(reason)
			if doc.DeactivationReason == "" {
				doc.DeactivationReason = "stock depleted"
			}
			doc.DeactivatedAt = &now
			deactivated = true
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = domain.StockAdjustment{
			ProductRef:  productRef,
			Delta:       -applied,
			Resulting:   doc.Stock,
			Deactivated: deactivated,
		}
		return nil
	})
	if err != nil {
		return domain.StockAdjustment{}, wrapStockError("products.decreaseStock", err)
	}
	return result, nil
}

func (r *ProductRepository) getForUpdate(ctx context.Context, tx *firestore.Transaction, productRef string) (*firestore.DocumentRef, productDocument, error) {
	ref, err := r.products.DocumentRef(ctx, productRef)
	if err != nil {
		return nil, productDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, productDocument{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productRef), err)
		}
		return nil, productDocument{}, err
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, productDocument{}, fmt.Errorf("decode product %s: %w", productRef, err)
	}
	return ref, doc, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	SKU                string     `firestore:"sku"`
	Title              string     `firestore:"title"`
	Artist             string     `firestore:"artist,omitempty"`
	Format             string     `firestore:"format,omitempty"`
	Price              int64      `firestore:"price"`
	Stock              int        `firestore:"stock"`
	Active             bool       `firestore:"active"`
	DeactivationReason string     `firestore:"deactivationReason,omitempty"`
	DeactivatedAt      *time.Time `firestore:"deactivatedAt,omitempty"`
	CreatedAt          time.Time  `firestore:"createdAt"`
	UpdatedAt          time.Time  `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	var reason *string
	if trimmed := strings.TrimSpace(d.DeactivationReason); trimmed != "" {
		reason = &trimmed
	}
	return domain.Product{
		ID:                 id,
		SKU:                strings.TrimSpace(d.SKU),
		Title:              d.Title,
		Artist:             d.Artist,
		Format:             d.Format,
		Price:              d.Price,
		Stock:              d.Stock,
		Active:             d.Active,
		DeactivationReason: reason,
		DeactivatedAt:      d.DeactivatedAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
