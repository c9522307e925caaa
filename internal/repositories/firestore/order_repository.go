package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/vitrola-discos/api/internal/domain"
	pfirestore "github.com/vitrola-discos/api/internal/platform/firestore"
)

const ordersCollection = "orders"

// OrderRepository reads order documents with their embedded line items. The
// adjustment completion transaction owns the status flip so it commits
// atomically with the restock.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber   string              `firestore:"orderNumber"`
	CustomerRef   string              `firestore:"customerRef"`
	Status        string              `firestore:"status"`
	PaymentStatus string              `firestore:"paymentStatus"`
	Subtotal      int64               `firestore:"subtotal"`
	Discount      int64               `firestore:"discount"`
	Shipping      int64               `firestore:"shipping"`
	Total         int64               `firestore:"total"`
	Items         []orderItemDocument `firestore:"items"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	DeliveredAt   *time.Time          `firestore:"deliveredAt,omitempty"`
}

type orderItemDocument struct {
	ID         string `firestore:"id"`
	ProductRef string `firestore:"productRef"`
	Title      string `firestore:"title"`
	Format     string `firestore:"format,omitempty"`
	Quantity   int    `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Total      int64  `firestore:"total"`
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = item.toDomain()
	}
	return domain.Order{
		ID:            id,
		OrderNumber:   strings.TrimSpace(d.OrderNumber),
		CustomerID:    strings.TrimSpace(d.CustomerRef),
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		Totals: domain.OrderTotals{
			Subtotal: d.Subtotal,
			Discount: d.Discount,
			Shipping: d.Shipping,
			Total:    d.Total,
		},
		Items:       items,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		DeliveredAt: d.DeliveredAt,
	}
}

func (d orderItemDocument) toDomain() domain.OrderLineItem {
	return domain.OrderLineItem{
		ID:         strings.TrimSpace(d.ID),
		ProductRef: strings.TrimSpace(d.ProductRef),
		Title:      d.Title,
		Format:     d.Format,
		Quantity:   d.Quantity,
		UnitPrice:  d.UnitPrice,
		Total:      d.Total,
	}
}
