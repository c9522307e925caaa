package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/vitrola-discos/api/internal/domain"
	"github.com/vitrola-discos/api/internal/repositories"
)

type stubProductRepository struct {
	findFn     func(ctx context.Context, productRef string) (domain.Product, error)
	increaseFn func(ctx context.Context, productRef string, quantity int, at time.Time) (domain.StockAdjustment, error)
	decreaseFn func(ctx context.Context, productRef string, quantity int, reason string, at time.Time) (domain.StockAdjustment, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productRef string) (domain.Product, error) {
	if s.findFn == nil {
		return domain.Product{}, errors.New("unexpected FindByID call")
	}
	return s.findFn(ctx, productRef)
}

func (s *stubProductRepository) IncreaseStock(ctx context.Context, productRef string, quantity int, at time.Time) (domain.StockAdjustment, error) {
	if s.increaseFn == nil {
		return domain.StockAdjustment{}, errors.New("unexpected IncreaseStock call")
	}
	return s.increaseFn(ctx, productRef, quantity, at)
}

func (s *stubProductRepository) DecreaseStock(ctx context.Context, productRef string, quantity int, reason string, at time.Time) (domain.StockAdjustment, error) {
	if s.decreaseFn == nil {
		return domain.StockAdjustment{}, errors.New("unexpected DecreaseStock call")
	}
	return s.decreaseFn(ctx, productRef, quantity, reason, at)
}

type capturingStockPublisher struct {
	events []StockEvent
	err    error
}

func (p *capturingStockPublisher) PublishStockEvent(_ context.Context, event StockEvent) error {
	p.events = append(p.events, event)
	return p.err
}

var _ repositories.ProductRepository = (*stubProductRepository)(nil)

func newStockServiceForTest(t *testing.T, deps StockServiceDeps) StockService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fixedClock()
	}
	svc, err := NewStockService(deps)
	if err != nil {
		t.Fatalf("NewStockService: %v", err)
	}
	return svc
}

func TestIncreaseStockEmitsEvent(t *testing.T) {
	repo := &stubProductRepository{
		increaseFn: func(_ context.Context, productRef string, quantity int, _ time.Time) (domain.StockAdjustment, error) {
			return domain.StockAdjustment{ProductRef: productRef, Delta: quantity, Resulting: 7}, nil
		},
	}
	publisher := &capturingStockPublisher{}

	svc := newStockServiceForTest(t, StockServiceDeps{Products: repo, Events: publisher})

	adjustment, err := svc.IncreaseStock(context.Background(), StockMutationCommand{
		ProductRef: " prd_abbey ",
		Quantity:   3,
		ActorID:    "staff_1",
	})
	if err != nil {
		t.Fatalf("IncreaseStock: %v", err)
	}
	if adjustment.Resulting != 7 || adjustment.Delta != 3 {
		t.Fatalf("unexpected adjustment: %#v", adjustment)
	}
	if adjustment.Deactivated {
		t.Fatalf("increase must never touch the active flag")
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "stock.increased" {
		t.Fatalf("expected increased event, got %#v", publisher.events)
	}
	if publisher.events[0].ProductRef != "prd_abbey" {
		t.Fatalf("expected trimmed product ref, got %s", publisher.events[0].ProductRef)
	}
}

func TestDecreaseStockDeactivationIsLogged(t *testing.T) {
	var capturedReason string
	repo := &stubProductRepository{
		decreaseFn: func(_ context.Context, productRef string, quantity int, reason string, _ time.Time) (domain.StockAdjustment, error) {
			capturedReason = reason
			return domain.StockAdjustment{ProductRef: productRef, Delta: -quantity, Resulting: 0, Deactivated: true}, nil
		},
	}
	publisher := &capturingStockPublisher{}

	var logged []string
	svc := newStockServiceForTest(t, StockServiceDeps{
		Products: repo,
		Events:   publisher,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})

	adjustment, err := svc.DecreaseStock(context.Background(), StockMutationCommand{
		ProductRef: "prd_abbey",
		Quantity:   2,
		Reason:     "avaria no estoque",
	})
	if err != nil {
		t.Fatalf("DecreaseStock: %v", err)
	}
	if !adjustment.Deactivated {
		t.Fatalf("expected deactivation at zero stock")
	}
	if capturedReason != "avaria no estoque" {
		t.Fatalf("expected reason passthrough, got %q", capturedReason)
	}
	if len(logged) != 1 || logged[0] != "stock.product.deactivated" {
		t.Fatalf("expected deactivation log, got %v", logged)
	}
	if len(publisher.events) != 1 || !publisher.events[0].Deactivated {
		t.Fatalf("expected deactivated event, got %#v", publisher.events)
	}
}

func TestDecreaseStockDefaultsDepletionReason(t *testing.T) {
	var capturedReason string
	repo := &stubProductRepository{
		decreaseFn: func(_ context.Context, productRef string, quantity int, reason string, _ time.Time) (domain.StockAdjustment, error) {
			capturedReason = reason
			return domain.StockAdjustment{ProductRef: productRef, Delta: -quantity, Resulting: 4}, nil
		},
	}

	svc := newStockServiceForTest(t, StockServiceDeps{Products: repo})

	if _, err := svc.DecreaseStock(context.Background(), StockMutationCommand{
		ProductRef: "prd_abbey",
		Quantity:   1,
		Reason:     "   ",
	}); err != nil {
		t.Fatalf("DecreaseStock: %v", err)
	}
	if capturedReason != "stock depleted" {
		t.Fatalf("expected default reason, got %q", capturedReason)
	}
}

func TestStockMutationValidation(t *testing.T) {
	svc := newStockServiceForTest(t, StockServiceDeps{Products: &stubProductRepository{}})

	cases := []StockMutationCommand{
		{Quantity: 1},
		{ProductRef: "prd_abbey"},
		{ProductRef: "prd_abbey", Quantity: -1},
	}
	for i, cmd := range cases {
		if _, err := svc.IncreaseStock(context.Background(), cmd); !errors.Is(err, ErrStockInvalidInput) {
			t.Fatalf("increase case %d: expected invalid input, got %v", i, err)
		}
		if _, err := svc.DecreaseStock(context.Background(), cmd); !errors.Is(err, ErrStockInvalidInput) {
			t.Fatalf("decrease case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestStockMutationMapsProductNotFound(t *testing.T) {
	repo := &stubProductRepository{
		increaseFn: func(context.Context, string, int, time.Time) (domain.StockAdjustment, error) {
			return domain.StockAdjustment{}, repositories.NewStockError(repositories.StockErrorProductNotFound, "", nil)
		},
	}

	svc := newStockServiceForTest(t, StockServiceDeps{Products: repo})

	if _, err := svc.IncreaseStock(context.Background(), StockMutationCommand{ProductRef: "prd_missing", Quantity: 1}); !errors.Is(err, ErrStockProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}
