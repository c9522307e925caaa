package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitrola-discos/api/internal/repositories"
)

const (
	stockEventIncreased = "stock.increased"
	stockEventDecreased = "stock.decreased"

	defaultDepletionReason = "stock depleted"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid data.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockProductNotFound indicates the product has no catalog record.
	ErrStockProductNotFound = errors.New("stock: product not found")
)

// StockEventPublisher publishes stock ledger events for downstream consumers.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// StockEvent captures metadata for emitted stock ledger events.
type StockEvent struct {
	Type        string
	ProductRef  string
	Delta       int
	Resulting   int
	Deactivated bool
	ActorID     string
	OccurredAt  time.Time
}

// StockServiceDeps bundles collaborators required to construct the stock service.
type StockServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Events   StockEventPublisher
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	events   StockEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Products == nil {
		return nil, errors.New("stock service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockService{
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *stockService) IncreaseStock(ctx context.Context, cmd StockMutationCommand) (StockAdjustment, error) {
	productRef, err := validateStockMutation(cmd)
	if err != nil {
		return StockAdjustment{}, err
	}

	now := s.clock()
	adjustment, err := s.products.IncreaseStock(ctx, productRef, cmd.Quantity, now)
	if err != nil {
		return StockAdjustment{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, StockEvent{
		Type:       stockEventIncreased,
		ProductRef: adjustment.ProductRef,
		Delta:      adjustment.Delta,
		Resulting:  adjustment.Resulting,
		ActorID:    strings.TrimSpace(cmd.ActorID),
		OccurredAt: now,
	})
	return adjustment, nil
}

func (s *stockService) DecreaseStock(ctx context.Context, cmd StockMutationCommand) (StockAdjustment, error) {
	productRef, err := validateStockMutation(cmd)
	if err != nil {
		return StockAdjustment{}, err
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = defaultDepletionReason
	}

	now := s.clock()
	adjustment, err := s.products.DecreaseStock(ctx, productRef, cmd.Quantity, reason, now)
	if err != nil {
		return StockAdjustment{}, s.mapRepositoryError(err)
	}

	if adjustment.Deactivated {
		s.logger(ctx, "stock.product.deactivated", map[string]any{
			"product": adjustment.ProductRef,
			"reason":  reason,
		})
	}
	s.publishEvent(ctx, StockEvent{
		Type:        stockEventDecreased,
		ProductRef:  adjustment.ProductRef,
		Delta:       adjustment.Delta,
		Resulting:   adjustment.Resulting,
		Deactivated: adjustment.Deactivated,
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  now,
	})
	return adjustment, nil
}

func (s *stockService) publishEvent(ctx context.Context, event StockEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "stock.event.publish.failed", map[string]any{
			"type":    event.Type,
			"product": event.ProductRef,
			"error":   err.Error(),
		})
	}
}

func (s *stockService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrStockProductNotFound, err)
		case repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: %v", ErrStockInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrStockProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("stock: repository unavailable: %w", err)
		}
	}

	return err
}

func validateStockMutation(cmd StockMutationCommand) (string, error) {
	productRef := strings.TrimSpace(cmd.ProductRef)
	if productRef == "" {
		return "", fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be greater than zero", ErrStockInvalidInput)
	}
	return productRef, nil
}
