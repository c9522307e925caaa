package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/vitrola-discos/api/internal/domain"
	"github.com/vitrola-discos/api/internal/services"
)

type stubStockService struct {
	increaseFn func(ctx context.Context, cmd services.StockMutationCommand) (services.StockAdjustment, error)
	decreaseFn func(ctx context.Context, cmd services.StockMutationCommand) (services.StockAdjustment, error)
}

func (s *stubStockService) IncreaseStock(ctx context.Context, cmd services.StockMutationCommand) (services.StockAdjustment, error) {
	if s.increaseFn == nil {
		return services.StockAdjustment{}, errors.New("unexpected IncreaseStock call")
	}
	return s.increaseFn(ctx, cmd)
}

func (s *stubStockService) DecreaseStock(ctx context.Context, cmd services.StockMutationCommand) (services.StockAdjustment, error) {
	if s.decreaseFn == nil {
		return services.StockAdjustment{}, errors.New("unexpected DecreaseStock call")
	}
	return s.decreaseFn(ctx, cmd)
}

var _ services.StockService = (*stubStockService)(nil)

func TestIncreaseStockHandler(t *testing.T) {
	var captured services.StockMutationCommand
	svc := &stubStockService{
		increaseFn: func(_ context.Context, cmd services.StockMutationCommand) (services.StockAdjustment, error) {
			captured = cmd
			return domain.StockAdjustment{ProductRef: cmd.ProductRef, Delta: cmd.Quantity, Resulting: 9}, nil
		},
	}
	handler := mountRoutes(staffIdentity("staff_1"), NewAdminStockHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/products/prd_abbey/stock/increase", strings.NewReader(`{"quantity":3}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductRef != "prd_abbey" || captured.Quantity != 3 {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.ActorID != "staff_1" {
		t.Fatalf("expected staff actor, got %s", captured.ActorID)
	}

	var resp stockAdjustmentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Stock != 9 || resp.Delta != 3 || resp.Deactivated {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestDecreaseStockHandlerReportsDeactivation(t *testing.T) {
	var captured services.StockMutationCommand
	svc := &stubStockService{
		decreaseFn: func(_ context.Context, cmd services.StockMutationCommand) (services.StockAdjustment, error) {
			captured = cmd
			return domain.StockAdjustment{ProductRef: cmd.ProductRef, Delta: -cmd.Quantity, Resulting: 0, Deactivated: true}, nil
		},
	}
	handler := mountRoutes(staffIdentity("staff_1"), NewAdminStockHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/products/prd_abbey/stock/decrease",
		strings.NewReader(`{"quantity":2,"reason":"<i>avaria</i> no estoque"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Reason != "avaria no estoque" {
		t.Fatalf("expected sanitized reason, got %q", captured.Reason)
	}

	var resp stockAdjustmentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Deactivated || resp.Stock != 0 {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestStockHandlerInvalidQuantity(t *testing.T) {
	svc := &stubStockService{
		increaseFn: func(context.Context, services.StockMutationCommand) (services.StockAdjustment, error) {
			return services.StockAdjustment{}, fmt.Errorf("%w: quantity must be greater than zero", services.ErrStockInvalidInput)
		},
	}
	handler := mountRoutes(staffIdentity("staff_1"), NewAdminStockHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/products/prd_abbey/stock/increase", strings.NewReader(`{"quantity":0}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "invalid_quantity" {
		t.Fatalf("expected invalid_quantity, got %s", code)
	}
}

func TestStockHandlerProductNotFound(t *testing.T) {
	svc := &stubStockService{
		decreaseFn: func(context.Context, services.StockMutationCommand) (services.StockAdjustment, error) {
			return services.StockAdjustment{}, fmt.Errorf("%w: missing", services.ErrStockProductNotFound)
		},
	}
	handler := mountRoutes(staffIdentity("staff_1"), NewAdminStockHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/products/prd_missing/stock/decrease", strings.NewReader(`{"quantity":1}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "product_not_found" {
		t.Fatalf("expected product_not_found, got %s", code)
	}
}

func TestStockHandlerRejectsEmptyBody(t *testing.T) {
	handler := mountRoutes(staffIdentity("staff_1"), NewAdminStockHandlers(nil, &stubStockService{}).Routes)

	req := httptest.NewRequest(http.MethodPost, "/products/prd_abbey/stock/increase", strings.NewReader(""))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
