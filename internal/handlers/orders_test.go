package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/inkwell-books/api/internal/domain"
	"github.com/inkwell-books/api/internal/services"
)

type stubOrderService struct {
	completeFunc func(ctx context.Context, cmd services.PaymentCompletedCommand) (services.Order, error)
	listFunc     func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFunc      func(ctx context.Context, query services.OrderReadQuery) (services.Order, error)
	decisionFunc func(ctx context.Context, cmd services.OrderDecisionCommand) (services.Order, error)
	overrideFunc func(ctx context.Context, cmd services.OrderStatusOverrideCommand) (services.Order, error)
}

func (s *stubOrderService) CompletePayment(ctx context.Context, cmd services.PaymentCompletedCommand) (services.Order, error) {
	if s.completeFunc == nil {
		return services.Order{}, fmt.Errorf("unexpected CompletePayment call")
	}
	return s.completeFunc(ctx, cmd)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Order]{}, fmt.Errorf("unexpected ListOrders call")
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.OrderReadQuery) (services.Order, error) {
	if s.getFunc == nil {
		return services.Order{}, fmt.Errorf("unexpected GetOrder call")
	}
	return s.getFunc(ctx, query)
}

func (s *stubOrderService) SubmitDecision(ctx context.Context, cmd services.OrderDecisionCommand) (services.Order, error) {
	if s.decisionFunc == nil {
		return services.Order{}, fmt.Errorf("unexpected SubmitDecision call")
	}
	return s.decisionFunc(ctx, cmd)
}

func (s *stubOrderService) OverrideStatus(ctx context.Context, cmd services.OrderStatusOverrideCommand) (services.Order, error) {
	if s.overrideFunc == nil {
		return services.Order{}, fmt.Errorf("unexpected OverrideStatus call")
	}
	return s.overrideFunc(ctx, cmd)
}

func TestOrderHandlersListOrders(t *testing.T) {
	created := time.Date(2025, 5, 20, 9, 15, 0, 0, time.UTC)

	service := &stubOrderService{
		listFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if filter.UserID != "user-5" {
				t.Fatalf("expected list scoped to user-5, got %q", filter.UserID)
			}
			if len(filter.Status) != 2 {
				t.Fatalf("expected 2 status filters, got %d", len(filter.Status))
			}
			if filter.Status[0] != domain.OrderStatusPending || filter.Status[1] != domain.OrderStatusDelayed {
				t.Fatalf("unexpected status filters %#v", filter.Status)
			}
			return domain.CursorPage[services.Order]{
				Items: []services.Order{
					{
						ID:          "order-1",
						OrderNumber: "ORD-20250520-0001",
						UserID:      "user-5",
						Status:      domain.OrderStatusPending,
						Currency:    "usd",
						TotalAmount: 4300,
						FastOnly:    true,
						CreatedAt:   created,
					},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := identityRequest(t, http.MethodGet, "/orders?status=pending,delayed", "", "user-5")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Items))
	}
	if resp.Items[0].OrderNumber != "ORD-20250520-0001" || !resp.Items[0].FastOnly {
		t.Fatalf("unexpected order summary %#v", resp.Items[0])
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %q", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := identityRequest(t, http.MethodGet, "/orders?status=shipped", "", "user-5")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	delivered := time.Date(2025, 5, 22, 16, 0, 0, 0, time.UTC)

	service := &stubOrderService{
		getFunc: func(ctx context.Context, query services.OrderReadQuery) (services.Order, error) {
			if query.OrderID != "order-1" || query.UserID != "user-5" || query.AsAdmin {
				t.Fatalf("unexpected query %#v", query)
			}
			return services.Order{
				ID:          "order-1",
				OrderNumber: "ORD-20250520-0001",
				UserID:      "user-5",
				Status:      domain.OrderStatusDelivered,
				Currency:    "USD",
				TotalAmount: 4300,
				Items: []services.OrderLineItem{
					{BookID: "book-1", Title: "Dune", Quantity: 1, UnitPrice: 1800},
					{BookID: "book-2", Title: "Hyperion", Quantity: 1, UnitPrice: 2500},
				},
				PaymentRef:  "pi_123",
				DeliveredAt: &delivered,
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := identityRequest(t, http.MethodGet, "/orders/order-1", "", "user-5")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusDelivered) {
		t.Fatalf("expected delivered status, got %q", resp.Order.Status)
	}
	if len(resp.Order.Items) != 2 || resp.Order.PaymentRef != "pi_123" {
		t.Fatalf("unexpected order payload %#v", resp.Order)
	}
	if resp.Order.DeliveredAt == "" {
		t.Fatalf("expected delivered_at to be set")
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, query services.OrderReadQuery) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := identityRequest(t, http.MethodGet, "/orders/other-users-order", "", "user-5")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersSubmitDecisionAccept(t *testing.T) {
	service := &stubOrderService{
		decisionFunc: func(ctx context.Context, cmd services.OrderDecisionCommand) (services.Order, error) {
			if cmd.OrderID != "order-2" || cmd.UserID != "user-5" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			if cmd.Decision != services.OrderDecisionAccept {
				t.Fatalf("expected accept decision, got %q", cmd.Decision)
			}
			return services.Order{
				ID:     "order-2",
				UserID: "user-5",
				Status: domain.OrderStatusInProgress,
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := identityRequest(t, http.MethodPost, "/orders/order-2:decision", `{"action":"ACCEPT"}`, "user-5")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusInProgress) {
		t.Fatalf("expected in_progress, got %q", resp.Order.Status)
	}
}

func TestOrderHandlersSubmitDecisionInvalidState(t *testing.T) {
	service := &stubOrderService{
		decisionFunc: func(ctx context.Context, cmd services.OrderDecisionCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order is not delayed", services.ErrOrderInvalidState)
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := identityRequest(t, http.MethodPost, "/orders/order-2:decision", `{"action":"decline"}`, "user-5")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body["error"] != "order_invalid_state" {
		t.Fatalf("expected order_invalid_state, got %v", body["error"])
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := identityRequest(t, http.MethodGet, "/orders", "", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
