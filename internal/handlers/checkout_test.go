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

	"github.com/inkwell-books/api/internal/platform/auth"
	"github.com/inkwell-books/api/internal/services"
)

type stubCheckoutService struct {
	createFunc func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error)
}

func (s *stubCheckoutService) CreateCheckoutSession(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
	if s.createFunc == nil {
		return services.CheckoutSession{}, fmt.Errorf("unexpected CreateCheckoutSession call")
	}
	return s.createFunc(ctx, cmd)
}

func TestCheckoutHandlersCreateSession(t *testing.T) {
	expires := time.Date(2025, 4, 2, 18, 30, 0, 0, time.UTC)

	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
			if cmd.UserID != "user-3" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if cmd.SuccessURL != "https://shop.example.com/done" {
				t.Fatalf("unexpected success url %q", cmd.SuccessURL)
			}
			if cmd.Locale != "en-GB" {
				t.Fatalf("unexpected locale %q", cmd.Locale)
			}
			return services.CheckoutSession{
				SessionID:   "cs_test_123",
				PSP:         "stripe",
				RedirectURL: "https://checkout.stripe.com/pay/cs_test_123",
				ExpiresAt:   expires,
			}, nil
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	body := `{"success_url":"https://shop.example.com/done","cancel_url":"https://shop.example.com/cancel"}`
	req := identityRequest(t, http.MethodPost, "/checkout/session", body, "user-3")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-3", Locale: "en-GB"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp checkoutSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != "cs_test_123" || resp.PSP != "stripe" {
		t.Fatalf("unexpected session payload %#v", resp)
	}
	if resp.RedirectURL == "" {
		t.Fatalf("expected redirect url in response")
	}
}

func TestCheckoutHandlersExplicitLocaleWins(t *testing.T) {
	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
			if cmd.Locale != "fr-FR" {
				t.Fatalf("expected request locale fr-FR, got %q", cmd.Locale)
			}
			return services.CheckoutSession{SessionID: "cs_1", PSP: "stripe"}, nil
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	body := `{"success_url":"https://shop.example.com/done","cancel_url":"https://shop.example.com/cancel","locale":"fr-FR"}`
	req := identityRequest(t, http.MethodPost, "/checkout/session", body, "user-3")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-3", Locale: "en-GB"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlersCartNotReady(t *testing.T) {
	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, services.ErrCheckoutCartNotReady
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	req := identityRequest(t, http.MethodPost, "/checkout/session", `{"success_url":"https://s","cancel_url":"https://c"}`, "user-3")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var bodyJSON map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &bodyJSON); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if bodyJSON["error"] != "cart_not_ready" {
		t.Fatalf("expected cart_not_ready, got %v", bodyJSON["error"])
	}
}

func TestCheckoutHandlersPaymentFailure(t *testing.T) {
	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, fmt.Errorf("%w: api key invalid", services.ErrCheckoutPaymentFailed)
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	req := identityRequest(t, http.MethodPost, "/checkout/session", `{"success_url":"https://s","cancel_url":"https://c"}`, "user-3")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestCheckoutHandlersRequiresIdentity(t *testing.T) {
	handler := NewCheckoutHandlers(nil, &stubCheckoutService{})
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	req := identityRequest(t, http.MethodPost, "/checkout/session", `{}`, "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
