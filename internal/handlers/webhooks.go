package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inkwell-books/api/internal/payments"
	"github.com/inkwell-books/api/internal/platform/httpx"
	"github.com/inkwell-books/api/internal/services"
)

const maxWebhookBodySize = 1 << 20

// WebhookHandlers receives PSP callbacks. The Stripe endpoint verifies the
// event signature and turns completed checkout sessions into orders.
type WebhookHandlers struct {
	verifier payments.WebhookVerifier
	orders   services.OrderService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(verifier payments.WebhookVerifier, orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{
		verifier: verifier,
		orders:   orders,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	confirmation, completed, err := h.verifier.VerifyCheckoutCompleted(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrWebhookSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to decode webhook event", http.StatusBadRequest))
		return
	}

	// Events other than completed checkouts are acknowledged without action
	// so Stripe stops retrying them.
	if !completed {
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	order, err := h.orders.CompletePayment(ctx, services.PaymentCompletedCommand{
		UserID:        confirmation.UserID,
		TransactionID: confirmation.TransactionID,
		Method:        confirmation.Method,
		Amount:        confirmation.Amount,
		Currency:      confirmation.Currency,
	})
	if err != nil {
		switch {
		// Replays and carts already consumed are benign; answering with an
		// error would only make the provider redeliver the same event.
		case errors.Is(err, services.ErrOrderDuplicatePayment), errors.Is(err, services.ErrOrderEmptyCart):
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		case errors.Is(err, services.ErrOrderInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrOrderInsufficientStock):
			httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process payment event", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received": true,
		"order_id": strings.TrimSpace(order.ID),
	})
}
