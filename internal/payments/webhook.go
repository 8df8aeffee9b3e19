package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrWebhookSignature indicates the webhook payload failed signature verification.
var ErrWebhookSignature = errors.New("payments: invalid webhook signature")

// PaymentConfirmation is the normalised result of a successful checkout
// webhook. TransactionID is the PSP payment intent; it keys the payment
// record so replays cannot create duplicate orders.
type PaymentConfirmation struct {
	EventID       string
	TransactionID string
	UserID        string
	Method        string
	Amount        int64
	Currency      string
}

// WebhookVerifier validates raw webhook payloads and extracts payment confirmations.
type WebhookVerifier interface {
	// VerifyCheckoutCompleted checks the signature and, when the event is a
	// completed checkout session, returns its confirmation. The boolean is
	// false for valid events of other types.
	VerifyCheckoutCompleted(payload []byte, signatureHeader string) (PaymentConfirmation, bool, error)
}

// StripeWebhookVerifier verifies Stripe webhook signatures against the
// endpoint signing secret.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier constructs a verifier for the given signing secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook signing secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// VerifyCheckoutCompleted implements WebhookVerifier for Stripe events.
func (v *StripeWebhookVerifier) VerifyCheckoutCompleted(payload []byte, signatureHeader string) (PaymentConfirmation, bool, error) {
	if v == nil {
		return PaymentConfirmation{}, false, errors.New("payments: webhook verifier is nil")
	}

	event, err := webhook.ConstructEvent(payload, signatureHeader, v.secret)
	if err != nil {
		return PaymentConfirmation{}, false, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	if event.Type != "checkout.session.completed" {
		return PaymentConfirmation{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return PaymentConfirmation{}, false, fmt.Errorf("payments: decode checkout session: %w", err)
	}

	transactionID := ""
	if session.PaymentIntent != nil {
		transactionID = session.PaymentIntent.ID
	}
	if transactionID == "" {
		transactionID = session.ID
	}

	userID := ""
	if session.Metadata != nil {
		userID = strings.TrimSpace(session.Metadata["user_id"])
	}

	return PaymentConfirmation{
		EventID:       event.ID,
		TransactionID: transactionID,
		UserID:        userID,
		Method:        "card",
		Amount:        session.AmountTotal,
		Currency:      strings.ToUpper(string(session.Currency)),
	}, true, nil
}

var _ WebhookVerifier = (*StripeWebhookVerifier)(nil)
