package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

const testSigningSecret = "whsec_test_secret"

func signPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhookVerifierCheckoutCompleted(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"api_version": "2024-04-10",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_123",
				"object": "checkout.session",
				"amount_total": 2500,
				"currency": "usd",
				"payment_intent": {"id": "pi_123"},
				"metadata": {"user_id": "user-1"}
			}
		}
	}`)

	verifier, err := NewStripeWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier: %v", err)
	}

	confirmation, ok, err := verifier.VerifyCheckoutCompleted(payload, signPayload(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("VerifyCheckoutCompleted: %v", err)
	}
	if !ok {
		t.Fatalf("expected checkout completion to be recognised")
	}
	if confirmation.TransactionID != "pi_123" {
		t.Fatalf("unexpected transaction id %s", confirmation.TransactionID)
	}
	if confirmation.UserID != "user-1" {
		t.Fatalf("unexpected user id %s", confirmation.UserID)
	}
	if confirmation.Amount != 2500 || confirmation.Currency != "USD" {
		t.Fatalf("unexpected amount %d %s", confirmation.Amount, confirmation.Currency)
	}
}

func TestStripeWebhookVerifierRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`)

	verifier, err := NewStripeWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier: %v", err)
	}

	_, _, err = verifier.VerifyCheckoutCompleted(payload, signPayload(t, payload, "whsec_other"))
	if !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected ErrWebhookSignature, got %v", err)
	}
}

func TestStripeWebhookVerifierIgnoresOtherEvents(t *testing.T) {
	payload := []byte(`{"id":"evt_2","api_version":"2024-04-10","type":"payment_intent.created","data":{"object":{}}}`)

	verifier, err := NewStripeWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier: %v", err)
	}

	_, ok, err := verifier.VerifyCheckoutCompleted(payload, signPayload(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("VerifyCheckoutCompleted: %v", err)
	}
	if ok {
		t.Fatalf("unrelated event must not be treated as completion")
	}
}
